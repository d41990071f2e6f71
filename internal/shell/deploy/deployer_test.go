package deploy

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/core/remotecmd"
)

// =============================================================================
// Mocks
// =============================================================================

type mockExecutor struct {
	runs      []remotecmd.Command
	pushes    []string          // remote paths, in order
	pushed    map[string][]byte // remote path -> bytes
	responses map[string]string // command name -> stdout
	failOn    map[string]error  // command name (or "push") -> error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		pushed:    make(map[string][]byte),
		responses: make(map[string]string),
		failOn:    make(map[string]error),
	}
}

func (m *mockExecutor) Run(_ context.Context, cmd remotecmd.Command) (string, error) {
	m.runs = append(m.runs, cmd)
	if err, ok := m.failOn[cmd.Name]; ok {
		return "", err
	}
	return m.responses[cmd.Name], nil
}

func (m *mockExecutor) Push(_ context.Context, r io.Reader, remotePath string) error {
	if err, ok := m.failOn["push"]; ok {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.pushes = append(m.pushes, remotePath)
	m.pushed[remotePath] = data
	return nil
}

func (m *mockExecutor) Pull(_ context.Context, cmd remotecmd.Command, w io.Writer) error {
	m.runs = append(m.runs, cmd)
	if err, ok := m.failOn[cmd.Name]; ok {
		return err
	}
	_, err := io.WriteString(w, m.responses[cmd.Name])
	return err
}

func (m *mockExecutor) Close() error { return nil }

func (m *mockExecutor) ranNames() []string {
	names := make([]string, 0, len(m.runs))
	for _, c := range m.runs {
		names = append(names, c.Name)
	}
	return names
}

type mockEngine struct {
	commits  []string // image refs committed
	saves    []string // image refs saved
	removals []string // image refs removed
	finds    []string // container names looked up

	pingErr   error
	findErr   error
	commitErr error
	saveErr   error
	removeErr error
}

func (m *mockEngine) Ping(context.Context) error { return m.pingErr }

func (m *mockEngine) FindRunningContainer(_ context.Context, name string) (string, error) {
	m.finds = append(m.finds, name)
	if m.findErr != nil {
		return "", m.findErr
	}
	return "0123456789ab", nil
}

func (m *mockEngine) CommitContainer(_ context.Context, _, imageRef string) error {
	m.commits = append(m.commits, imageRef)
	return m.commitErr
}

func (m *mockEngine) SaveImage(_ context.Context, imageRef string, w io.Writer) error {
	m.saves = append(m.saves, imageRef)
	if m.saveErr != nil {
		return m.saveErr
	}
	_, err := io.WriteString(w, "fake-image-archive")
	return err
}

func (m *mockEngine) RemoveImage(_ context.Context, imageRef string) error {
	m.removals = append(m.removals, imageRef)
	return m.removeErr
}

// =============================================================================
// Fixtures
// =============================================================================

const testImageRef = "marladona_image:train-server-sb-rl-172-20260107"

func testPlan(t *testing.T) plan.Plan {
	t.Helper()
	p, err := plan.New(plan.Inputs{
		AllowedHosts:  []string{"sb-RL-172"},
		ImageName:     "marladona_image",
		ContainerBase: "marladona-train",
		ProjectName:   "isaaclab_marl",
	}, "sb-RL-172", "20260107", "all")
	require.NoError(t, err)
	return p
}

func testDeployer(t *testing.T, engine *mockEngine, exec *mockExecutor) (*Deployer, string) {
	t.Helper()
	project := filepath.Join(t.TempDir(), "isaaclab_marl")
	require.NoError(t, os.MkdirAll(filepath.Join(project, "wks_logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "train.py"), []byte("pass\n"), 0o644))

	tmpRoot := t.TempDir()
	d := New(engine, exec, Config{
		LocalProjectPath: project,
		LocalTmpDir:      tmpRoot,
		RemoteBaseDir:    "marladona_deploy",
		RemoteCacheDir:   "isaacsim_cache",
		SourceContainer:  "marladona-train",
		ProjectMountPath: "/workspace/isaaclab_marl",
	}, nil)
	return d, tmpRoot
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_UploadFresh(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.responses["list-images"] = "ubuntu:22.04\nother:latest\n"
	engine := &mockEngine{}
	d, _ := testDeployer(t, engine, exec)

	mode, err := d.Run(context.Background(), testPlan(t))
	require.NoError(t, err)
	assert.Equal(t, plan.ModeUploadFresh, mode)

	// Packaging happened against the running source container.
	assert.Equal(t, []string{"marladona-train"}, engine.finds)
	assert.Equal(t, []string{testImageRef}, engine.commits)
	assert.Equal(t, []string{testImageRef}, engine.saves)

	// Image archive shipped before the project archive.
	require.Equal(t, []string{
		"/home/rl/marladona_deploy/marladona_image_sb-rl-172-20260107.tar",
		"/home/rl/marladona_deploy/isaaclab_marl_20260107.tar.gz",
	}, exec.pushes)
	assert.Equal(t, "fake-image-archive", string(exec.pushed[exec.pushes[0]]))

	// Preparation preceded transfer; install ran last; the stale image
	// archive was cleared because an upload was required.
	names := exec.ranNames()
	assert.Equal(t, []string{"resolve-home", "list-images", "remove-dir", "remove-file", "remove-file", "install"}, names)

	// Local snapshot dropped after a successful upload.
	assert.Equal(t, []string{testImageRef}, engine.removals)
}

func TestRun_ReuseExisting(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.responses["list-images"] = "ubuntu:22.04\n" + testImageRef + "\n"
	engine := &mockEngine{}
	d, _ := testDeployer(t, engine, exec)

	mode, err := d.Run(context.Background(), testPlan(t))
	require.NoError(t, err)
	assert.Equal(t, plan.ModeReuseExisting, mode)

	// No commit, save, image transfer, or local image removal.
	assert.Empty(t, engine.finds)
	assert.Empty(t, engine.commits)
	assert.Empty(t, engine.saves)
	assert.Empty(t, engine.removals)

	// Only the project archive travels.
	require.Len(t, exec.pushes, 1)
	assert.Equal(t, "/home/rl/marladona_deploy/isaaclab_marl_20260107.tar.gz", exec.pushes[0])

	// One remove-file (project archive only), and the installer verifies
	// the cached image instead of loading an archive.
	assert.Equal(t, []string{"resolve-home", "list-images", "remove-dir", "remove-file", "install"}, exec.ranNames())
	install := exec.runs[len(exec.runs)-1]
	assert.Contains(t, install.Line, "docker image inspect")
	assert.NotContains(t, install.Line, "docker load")
}

func TestRun_PresenceCheckExactMatch(t *testing.T) {
	// A superstring of the reference must not count as present.
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.responses["list-images"] = testImageRef + "-old\n"
	engine := &mockEngine{}
	d, _ := testDeployer(t, engine, exec)

	mode, err := d.Run(context.Background(), testPlan(t))
	require.NoError(t, err)
	assert.Equal(t, plan.ModeUploadFresh, mode)
}

func TestRun_AbsoluteRemoteDirsSkipHomeResolution(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["list-images"] = ""
	engine := &mockEngine{}
	d, _ := testDeployer(t, engine, exec)
	d.cfg.RemoteBaseDir = "/srv/deploy"
	d.cfg.RemoteCacheDir = "/srv/cache"

	_, err := d.Run(context.Background(), testPlan(t))
	require.NoError(t, err)
	assert.NotContains(t, exec.ranNames(), "resolve-home")
	assert.Equal(t, "/srv/deploy/marladona_image_sb-rl-172-20260107.tar", exec.pushes[0])
}

// =============================================================================
// Failure Path Tests
// =============================================================================

func TestRun_PreflightFailsBeforeRemoteAction(t *testing.T) {
	exec := newMockExecutor()
	engine := &mockEngine{}
	d, _ := testDeployer(t, engine, exec)
	d.cfg.LocalProjectPath = filepath.Join(t.TempDir(), "missing")

	_, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local project path")
	assert.Empty(t, exec.runs, "no remote command may run after a precondition failure")
}

func TestRun_DaemonUnreachable(t *testing.T) {
	exec := newMockExecutor()
	engine := &mockEngine{pingErr: errors.New("daemon down")}
	d, _ := testDeployer(t, engine, exec)

	_, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local docker daemon")
	assert.Empty(t, exec.runs)
}

func TestRun_MissingSourceContainerAbortsBeforeTransfer(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.responses["list-images"] = ""
	engine := &mockEngine{findErr: errors.New("no running container with this name")}
	d, _ := testDeployer(t, engine, exec)

	_, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locate source container")
	assert.Empty(t, exec.pushes, "nothing may be transferred after a packaging failure")
}

func TestRun_TransportErrorPropagates(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.failOn["list-images"] = errors.New("connection reset")
	engine := &mockEngine{}
	d, _ := testDeployer(t, engine, exec)

	_, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presence check")
}

func TestRun_InstallFailureLeavesNoLocalWorkspace(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.responses["list-images"] = ""
	exec.failOn["install"] = errors.New("docker load: no space left on device")
	engine := &mockEngine{}
	d, tmpRoot := testDeployer(t, engine, exec)

	_, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must be removed on fatal aborts too")
}

func TestRun_SuccessLeavesNoLocalWorkspace(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.responses["list-images"] = ""
	engine := &mockEngine{}
	d, tmpRoot := testDeployer(t, engine, exec)

	_, err := d.Run(context.Background(), testPlan(t))
	require.NoError(t, err)

	entries, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_LocalImageRemovalIsBestEffort(t *testing.T) {
	exec := newMockExecutor()
	exec.responses["resolve-home"] = "/home/rl\n"
	exec.responses["list-images"] = ""
	engine := &mockEngine{removeErr: errors.New("image is in use")}
	d, _ := testDeployer(t, engine, exec)

	_, err := d.Run(context.Background(), testPlan(t))
	assert.NoError(t, err, "failing to drop the local snapshot must not fail the run")
}

// =============================================================================
// Cleanup Tests
// =============================================================================

func TestCleanup_RemovesContainerThenImage(t *testing.T) {
	exec := newMockExecutor()
	p := testPlan(t)

	require.NoError(t, Cleanup(context.Background(), exec, p, nil))

	require.Equal(t, []string{"remove-container", "remove-image"}, exec.ranNames())
	assert.Contains(t, exec.runs[0].Line, "marladona-train-20260107")
	assert.Contains(t, exec.runs[1].Line, testImageRef)
}

func TestCleanup_StopsOnContainerFailure(t *testing.T) {
	exec := newMockExecutor()
	exec.failOn["remove-container"] = errors.New("permission denied")

	err := Cleanup(context.Background(), exec, testPlan(t), nil)
	require.Error(t, err)
	assert.Equal(t, []string{"remove-container"}, exec.ranNames())
}
