package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marladona/trainship/internal/shell/history"
)

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent deployments",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of records shown")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.History.DSN)
	if err != nil {
		return &CLIError{Op: "history", Err: err}
	}
	defer store.Close()

	records, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return &CLIError{Op: "history", Err: err}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tHOST\tRUN TAG\tMODE\tSTATUS\tCONTAINER")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Host, r.RunTag, r.Mode, r.Status, r.ContainerName)
	}
	return w.Flush()
}
