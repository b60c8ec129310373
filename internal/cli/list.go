package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoobzio/profz/sink"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profile reports",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print a stored profile report",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func openSink(cmd *cobra.Command) (sink.Sink, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return sink.Open(cfg.Sink, zap.NewNop())
}

func runList(cmd *cobra.Command, _ []string) error {
	store, err := openSink(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No profiles stored")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTAKEN\tBYTES")
	for _, e := range entries {
		taken := "unknown"
		if !e.TakenAt.IsZero() {
			taken = e.TakenAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", e.Key, taken, e.Size)
	}
	return tw.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	store, err := openSink(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	body, err := store.Get(cmd.Context(), args[0])
	if errors.Is(err, sink.ErrNotFound) {
		return fmt.Errorf("no profile %q", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), body)
	return nil
}
