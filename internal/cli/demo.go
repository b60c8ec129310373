package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/zoobzio/profz"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Profile a scripted workload and print the report",
	Long: `Run a small scripted workload under a profz tracker and print the
resulting report. Useful to see the report format without a server.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().Duration("unit", time.Millisecond, "base duration of each simulated step")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	unit, _ := cmd.Flags().GetDuration("unit")
	tracker := profz.New()

	report, err := demoReport(tracker, func(d time.Duration) { time.Sleep(d * unit / time.Millisecond) })
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report)
	return nil
}

// demoReport runs the scripted workload under tracker and renders it.
// Errors returned here mean the script itself is unbalanced.
func demoReport(tracker *profz.Tracker, sleep func(time.Duration)) (string, error) {
	if err := tracker.Start("root", "demo"); err != nil {
		return "", err
	}
	ctx := profz.WithTracker(context.Background(), tracker)
	runScript(ctx, sleep)
	if err := tracker.Stop("root"); err != nil {
		return "", err
	}
	return tracker.Report()
}

// runScript is the simulated page build shared by demo and serve.
func runScript(ctx context.Context, sleep func(time.Duration)) {
	func() {
		defer profz.Span(ctx, "load_options")()
		sleep(2 * time.Millisecond)
	}()

	func() {
		done := profz.Span(ctx, "query_posts", "limit=10")
		defer func() { done("rows=10") }()
		func() {
			defer profz.Span(ctx, "db")()
			sleep(5 * time.Millisecond)
		}()
		sleep(2 * time.Millisecond)
	}()

	func() {
		defer profz.Span(ctx, "render")()
		for _, widget := range []string{"header", "sidebar", "footer"} {
			func() {
				defer profz.Span(ctx, "widget", widget)()
				sleep(time.Millisecond)
			}()
		}
	}()

	sleep(3 * time.Millisecond)
}

func newDemoHandler(sleep func(time.Duration)) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		runScript(r.Context(), sleep)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}
