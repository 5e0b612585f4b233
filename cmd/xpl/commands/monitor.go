package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgecli/xplnet/internal/app"
	"github.com/edgecli/xplnet/internal/ui"
	"github.com/edgecli/xplnet/internal/xpl"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print xPL traffic",
	Long: `Join the network as the configured device and print every message seen.

Filters use the xPL form type.vendor.device.instance.class.type, where any
field may be "*". A message is printed when it matches any filter.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringSlice("filter", nil, "Only print messages matching this filter (repeatable)")
	monitorCmd.Flags().Bool("no-heartbeats", false, "Hide heartbeat messages")
}

func parseFilters(patterns []string) ([]xpl.Filter, error) {
	filters := make([]xpl.Filter, 0, len(patterns))
	for _, s := range patterns {
		f, err := xpl.ParseFilter(s)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", s, err)
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// monitorPredicate decides which observed messages are printed.
func monitorPredicate(filters []xpl.Filter, hideHeartbeats bool) func(*xpl.Message) bool {
	return func(msg *xpl.Message) bool {
		if hideHeartbeats && xpl.IsHeartbeat(msg) {
			return false
		}
		if len(filters) == 0 {
			return true
		}
		for _, f := range filters {
			if f.Match(msg) {
				return true
			}
		}
		return false
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	patterns, _ := cmd.Flags().GetStringSlice("filter")
	filters, err := parseFilters(patterns)
	if err != nil {
		return err
	}
	hide, _ := cmd.Flags().GetBool("no-heartbeats")
	show := monitorPredicate(filters, hide)

	a, err := app.Open(e.cfg.Client.Transport, e.appOptions()...)
	if err != nil {
		return fmt.Errorf("failed to join network: %w", err)
	}
	d, err := e.addDevice(a)
	if err != nil {
		_ = a.Close()
		return err
	}
	a.Observe(func(msg *xpl.Message, from string) {
		if show(msg) {
			fmt.Println(ui.RenderMessage(time.Now(), from, msg))
		}
	})

	fmt.Print(ui.RenderPanel("xpl monitor", []ui.Field{
		{Label: "device", Value: d.Address().String()},
		{Label: "mode", Value: d.Mode().String()},
		{Label: "local", Value: fmt.Sprint(a.LocalAddresses())},
	}))
	fmt.Println(ui.RenderDim(stopHint))

	st, err := e.startStatus()
	if err != nil {
		_ = a.Close()
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	return serve(ctx, a, st, e.logger, nil)
}
