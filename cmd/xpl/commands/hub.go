package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgecli/xplnet/internal/hub"
	"github.com/edgecli/xplnet/internal/ui"
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run an xPL hub",
	Long: `Run an xPL hub on the configured transport.

The hub tracks every application on this host from its heartbeats and relays
each message it receives to all of them. Applications that stay silent for
longer than twice their heartbeat interval are forgotten.`,
	RunE: runHub,
}

func init() {
	hubCmd.Flags().String("listen", "", "Listen address (overrides config)")
	hubCmd.Flags().String("broadcast", "", "Broadcast address (overrides config)")
	hubCmd.Flags().Duration("peers", 0, "Print the peer table at this interval (0 disables)")
}

func runHub(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	tc := e.cfg.Hub.Transport
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		tc.Listen = v
	}
	if v, _ := cmd.Flags().GetString("broadcast"); v != "" {
		tc.Broadcast = v
	}
	peers, _ := cmd.Flags().GetDuration("peers")

	h, err := hub.Open(tc, e.appOptions()...)
	if err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	st, err := e.startStatus()
	if err != nil {
		_ = h.Close()
		return err
	}

	fields := []ui.Field{
		{Label: "transport", Value: tc.Kind},
		{Label: "local", Value: fmt.Sprint(h.Application().LocalAddresses())},
	}
	if a := st.GRPCAddr(); a != "" {
		fields = append(fields, ui.Field{Label: "health", Value: a})
	}
	if a := st.MetricsAddr(); a != "" {
		fields = append(fields, ui.Field{Label: "metrics", Value: "http://" + a + "/metrics"})
	}
	fmt.Print(ui.RenderPanel("xpl hub", fields))
	fmt.Println(ui.RenderDim(stopHint))

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var each func()
	if peers > 0 {
		next := time.Now().Add(peers)
		each = func() {
			now := time.Now()
			if now.Before(next) {
				return
			}
			next = now.Add(peers)
			fmt.Print(ui.RenderClients(now, h.Clients()))
		}
	}

	e.logger.Info().Str("transport", tc.Kind).Strs("local", h.Application().LocalAddresses()).Msg("hub running")
	return serve(ctx, h, st, e.logger, each)
}
