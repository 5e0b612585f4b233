package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgecli/xplnet/internal/bridge"
	"github.com/edgecli/xplnet/internal/ui"
	"github.com/edgecli/xplnet/internal/xpl"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Join two xPL networks",
	Long: `Run a bridge between an outer network and an inner hub.

Messages are copied across in both directions with their hop count raised by
one. Messages that already crossed max-hop bridges are dropped.`,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().Int("max-hop", 0, "Maximum hop count (overrides config)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	maxHop := e.cfg.Bridge.MaxHop
	if v, _ := cmd.Flags().GetInt("max-hop"); v > 0 {
		maxHop = v
	}
	instance, err := e.instance()
	if err != nil {
		return err
	}
	addr, err := xpl.NewAddress(xpl.GroupVendor, "bridge", instance)
	if err != nil {
		return err
	}

	opts, _, err := e.deviceOptions()
	if err != nil {
		return err
	}
	opts.Address = addr

	b, err := bridge.Open(bridge.Settings{
		Inner:  e.cfg.Bridge.Inner,
		Outer:  e.cfg.Bridge.Outer,
		MaxHop: maxHop,
		Device: opts,
	}, e.appOptions()...)
	if err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	st, err := e.startStatus()
	if err != nil {
		_ = b.Close()
		return err
	}

	fmt.Print(ui.RenderPanel("xpl bridge", []ui.Field{
		{Label: "device", Value: addr.String()},
		{Label: "outer", Value: e.cfg.Bridge.Outer.Kind},
		{Label: "inner", Value: e.cfg.Bridge.Inner.Kind + " " + e.cfg.Bridge.Inner.URL},
		{Label: "max hop", Value: fmt.Sprint(b.MaxHop())},
	}))
	fmt.Println(ui.RenderDim(stopHint))

	ctx, cancel := signalContext(cmd)
	defer cancel()

	err = serve(ctx, b, st, e.logger, nil)
	s := b.Stats()
	e.logger.Info().
		Uint64("inbound_forwarded", s.InboundForwarded).
		Uint64("inbound_dropped", s.InboundDropped).
		Uint64("outbound_forwarded", s.OutboundForwarded).
		Uint64("outbound_dropped", s.OutboundDropped).
		Msg("bridge stopped")
	return err
}
