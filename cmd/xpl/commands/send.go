package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgecli/xplnet/internal/app"
	"github.com/edgecli/xplnet/internal/ui"
	"github.com/edgecli/xplnet/internal/xpl"
)

var sendCmd = &cobra.Command{
	Use:   "send --schema <class.type> [name=value...]",
	Short: "Send one xPL message",
	Long: `Send one xPL message from the configured device address.

Body items are given as name=value arguments and keep their order.

Examples:
  xpl send --schema control.basic --target acme-lamp.kitchen device=lamp current=on
  xpl send --type stat --schema sensor.basic device=temp current=21.5
  xpl send --schema hbeat.request command=request --wait 3s`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("type", "cmnd", "Message type: cmnd, stat or trig")
	sendCmd.Flags().String("target", "*", "Target address, vendor-device.*, xpl-group.<name> or *")
	sendCmd.Flags().String("schema", "", "Message schema class.type (required)")
	sendCmd.Flags().Duration("wait", 0, "Print messages reaching our address for this long")
	_ = sendCmd.MarkFlagRequired("schema")
}

// buildMessage assembles a message from command line tokens.
func buildMessage(typ string, source xpl.Address, target, schema string, pairs []string) (*xpl.Message, error) {
	if !strings.HasPrefix(strings.ToLower(typ), "xpl-") {
		typ = "xpl-" + typ
	}
	mt, err := xpl.ParseMessageType(typ)
	if err != nil {
		return nil, err
	}
	to, err := xpl.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	sc, err := xpl.ParseSchema(schema)
	if err != nil {
		return nil, err
	}

	msg := xpl.NewMessage(mt, source, to, sc)
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("body item %q: expected name=value", p)
		}
		if err := msg.Body.Add(name, value); err != nil {
			return nil, err
		}
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	opts, _, err := e.deviceOptions()
	if err != nil {
		return err
	}
	typ, _ := cmd.Flags().GetString("type")
	target, _ := cmd.Flags().GetString("target")
	schema, _ := cmd.Flags().GetString("schema")
	wait, _ := cmd.Flags().GetDuration("wait")

	msg, err := buildMessage(typ, opts.Address, target, schema, args)
	if err != nil {
		return err
	}

	a, err := app.Open(e.cfg.Client.Transport, e.appOptions()...)
	if err != nil {
		return fmt.Errorf("failed to join network: %w", err)
	}
	if err := a.Send(msg); err != nil {
		return errors.Join(err, a.Close())
	}
	fmt.Println(ui.RenderSuccess("sent ") + ui.RenderMessage(time.Now(), "", msg))

	if wait > 0 {
		awaitReplies(a, opts.Address, wait)
	}
	return a.Close()
}

// awaitReplies prints messages that would reach source, including
// broadcasts, until wait elapses.
func awaitReplies(a *app.Application, source xpl.Address, wait time.Duration) {
	deadline := time.Now().Add(wait)
	var spinner *ui.Spinner
	if ui.IsColorEnabled() {
		spinner = ui.NewSpinner(os.Stdout, "waiting for replies")
		spinner.Start()
		defer spinner.Stop()
	}
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return
		}
		msg, from, err := a.Step(min(left, pollTimeout))
		if err != nil {
			logPollError(a.Logger(), err)
		}
		if msg == nil || !msg.Target.Matches(source) || msg.Source == source {
			continue
		}
		line := ui.RenderMessage(time.Now(), from, msg)
		if spinner != nil {
			spinner.Pause(func() { fmt.Println(line) })
		} else {
			fmt.Println(line)
		}
	}
}
