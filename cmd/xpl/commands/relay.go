package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgecli/xplnet/internal/transport"
	"github.com/edgecli/xplnet/internal/ui"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve a websocket relay for the websocket transport",
	Long: `Serve a websocket endpoint that joins every connected client into one
broadcast domain. Point transports of kind "websocket" at ws://<host><listen>/xpl.`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().String("listen", ":8765", "HTTP listen address")
}

func runRelay(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	listen, _ := cmd.Flags().GetString("listen")

	relay := transport.NewWebsocketRelay(e.logger.With().Str("component", "relay").Logger())
	mux := http.NewServeMux()
	mux.Handle("/xpl", relay)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	fmt.Print(ui.RenderPanel("xpl relay", []ui.Field{
		{Label: "url", Value: "ws://" + ln.Addr().String() + "/xpl"},
	}))
	fmt.Println(ui.RenderDim(stopHint))

	ctx, cancel := signalContext(cmd)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	e.logger.Info().Int("clients", relay.Clients()).Msg("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
