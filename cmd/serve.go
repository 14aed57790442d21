package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/hub"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagAddr        string
	flagMaxDuration time.Duration
	flagWarnBefore  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a development meeting hub",
	Long: `Run an in-memory meeting hub that speaks the PolyGo hub protocol.

Rooms live only as long as the process. Translation returns the text unchanged
and summaries are built from the room's transcripts and chat.

Examples:
  polygo-meet serve
  polygo-meet serve --addr :9000 --max-duration 45m --warn-before 5m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveHub(cmd.Context())
	},
}

func serveHub(ctx context.Context) error {
	h := hub.NewHub(hub.Options{
		MaxDuration: flagMaxDuration,
		WarnBefore:  flagWarnBefore,
		Logger:      slog.Default(),
	})

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go h.Run(hubCtx)

	srv := &http.Server{
		Addr:              flagAddr,
		Handler:           hub.Routes(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	ui.PrintSuccessf("Meeting hub listening on %s%s", flagAddr, hub.Path)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve hub: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ui.PrintInfo("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopHub()
	<-h.Done()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagAddr, "addr", "a", ":8080", "Listen address")
	serveCmd.Flags().DurationVar(&flagMaxDuration, "max-duration", 0, "End rooms after this long (0 disables)")
	serveCmd.Flags().DurationVar(&flagWarnBefore, "warn-before", 5*time.Minute, "Warn participants this long before a room ends")
}
