package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/ui"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "polygo-meet",
	Short: "Join PolyGo meetings from the terminal",
	Long: `polygo-meet joins a PolyGo meeting room as a participant. It negotiates
WebRTC media with every other participant through the meeting hub, carries chat,
raised hands and host controls, and shows live translated captions.

It also runs a development hub that speaks the same protocol, so meetings can be
tried end to end without the production service.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
