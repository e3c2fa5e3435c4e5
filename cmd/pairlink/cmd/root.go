package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pairlink/pairlink/internal/config"
)

var (
	flagServerURL  string
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagForceRelay bool
	flagVerbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pairlink",
	Short: "Anonymous 1:1 video-call matchmaking client",
	Long: `pairlink connects to a pairlink signaling server, registers an
anonymous session, waits to be matched with a stranger and negotiates a
direct WebRTC call with them.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load(config.Options{
		ServerURL:  flagServerURL,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagForceRelay,
	})

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "Signaling server URL")
	rootCmd.PersistentFlags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	rootCmd.PersistentFlags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	rootCmd.PersistentFlags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	rootCmd.PersistentFlags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	rootCmd.PersistentFlags().BoolVarP(&flagForceRelay, "relay", "r", false, "Force relay mode")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
}
