package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pairlink/pairlink/internal/client/signal"
	"github.com/pairlink/pairlink/internal/protocol"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live counters from the signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func runStats() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := signal.NewClient(cfg.ServerURL)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer client.Close()

	handler := signal.NewHandler(client)
	go handler.Start()

	client.Send(protocol.MustEnvelope(protocol.TypeGetStats, nil))

	select {
	case s, ok := <-handler.ServerStats:
		if !ok {
			return fmt.Errorf("connection lost")
		}
		fmt.Printf("Sessions: %d\n", s.Sessions)
		fmt.Printf("Waiting:  %d\n", s.Waiting)
		fmt.Printf("Rooms:    %d\n", s.Rooms)
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server did not answer in time")
	}
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
