package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pairlink/pairlink/internal/client/negotiate"
	"github.com/pairlink/pairlink/internal/client/signal"
	"github.com/pairlink/pairlink/internal/protocol"
)

var (
	flagVideo     bool
	flagAudio     bool
	flagInterests []string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Find a stranger and start a call",
	Long: `Register with the signaling server, enter the matchmaking pool and
negotiate a call with the first matched peer. The call runs until the peer
leaves or the process is interrupted.

Examples:
  pairlink call
  pairlink call --interests music,games --relay`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall()
	},
}

func runCall() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	client := signal.NewClient(cfg.ServerURL)
	if err := client.Connect(); err != nil {
		return negotiate.NewError("connect to server", err)
	}
	defer client.Close()

	handler := signal.NewHandler(client)
	go handler.Start()

	prefs := protocol.Preferences{
		VideoEnabled: flagVideo,
		AudioEnabled: flagAudio,
		Interests:    flagInterests,
	}

	client.Send(protocol.MustEnvelope(protocol.TypeRegisterUser, protocol.RegisterUserPayload{
		UserSession: protocol.UserSession{
			UserID:      "anon-" + uuid.NewString()[:8],
			Preferences: prefs,
		},
	}))

	var localID string
	select {
	case id, ok := <-handler.Registered:
		if !ok {
			return fmt.Errorf("connection closed before registration")
		}
		localID = id
	case <-time.After(10 * time.Second):
		return fmt.Errorf("registration timed out")
	}
	fmt.Println("Registered as session", localID)

	client.Send(protocol.MustEnvelope(protocol.TypeFindMatch, protocol.FindMatchPayload{Preferences: prefs}))

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Searching for a partner...")
	var joined *protocol.RoomJoinedPayload
	for joined == nil {
		select {
		case <-handler.SearchStarted:
		case <-handler.NoMatch:
			fmt.Println("Still searching...")
		case j, ok := <-handler.RoomJoined:
			if !ok {
				return fmt.Errorf("connection lost while searching")
			}
			joined = j
		case <-ctx.Done():
			return nil
		}
	}
	fmt.Printf("Matched with %s (room %s)\n", joined.Partner.UserID, joined.RoomID)

	neg := negotiate.New(negotiate.Config{
		LocalID:     localID,
		Send:        client.Send,
		NewPeerConn: negotiate.PionFactory(cfg),
		Logger:      log,
	})

	go func() {
		for {
			select {
			case env, ok := <-handler.Signal:
				if !ok {
					return
				}
				neg.HandleSignal(env)
			case _, ok := <-handler.UserLeft:
				if !ok {
					return
				}
				neg.PeerLeft()
			case <-ctx.Done():
				neg.End()
				return
			}
		}
	}()

	neg.RoomJoined(joined.RoomID, joined.PeerID)

	err = neg.Run(ctx)
	if ctx.Err() != nil {
		client.Send(protocol.MustEnvelope(protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{RoomID: joined.RoomID}))
		fmt.Println("Leaving the call.")
		return nil
	}
	if errors.Is(err, negotiate.ErrPeerDisconnected) {
		fmt.Println("Peer left the call.")
		return nil
	}
	return err
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().BoolVar(&flagVideo, "video", true, "Announce video capability")
	callCmd.Flags().BoolVar(&flagAudio, "audio", true, "Announce audio capability")
	callCmd.Flags().StringSliceVar(&flagInterests, "interests", nil, "Interests to share with the matched peer")
}
