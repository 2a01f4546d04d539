package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskline/e2ee-core/config"
	"github.com/duskline/e2ee-core/core/observer"
	"github.com/duskline/e2ee-core/core/pipeline"
	"github.com/duskline/e2ee-core/directory"
	"github.com/duskline/e2ee-core/internal/logger"
	"github.com/duskline/e2ee-core/relay"
)

var (
	relayAlice string
	relayBob   string
)

var relayInspectCmd = &cobra.Command{
	Use:   "relay-inspect",
	Short: "Send a few messages through a relay and inspect its metadata store",
	Long: `Establishes a session, sends three MSG envelopes through an
in-process Relay, and prints the resulting metadata records — then
replays the first envelope to demonstrate the relay's duplicate
rejection (R1).`,
	RunE: runRelayInspect,
}

func init() {
	rootCmd.AddCommand(relayInspectCmd)
	relayInspectCmd.Flags().StringVar(&relayAlice, "alice", "alice", "sender user_id")
	relayInspectCmd.Flags().StringVar(&relayBob, "bob", "bob", "receiver user_id")
}

func runRelayInspect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := logger.NewDefaultLogger()
	dir := directory.NewMemoryService()

	alice, err := newDemoParty(relayAlice, dir, log)
	if err != nil {
		return err
	}
	bob, err := newDemoParty(relayBob, dir, log)
	if err != nil {
		return err
	}

	kepInit, err := alice.hs.Initiate(ctx, bob.user)
	if err != nil {
		return fmt.Errorf("initiate: %w", err)
	}
	kepResp, err := bob.hs.HandleKEPInit(ctx, kepInit)
	if err != nil {
		return fmt.Errorf("handle KEP_INIT: %w", err)
	}
	if err := alice.hs.HandleKEPResponse(ctx, kepResp); err != nil {
		return fmt.Errorf("handle KEP_RESPONSE: %w", err)
	}
	sessionID := kepInit.SessionID

	pipe := pipeline.New(alice.ks, observer.Noop{}, log)
	r := relay.New(config.Default().Relay, log)
	defer r.Close()

	messages := []string{"hello", "how are you", "goodbye"}
	replayDemoed := false

	for _, text := range messages {
		env, err := pipe.Send(ctx, sessionID, []byte(text))
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		rec, err := r.Ingest(ctx, env, alice.user)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		fmt.Printf("relay accepted message_id=%s seq=%d type=%s delivered=%v\n", rec.MessageID, rec.Seq, rec.Type, rec.Delivered)

		if !replayDemoed {
			replayDemoed = true
			if err := r.MarkDelivered(rec.MessageID); err != nil {
				return err
			}
			if _, err := r.Ingest(ctx, env, alice.user); err != nil {
				fmt.Printf("relay correctly rejected replay of message_id=%s: %v\n", rec.MessageID, err)
			} else {
				return fmt.Errorf("relay-inspect: relay accepted a replayed envelope")
			}
		}
	}

	pending := r.Pending(bob.user)
	fmt.Printf("pending (undelivered) records for %s: %d\n", bob.user, len(pending))
	return nil
}
