package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskline/e2ee-core/core/observer"
	"github.com/duskline/e2ee-core/core/rotation"
	"github.com/duskline/e2ee-core/directory"
	"github.com/duskline/e2ee-core/internal/logger"
)

var (
	rotateAlice string
	rotateBob   string
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Establish a session, then rotate its keys once",
	Long: `Runs the same in-process handshake as handshake-demo, then
drives one KEY_UPDATE round trip and confirms rotation_count advanced
on both sides and the resulting keys changed.`,
	RunE: runRotate,
}

func init() {
	rootCmd.AddCommand(rotateCmd)
	rotateCmd.Flags().StringVar(&rotateAlice, "alice", "alice", "initiator user_id")
	rotateCmd.Flags().StringVar(&rotateBob, "bob", "bob", "responder user_id")
}

func runRotate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := logger.NewDefaultLogger()
	dir := directory.NewMemoryService()

	alice, err := newDemoParty(rotateAlice, dir, log)
	if err != nil {
		return err
	}
	bob, err := newDemoParty(rotateBob, dir, log)
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
	fmt.Printf("session established: %s\n", sessionID)

	aliceBefore, err := alice.ks.Get(sessionID)
	if err != nil {
		return err
	}
	sendKeyBefore := aliceBefore.SendKey()

	aliceRot := rotation.NewEngine(alice.identity, alice.user, dir, alice.ks, observer.Noop{}, log)
	bobRot := rotation.NewEngine(bob.identity, bob.user, dir, bob.ks, observer.Noop{}, log)

	req, err := aliceRot.Initiate(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("rotation initiate: %w", err)
	}
	fmt.Printf("  -> KEY_UPDATE rotation_seq=%d\n", req.KeyUpdate.RotationSeq)

	resp, err := bobRot.HandleKeyUpdate(ctx, req)
	if err != nil {
		return fmt.Errorf("handle KEY_UPDATE: %w", err)
	}
	if err := aliceRot.HandleKeyUpdateResponse(ctx, resp); err != nil {
		return fmt.Errorf("handle KEY_UPDATE response: %w", err)
	}

	aliceAfter, err := alice.ks.Get(sessionID)
	if err != nil {
		return err
	}
	bobAfter, err := bob.ks.Get(sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("rotation_count: alice=%d bob=%d\n", aliceAfter.RotationCount(), bobAfter.RotationCount())
	changed := string(sendKeyBefore) != string(aliceAfter.SendKey())
	matched := string(aliceAfter.SendKey()) == string(bobAfter.RecvKey()) && string(aliceAfter.RecvKey()) == string(bobAfter.SendKey())
	fmt.Printf("send_key changed by rotation: %v\n", changed)
	fmt.Printf("post-rotation directional keys cross-match: %v\n", matched)
	if !changed || !matched {
		return fmt.Errorf("rotate: post-rotation keys did not change or cross-match correctly")
	}
	return nil
}
