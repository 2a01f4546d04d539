// e2ee-core - End-to-End Encrypted Messaging Core
// Copyright (C) 2026 e2ee-core
//
// This file is part of e2ee-core.
//
// e2ee-core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// e2ee-core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with e2ee-core. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "e2eectl",
	Short: "e2eectl - local demo and inspection tool for the E2EE messaging core",
	Long: `e2eectl exercises the cryptographic core end to end in a single
process: identity sealing, the key exchange protocol, session key
rotation, and the relay metadata contract. It holds no state between
invocations — every subcommand builds its own in-memory identities,
keystores and directory, and prints what happened.

This tool is a diagnostic aid, not a client: production deployments
drive core/handshake, core/pipeline and core/rotation directly from a
transport layer, and persist keystores under crypto/storage.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	// Subcommands are registered in their own files:
	// - identity.go: identityCmd
	// - handshake.go: handshakeDemoCmd
	// - rotate.go: rotateCmd
	// - relay.go: relayInspectCmd
}
