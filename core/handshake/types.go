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

package handshake

import (
	"errors"
	"time"

	ecrypto "github.com/duskline/e2ee-core/crypto"
)

// State is a handshake attempt's position in its per-role state
// machine. Initiator: Idle -> AwaitResponse -> Established|Failed.
// Responder: Idle -> Responding -> Established|Failed.
type State int

const (
	Idle State = iota
	AwaitResponse
	Responding
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitResponse:
		return "AwaitResponse"
	case Responding:
		return "Responding"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var (
	ErrInvalidSignature  = errors.New("handshake: invalid signature")
	ErrInvalidKEPMessage = errors.New("handshake: invalid KEP message")
	ErrStaleTimestamp    = errors.New("handshake: stale timestamp")
	ErrTimeout           = errors.New("handshake: attempt timed out")
	ErrRateLimited       = errors.New("handshake: rate limited")
	ErrSuperseded        = errors.New("handshake: superseded by concurrent peer init")
	ErrKeyConfirmFailed  = errors.New("handshake: key confirmation failed")
	ErrUnknownSession    = errors.New("handshake: no pending attempt for session")
)

// Attempt tracks one in-flight handshake for a session_id.
type Attempt struct {
	SessionID string
	PeerUser  string
	State     State

	eph       *ecrypto.EphemeralKeyPair // destroyed on completion or cancellation
	nonce     []byte
	ownUser   string
	startedAt time.Time
}
