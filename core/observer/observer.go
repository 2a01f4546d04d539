// Package observer abstracts the detection-event hooks the handshake,
// pipeline and rotation engines call synchronously on rejection or
// successful decrypt. The host installs whatever sink it wants —
// logging, metrics, a UI toast — without the core depending on any of
// those concerns directly.
package observer

import "context"

// Observer receives security-relevant events from the core. All
// methods are called synchronously on the path that detected the
// condition; implementations must not block for long or the caller's
// handshake/pipeline operation stalls with it.
type Observer interface {
	OnReplay(ctx context.Context, sessionID string, reason string)
	OnInvalidSignature(ctx context.Context, sessionID string, reason string)
	OnAuthenticationFailed(ctx context.Context, sessionID string, reason string)
	OnMessageDecrypted(ctx context.Context, sessionID string, seq uint64)
}

// Noop is the default Observer: every event is dropped. Used whenever
// a caller has no interest in security telemetry, e.g. unit tests.
type Noop struct{}

func (Noop) OnReplay(context.Context, string, string)               {}
func (Noop) OnInvalidSignature(context.Context, string, string)     {}
func (Noop) OnAuthenticationFailed(context.Context, string, string) {}
func (Noop) OnMessageDecrypted(context.Context, string, uint64)     {}
