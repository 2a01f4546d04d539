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
	"sync"

	"golang.org/x/time/rate"
)

// sessionLimiter enforces the per-session_id handshake/rotation
// initiation bound: at most 5 per minute and 20 per hour. Both
// buckets must have a token available for an attempt to proceed.
type sessionLimiter struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

func newSessionLimiter(perMinute, perHour int) *sessionLimiter {
	return &sessionLimiter{
		perMinute: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		perHour:   rate.NewLimiter(rate.Limit(float64(perHour)/3600.0), perHour),
	}
}

// allow reports whether another attempt may proceed right now. It
// does not block: a limited attempt fails immediately with
// ErrRateLimited rather than waiting.
func (l *sessionLimiter) allow() bool {
	return l.perMinute.Allow() && l.perHour.Allow()
}

// RateLimiter tracks one sessionLimiter per session_id, created on
// first use.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	bySession map[string]*sessionLimiter
}

// NewRateLimiter builds a RateLimiter with the given per-session
// bounds.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		bySession: make(map[string]*sessionLimiter),
	}
}

// Allow reports whether sessionID may initiate another
// handshake/rotation attempt right now.
func (r *RateLimiter) Allow(sessionID string) bool {
	r.mu.Lock()
	l, ok := r.bySession[sessionID]
	if !ok {
		l = newSessionLimiter(r.perMinute, r.perHour)
		r.bySession[sessionID] = l
	}
	r.mu.Unlock()
	return l.allow()
}
