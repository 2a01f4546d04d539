package session

// replayWindow is a sliding-window anti-replay bitmap: it tracks which
// of the most recent `size` sequence numbers below recv_high have
// already been accepted, rejecting both exact duplicates and anything
// too far behind the high-water mark. size must be ≥ 64 to tolerate
// benign transport reordering.
type replayWindow struct {
	size   uint64
	seen   []bool
	lowest uint64 // seq the bitmap currently starts at
}

func newReplayWindow(size int) *replayWindow {
	if size < 64 {
		size = 64
	}
	return &replayWindow{size: uint64(size), seen: make([]bool, size)}
}

// offer decides whether seq (an inbound sequence number, evaluated
// against the session's current recv_high) would be accepted. It does
// not mutate the window; callers commit separately once the
// ciphertext has authenticated.
func (w *replayWindow) offer(seq, recvHigh uint64) AcceptResult {
	if seq == 0 {
		return OutOfWindow
	}
	if seq > recvHigh {
		return Accepted
	}
	if recvHigh-seq >= w.size {
		return OutOfWindow
	}
	if w.seen[w.slot(seq)] {
		return Duplicate
	}
	return Accepted
}

// commit marks seq as accepted, advancing the bitmap's base when seq
// becomes the new high-water mark and clearing every slot that rolls
// out of the window along the way — including on the first advance
// off lowest == 0, and including a full clear when the advance spans
// more than size, so no stale bit from before the advance can survive
// under a slot a later, legitimately in-window seq happens to share.
func (w *replayWindow) commit(seq uint64) {
	var newLowest uint64
	if seq+1 > w.size {
		newLowest = seq - w.size + 1
	}
	if newLowest > w.lowest {
		if newLowest-w.lowest >= w.size {
			for i := range w.seen {
				w.seen[i] = false
			}
		} else {
			for s := w.lowest; s < newLowest; s++ {
				w.seen[w.slot(s)] = false
			}
		}
		w.lowest = newLowest
	}
	w.seen[w.slot(seq)] = true
}

func (w *replayWindow) slot(seq uint64) uint64 {
	return seq % w.size
}
