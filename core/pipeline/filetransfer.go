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

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duskline/e2ee-core/core/envelope"
)

var ErrChunkTooLarge = errors.New("pipeline: chunk exceeds max plaintext size")

// NewFileTransferID mints the correlator carried by FILE_META and
// every FILE_CHUNK of one transfer, used by ReassemblyBuffer to group
// chunks back into their file.
func NewFileTransferID() string {
	return uuid.NewString()
}

// SendFileMeta announces an upcoming file transfer: it mints a fresh
// file_transfer_id, encrypts the filename/size/mimetype as the
// envelope's ciphertext, and returns both the envelope to send and the
// transfer id the caller must attach to every subsequent chunk.
func (p *Pipeline) SendFileMeta(ctx context.Context, sessionID, filename string, size uint64, totalChunks uint32, mimetype string) (*envelope.Envelope, string, error) {
	transferID := NewFileTransferID()
	payload := envelope.FileMetaPayload{
		Filename:       filename,
		Size:           size,
		TotalChunks:    totalChunks,
		Mimetype:       mimetype,
		FileTransferID: transferID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: marshal file_meta payload: %w", err)
	}
	env, err := p.sealTyped(ctx, sessionID, envelope.FileMeta, data, nil)
	if err != nil {
		return nil, "", err
	}
	return env, transferID, nil
}

// ReceiveFileMeta decrypts and unmarshals a FILE_META envelope,
// running it through the same freshness/replay/AEAD gates as any
// other inbound envelope.
func (p *Pipeline) ReceiveFileMeta(ctx context.Context, env *envelope.Envelope) (*envelope.FileMetaPayload, error) {
	data, err := p.Receive(ctx, env)
	if err != nil {
		return nil, err
	}
	var payload envelope.FileMetaPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("pipeline: unmarshal file_meta payload: %w", err)
	}
	return &payload, nil
}

// SendFileChunk encrypts one chunk of transferID, attaching
// chunk_index/total_chunks/file_transfer_id in the clear as the
// routing metadata the relay is allowed to see.
func (p *Pipeline) SendFileChunk(ctx context.Context, sessionID, transferID string, chunkIndex, totalChunks uint32, chunk []byte) (*envelope.Envelope, error) {
	if len(chunk) > envelope.MaxFileChunkPlaintext {
		return nil, ErrChunkTooLarge
	}
	meta := &envelope.FileChunkMeta{
		ChunkIndex:     chunkIndex,
		TotalChunks:    totalChunks,
		FileTransferID: transferID,
	}
	return p.sealTyped(ctx, sessionID, envelope.FileChunk, chunk, meta)
}

// ReceiveFileChunk decrypts one inbound FILE_CHUNK and folds it into
// buf's reassembly state for (session_id, file_transfer_id). It
// returns the complete, ordered file once every chunk_index up to
// total_chunks-1 has arrived.
func (p *Pipeline) ReceiveFileChunk(ctx context.Context, env *envelope.Envelope, buf *ReassemblyBuffer) (complete bool, assembled []byte, err error) {
	plaintext, err := p.Receive(ctx, env)
	if err != nil {
		return false, nil, err
	}
	return buf.addChunk(env.SessionID, env.FileMeta, plaintext)
}

// transfer tracks the chunks seen so far for one (session_id,
// file_transfer_id) pair.
type transfer struct {
	totalChunks  uint32
	chunks       map[uint32][]byte
	lastActivity time.Time
}

// ReassemblyBuffer collects FILE_CHUNK plaintexts into complete files,
// keyed by (session_id, file_transfer_id). An in-progress transfer
// that goes idle past its inactivity timeout is dropped by a
// background sweep, mirroring internal/secretcache's TTL-sweep
// pattern so a stalled or abandoned upload cannot accumulate memory
// forever.
type ReassemblyBuffer struct {
	mu         sync.Mutex
	inFlight   map[string]*transfer
	inactivity time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewReassemblyBuffer builds a buffer that drops a transfer once it
// has gone inactivity without a new chunk. The spec's default is 30s.
func NewReassemblyBuffer(inactivity time.Duration) *ReassemblyBuffer {
	b := &ReassemblyBuffer{
		inFlight:   make(map[string]*transfer),
		inactivity: inactivity,
		stop:       make(chan struct{}),
	}
	sweep := inactivity / 2
	if sweep < time.Second {
		sweep = time.Second
	}
	go b.sweepLoop(sweep)
	return b
}

func bufKey(sessionID, transferID string) string {
	return sessionID + "|" + transferID
}

func (b *ReassemblyBuffer) addChunk(sessionID string, meta *envelope.FileChunkMeta, plaintext []byte) (bool, []byte, error) {
	if meta == nil {
		return false, nil, fmt.Errorf("pipeline: FILE_CHUNK missing routing metadata")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := bufKey(sessionID, meta.FileTransferID)
	t, ok := b.inFlight[k]
	if !ok {
		t = &transfer{totalChunks: meta.TotalChunks, chunks: make(map[uint32][]byte, meta.TotalChunks)}
		b.inFlight[k] = t
	}
	t.lastActivity = time.Now()

	if _, dup := t.chunks[meta.ChunkIndex]; dup {
		return false, nil, nil // duplicate chunk_index: silently ignored, not an error
	}
	t.chunks[meta.ChunkIndex] = plaintext

	if uint32(len(t.chunks)) < t.totalChunks {
		return false, nil, nil
	}

	out := make([]byte, 0, t.totalChunks)
	for i := uint32(0); i < t.totalChunks; i++ {
		chunk, ok := t.chunks[i]
		if !ok {
			return false, nil, nil // gap in the sequence, not actually complete yet
		}
		out = append(out, chunk...)
	}
	delete(b.inFlight, k)
	return true, out, nil
}

// Close stops the background inactivity sweep.
func (b *ReassemblyBuffer) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *ReassemblyBuffer) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.sweepExpired()
		case <-b.stop:
			return
		}
	}
}

func (b *ReassemblyBuffer) sweepExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for k, t := range b.inFlight {
		if now.Sub(t.lastActivity) > b.inactivity {
			delete(b.inFlight, k)
		}
	}
}
