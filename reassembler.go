// SPDX-License-Identifier: MIT

package leodownlink

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// chunkState holds every replica received so far for one chunk of one
// frame.
type chunkState struct {
	reps map[uint32][]byte
	t0   time.Time
}

// frameState holds every chunk received so far for one frame, plus the
// chunk index that closes it (once known).
type frameState struct {
	chunks  map[uint32]*chunkState
	lastIdx *uint32
	t0      time.Time
}

func (fs *frameState) complete() bool {
	if fs.lastIdx == nil {
		return false
	}
	for i := uint32(0); i <= *fs.lastIdx; i++ {
		if _, ok := fs.chunks[i]; !ok {
			return false
		}
	}
	return true
}

// Completion is the result of a Reassembler.Push that closes out a frame:
// the noisy baseline (rep 0, or the lowest surviving rep id per chunk) and
// the majority-voted fixed stream.
type Completion struct {
	FrameID  uint64
	RawNoisy []byte
	RawFixed []byte
}

// EvictedFrame describes a partial frame reclaimed by the timeout sweep.
type EvictedFrame struct {
	FrameID        uint64
	ChunksReceived int
}

// Stats are cumulative, lock-protected counters a caller can poll for
// observability; no metrics backend is wired (see Non-goals).
type Stats struct {
	ParseErrors uint64
	Evicted     uint64
	Completed   uint64
}

// Reassembler is the single shared mutable table of in-flight frames: one
// mutex guards read-modify-write of both the chunk map and lastIdx for every
// frame. It is safe for concurrent Push from multiple goroutines even
// though the reference receive loop only ever calls it from one.
type Reassembler struct {
	mu     sync.Mutex
	frames map[uint64]*frameState
	maxAge time.Duration
	log    *zap.Logger
	stats  Stats
}

// NewReassembler constructs a Reassembler whose partial frames are evicted
// once maxAge has passed since their first datagram (900s is a typical
// default).
func NewReassembler(maxAge time.Duration, log *zap.Logger) *Reassembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reassembler{
		frames: make(map[uint64]*frameState),
		maxAge: maxAge,
		log:    log,
	}
}

// Push ingests one datagram. It returns a Completion and true exactly once
// per frame_id, the instant that frame's last chunk index and every chunk
// in [0, last_idx] have at least one replica. A corrupted or malformed
// datagram is absorbed silently and never blocks reassembly of the rest.
func (r *Reassembler) Push(dg Datagram) (Completion, bool) {
	if !dg.IsIMG() {
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		return Completion{}, false
	}
	data := decodeLenient(dg.PayloadB64)

	now := time.Now()

	r.mu.Lock()

	fs, ok := r.frames[dg.FrameID]
	if !ok {
		fs = &frameState{chunks: make(map[uint32]*chunkState), t0: now}
		r.frames[dg.FrameID] = fs
	}
	cs, ok := fs.chunks[dg.ChunkIdx]
	if !ok {
		cs = &chunkState{reps: make(map[uint32][]byte), t0: now}
		fs.chunks[dg.ChunkIdx] = cs
	}
	cs.reps[dg.Rep] = data

	if dg.Last {
		idx := dg.ChunkIdx
		fs.lastIdx = &idx
	}

	if !fs.complete() {
		r.sweepLocked(now)
		r.mu.Unlock()
		return Completion{}, false
	}

	delete(r.frames, dg.FrameID)
	r.stats.Completed++
	r.mu.Unlock()

	noisy, fixed := buildOutputs(fs)
	return Completion{FrameID: dg.FrameID, RawNoisy: noisy, RawFixed: fixed}, true
}

// Sweep evicts any frame whose first datagram is older than maxAge.
// Push already calls this opportunistically on every non-completing call;
// callers that are otherwise idle (no traffic at all) can call Sweep
// directly to reclaim memory.
func (r *Reassembler) Sweep(now time.Time) []EvictedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Reassembler) sweepLocked(now time.Time) []EvictedFrame {
	var evicted []EvictedFrame
	for id, fs := range r.frames {
		if now.Sub(fs.t0) <= r.maxAge {
			continue
		}
		evicted = append(evicted, EvictedFrame{FrameID: id, ChunksReceived: len(fs.chunks)})
		delete(r.frames, id)
		r.stats.Evicted++
	}
	for _, e := range evicted {
		r.log.Warn("IMG frame evicted on timeout",
			zap.Uint64("frame_id", e.FrameID),
			zap.Int("chunks_received", e.ChunksReceived),
		)
	}
	return evicted
}

// Stats returns a snapshot of the cumulative counters.
func (r *Reassembler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// buildOutputs concatenates, per chunk in order, the noisy baseline replica
// and the majority-voted fixed bytes. Called after fs has been removed from
// the table, so it needs no locking of its own.
func buildOutputs(fs *frameState) (noisy, fixed []byte) {
	for i := uint32(0); i <= *fs.lastIdx; i++ {
		cs := fs.chunks[i]

		if v, ok := cs.reps[0]; ok {
			noisy = append(noisy, v...)
		} else {
			noisy = append(noisy, lowestRep(cs.reps)...)
		}

		fixed = append(fixed, majorityVote(repValues(cs.reps))...)
	}
	return noisy, fixed
}

// lowestRep returns the replica with the smallest rep id, standing in for
// "the first replica in iteration order" when rep 0 was lost: Go map
// iteration order is randomized, so a deterministic substitute (lowest
// surviving rep id) is used instead, to keep output reproducible across
// runs given the same replica set.
func lowestRep(reps map[uint32][]byte) []byte {
	var best uint32
	var bestSet bool
	for rep := range reps {
		if !bestSet || rep < best {
			best, bestSet = rep, true
		}
	}
	return reps[best]
}

// repValues returns the chunk's replica payloads ordered by ascending rep
// id, so the vote sees the same input order run to run. majorityVote's tie
// rule depends only on byte values, not on this order.
func repValues(reps map[uint32][]byte) [][]byte {
	ids := make([]uint32, 0, len(reps))
	for rep := range reps {
		ids = append(ids, rep)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	out := make([][]byte, len(ids))
	for i, rep := range ids {
		out[i] = reps[rep]
	}
	return out
}

// majorityVote computes the byte-wise plurality across copies, truncated to
// the shortest copy. Ties are broken deterministically: the lowest byte
// value among the tied candidates wins.
func majorityVote(copies [][]byte) []byte {
	if len(copies) == 0 {
		return nil
	}
	m := len(copies[0])
	for _, c := range copies[1:] {
		if len(c) < m {
			m = len(c)
		}
	}
	if len(copies) == 1 {
		return copies[0][:m]
	}

	out := make([]byte, m)
	var counts [256]int
	for i := 0; i < m; i++ {
		for v := range counts {
			counts[v] = 0
		}
		for _, c := range copies {
			counts[c[i]]++
		}
		best, bestCount := 0, -1
		for v := 0; v < 256; v++ {
			if counts[v] > bestCount {
				best, bestCount = v, counts[v]
			}
		}
		out[i] = byte(best)
	}
	return out
}

// decodeLenient base64-decodes s in non-strict mode: invalid characters are
// stripped and padding is normalized before decoding is attempted, so a
// symbol-corrupted payload yields a best-effort byte slice rather than an
// error. An input that still cannot be decoded yields an empty slice, which
// contributes nothing useful to the majority vote but never blocks
// reassembly of the rest of the frame.
func decodeLenient(s string) []byte {
	if s == "" {
		return nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '+' || r == '/' {
			b.WriteRune(r)
		}
	}
	clean := b.String()

	if out, err := base64.RawStdEncoding.DecodeString(clean); err == nil {
		return out
	}
	// Fall back to trimming to a multiple of 4 so stray trailing symbols
	// from a corrupted replica don't sink the whole decode.
	if n := len(clean) - len(clean)%4; n > 0 {
		if out, err := base64.RawStdEncoding.DecodeString(clean[:n]); err == nil {
			return out
		}
	}
	return nil
}
