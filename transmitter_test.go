// SPDX-License-Identifier: MIT

package leodownlink

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestSendFrameContracts checks the wire contracts SendFrame must hold:
// last is carried by every replica of, and only of, the final chunk; rep
// ranges over [0, repCopies).
func TestSendFrameContracts(t *testing.T) {
	frame := make([]byte, 25) // 3 chunks of size 10,10,5 with chunkBytes=10
	for i := range frame {
		frame[i] = byte(i)
	}

	ch := NewChannel(1, WithBaseLoss(0), WithBaseBitError(0), WithBaseDuplicate(0), WithFadeStartProb(0), WithPropagationDelay(0, 0))
	tx := NewTransmitter(zap.NewNop(), WithChunkBytes(10), WithRepCopies(3), WithChunkDelay(0))

	var sent []Datagram
	out := func(dg Datagram) error {
		sent = append(sent, dg)
		return nil
	}

	link := LinkState{Visible: true, ElevDeg: 90, RateDLMbps: 10}
	require.NoError(t, tx.SendFrame(context.Background(), ch, link, 42, frame, out))

	require.Len(t, sent, 9, "3 chunks * 3 reps")

	byChunk := map[uint32][]Datagram{}
	for _, dg := range sent {
		assert.Equal(t, DatagramIMG, dg.Type)
		assert.Equal(t, uint64(42), dg.FrameID)
		assert.Less(t, dg.Rep, uint32(3))
		byChunk[dg.ChunkIdx] = append(byChunk[dg.ChunkIdx], dg)
	}
	require.Len(t, byChunk, 3)

	for idx, dgs := range byChunk {
		for _, dg := range dgs {
			assert.Equal(t, idx == 2, dg.Last, "only the final chunk (idx 2) carries last=true")
		}
	}

	// Chunk 2 (the final, short chunk) must decode to 5 bytes.
	chunk2 := byChunk[2][0]
	raw, err := base64.StdEncoding.DecodeString(chunk2.PayloadB64)
	require.NoError(t, err)
	assert.Len(t, raw, 5)
}

func TestTickSkipsWhenNotVisible(t *testing.T) {
	ch := NewChannel(1)
	tx := NewTransmitter(zap.NewNop())
	src := newSliceFrameSource([][]byte{{1, 2, 3}})

	called := false
	out := func(Datagram) error { called = true; return nil }

	err := tx.Tick(context.Background(), ch, LinkState{Visible: false, RateDLMbps: 10}, src, out)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestSendFrameRejectsInvisibleLink(t *testing.T) {
	ch := NewChannel(1)
	tx := NewTransmitter(zap.NewNop())

	err := tx.SendFrame(context.Background(), ch, LinkState{Visible: false}, 0, []byte{1, 2, 3}, func(Datagram) error { return nil })
	assert.ErrorIs(t, err, ErrNotVisible)

	err = tx.SendFrame(context.Background(), ch, LinkState{Visible: true, RateDLMbps: 0}, 0, []byte{1, 2, 3}, func(Datagram) error { return nil })
	assert.ErrorIs(t, err, ErrNotVisible)
}

func TestTickOnlySendsFirstFrameByDefault(t *testing.T) {
	ch := NewChannel(1, WithBaseLoss(0), WithBaseBitError(0), WithBaseDuplicate(0), WithFadeStartProb(0), WithPropagationDelay(0, 0))
	tx := NewTransmitter(zap.NewNop(), WithChunkDelay(0))
	src := newSliceFrameSource([][]byte{{1, 2, 3}, {4, 5, 6}})

	var frameIDs []uint64
	out := func(dg Datagram) error { frameIDs = append(frameIDs, dg.FrameID); return nil }

	link := LinkState{Visible: true, ElevDeg: 90, RateDLMbps: 10}
	require.NoError(t, tx.Tick(context.Background(), ch, link, src, out))
	require.NoError(t, tx.Tick(context.Background(), ch, link, src, out))

	for _, id := range frameIDs {
		assert.Equal(t, uint64(0), id, "onlyFirstFrame must stop the image path after frame 0")
	}
}

// sliceFrameSource is an in-memory FrameSource test double.
type sliceFrameSource struct {
	frames [][]byte
	next   uint64
}

func newSliceFrameSource(frames [][]byte) *sliceFrameSource {
	return &sliceFrameSource{frames: frames}
}

func (s *sliceFrameSource) NextFrame() ([]byte, uint64, error) {
	if int(s.next) >= len(s.frames) {
		return nil, 0, ErrFrameSourceExhausted
	}
	f := s.frames[s.next]
	id := s.next
	s.next++
	return f, id, nil
}
