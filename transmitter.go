// SPDX-License-Identifier: MIT

package leodownlink

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"
)

// TransmitterOption configures a Transmitter at construction time.
type TransmitterOption func(*Transmitter)

// WithChunkBytes overrides IMGChunkBytes.
func WithChunkBytes(n int) TransmitterOption {
	return func(t *Transmitter) { t.chunkBytes = n }
}

// WithRepCopies overrides IMGRepCopies.
func WithRepCopies(n int) TransmitterOption {
	return func(t *Transmitter) { t.repCopies = n }
}

// WithChunkDelay overrides IMGChunkDelaySec. A zero delay is how tests run
// the transmitter without the inter-chunk throttle.
func WithChunkDelay(seconds float64) TransmitterOption {
	return func(t *Transmitter) { t.chunkDelay = seconds }
}

// WithOnlyFirstFrame controls whether the Transmitter stops the image path
// after its first successfully sent frame, matching the reference
// deployment's SEND_ONLY_FIRST_FRAME behavior. Defaults to true.
func WithOnlyFirstFrame(only bool) TransmitterOption {
	return func(t *Transmitter) { t.onlyFirstFrame = only }
}

// Transmitter reads frames from a FrameSource, chunks each into
// IMGChunkBytes pieces, and replicates every chunk IMGRepCopies times
// through a Channel before handing surviving datagrams to an output sink.
type Transmitter struct {
	chunkBytes     int
	repCopies      int
	chunkDelay     float64
	onlyFirstFrame bool
	sentOnce       bool
	log            *zap.Logger
}

// NewTransmitter builds a Transmitter with package defaults, then applies opts.
func NewTransmitter(log *zap.Logger, opts ...TransmitterOption) *Transmitter {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Transmitter{
		chunkBytes:     IMGChunkBytes,
		repCopies:      IMGRepCopies,
		chunkDelay:     IMGChunkDelaySec,
		onlyFirstFrame: true,
		log:            log,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OutputFunc is how a delivered datagram leaves the transmitter, typically
// a thin wrapper over a net.PacketConn write. Returning an error stops the
// frame in progress; the transmitter itself survives to the next tick.
type OutputFunc func(Datagram) error

// Tick runs one link-state-tick worth of work: skip if not visible or the
// downlink rate is zero, otherwise pull the next frame from src and send it.
// Once onlyFirstFrame is set and a frame has been sent, Tick is a no-op,
// matching the reference deployment which transmits only frame_id 0.
func (t *Transmitter) Tick(ctx context.Context, ch *Channel, link LinkState, src FrameSource, out OutputFunc) error {
	if !link.Visible || link.RateDLMbps <= 0 {
		return nil
	}
	if t.onlyFirstFrame && t.sentOnce {
		return nil
	}

	frame, frameID, err := src.NextFrame()
	if err == ErrFrameSourceExhausted {
		return nil
	}
	if err != nil {
		return err
	}

	if err := t.SendFrame(ctx, ch, link, frameID, frame, out); err != nil {
		return err
	}
	t.sentOnce = true
	return nil
}

// SendFrame partitions frame into chunkBytes-sized chunks (the final chunk
// may be shorter) and emits repCopies replicas of each through ch. last is
// carried by every replica of, and only of, the final chunk; rep ranges
// over [0, repCopies).
func (t *Transmitter) SendFrame(
	ctx context.Context,
	ch *Channel,
	link LinkState,
	frameID uint64,
	frame []byte,
	out OutputFunc,
) error {
	if !link.Visible || link.RateDLMbps <= 0 {
		return ErrNotVisible
	}

	total := (len(frame) + t.chunkBytes - 1) / t.chunkBytes
	if total == 0 {
		total = 1
	}

	t.log.Info("IMG TX start",
		zap.Uint64("frame_id", frameID),
		zap.Int("chunks", total),
		zap.Int("rep_copies", t.repCopies),
		zap.Float64("elev_deg", link.ElevDeg),
	)

	for idx := 0; idx < total; idx++ {
		start := idx * t.chunkBytes
		end := start + t.chunkBytes
		if end > len(frame) {
			end = len(frame)
		}
		payload := base64.StdEncoding.EncodeToString(frame[start:end])
		last := idx == total-1

		for rep := 0; rep < t.repCopies; rep++ {
			dg := Datagram{
				Type:       DatagramIMG,
				FrameID:    frameID,
				ChunkIdx:   uint32(idx), //nolint:gosec // chunk counts stay far below 2^32
				Last:       last,
				Rep:        uint32(rep), //nolint:gosec // repCopies stays far below 2^32
				PayloadB64: payload,
			}
			delivered, ok := ch.Propagate(ctx, dg, link.ElevDeg, Downlink)
			if !ok {
				continue
			}
			if err := out(delivered); err != nil {
				return err
			}
		}

		if t.chunkDelay > 0 {
			if err := sleepCtx(ctx, t.chunkDelay); err != nil {
				return err
			}
		}
	}

	t.log.Info("IMG TX done", zap.Uint64("frame_id", frameID))
	return nil
}

func sleepCtx(ctx context.Context, seconds float64) error {
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
