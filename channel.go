// SPDX-License-Identifier: MIT

package leodownlink

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pion/randutil"
)

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Channel is a pure stateful transformer of datagrams into drop or delivery.
// It owns a fade counter and a seeded PRNG; neither is safe to share across
// goroutines transmitting concurrently on the same instance, mirroring how
// the reference design ties one channel to one transmitter.
type Channel struct {
	rng  *rand.Rand
	fade fadeState

	baseLoss      float64
	baseBitError  float64
	baseDuplicate float64
	fadeStartProb float64
	fadeLenPkts   int
	elevMask      float64

	propagationDelay    float64
	imgPropagationDelay float64
}

// NewChannel constructs a Channel seeded deterministically from seed. If
// seed is 0, a fresh seed is drawn from github.com/pion/randutil's
// crypto-backed generator: a non-reproducible initial state from a
// non-seedable source, handed off to a seedable one for every draw after.
func NewChannel(seed int64, opts ...ChannelOption) *Channel {
	if seed == 0 {
		seed = int64(randutil.NewMathRandomGenerator().Uint32())
	}

	c := &Channel{
		rng:                 rand.New(rand.NewSource(seed)), //nolint:gosec // simulation PRNG, not cryptographic
		baseLoss:            BasePacketLoss,
		baseBitError:        BaseBitError,
		baseDuplicate:       BaseDuplicate,
		fadeStartProb:       BurstFadeStartProb,
		fadeLenPkts:         BurstFadeLenPkts,
		elevMask:            ElevMaskDeg,
		propagationDelay:    PropagationDelay,
		imgPropagationDelay: IMGPropagationDely,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func linkQuality(elevDeg, mask float64) float64 {
	if elevDeg <= mask {
		return 0
	}
	q := (elevDeg - mask) / (90.0 - mask)
	return math.Max(0, math.Min(1, q))
}

// Propagate runs one datagram through the channel model. It returns the
// (possibly mutated) datagram and true if delivered, or the zero value and
// false if dropped. The synthetic propagation sleep (set with
// WithPropagationDelay; the IMG value applies to IMG datagrams) runs before
// the loss/BER/duplicate decision is made; tests set it to 0.
func (c *Channel) Propagate(ctx context.Context, dg Datagram, elevDeg float64, dir Direction) (Datagram, bool) {
	delay := c.propagationDelay
	if dg.IsIMG() {
		delay = c.imgPropagationDelay
	}
	if delay > 0 {
		t := time.NewTimer(time.Duration(delay * float64(time.Second)))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Datagram{}, false
		}
	}

	q := linkQuality(elevDeg, c.elevMask)

	fadeStart := c.fadeStartProb * (1 + 3*(1-q))
	if c.fade.step(c.rng.Float64() < fadeStart, c.fadeLenPkts) {
		return Datagram{}, false
	}

	lossP := c.baseLoss * math.Pow(1-q, 1.6)
	if dir == Uplink {
		lossP *= 1.15
	}
	if c.rng.Float64() < lossP {
		return Datagram{}, false
	}

	out := dg

	berP := c.baseBitError * math.Pow(1-q, 2.0)
	if dir == Uplink {
		berP *= 1.10
	}
	out.Corrupted = c.rng.Float64() < berP

	if out.Corrupted && out.IsIMG() {
		severity := 0.3 + (1-q)*0.7
		out.PayloadB64 = c.corruptPayload(out.PayloadB64, severity)
	}

	dupP := c.baseDuplicate * (2 - q)
	out.Duplicated = c.rng.Float64() < dupP

	return out, true
}

// corruptPayload flips max(1, floor(n*0.002*severity)) random characters of
// s to another character of the base64 alphabet, simulating symbol errors
// surviving demodulation.
func (c *Channel) corruptPayload(s string, severity float64) string {
	if s == "" {
		return s
	}
	n := len(s)
	flips := int(float64(n) * 0.002 * severity)
	if flips < 1 {
		flips = 1
	}

	b := []byte(s)
	for i := 0; i < flips; i++ {
		idx := c.rng.Intn(n)
		repl := base64Alphabet[c.rng.Intn(len(base64Alphabet))]
		for repl == b[idx] {
			repl = base64Alphabet[c.rng.Intn(len(base64Alphabet))]
		}
		b[idx] = repl
	}
	return string(b)
}
