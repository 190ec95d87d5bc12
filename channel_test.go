// SPDX-License-Identifier: MIT

package leodownlink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanDatagram() Datagram {
	return Datagram{
		Type:       DatagramIMG,
		FrameID:    0,
		ChunkIdx:   0,
		Last:       false,
		Rep:        0,
		PayloadB64: "QUJDREVGRw==", // "ABCDEFG"
	}
}

// TestChannelPerfectLinkDelivers checks a perfect link (q=1, zero
// loss/BER/duplicate): a datagram survives unmodified.
func TestChannelPerfectLinkDelivers(t *testing.T) {
	ch := NewChannel(1,
		WithBaseLoss(0), WithBaseBitError(0), WithBaseDuplicate(0),
		WithFadeStartProb(0), WithPropagationDelay(0, 0),
	)

	dg := cleanDatagram()
	out, ok := ch.Propagate(context.Background(), dg, 90, Downlink)
	require.True(t, ok)
	assert.False(t, out.Corrupted)
	assert.False(t, out.Duplicated)
	assert.Equal(t, dg.PayloadB64, out.PayloadB64)
}

// TestFadePersistence checks that once a fade starts, the next
// BurstFadeLenPkts calls return drop regardless of elevation.
func TestFadePersistence(t *testing.T) {
	ch := NewChannel(1,
		WithBaseLoss(0), WithBaseBitError(0), WithBaseDuplicate(0),
		WithFadeStartProb(1), WithFadeLengthPkts(25), WithPropagationDelay(0, 0),
	)

	dg := cleanDatagram()

	_, ok := ch.Propagate(context.Background(), dg, 90, Downlink)
	assert.False(t, ok, "triggering packet must be dropped")

	for i := 0; i < BurstFadeLenPkts; i++ {
		_, ok := ch.Propagate(context.Background(), dg, 90, Downlink)
		assert.False(t, ok, "call %d within fade window must drop", i)
	}

	// Stop new fades from starting, so the next call shows whether the
	// elapsed fade has cleared.
	ch.fadeStartProb = 0
	_, ok = ch.Propagate(context.Background(), dg, 90, Downlink)
	assert.True(t, ok, "fade must clear once the window elapses")
}

// TestChannelCorruptsIMGPayload checks that a forced bit-error on an IMG
// datagram actually mutates payload_b64. At the elevation mask q=0, so the
// full base bit-error probability of 1 applies.
func TestChannelCorruptsIMGPayload(t *testing.T) {
	ch := NewChannel(1,
		WithBaseLoss(0), WithBaseBitError(1), WithBaseDuplicate(0),
		WithFadeStartProb(0), WithPropagationDelay(0, 0),
	)

	dg := cleanDatagram()
	out, ok := ch.Propagate(context.Background(), dg, ElevMaskDeg, Downlink)
	require.True(t, ok)
	assert.True(t, out.Corrupted)
	assert.NotEqual(t, dg.PayloadB64, out.PayloadB64)
	assert.Len(t, out.PayloadB64, len(dg.PayloadB64))
}

// TestChannelZeroVisibilityIsZeroQuality checks that elevation at or below
// the mask yields q=0 and therefore maximal (not reduced) loss/BER.
func TestChannelZeroVisibilityIsZeroQuality(t *testing.T) {
	assert.Equal(t, 0.0, linkQuality(10, 10))
	assert.Equal(t, 0.0, linkQuality(0, 10))
	assert.Equal(t, 1.0, linkQuality(90, 10))
}

func TestChannelUplinkMultipliesLoss(t *testing.T) {
	chDown := NewChannel(42, WithBaseBitError(0), WithBaseDuplicate(0), WithFadeStartProb(0), WithPropagationDelay(0, 0))
	chUp := NewChannel(42, WithBaseBitError(0), WithBaseDuplicate(0), WithFadeStartProb(0), WithPropagationDelay(0, 0))

	drops := 0
	const n = 2000
	for i := 0; i < n; i++ {
		if _, ok := chDown.Propagate(context.Background(), cleanDatagram(), 20, Downlink); !ok {
			drops++
		}
	}
	dropsUp := 0
	for i := 0; i < n; i++ {
		if _, ok := chUp.Propagate(context.Background(), cleanDatagram(), 20, Uplink); !ok {
			dropsUp++
		}
	}
	assert.Greater(t, dropsUp, drops-50, "uplink loss should be at least comparable to downlink loss at the same elevation")
}
