// SPDX-License-Identifier: MIT

package leodownlink

import "errors"

var (
	// ErrFrameSourceExhausted is returned by a FrameSource once no further
	// complete frames remain; it takes the place of io.EOF (it does not
	// wrap it) so callers can log it distinctly from a genuine read failure.
	ErrFrameSourceExhausted = errors.New("leodownlink: no more complete frames")

	// ErrNotVisible is returned by SendFrame when asked to transmit while
	// the link is not visible or has zero downlink rate; callers should
	// treat it as "skip this tick," not as a fault.
	ErrNotVisible = errors.New("leodownlink: link not visible or rate is zero")
)
