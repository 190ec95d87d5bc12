// SPDX-License-Identifier: MIT

// Package leodownlink implements the image downlink core of a low-earth-orbit
// satellite ground segment simulator: an RF channel model, a chunked and
// replicated datagram transport, a concurrent-safe reassembler with per-byte
// majority voting, and (in the codec subpackage) a 12-bit packed-pixel
// decoder.
//
// Orbit geometry, housekeeping telemetry, telecommand execution, the
// operator dashboard, and image file encoding are external collaborators and
// are not implemented here.
package leodownlink
