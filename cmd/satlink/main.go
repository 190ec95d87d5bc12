// SPDX-License-Identifier: MIT

// satlink demonstrates wiring the image downlink core end to end: a
// transmitter reads a raw frame, replicates it through an RF channel model,
// writes datagrams to a UDP socket, and a receive loop feeds them into a
// reassembler that emits (frame_id, noisy, fixed) pairs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rfcore/leodownlink"
	"github.com/rfcore/leodownlink/codec"
	"github.com/rfcore/leodownlink/internal/config"
)

// staticOracle stands in for the external Orbit Oracle collaborator: a
// fixed, always-visible link state. A real deployment wires an orbit
// propagator here instead.
type staticOracle struct{ state leodownlink.LinkState }

func (o staticOracle) GetState() leodownlink.LinkState { return o.state }

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to a YAML config file overriding defaults.")
	rawFile := pflag.StringP("raw-file", "r", "", "Raw frame file to transmit (overrides config).")
	seed := pflag.Int64P("seed", "s", 0, "Channel PRNG seed; 0 picks a fresh one.")
	pflag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	if *rawFile != "" {
		cfg.RawFilePath = *rawFile
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := net.ListenUDP("udp", mustResolve(cfg.ListenAddr))
	if err != nil {
		log.Fatal("listen failed", zap.Error(err))
	}
	defer conn.Close()

	reasm := leodownlink.NewReassembler(cfg.MaxAge, log)

	go receiveLoop(ctx, conn, reasm, log)

	src, err := leodownlink.NewFileFrameSource(cfg.RawFilePath, leodownlink.FrameBytes)
	if err != nil {
		log.Fatal("open raw frame source failed", zap.Error(err))
	}
	defer src.Close()

	ch := leodownlink.NewChannel(cfg.Seed,
		leodownlink.WithBaseLoss(cfg.BaseLoss),
		leodownlink.WithBaseBitError(cfg.BaseBitError),
	)
	tx := leodownlink.NewTransmitter(log,
		leodownlink.WithChunkBytes(cfg.ChunkBytes),
		leodownlink.WithRepCopies(cfg.RepCopies),
	)

	oracle := staticOracle{state: leodownlink.LinkState{
		Visible:    true,
		ElevDeg:    60,
		RateDLMbps: 50,
	}}

	sendConn, err := net.Dial("udp", cfg.SendAddr)
	if err != nil {
		log.Fatal("dial send addr failed", zap.Error(err))
	}
	defer sendConn.Close()

	out := func(dg leodownlink.Datagram) error {
		b, err := json.Marshal(dg)
		if err != nil {
			return err
		}
		_, err = sendConn.Write(b)
		return err
	}

	if err := tx.Tick(ctx, ch, oracle.GetState(), src, out); err != nil {
		log.Error("transmit tick failed", zap.Error(err))
	}

	<-ctx.Done()
}

func receiveLoop(ctx context.Context, conn *net.UDPConn, reasm *leodownlink.Reassembler, log *zap.Logger) {
	buf := make([]byte, 8192)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Warn("read failed", zap.Error(err))
			continue
		}

		var dg leodownlink.Datagram
		if err := json.Unmarshal(buf[:n], &dg); err != nil {
			log.Debug("dropping malformed datagram", zap.Error(err))
			continue
		}

		completion, ok := reasm.Push(dg)
		if !ok {
			continue
		}

		img, err := codec.Decode(completion.RawFixed, leodownlink.FrameWidth, leodownlink.FrameHeight)
		if err != nil {
			log.Error("frame decode failed",
				zap.Uint64("frame_id", completion.FrameID), zap.Error(err))
			continue
		}
		log.Info("frame complete",
			zap.Uint64("frame_id", completion.FrameID),
			zap.Int("width", img.Width), zap.Int("height", img.Height),
		)
	}
}

func mustResolve(addr string) *net.UDPAddr {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		panic(err)
	}
	return a
}
