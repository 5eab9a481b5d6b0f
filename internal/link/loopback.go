package link

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// StandardRates are the UART rates worth testing; slower rates are of no
// interest.
var StandardRates = []int{
	115200, 230400, 460800, 500000, 576000, 921600, 1000000,
	1152000, 1500000, 2000000, 2500000, 3000000, 3500000, 4000000,
}

// LoopbackConfig sizes a loopback test.
type LoopbackConfig struct {
	Bytes int
	Chunk int
	Seed  int64
}

func DefaultLoopbackConfig() LoopbackConfig {
	return LoopbackConfig{Bytes: 1 << 20, Chunk: 4096, Seed: time.Now().UnixNano()}
}

// LoopbackResult reports one loopback run.
type LoopbackResult struct {
	Baud    int
	Passed  bool
	Bytes   int
	Elapsed time.Duration
	// BitRate is the net payload rate in bits per second.
	BitRate float64
	// Throughput is BitRate over the 8-of-10 baud ceiling.
	Throughput float64
	// FailedAt is the offset of the first mismatching chunk.
	FailedAt int
}

// Loopback writes random bytes chunk by chunk to a port whose far end echoes
// them and compares what comes back.
func Loopback(ctx context.Context, p Port, cfg LoopbackConfig) (LoopbackResult, error) {
	res := LoopbackResult{Baud: p.Baud(), FailedAt: -1}
	if cfg.Bytes <= 0 || cfg.Chunk <= 0 {
		return res, fmt.Errorf("link: loopback needs positive sizes, got bytes=%d chunk=%d", cfg.Bytes, cfg.Chunk)
	}
	if _, err := p.Drain(10 * time.Millisecond); err != nil {
		return res, err
	}
	tx := make([]byte, cfg.Bytes)
	rand.New(rand.NewSource(cfg.Seed)).Read(tx)
	rx := make([]byte, cfg.Chunk)

	start := time.Now()
	for off := 0; off < len(tx); off += cfg.Chunk {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		chunk := tx[off:min(off+cfg.Chunk, len(tx))]
		if _, err := p.Write(chunk); err != nil {
			return res, err
		}
		n, err := p.ReadFull(rx[:len(chunk)], chunkTimeout(len(chunk), p.Baud()))
		if err != nil || !bytes.Equal(chunk, rx[:n]) {
			res.FailedAt = off
			res.Elapsed = time.Since(start)
			log.Warn().Err(err).Int("offset", off).Int("baud", p.Baud()).Msg("loopback mismatch")
			return res, nil
		}
		res.Bytes += len(chunk)
	}
	res.Elapsed = time.Since(start)
	res.Passed = true
	if secs := res.Elapsed.Seconds(); secs > 0 {
		res.BitRate = float64(8*res.Bytes) / secs
	}
	if p.Baud() > 0 {
		res.Throughput = res.BitRate / (float64(p.Baud()) * 8 / 10)
	}
	return res, nil
}

// chunkTimeout allows ten bauds per byte in both directions.
func chunkTimeout(n, baud int) time.Duration {
	if baud <= 0 {
		return time.Second
	}
	d := time.Duration(float64(20*n) / float64(baud) * float64(time.Second))
	return max(d, 50*time.Millisecond)
}

// Echo copies everything read from p back to p until ctx ends or p closes.
// It stands in for a loopback bitstream.
func Echo(ctx context.Context, p Port) error {
	buf := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, err := p.ReadFull(buf, 20*time.Millisecond)
		switch err {
		case nil:
			if _, err := p.Write(buf); err != nil {
				return err
			}
		case ErrTimeout:
		case ErrClosed:
			return nil
		default:
			return err
		}
	}
}
