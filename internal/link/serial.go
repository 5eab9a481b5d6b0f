package link

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// SerialConfig selects a UART device. The line is always 8N1.
type SerialConfig struct {
	Device string
	Baud   int
	// OpenAttempts bounds retries while the device is missing or busy, as it
	// is for a moment after the target is reprogrammed.
	OpenAttempts int
	Backoff      BackoffConfig
}

func DefaultSerialConfig(device string, baud int) SerialConfig {
	return SerialConfig{
		Device:       device,
		Baud:         baud,
		OpenAttempts: 5,
		Backoff:      DefaultBackoff(),
	}
}

// SerialPort is a Port over a host serial device.
type SerialPort struct {
	port   serial.Port
	device string
	baud   int

	// SetReadTimeout is per port, so reads and drains are serialised.
	readMu sync.Mutex
}

// OpenSerial opens cfg.Device, retrying with backoff while the device is
// missing or busy.
func OpenSerial(ctx context.Context, cfg SerialConfig) (*SerialPort, error) {
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("link: invalid baud rate %d", cfg.Baud)
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	attempts := max(cfg.OpenAttempts, 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		p, err := serial.Open(cfg.Device, mode)
		if err == nil {
			log.Debug().Str("device", cfg.Device).Int("baud", cfg.Baud).Int("attempt", attempt).Msg("serial port open")
			sp := &SerialPort{port: p, device: cfg.Device, baud: cfg.Baud}
			if err := p.ResetInputBuffer(); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("link: reset %s: %w", cfg.Device, err)
			}
			return sp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Warn().Err(err).Str("device", cfg.Device).Dur("retry_in", delay).Msg("serial open failed")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("link: open %s: %w", cfg.Device, lastErr)
}

func retryable(err error) bool {
	var pe *serial.PortError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code() {
	case serial.PortBusy, serial.PortNotFound:
		return true
	default:
		return false
	}
}

// Devices lists serial devices present on the host.
func Devices() ([]string, error) {
	return serial.GetPortsList()
}

func (p *SerialPort) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("link: write %s: %w", p.device, err)
	}
	return n, nil
}

func (p *SerialPort) ReadFull(buf []byte, timeout time.Duration) (int, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return got, ErrTimeout
		}
		if err := p.port.SetReadTimeout(remaining); err != nil {
			return got, fmt.Errorf("link: set timeout %s: %w", p.device, err)
		}
		n, err := p.port.Read(buf[got:])
		got += n
		if err != nil {
			return got, fmt.Errorf("link: read %s: %w", p.device, err)
		}
	}
	return got, nil
}

func (p *SerialPort) Drain(quiet time.Duration) (int, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()
	if err := p.port.SetReadTimeout(quiet); err != nil {
		return 0, fmt.Errorf("link: set timeout %s: %w", p.device, err)
	}
	scratch := make([]byte, 4096)
	total := 0
	for {
		n, err := p.port.Read(scratch)
		total += n
		if err != nil {
			return total, fmt.Errorf("link: drain %s: %w", p.device, err)
		}
		if n == 0 {
			return total, nil
		}
	}
}

func (p *SerialPort) Baud() int { return p.baud }

func (p *SerialPort) Device() string { return p.device }

func (p *SerialPort) Close() error {
	if err := p.port.Drain(); err != nil {
		log.Debug().Err(err).Str("device", p.device).Msg("serial drain on close")
	}
	return p.port.Close()
}
