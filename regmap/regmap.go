// Package regmap provides serialized access to the 16-bit register space of
// the switch. All register traffic goes through a single Regmap so that
// multi-register sequences (indirect table queries, counter readouts) can
// hold the lock across the whole sequence via Locked.
package regmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// ErrTimeout is returned by Poll16 when the register does not reach the
// expected value before the deadline.
var ErrTimeout = errors.New("register poll timed out")

var errBusy = errors.New("register busy")

// Transport moves single register reads and writes to the chip. The chip can
// be reached over MDIO or a simulated backend; implementations do not need
// to be safe for concurrent use, Regmap serializes all access.
type Transport interface {
	Read16(addr uint16) (uint16, error)
	Write16(addr, val uint16) error
	// WriteNoAck16 writes without waiting for the chip to acknowledge.
	// Required for registers whose write takes effect while the chip is
	// unable to answer, such as the hardware reset trigger.
	WriteNoAck16(addr, val uint16) error
}

// Ops is the register access surface handed out by Locked. The same methods
// exist on Regmap itself with per-call locking.
type Ops interface {
	Read16(addr uint16) (uint16, error)
	Write16(addr, val uint16) error
	WriteNoAck16(addr, val uint16) error
	// Update16 rewrites the bits selected by mask with val, preserving the
	// rest of the register.
	Update16(addr, mask, val uint16) error
	// Poll16 re-reads the register every interval until the bits selected
	// by mask equal val, giving up with ErrTimeout after timeout.
	Poll16(ctx context.Context, addr, mask, val uint16, interval, timeout time.Duration) error
}

type ops struct {
	t   Transport
	log *zap.SugaredLogger
}

func (o *ops) Read16(addr uint16) (uint16, error) {
	v, err := o.t.Read16(addr)
	if err != nil {
		return 0, fmt.Errorf("read register 0x%04x: %w", addr, err)
	}
	return v, nil
}

func (o *ops) Write16(addr, val uint16) error {
	if err := o.t.Write16(addr, val); err != nil {
		return fmt.Errorf("write register 0x%04x: %w", addr, err)
	}
	return nil
}

func (o *ops) WriteNoAck16(addr, val uint16) error {
	if err := o.t.WriteNoAck16(addr, val); err != nil {
		return fmt.Errorf("write register 0x%04x: %w", addr, err)
	}
	return nil
}

func (o *ops) Update16(addr, mask, val uint16) error {
	v, err := o.Read16(addr)
	if err != nil {
		return err
	}
	return o.Write16(addr, v&^mask|val&mask)
}

func (o *ops) Poll16(ctx context.Context, addr, mask, val uint16, interval, timeout time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		v, err := o.Read16(addr)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if v&mask != val {
			return struct{}{}, errBusy
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxElapsedTime(timeout),
	)
	if errors.Is(err, errBusy) {
		return fmt.Errorf("polling register 0x%04x for mask 0x%04x: %w", addr, mask, ErrTimeout)
	}
	return err
}

// Regmap serializes register access to a single chip.
type Regmap struct {
	mu  sync.Mutex
	ops ops
}

func New(t Transport, log *zap.SugaredLogger) *Regmap {
	return &Regmap{
		ops: ops{t: t, log: log.With(zap.String("module", "regmap"))},
	}
}

// Locked runs fn with the register lock held, handing it the non-locking
// operations. Use it for sequences that must not interleave with other
// register traffic.
func (m *Regmap) Locked(fn func(Ops) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.ops)
}

func (m *Regmap) Read16(addr uint16) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.Read16(addr)
}

func (m *Regmap) Write16(addr, val uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.Write16(addr, val)
}

func (m *Regmap) WriteNoAck16(addr, val uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.WriteNoAck16(addr, val)
}

func (m *Regmap) Update16(addr, mask, val uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.Update16(addr, mask, val)
}

func (m *Regmap) Poll16(ctx context.Context, addr, mask, val uint16, interval, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.Poll16(ctx, addr, mask, val, interval, timeout)
}
