// Package meshwriter drives a single write to the mesh to exactly one
// terminal outcome.
//
// The mesh gives no acknowledgement, so each write races two arms. The ack
// arm reads the key back after a short delay and settles Success if the
// stored value matches. The timeout arm fires after AckTimeout, reads back
// one last time and settles AckTimeoutButReadable or Failure("timeout"). The
// first arm to settle wins and the other is discarded. The timeout arm
// always fires, so no write can be left without an outcome.
package meshwriter

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"civicmesh/engine/library"
	"civicmesh/messaging/mesh"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAckProbeDelay = 200 * time.Millisecond
	DefaultAckTimeout    = 3000 * time.Millisecond
	DefaultIOTimeout     = 2 * time.Second
	DefaultBatchLimit    = 16
)

type Config struct {
	AckProbeDelay time.Duration
	// AckProbes is how many read-backs the ack arm makes, AckProbeDelay
	// apart, before leaving the write to the timeout arm.
	AckProbes  int
	AckTimeout time.Duration
	// IOTimeout bounds every individual Put and Once.
	IOTimeout  time.Duration
	BatchLimit int
}

func (c Config) withDefaults() Config {
	if c.AckProbeDelay <= 0 {
		c.AckProbeDelay = DefaultAckProbeDelay
	}
	if c.AckProbes <= 0 {
		c.AckProbes = 1
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	return c
}

type Coordinator struct {
	transport mesh.Transport
	cfg       Config

	issued    atomic.Int64
	settled   atomic.Int64
	succeeded atomic.Int64
	late      atomic.Int64
	failed    atomic.Int64
}

func New(transport mesh.Transport, cfg Config) *Coordinator {
	return &Coordinator{transport: transport, cfg: cfg.withDefaults()}
}

// write is the state of one logical write.
type write struct {
	key     string
	value   []byte
	start   time.Time
	settled atomic.Bool
	done    chan struct{}
	out     chan Outcome
}

// Write issues value under key and returns a channel that receives exactly
// one Outcome. Write itself never blocks on the mesh. Cancelling ctx settles
// the write as a failure.
func (c *Coordinator) Write(ctx context.Context, key string, value []byte) <-chan Outcome {
	w := &write{
		key:   key,
		value: append([]byte(nil), value...),
		start: time.Now(),
		done:  make(chan struct{}),
		out:   make(chan Outcome, 1),
	}
	c.issued.Add(1)

	go c.put(ctx, w)
	go c.ackArm(ctx, w)
	go c.timeoutArm(w)
	return w.out
}

// WriteSync is Write followed by waiting for the outcome.
func (c *Coordinator) WriteSync(ctx context.Context, key string, value []byte) Outcome {
	return <-c.Write(ctx, key, value)
}

// WriteBatch writes every entry with at most BatchLimit in flight and returns
// the outcomes in input order.
func (c *Coordinator) WriteBatch(ctx context.Context, writes []Write) []Outcome {
	outcomes := make([]Outcome, len(writes))
	var g errgroup.Group
	g.SetLimit(c.cfg.BatchLimit)
	for i, wr := range writes {
		i, wr := i, wr
		g.Go(func() error {
			outcomes[i] = c.WriteSync(ctx, wr.Key, wr.Value)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Issued:    c.issued.Load(),
		Settled:   c.settled.Load(),
		Succeeded: c.succeeded.Load(),
		Late:      c.late.Load(),
		Failed:    c.failed.Load(),
	}
}

func (c *Coordinator) settle(w *write, status Status, reason string) {
	if !w.settled.CompareAndSwap(false, true) {
		return
	}
	o := Outcome{Key: w.key, Status: status, Latency: time.Since(w.start), Reason: reason}
	switch status {
	case Success:
		c.succeeded.Add(1)
	case AckTimeoutButReadable:
		c.late.Add(1)
	default:
		c.failed.Add(1)
	}
	c.settled.Add(1)
	close(w.done)
	w.out <- o
	close(w.out)
	library.LogCLI(fmt.Sprintf("mesh write %s settled %s after %s %s", w.key, status, o.Latency, reason), 3)
}

func (c *Coordinator) put(ctx context.Context, w *write) {
	sane := library.ValidateSaneExecutionTime()
	defer sane()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.IOTimeout)
	defer cancel()
	if err := c.transport.Put(ctx, w.key, w.value); err != nil {
		c.settle(w, Failure, "put: "+err.Error())
	}
}

func (c *Coordinator) ackArm(ctx context.Context, w *write) {
	ticker := time.NewTicker(c.cfg.AckProbeDelay)
	defer ticker.Stop()
	for probes := 0; probes < c.cfg.AckProbes; {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			c.settle(w, Failure, "cancelled: "+ctx.Err().Error())
			return
		case <-ticker.C:
			probes++
			if ok, _ := c.readBack(ctx, w); ok {
				c.settle(w, Success, "")
				return
			}
		}
	}
}

func (c *Coordinator) timeoutArm(w *write) {
	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return
	case <-timer.C:
	}
	ok, err := c.readBack(context.Background(), w)
	switch {
	case ok:
		c.settle(w, AckTimeoutButReadable, "")
	case err != nil:
		c.settle(w, Failure, ReasonTimeout+": "+err.Error())
	default:
		c.settle(w, Failure, ReasonTimeout)
	}
}

func (c *Coordinator) readBack(ctx context.Context, w *write) (bool, error) {
	sane := library.ValidateSaneExecutionTime()
	defer sane()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.IOTimeout)
	defer cancel()
	got, found, err := c.transport.Once(ctx, w.key)
	if err != nil || !found {
		return false, err
	}
	return bytes.Equal(got, w.value), nil
}
