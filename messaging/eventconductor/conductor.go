// Package eventconductor wires admission, the vote registers, the aggregate
// and the mesh writer together. It is the only place a vote crosses from one
// stage to the next.
package eventconductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"civicmesh/consensus/admission"
	"civicmesh/consensus/crdt"
	"civicmesh/engine/library"
	"civicmesh/engine/store"
	"civicmesh/engine/telemetry"
	"civicmesh/messaging/meshwriter"
	"civicmesh/state/replay"
	"civicmesh/state/sentiment"
	"github.com/sasha-s/go-deadlock"
)

const (
	receiptPrefix = "receipt/"
	votePrefix    = "vote/"
	stateKey      = "sentiment/state"
	registersKey  = "sentiment/registers"
)

var ErrMalformedEntry = errors.New("malformed vote entry")

type Config struct {
	Admission *admission.Controller
	Writer    *meshwriter.Coordinator
	Store     store.Store
	Sink      telemetry.Sink
}

type Conductor struct {
	admission *admission.Controller
	writer    *meshwriter.Coordinator
	db        store.Store
	sink      telemetry.Sink

	castMu    *deadlock.Mutex
	seen      *replay.Store
	votes     *crdt.RegisterMap[sentiment.Event]
	aggregate *sentiment.Aggregator
	watchers  *watchers
}

func New(cfg Config) (*Conductor, error) {
	if cfg.Admission == nil || cfg.Writer == nil || cfg.Store == nil {
		return nil, fmt.Errorf("conductor needs an admission controller, a mesh writer and a store")
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.Discard{}
	}
	return &Conductor{
		admission: cfg.Admission,
		writer:    cfg.Writer,
		db:        cfg.Store,
		sink:      cfg.Sink,
		castMu:    &deadlock.Mutex{},
		seen:      replay.New(),
		votes:     crdt.NewRegisterMap[sentiment.Event](crdt.NewClock()),
		aggregate: sentiment.New(),
		watchers:  newWatchers(),
	}, nil
}

// Vote is an intent plus the signal fields admission does not look at.
type Vote struct {
	admission.Intent
	AnalysisID string
	Weight     float64
	EmittedAt  int64
}

type Result struct {
	Receipt admission.Receipt
	// Duplicate is set when the operation id was already applied.
	Duplicate bool
	// Outcome receives the mesh write result. It is nil when nothing was
	// written.
	Outcome <-chan meshwriter.Outcome
}

// VoteKey is the register key of one voter's stance on one point.
func VoteKey(topic library.TopicID, point library.PointID, voter library.VoterKey) string {
	return votePrefix + topic + "/" + point + "/" + voter
}

// Cast runs a vote through admission and, if admitted, applies it locally
// and starts the mesh write. A malformed signal or a retried operation gets
// no receipt. Every admitted vote is applied and written; the local aggregate
// is updated before Cast returns and is never rolled back by the write
// outcome.
func (c *Conductor) Cast(ctx context.Context, v Vote) (Result, error) {
	sig := sentiment.Signal{
		TopicID:    v.TopicID,
		AnalysisID: v.AnalysisID,
		PointID:    v.PointID,
		Agreement:  sentiment.Agreement(v.Agreement),
		Weight:     v.Weight,
		EmittedAt:  v.EmittedAt,
	}
	if v.Proof != nil {
		sig.Proof = *v.Proof
	}
	if err := c.aggregate.Check(sig); err != nil {
		return Result{}, err
	}

	c.castMu.Lock()
	defer c.castMu.Unlock()
	if v.OperationID != "" && c.seen.IsOperationSeen(v.OperationID) {
		return Result{Duplicate: true}, nil
	}
	receipt := c.admission.Admit(v.Intent)
	store.SaveJSON(c.db, receiptPrefix+receipt.ReceiptID, receipt)
	res := Result{Receipt: receipt}
	if !receipt.Accepted {
		return res, nil
	}
	if v.OperationID != "" {
		c.seen.MarkOperationSeen(v.OperationID)
	}

	// admission validated the proof, so the signal is complete
	ev := sentiment.Reduce(sig)
	key := VoteKey(ev.TopicID, ev.PointID, ev.Voter)
	entry := c.votes.Set(key, ev)
	c.apply(entry.Value)

	payload, err := json.Marshal(entry)
	if err != nil {
		payload = nil
		library.LogCLI(fmt.Sprintf("could not encode %s: %s", key, err.Error()), 1)
	}
	res.Outcome = c.report(ev, c.writer.Write(ctx, key, payload))
	return res, nil
}

func (c *Conductor) apply(ev sentiment.Event) {
	c.aggregate.Apply(ev)
	c.watchers.notify(ev.PointID, Update{
		PointID:     ev.PointID,
		TopicID:     ev.TopicID,
		Stats:       c.aggregate.PointStats(ev.PointID),
		TopicWeight: c.aggregate.TopicWeight(ev.TopicID),
	})
}

// report forwards the outcome to telemetry before handing it on.
func (c *Conductor) report(ev sentiment.Event, in <-chan meshwriter.Outcome) <-chan meshwriter.Outcome {
	out := make(chan meshwriter.Outcome, 1)
	go func() {
		o := <-in
		c.sink.MeshWrite(telemetry.WriteEvent{
			TopicID:   ev.TopicID,
			PointID:   ev.PointID,
			Success:   o.Persisted(),
			LatencyMs: o.Latency.Milliseconds(),
			Error:     o.Reason,
		})
		out <- o
		close(out)
	}()
	return out
}

// Republish writes every held vote entry to the mesh again, for instance
// after the relays were unreachable.
func (c *Conductor) Republish(ctx context.Context) []meshwriter.Outcome {
	keys := c.votes.Keys()
	writes := make([]meshwriter.Write, 0, len(keys))
	events := make([]sentiment.Event, 0, len(keys))
	for _, key := range keys {
		entry, ok := c.votes.Entry(key)
		if !ok {
			continue
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			library.LogCLI(err.Error(), 1)
			continue
		}
		writes = append(writes, meshwriter.Write{Key: key, Value: payload})
		events = append(events, entry.Value)
	}
	outcomes := c.writer.WriteBatch(ctx, writes)
	for i, o := range outcomes {
		c.sink.MeshWrite(telemetry.WriteEvent{
			TopicID:   events[i].TopicID,
			PointID:   events[i].PointID,
			Success:   o.Persisted(),
			LatencyMs: o.Latency.Milliseconds(),
			Error:     o.Reason,
		})
	}
	return outcomes
}

func (c *Conductor) Receipt(id string) (admission.Receipt, bool) {
	r := store.LoadJSON(c.db, receiptPrefix+id, admission.Receipt{})
	return r, r.ReceiptID == id
}

// ReceiptIDs lists every persisted receipt.
func (c *Conductor) ReceiptIDs() []string {
	keys, err := c.db.Keys(receiptPrefix)
	if err != nil {
		library.LogCLI(err.Error(), 2)
		return nil
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id, ok := strings.CutPrefix(k, receiptPrefix); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Conductor) PointStats(point library.PointID) sentiment.Stats {
	return c.aggregate.PointStats(point)
}

func (c *Conductor) TopicWeight(topic library.TopicID) float64 {
	return c.aggregate.TopicWeight(topic)
}

func (c *Conductor) Points() []library.PointID {
	return c.aggregate.Points()
}

func (c *Conductor) Topics() []library.TopicID {
	return c.aggregate.Topics()
}

func (c *Conductor) WriterStats() meshwriter.Stats {
	return c.writer.Stats()
}

// Flush persists the aggregate and the vote registers.
func (c *Conductor) Flush() bool {
	registers := make(map[string]crdt.Entry[sentiment.Event])
	for _, key := range c.votes.Keys() {
		if e, ok := c.votes.Entry(key); ok {
			registers[key] = e
		}
	}
	ok := store.SaveJSON(c.db, stateKey, c.aggregate.Snapshot())
	return store.SaveJSON(c.db, registersKey, registers) && ok
}

// Restore loads what Flush wrote. Missing or malformed state leaves the
// conductor empty.
func (c *Conductor) Restore() {
	c.aggregate.Restore(store.LoadJSON(c.db, stateKey, sentiment.Snapshot{}))
	registers := store.LoadJSON(c.db, registersKey, map[string]crdt.Entry[sentiment.Event]{})
	for key, e := range registers {
		if !strings.HasPrefix(key, votePrefix) {
			continue
		}
		c.votes.Merge(key, e)
		c.seen.MarkOperationSeen(entryID(key, e))
	}
	library.LogCLI(fmt.Sprintf("restored %d vote registers and %d points", len(registers), len(c.aggregate.Points())), 4)
}
