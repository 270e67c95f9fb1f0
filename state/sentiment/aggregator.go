// Package sentiment folds per-voter stance events into per-point tallies and
// per-topic engagement weight.
//
// Tallies count each voter's latest stance on a point once. Engagement
// weight is the sum of the weight of every event ever applied, including
// events later superseded by the same voter and neutral withdrawals, so it
// never decreases.
package sentiment

import (
	"errors"
	"fmt"
	"math"

	"civicmesh/consensus/identity"
	"civicmesh/engine/library"
	"github.com/go-playground/validator/v10"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/exp/slices"
)

var ErrInvalidSignal = errors.New("invalid sentiment signal")

type Aggregator struct {
	stances  map[library.PointID]map[library.VoterKey]Agreement
	stats    map[library.PointID]Stats
	weights  map[library.TopicID]float64
	validate *validator.Validate
	mu       *deadlock.Mutex
}

func New() *Aggregator {
	return &Aggregator{
		stances:  make(map[library.PointID]map[library.VoterKey]Agreement),
		stats:    make(map[library.PointID]Stats),
		weights:  make(map[library.TopicID]float64),
		validate: validator.New(),
		mu:       &deadlock.Mutex{},
	}
}

// ClampWeight bounds w to [MinWeight, MaxWeight]. NaN and infinities are
// rejected rather than clamped.
func ClampWeight(w float64) (float64, error) {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, fmt.Errorf("%w: weight %v is not a finite number", ErrInvalidSignal, w)
	}
	return math.Max(MinWeight, math.Min(MaxWeight, w)), nil
}

// Check validates everything in s except the proof, which admission owns.
func (a *Aggregator) Check(s Signal) error {
	if err := a.validate.StructExcept(s, "Proof"); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignal, err.Error())
	}
	_, err := ClampWeight(s.Weight)
	return err
}

// ToEvent validates s and reduces it to an Event. The proof does not survive
// the conversion.
func (a *Aggregator) ToEvent(s Signal) (Event, error) {
	if err := a.validate.Struct(s); err != nil {
		return Event{}, fmt.Errorf("%w: %s", ErrInvalidSignal, err.Error())
	}
	if _, err := ClampWeight(s.Weight); err != nil {
		return Event{}, err
	}
	return Reduce(s), nil
}

// Reduce turns a signal that passed Check, and whose proof was validated,
// into an Event. A non-finite weight counts as zero.
func Reduce(s Signal) Event {
	w, err := ClampWeight(s.Weight)
	if err != nil {
		w = 0
	}
	return Event{
		TopicID:   s.TopicID,
		PointID:   s.PointID,
		Voter:     identity.VoterKeyFor(s.Proof.Nullifier),
		Agreement: s.Agreement,
		Weight:    w,
		EmittedAt: s.EmittedAt,
	}
}

// RecordEvent validates and applies a client signal.
func (a *Aggregator) RecordEvent(s Signal) error {
	e, err := a.ToEvent(s)
	if err != nil {
		return err
	}
	a.Apply(e)
	return nil
}

// Apply folds an already keyed event. Events for the same voter and point
// are last-applied-wins.
func (a *Aggregator) Apply(e Event) {
	if w, err := ClampWeight(e.Weight); err != nil {
		library.LogCLI(err.Error(), 2)
		e.Weight = 0
	} else {
		e.Weight = w
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cells, ok := a.stances[e.PointID]
	if !ok {
		cells = make(map[library.VoterKey]Agreement)
		a.stances[e.PointID] = cells
	}
	cells[e.Voter] = e.Agreement
	a.stats[e.PointID] = tally(cells)
	a.weights[e.TopicID] += e.Weight
}

func tally(cells map[library.VoterKey]Agreement) (s Stats) {
	for _, stance := range cells {
		switch stance {
		case Agree:
			s.Agree++
		case Disagree:
			s.Disagree++
		}
	}
	return
}

func (a *Aggregator) PointStats(point library.PointID) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats[point]
}

func (a *Aggregator) TopicWeight(topic library.TopicID) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.weights[topic]
}

// Points lists every point that has received an event, sorted.
func (a *Aggregator) Points() []library.PointID {
	a.mu.Lock()
	defer a.mu.Unlock()
	points := make([]library.PointID, 0, len(a.stances))
	for p := range a.stances {
		points = append(points, p)
	}
	slices.Sort(points)
	return points
}

func (a *Aggregator) Topics() []library.TopicID {
	a.mu.Lock()
	defer a.mu.Unlock()
	topics := make([]library.TopicID, 0, len(a.weights))
	for t := range a.weights {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		Stances: make(map[library.PointID]map[library.VoterKey]Agreement, len(a.stances)),
		Weights: make(map[library.TopicID]float64, len(a.weights)),
	}
	for p, cells := range a.stances {
		c := make(map[library.VoterKey]Agreement, len(cells))
		for v, st := range cells {
			c[v] = st
		}
		s.Stances[p] = c
	}
	for t, w := range a.weights {
		s.Weights[t] = w
	}
	return s
}

// Restore replaces the aggregate with s. Stances outside {-1,0,1} and
// negative or non-finite weights are dropped.
func (a *Aggregator) Restore(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stances = make(map[library.PointID]map[library.VoterKey]Agreement)
	a.stats = make(map[library.PointID]Stats)
	a.weights = make(map[library.TopicID]float64)
	for p, cells := range s.Stances {
		c := make(map[library.VoterKey]Agreement)
		for v, st := range cells {
			if st < Disagree || st > Agree {
				continue
			}
			c[v] = st
		}
		a.stances[p] = c
		a.stats[p] = tally(c)
	}
	for t, w := range s.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			continue
		}
		a.weights[t] = w
	}
}

func (a *Aggregator) Reset() {
	a.Restore(Snapshot{})
}
