// Package telemetry reports admission decisions and mesh write outcomes. The
// events carry topic and point ids, never proof fields.
package telemetry

import (
	"fmt"
	"strings"

	"civicmesh/engine/library"
	"github.com/sasha-s/go-deadlock"
)

type AdmissionEvent struct {
	TopicID  string
	PointID  string
	Admitted bool
	Reason   string
}

type WriteEvent struct {
	TopicID   string
	PointID   string
	Success   bool
	LatencyMs int64
	Error     string
}

type Sink interface {
	Admission(AdmissionEvent)
	MeshWrite(WriteEvent)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Admission(AdmissionEvent) {}
func (Discard) MeshWrite(WriteEvent)     {}

// ExpectedUnavailable reports whether a write error is the mesh being
// unreachable, which is routine for a local-first client.
func ExpectedUnavailable(reason string) bool {
	return strings.Contains(reason, "unavailable")
}

// LogSink writes one line per event through library.LogCLI.
type LogSink struct{}

func (LogSink) Admission(e AdmissionEvent) {
	msg := library.Fields("event", "vote_admission", "topic_id", e.TopicID, "point_id", e.PointID, "admitted", e.Admitted)
	if !e.Admitted {
		msg += " " + library.Fields("reason", e.Reason)
	}
	library.LogCLI(msg, 4)
}

func (LogSink) MeshWrite(e WriteEvent) {
	msg := library.Fields("event", "mesh_write", "topic_id", e.TopicID, "point_id", e.PointID, "success", e.Success, "latency_ms", e.LatencyMs)
	if e.Error != "" {
		msg += " " + library.Fields("error", fmt.Sprintf("%q", e.Error))
	}
	if e.Success || ExpectedUnavailable(e.Error) {
		library.LogCLI(msg, 4)
		return
	}
	library.LogCLI(msg, 2)
}

// Multi fans events out to every sink in order.
type Multi []Sink

func (m Multi) Admission(e AdmissionEvent) {
	for _, s := range m {
		s.Admission(e)
	}
}

func (m Multi) MeshWrite(e WriteEvent) {
	for _, s := range m {
		s.MeshWrite(e)
	}
}

// Recorder keeps every event in memory. Tests and the dev console read it.
type Recorder struct {
	admissions []AdmissionEvent
	writes     []WriteEvent
	mu         deadlock.Mutex
}

func (r *Recorder) Admission(e AdmissionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admissions = append(r.admissions, e)
}

func (r *Recorder) MeshWrite(e WriteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, e)
}

func (r *Recorder) Admissions() []AdmissionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AdmissionEvent(nil), r.admissions...)
}

func (r *Recorder) Writes() []WriteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WriteEvent(nil), r.writes...)
}
