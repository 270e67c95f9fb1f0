package eventconductor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"civicmesh/consensus/admission"
	"civicmesh/consensus/crdt"
	"civicmesh/consensus/identity"
	"civicmesh/engine/store"
	"civicmesh/engine/telemetry"
	"civicmesh/messaging/mesh"
	"civicmesh/messaging/meshwriter"
	"civicmesh/messaging/relays"
	"civicmesh/state/sentiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	conductor *Conductor
	admission *admission.Controller
	mesh      *mesh.Memory
	db        store.Store
	rec       *telemetry.Recorder
}

func newFixture(t *testing.T, db store.Store) fixture {
	t.Helper()
	if db == nil {
		var err error
		db, err = store.NewFileStore(t.TempDir())
		require.NoError(t, err)
	}
	rec := &telemetry.Recorder{}
	ctrl := admission.NewController(admission.Config{MinTrustScore: 0.5, Sink: rec})
	ctrl.OpenRound("topic-1", "syn-1", 1)
	m := mesh.NewMemory()
	writer := meshwriter.New(m, meshwriter.Config{
		AckProbeDelay: 10 * time.Millisecond,
		AckTimeout:    100 * time.Millisecond,
		IOTimeout:     50 * time.Millisecond,
	})
	c, err := New(Config{Admission: ctrl, Writer: writer, Store: db, Sink: rec})
	require.NoError(t, err)
	return fixture{conductor: c, admission: ctrl, mesh: m, db: db, rec: rec}
}

func vote(nullifier, point string, agreement int8, weight float64) Vote {
	return Vote{
		Intent: admission.Intent{
			TopicID:     "topic-1",
			PointID:     point,
			SynthesisID: "syn-1",
			Epoch:       1,
			Proof:       &identity.Proof{DistrictHash: "d-1", Nullifier: nullifier, MerkleRoot: "root"},
			Agreement:   agreement,
			TrustScore:  0.9,
		},
		AnalysisID: "analysis-1",
		Weight:     weight,
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCastAppliesAndWrites(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.conductor.Cast(context.Background(), vote("n-1", "p-1", 1, 1.0))
	require.NoError(t, err)
	require.True(t, res.Receipt.Accepted)
	require.NotNil(t, res.Outcome)

	// the aggregate does not wait for the mesh
	assert.Equal(t, sentiment.Stats{Agree: 1}, f.conductor.PointStats("p-1"))
	assert.InDelta(t, 1.0, f.conductor.TopicWeight("topic-1"), 1e-9)

	o := <-res.Outcome
	assert.Equal(t, meshwriter.Success, o.Status)
	key := VoteKey("topic-1", "p-1", identity.VoterKeyFor("n-1"))
	assert.Equal(t, key, o.Key)
	assert.Equal(t, []string{key}, f.mesh.Keys())

	writes := f.rec.Writes()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].Success)
	assert.Equal(t, "p-1", writes[0].PointID)

	stored, ok := f.conductor.Receipt(res.Receipt.ReceiptID)
	require.True(t, ok)
	assert.Equal(t, res.Receipt, stored)
}

func TestDeniedCastChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	v := vote("n-1", "p-1", 1, 1.0)
	v.SynthesisID = "unknown"
	res, err := f.conductor.Cast(context.Background(), v)
	require.NoError(t, err)

	assert.False(t, res.Receipt.Accepted)
	assert.Equal(t, admission.ReasonUnknownRound, res.Receipt.Reason)
	assert.Nil(t, res.Outcome)
	assert.Equal(t, sentiment.Stats{}, f.conductor.PointStats("p-1"))
	assert.Zero(t, f.mesh.Puts())
	// denials are still on record
	assert.Equal(t, []string{res.Receipt.ReceiptID}, f.conductor.ReceiptIDs())
}

func TestRetriedOperationIsAppliedOnce(t *testing.T) {
	f := newFixture(t, nil)
	v := vote("n-1", "p-1", 1, 1.5)
	v.OperationID = "op-1"

	first, err := f.conductor.Cast(context.Background(), v)
	require.NoError(t, err)
	<-first.Outcome
	second, err := f.conductor.Cast(context.Background(), v)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Outcome)
	assert.Empty(t, second.Receipt.ReceiptID)
	assert.Len(t, f.conductor.ReceiptIDs(), 1)
	assert.InDelta(t, 1.5, f.conductor.TopicWeight("topic-1"), 1e-9)
}

func TestDeniedOperationCanBeRetried(t *testing.T) {
	f := newFixture(t, nil)
	v := vote("n-1", "p-1", 1, 1)
	v.OperationID = "op-1"
	v.TrustScore = 0.1
	denied, err := f.conductor.Cast(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, admission.ReasonTrustBelowMinimum, denied.Receipt.Reason)

	v.TrustScore = 0.9
	admitted, err := f.conductor.Cast(context.Background(), v)
	require.NoError(t, err)
	assert.True(t, admitted.Receipt.Accepted)
	require.NotNil(t, admitted.Outcome)
	<-admitted.Outcome
}

func TestInvalidSignalIsRejected(t *testing.T) {
	noAnalysis := vote("n-1", "p-1", 1, 1.0)
	noAnalysis.AnalysisID = ""
	for name, v := range map[string]Vote{
		"no analysis":   noAnalysis,
		"bad agreement": vote("n-1", "p-1", 2, 1.0),
		"nan weight":    vote("n-1", "p-1", 1, math.NaN()),
	} {
		f := newFixture(t, nil)
		res, err := f.conductor.Cast(context.Background(), v)
		assert.ErrorIs(t, err, sentiment.ErrInvalidSignal, name)
		assert.False(t, res.Receipt.Accepted, name)
		assert.Empty(t, res.Receipt.ReceiptID, name)
		assert.Nil(t, res.Outcome, name)
		assert.Empty(t, f.conductor.ReceiptIDs(), name)
		assert.Empty(t, f.rec.Admissions(), name)
		assert.Equal(t, sentiment.Stats{}, f.conductor.PointStats("p-1"), name)

		// the voter was never recorded against the round
		require.NoError(t, f.admission.CloseRound("topic-1", "syn-1"), name)
		res, err = f.conductor.Cast(context.Background(), vote("n-1", "p-1", 1, 1.0))
		require.NoError(t, err, name)
		assert.Equal(t, admission.ReasonRoundClosed, res.Receipt.Reason, name)
	}
}

func TestMissingProofIsDenied(t *testing.T) {
	f := newFixture(t, nil)
	v := vote("n-1", "p-1", 1, 1.0)
	v.Proof = nil
	res, err := f.conductor.Cast(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, admission.ReasonProofMissing, res.Receipt.Reason)
	assert.Nil(t, res.Outcome)
	assert.Len(t, f.conductor.ReceiptIDs(), 1)
}

func TestEveryAdmittedVoteSettles(t *testing.T) {
	f := newFixture(t, nil)
	var outcomes []<-chan meshwriter.Outcome
	for i := 0; i < 20; i++ {
		res, err := f.conductor.Cast(context.Background(), vote(fmt.Sprintf("n-%d", i), "p-1", 1, 1))
		require.NoError(t, err)
		require.True(t, res.Receipt.Accepted)
		require.NotNil(t, res.Outcome)
		outcomes = append(outcomes, res.Outcome)
	}
	for _, ch := range outcomes {
		<-ch
	}
	s := f.conductor.WriterStats()
	assert.Equal(t, int64(20), s.Issued)
	assert.Equal(t, s.Issued, s.Settled)
	assert.Len(t, f.rec.Writes(), 20)
}

func TestUnreachableMeshKeepsLocalVote(t *testing.T) {
	f := newFixture(t, nil)
	f.mesh.PutErr = mesh.ErrUnavailable
	res, err := f.conductor.Cast(context.Background(), vote("n-1", "p-1", -1, 1.0))
	require.NoError(t, err)

	o := <-res.Outcome
	assert.Equal(t, meshwriter.Failure, o.Status)
	assert.Contains(t, o.Reason, "put:")
	assert.Equal(t, sentiment.Stats{Disagree: 1}, f.conductor.PointStats("p-1"))

	writes := f.rec.Writes()
	require.Len(t, writes, 1)
	assert.False(t, writes[0].Success)
	assert.True(t, telemetry.ExpectedUnavailable(writes[0].Error))
}

func remoteEntry(t *testing.T, nullifier string, agreement sentiment.Agreement, ts crdt.Timestamp) (string, []byte) {
	t.Helper()
	ev := sentiment.Event{
		TopicID:   "topic-1",
		PointID:   "p-1",
		Voter:     identity.VoterKeyFor(nullifier),
		Agreement: agreement,
		Weight:    1,
	}
	b, err := json.Marshal(crdt.Entry[sentiment.Event]{Value: ev, Timestamp: ts})
	require.NoError(t, err)
	return VoteKey(ev.TopicID, ev.PointID, ev.Voter), b
}

func TestApplyRemote(t *testing.T) {
	f := newFixture(t, nil)
	c := f.conductor

	key, newer := remoteEntry(t, "remote", sentiment.Agree, 50)
	adopted, err := c.ApplyRemote(key, newer)
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, sentiment.Stats{Agree: 1}, c.PointStats("p-1"))

	// redelivery is a no-op
	adopted, err = c.ApplyRemote(key, newer)
	require.NoError(t, err)
	assert.False(t, adopted)

	_, older := remoteEntry(t, "remote", sentiment.Disagree, 10)
	adopted, err = c.ApplyRemote(key, older)
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Equal(t, sentiment.Stats{Agree: 1}, c.PointStats("p-1"))
	assert.InDelta(t, 1.0, c.TopicWeight("topic-1"), 1e-9)

	// a local write after a merge is stamped past the remote entry
	assert.Greater(t, c.votes.Clock().Now(), crdt.Timestamp(50))
}

func TestSameTimestampFromTwoWritersIsNotDropped(t *testing.T) {
	c := newFixture(t, nil).conductor
	key, agree := remoteEntry(t, "remote", sentiment.Agree, 9)
	_, disagree := remoteEntry(t, "remote", sentiment.Disagree, 9)

	adopted, err := c.ApplyRemote(key, agree)
	require.NoError(t, err)
	assert.True(t, adopted)
	// a tie goes to the incoming entry
	adopted, err = c.ApplyRemote(key, disagree)
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, sentiment.Stats{Disagree: 1}, c.PointStats("p-1"))

	adopted, err = c.ApplyRemote(key, agree)
	require.NoError(t, err)
	assert.False(t, adopted)
}

func TestApplyRemoteRejectsMalformedEntries(t *testing.T) {
	c := newFixture(t, nil).conductor
	key, good := remoteEntry(t, "remote", sentiment.Agree, 5)
	_, bad := remoteEntry(t, "remote", sentiment.Agreement(3), 5)
	otherKey, _ := remoteEntry(t, "someone-else", sentiment.Agree, 5)

	for name, tc := range map[string]struct {
		key   string
		value []byte
	}{
		"not a vote":    {"receipt/x", good},
		"not json":      {key, []byte("{")},
		"bad agreement": {key, bad},
		"wrong key":     {otherKey, good},
		"empty":         {key, []byte(`{"value":{},"timestamp":1}`)},
	} {
		_, err := c.ApplyRemote(tc.key, tc.value)
		assert.ErrorIs(t, err, ErrMalformedEntry, name)
	}
	assert.Empty(t, c.Points())
}

func TestRunDrainsRemoteEntries(t *testing.T) {
	c := newFixture(t, nil).conductor
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan relays.Remote)
	done := make(chan struct{})
	go func() {
		c.Run(ctx, in, 5*time.Millisecond)
		close(done)
	}()

	key, value := remoteEntry(t, "remote", sentiment.Disagree, 7)
	in <- relays.Remote{Key: key, Value: value, Author: "peer"}
	in <- relays.Remote{Key: "junk", Value: []byte("x"), Author: "peer"}

	assert.Eventually(t, func() bool {
		return c.PointStats("p-1") == sentiment.Stats{Disagree: 1}
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRepublishWritesEveryEntry(t *testing.T) {
	f := newFixture(t, nil)
	for _, n := range []string{"n-1", "n-2"} {
		res, err := f.conductor.Cast(context.Background(), vote(n, "p-1", 1, 1))
		require.NoError(t, err)
		<-res.Outcome
	}
	puts := f.mesh.Puts()

	outcomes := f.conductor.Republish(context.Background())
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, meshwriter.Success, o.Status)
	}
	assert.Equal(t, puts+2, f.mesh.Puts())
	assert.Len(t, f.rec.Writes(), 4)
	s := f.conductor.WriterStats()
	assert.Equal(t, s.Issued, s.Settled)
}

func TestFlushAndRestore(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.conductor.Cast(context.Background(), vote("n-1", "p-1", 1, 0.5))
	require.NoError(t, err)
	<-res.Outcome
	require.True(t, f.conductor.Flush())

	restored := newFixture(t, f.db).conductor
	restored.Restore()
	assert.Equal(t, sentiment.Stats{Agree: 1}, restored.PointStats("p-1"))
	assert.InDelta(t, 0.5, restored.TopicWeight("topic-1"), 1e-9)

	key := VoteKey("topic-1", "p-1", identity.VoterKeyFor("n-1"))
	entry, ok := restored.votes.Entry(key)
	require.True(t, ok)
	// the same entry coming back from the mesh is not counted twice
	b, err := json.Marshal(entry)
	require.NoError(t, err)
	adopted, err := restored.ApplyRemote(key, b)
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.InDelta(t, 0.5, restored.TopicWeight("topic-1"), 1e-9)
}

func TestRestoreWithoutStateIsEmpty(t *testing.T) {
	c := newFixture(t, nil).conductor
	c.Restore()
	assert.Empty(t, c.Points())
}

func TestWatch(t *testing.T) {
	c := newFixture(t, nil).conductor
	w := c.Watch("p-1")
	other := c.Watch("p-2")
	defer other.Cancel()

	res, err := c.Cast(context.Background(), vote("n-1", "p-1", 1, 1))
	require.NoError(t, err)
	u := <-w.C
	assert.Equal(t, sentiment.Stats{Agree: 1}, u.Stats)
	assert.InDelta(t, 1.0, u.TopicWeight, 1e-9)
	assert.Empty(t, other.C)
	<-res.Outcome

	w.Cancel()
	w.Cancel()
	res, err = c.Cast(context.Background(), vote("n-2", "p-1", 1, 1))
	require.NoError(t, err)
	<-res.Outcome
	_, open := <-w.C
	assert.False(t, open)
}
