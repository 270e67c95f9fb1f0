package eventconductor

import (
	"sync/atomic"

	"civicmesh/engine/library"
	"civicmesh/state/sentiment"
	"github.com/sasha-s/go-deadlock"
)

type Update struct {
	PointID     library.PointID
	TopicID     library.TopicID
	Stats       sentiment.Stats
	TopicWeight float64
}

// Watch delivers the latest stats of one point. Only the newest undelivered
// update is kept.
type Watch struct {
	C <-chan Update

	c         chan Update
	point     library.PointID
	cancelled atomic.Bool
	parent    *watchers
}

// Cancel stops delivery. Updates computed after Cancel are discarded and C
// is closed.
func (w *Watch) Cancel() {
	if !w.cancelled.CompareAndSwap(false, true) {
		return
	}
	w.parent.remove(w)
}

type watchers struct {
	byPoint map[library.PointID]map[*Watch]struct{}
	mu      *deadlock.Mutex
}

func newWatchers() *watchers {
	return &watchers{byPoint: make(map[library.PointID]map[*Watch]struct{}), mu: &deadlock.Mutex{}}
}

func (ws *watchers) add(point library.PointID) *Watch {
	c := make(chan Update, 1)
	w := &Watch{C: c, c: c, point: point, parent: ws}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	set, ok := ws.byPoint[point]
	if !ok {
		set = make(map[*Watch]struct{})
		ws.byPoint[point] = set
	}
	set[w] = struct{}{}
	return w
}

func (ws *watchers) remove(w *Watch) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if set, ok := ws.byPoint[w.point]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(ws.byPoint, w.point)
		}
	}
	close(w.c)
}

func (ws *watchers) notify(point library.PointID, u Update) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for w := range ws.byPoint[point] {
		if w.cancelled.Load() {
			continue
		}
		// replace a stale update rather than block
		select {
		case <-w.c:
		default:
		}
		w.c <- u
	}
}

// Watch subscribes to stats changes of point.
func (c *Conductor) Watch(point library.PointID) *Watch {
	return c.watchers.add(point)
}
