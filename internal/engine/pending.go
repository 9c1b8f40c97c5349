package engine

import (
	"container/list"

	"bookrec/internal/infra/metrics"
	"bookrec/internal/mbo"
)

// pendingTable holds, per order id, the most recent Trade or Fill event not
// yet consumed by a Cancel. Keys are bare order ids, not scoped by
// (instrument, publisher): the feed's ids are taken as globally
// identifying, matching the upstream convention.
//
// With cap > 0 the table evicts its oldest entry when full; an evicted
// Trade/Fill will make the completing Cancel fall through to the ordinary
// cancel path.
type pendingTable struct {
	cap     int
	entries map[uint64]*list.Element
	order   *list.List // of pendingEntry, oldest first
}

type pendingEntry struct {
	id uint64
	ev mbo.Event
}

func newPendingTable(cap int) *pendingTable {
	return &pendingTable{cap: cap, entries: make(map[uint64]*list.Element), order: list.New()}
}

// put inserts or overwrites the entry for ev.OrderID. An overwrite also
// refreshes the entry's age.
func (p *pendingTable) put(ev mbo.Event) {
	if e, ok := p.entries[ev.OrderID]; ok {
		e.Value = pendingEntry{id: ev.OrderID, ev: ev}
		p.order.MoveToBack(e)
		return
	}
	if p.cap > 0 && p.order.Len() >= p.cap {
		oldest := p.order.Front()
		delete(p.entries, oldest.Value.(pendingEntry).id)
		p.order.Remove(oldest)
		metrics.PendingEvictionsTotal.Inc()
	}
	p.entries[ev.OrderID] = p.order.PushBack(pendingEntry{id: ev.OrderID, ev: ev})
	metrics.PendingEntries.Set(float64(p.order.Len()))
}

// take removes and returns the entry for id, if any.
func (p *pendingTable) take(id uint64) (mbo.Event, bool) {
	e, ok := p.entries[id]
	if !ok {
		return mbo.Event{}, false
	}
	delete(p.entries, id)
	ev := p.order.Remove(e).(pendingEntry).ev
	metrics.PendingEntries.Set(float64(p.order.Len()))
	return ev, true
}

func (p *pendingTable) len() int { return p.order.Len() }
