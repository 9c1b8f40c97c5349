package book

import (
	"container/list"
	"github.com/google/btree"

	"bookrec/internal/mbo"
)

const priceTreeDegree = 32

// level is one price level: the FIFO queue of resting orders at that price.
// A level exists iff its queue is non-empty.
type level struct {
	price mbo.Price
	queue *list.List // of *Order
}

func (l *level) Less(than btree.Item) bool { return l.price < than.(*level).price }

// aggregate sums the queue on demand into a (price, size, count) tuple.
func (l *level) aggregate() mbo.PriceLevel {
	agg := mbo.PriceLevel{Price: l.price}
	for e := l.queue.Front(); e != nil; e = e.Next() {
		o := e.Value.(*Order)
		agg.Size += o.Size
		agg.Count++
	}
	return agg
}

func (l *level) find(orderID uint64) *list.Element {
	for e := l.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(*Order).ID == orderID {
			return e
		}
	}
	return nil
}

// sideIndex keeps one side's levels sorted by price. Bids iterate best-first
// descending, asks ascending.
type sideIndex struct {
	side mbo.Side
	tree *btree.BTree
}

func newSideIndex(side mbo.Side) *sideIndex {
	return &sideIndex{side: side, tree: btree.New(priceTreeDegree)}
}

func (s *sideIndex) level(px mbo.Price) *level {
	if it := s.tree.Get(&level{price: px}); it != nil {
		return it.(*level)
	}
	return nil
}

// insert appends the order at the tail of its price level, creating the
// level if absent.
func (s *sideIndex) insert(o *Order) {
	lv := s.level(o.Price)
	if lv == nil {
		lv = &level{price: o.Price, queue: list.New()}
		s.tree.ReplaceOrInsert(lv)
	}
	lv.queue.PushBack(o)
}

// remove deletes the order with the given id from the level at px, dropping
// the level if it empties. It reports whether the order was found.
func (s *sideIndex) remove(orderID uint64, px mbo.Price) bool {
	lv := s.level(px)
	if lv == nil {
		return false
	}
	e := lv.find(orderID)
	if e == nil {
		return false
	}
	lv.queue.Remove(e)
	s.dropIfEmpty(lv)
	return true
}

// resize replaces the size of the resting order matching o. A strict size
// increase loses time priority: the order (with its new metadata) moves to
// the tail of the level. Equal or smaller sizes update in place.
func (s *sideIndex) resize(o *Order) bool {
	lv := s.level(o.Price)
	if lv == nil {
		return false
	}
	e := lv.find(o.ID)
	if e == nil {
		return false
	}
	cur := e.Value.(*Order)
	if o.Size > cur.Size {
		lv.queue.Remove(e)
		lv.queue.PushBack(o)
	} else {
		cur.Size = o.Size
	}
	return true
}

// get returns the resting order with the given id at px, or nil.
func (s *sideIndex) get(orderID uint64, px mbo.Price) *Order {
	lv := s.level(px)
	if lv == nil {
		return nil
	}
	if e := lv.find(orderID); e != nil {
		return e.Value.(*Order)
	}
	return nil
}

// topLevels returns up to n aggregated levels in best-first order.
func (s *sideIndex) topLevels(n int) []mbo.PriceLevel {
	if n <= 0 {
		return nil
	}
	out := make([]mbo.PriceLevel, 0, n)
	iter := func(it btree.Item) bool {
		out = append(out, it.(*level).aggregate())
		return len(out) < n
	}
	if s.side == mbo.SideBid {
		s.tree.Descend(iter)
	} else {
		s.tree.Ascend(iter)
	}
	return out
}

// depthOf returns the zero-based rank of px among this side's levels in
// best-first order, or 0 if no level rests at px.
func (s *sideIndex) depthOf(px mbo.Price) uint32 {
	if s.level(px) == nil {
		return 0
	}
	var depth uint32
	pivot := &level{price: px}
	count := func(btree.Item) bool { depth++; return true }
	if s.side == mbo.SideBid {
		s.tree.DescendGreaterThan(pivot, count)
	} else {
		s.tree.AscendLessThan(pivot, count)
	}
	return depth
}

func (s *sideIndex) dropIfEmpty(lv *level) {
	if lv.queue.Len() == 0 {
		s.tree.Delete(lv)
	}
}

func (s *sideIndex) reset() { s.tree.Clear(false) }

// orders counts resting orders across all levels. Used by consistency
// checks and tests.
func (s *sideIndex) orders() int {
	n := 0
	s.tree.Ascend(func(it btree.Item) bool {
		n += it.(*level).queue.Len()
		return true
	})
	return n
}
