// Package book implements the per-(instrument, publisher) limit order book:
// btree-sorted price levels per side, FIFO order queues inside each level,
// and an order-id locator index.
package book

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bookrec/internal/infra/metrics"
	"bookrec/internal/mbo"
)

var (
	ErrDuplicateOrderID = errors.New("duplicate order id")
	ErrSideChange       = errors.New("order changed side")
	ErrUnknownSide      = errors.New("unknown side")
)

// Order is a resting order. The originating event rides along so a
// price-changing modify re-inserts the order with full metadata.
type Order struct {
	ID    uint64
	Side  mbo.Side
	Price mbo.Price
	Size  uint32
	Event mbo.Event
}

func orderFrom(ev mbo.Event) *Order {
	return &Order{ID: ev.OrderID, Side: ev.Side, Price: ev.Price, Size: ev.Size, Event: ev}
}

// locator records where a resting order lives. The id index holds locators,
// not order references.
type locator struct {
	side  mbo.Side
	price mbo.Price
}

// Book is one publisher's book for one instrument.
//
// Invariants: every resting order appears in exactly one side index at
// exactly one price and in byID with a matching locator; a level exists iff
// it holds at least one order; orders within a level keep arrival order.
type Book struct {
	bids   *sideIndex
	asks   *sideIndex
	byID   map[uint64]locator
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Book {
	return &Book{
		bids:   newSideIndex(mbo.SideBid),
		asks:   newSideIndex(mbo.SideAsk),
		byID:   make(map[uint64]locator),
		logger: logger,
	}
}

func (b *Book) sideIndexFor(s mbo.Side) (*sideIndex, error) {
	switch s {
	case mbo.SideBid:
		return b.bids, nil
	case mbo.SideAsk:
		return b.asks, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSide, s)
}

// Apply dispatches one event into the book. Trade, Fill and None never
// mutate the book; they are handled (or ignored) upstream.
func (b *Book) Apply(ev mbo.Event) error {
	switch ev.Action {
	case mbo.ActionClear:
		b.clear()
		return nil
	case mbo.ActionAdd:
		return b.add(ev)
	case mbo.ActionCancel:
		return b.cancel(ev)
	case mbo.ActionModify:
		return b.modify(ev)
	case mbo.ActionTrade, mbo.ActionFill, mbo.ActionNone:
		return nil
	}
	b.logger.Warn().Str("action", ev.Action.String()).Msg("unknown action, ignoring")
	return nil
}

func (b *Book) clear() {
	b.bids.reset()
	b.asks.reset()
	b.byID = make(map[uint64]locator)
}

func (b *Book) add(ev mbo.Event) error {
	si, err := b.sideIndexFor(ev.Side)
	if err != nil {
		return fmt.Errorf("add order %d: %w", ev.OrderID, err)
	}
	// refuse before touching the level: a duplicate id must not leave a
	// half-applied order behind
	if _, exists := b.byID[ev.OrderID]; exists {
		return fmt.Errorf("add order %d: %w", ev.OrderID, ErrDuplicateOrderID)
	}
	si.insert(orderFrom(ev))
	b.byID[ev.OrderID] = locator{side: ev.Side, price: ev.Price}
	return nil
}

func (b *Book) cancel(ev mbo.Event) error {
	loc, ok := b.byID[ev.OrderID]
	if !ok {
		b.logger.Warn().Uint64("order_id", ev.OrderID).Msg("cancel for unknown order id, ignoring")
		metrics.CancelUnknownTotal.Inc()
		return nil
	}
	si, err := b.sideIndexFor(loc.side)
	if err != nil {
		return err
	}
	o := si.get(ev.OrderID, loc.price)
	if o == nil {
		return fmt.Errorf("order %d in id index but not at %s %s", ev.OrderID, loc.side, loc.price)
	}
	if ev.Size >= o.Size {
		if ev.Size > o.Size {
			b.logger.Warn().Uint64("order_id", ev.OrderID).
				Uint32("cancel_size", ev.Size).Uint32("resting_size", o.Size).
				Msg("cancel exceeds resting size, removing order")
			metrics.OverCancelTotal.Inc()
		}
		si.remove(ev.OrderID, loc.price)
		delete(b.byID, ev.OrderID)
		return nil
	}
	o.Size -= ev.Size
	return nil
}

func (b *Book) modify(ev mbo.Event) error {
	loc, ok := b.byID[ev.OrderID]
	if !ok {
		// modifies of unknown ids upsert, per the feed's convention
		return b.add(ev)
	}
	if loc.side != ev.Side {
		return fmt.Errorf("modify order %d: %w (%s -> %s)", ev.OrderID, ErrSideChange, loc.side, ev.Side)
	}
	si, err := b.sideIndexFor(ev.Side)
	if err != nil {
		return err
	}
	if loc.price == ev.Price {
		if !si.resize(orderFrom(ev)) {
			return fmt.Errorf("order %d in id index but not at %s %s", ev.OrderID, loc.side, loc.price)
		}
		return nil
	}
	if !si.remove(ev.OrderID, loc.price) {
		return fmt.Errorf("order %d in id index but not at %s %s", ev.OrderID, loc.side, loc.price)
	}
	si.insert(orderFrom(ev))
	b.byID[ev.OrderID] = locator{side: ev.Side, price: ev.Price}
	return nil
}

// ApplySyntheticDepletion consumes up to size from the queue at (side, px)
// in FIFO order. Fully consumed orders are removed; the order absorbing the
// remainder shrinks in place and keeps its position. Overflow beyond the
// queue's total is absorbed silently and never bleeds into other levels.
func (b *Book) ApplySyntheticDepletion(px mbo.Price, size uint32, side mbo.Side) error {
	si, err := b.sideIndexFor(side)
	if err != nil {
		return fmt.Errorf("synthetic depletion: %w", err)
	}
	lv := si.level(px)
	if lv == nil {
		b.logger.Warn().Str("side", side.String()).Str("price", px.String()).
			Uint32("size", size).Msg("synthetic depletion at non-existent level, ignoring")
		metrics.DepletionMissTotal.Inc()
		return nil
	}
	rem := size
	for e := lv.queue.Front(); e != nil && rem > 0; {
		o := e.Value.(*Order)
		next := e.Next()
		if o.Size <= rem {
			rem -= o.Size
			lv.queue.Remove(e)
			delete(b.byID, o.ID)
		} else {
			o.Size -= rem
			rem = 0
		}
		e = next
	}
	si.dropIfEmpty(lv)
	return nil
}

// TopBidLevels returns up to n aggregated bid levels, best (highest) first.
func (b *Book) TopBidLevels(n int) []mbo.PriceLevel { return b.bids.topLevels(n) }

// TopAskLevels returns up to n aggregated ask levels, best (lowest) first.
func (b *Book) TopAskLevels(n int) []mbo.PriceLevel { return b.asks.topLevels(n) }

// Depth returns the zero-based rank of px among the side's levels in
// best-first order; 0 when the price has no level there.
func (b *Book) Depth(px mbo.Price, side mbo.Side) uint32 {
	switch side {
	case mbo.SideBid:
		return b.bids.depthOf(px)
	case mbo.SideAsk:
		return b.asks.depthOf(px)
	}
	return 0
}

// Orders reports the number of resting orders.
func (b *Book) Orders() int { return len(b.byID) }

// CheckConsistency verifies the id index against the side queues. Used by
// tests.
func (b *Book) CheckConsistency() error {
	if got := b.bids.orders() + b.asks.orders(); got != len(b.byID) {
		return fmt.Errorf("id index holds %d orders, side queues hold %d", len(b.byID), got)
	}
	for id, loc := range b.byID {
		si, err := b.sideIndexFor(loc.side)
		if err != nil {
			return err
		}
		if si.get(id, loc.price) == nil {
			return fmt.Errorf("order %d located at %s %s but missing from queue", id, loc.side, loc.price)
		}
	}
	return nil
}
