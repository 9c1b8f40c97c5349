// Package engine drives the reconstruction: it is the sole writer of the
// market and of the pending Trade/Fill table, and it emits exactly one
// MBP row per dispatched event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"bookrec/internal/book"
	"bookrec/internal/config"
	"bookrec/internal/infra/metrics"
	"bookrec/internal/market"
	"bookrec/internal/mbo"
)

// Row is one output row: the event's metadata plus the instrument's
// aggregated top levels after the event was applied.
type Row struct {
	Index int
	Event mbo.Event
	Depth uint32
	Bids  []mbo.PriceLevel
	Asks  []mbo.PriceLevel
}

// EventSource yields parsed events in input order. Next returns io.EOF
// when the input is exhausted.
type EventSource interface {
	Next() (mbo.Event, error)
}

// RowWriter consumes output rows in emission order.
type RowWriter interface {
	WriteRow(Row) error
}

type Engine struct {
	cfg     config.Config
	logger  zerolog.Logger
	market  *market.Market
	pending *pendingTable
	writer  RowWriter
	rowIdx  int
}

func New(cfg config.Config, logger zerolog.Logger, writer RowWriter) *Engine {
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		market:  market.New(logger),
		pending: newPendingTable(cfg.Engine.PendingCap),
		writer:  writer,
	}
}

// Run pulls events from src until EOF and dispatches each one. The first
// record of the input is assumed already consumed by the source (header
// skip); every event read here produces exactly one row unless a
// structural error halts the run in strict mode.
func (e *Engine) Run(ctx context.Context, src EventSource) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := src.Next()
		if err == io.EOF {
			e.logger.Info().Int("rows", e.rowIdx).Int("pending_tf", e.pending.len()).
				Int("books", e.market.Books()).Msg("reconstruction complete")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := e.Process(ev); err != nil {
			return err
		}
	}
}

// Process dispatches one event and emits its row. Structural errors
// (duplicate Add id, Modify side change) return an error in strict mode;
// in non-strict mode the event is skipped with a diagnostic and the row is
// emitted from the unchanged book.
func (e *Engine) Process(ev mbo.Event) error {
	start := time.Now()
	metrics.EventsProcessedTotal.WithLabelValues(ev.Action.String()).Inc()

	var depth uint32
	switch {
	case ev.Action == mbo.ActionTrade && ev.Side == mbo.SideNone:
		// neutral print: no book mutation, no pending entry

	case ev.Action == mbo.ActionTrade || ev.Action == mbo.ActionFill:
		e.pending.put(ev)

	case ev.Action == mbo.ActionCancel:
		if pend, ok := e.pending.take(ev.OrderID); ok {
			depth = e.completeTFC(ev, pend)
		} else {
			if err := e.apply(ev); err != nil {
				return err
			}
			depth = e.market.Depth(ev.InstrumentID, ev.PublisherID, ev.Price, ev.Side)
		}

	case ev.Action == mbo.ActionAdd || ev.Action == mbo.ActionModify:
		if err := e.apply(ev); err != nil {
			return err
		}
		depth = e.market.Depth(ev.InstrumentID, ev.PublisherID, ev.Price, ev.Side)

	case ev.Action == mbo.ActionClear:
		if err := e.apply(ev); err != nil {
			return err
		}

	default:
		// ActionNone and anything unrecognized still routes through the
		// market (creating the book lazily) but reports no depth
		if err := e.apply(ev); err != nil {
			return err
		}
	}

	row := Row{
		Index: e.rowIdx,
		Event: ev,
		Depth: depth,
		Bids:  e.market.TopBidLevels(ev.InstrumentID, e.cfg.Engine.DepthLevels),
		Asks:  e.market.TopAskLevels(ev.InstrumentID, e.cfg.Engine.DepthLevels),
	}
	e.rowIdx++
	if err := e.writer.WriteRow(row); err != nil {
		return fmt.Errorf("write row %d: %w", row.Index, err)
	}
	metrics.RowsWrittenTotal.Inc()
	metrics.EventApplySeconds.Observe(time.Since(start).Seconds())
	return nil
}

// completeTFC finishes a Trade/Fill/Cancel sequence: the resting side to
// deplete is the opposite of the pending event's side, the depletion uses
// the pending event's price and size, and the depth is read after the
// depletion so a fully consumed level reports 0. The emitted row carries
// the cancel's metadata, not the pending event's.
func (e *Engine) completeTFC(cancel, pend mbo.Event) uint32 {
	metrics.TfcCompletedTotal.Inc()
	affected := pend.Side.Opposite()
	if affected == mbo.SideNone {
		e.logger.Warn().Uint64("order_id", cancel.OrderID).
			Msg("pending trade/fill has no side, skipping synthetic depletion")
		metrics.NeutralPendingTotal.Inc()
		return 0
	}
	if err := e.market.ApplySyntheticDepletion(cancel.InstrumentID, cancel.PublisherID, pend.Price, pend.Size, affected); err != nil {
		e.logger.Error().Err(err).Uint64("order_id", cancel.OrderID).Msg("synthetic depletion failed")
		return 0
	}
	return e.market.Depth(cancel.InstrumentID, cancel.PublisherID, pend.Price, affected)
}

// apply mutates the market and decides the halt-or-skip policy for
// structural errors.
func (e *Engine) apply(ev mbo.Event) error {
	err := e.market.Apply(ev)
	if err == nil {
		return nil
	}
	if e.cfg.Engine.Strict {
		return fmt.Errorf("event seq %d: %w", ev.Sequence, err)
	}
	kind := "other"
	switch {
	case errors.Is(err, book.ErrDuplicateOrderID):
		kind = "duplicate_add"
	case errors.Is(err, book.ErrSideChange):
		kind = "side_change"
	case errors.Is(err, book.ErrUnknownSide):
		kind = "unknown_side"
	}
	e.logger.Error().Err(err).Uint32("sequence", ev.Sequence).Str("kind", kind).
		Msg("skipping event on structural error")
	metrics.StructuralSkipsTotal.WithLabelValues(kind).Inc()
	return nil
}

// Rows reports how many rows have been emitted.
func (e *Engine) Rows() int { return e.rowIdx }

// PendingTF reports the current pending-table size.
func (e *Engine) PendingTF() int { return e.pending.len() }
