// Package market owns every publisher book and answers the cross-publisher
// aggregation queries the output rows are built from.
package market

import (
	"sort"

	"github.com/rs/zerolog"

	"bookrec/internal/book"
	"bookrec/internal/infra/metrics"
	"bookrec/internal/mbo"
)

// Market maps (instrument id, publisher id) to a Book. Books are created
// lazily on first event and live for the whole run.
type Market struct {
	books  map[uint32]map[uint16]*book.Book
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Market {
	return &Market{books: make(map[uint32]map[uint16]*book.Book), logger: logger}
}

func (m *Market) bookFor(instrument uint32, publisher uint16) *book.Book {
	pubs, ok := m.books[instrument]
	if !ok {
		pubs = make(map[uint16]*book.Book)
		m.books[instrument] = pubs
	}
	bk, ok := pubs[publisher]
	if !ok {
		bk = book.New(m.logger.With().Uint32("instrument", instrument).Uint16("publisher", publisher).Logger())
		pubs[publisher] = bk
		metrics.BooksCreatedTotal.Inc()
	}
	return bk
}

func (m *Market) lookup(instrument uint32, publisher uint16) *book.Book {
	if pubs, ok := m.books[instrument]; ok {
		return pubs[publisher]
	}
	return nil
}

// Apply routes the event to its book, creating the book on demand.
func (m *Market) Apply(ev mbo.Event) error {
	return m.bookFor(ev.InstrumentID, ev.PublisherID).Apply(ev)
}

// ApplySyntheticDepletion routes a T-F-C depletion to the named book. A
// depletion for a book that never existed is logged and dropped: it means
// the feed reported a trade for a market this run has not seen.
func (m *Market) ApplySyntheticDepletion(instrument uint32, publisher uint16, px mbo.Price, size uint32, side mbo.Side) error {
	bk := m.lookup(instrument, publisher)
	if bk == nil {
		m.logger.Error().Uint32("instrument", instrument).Uint16("publisher", publisher).
			Msg("synthetic depletion for non-existent book, ignoring")
		metrics.DepletionMissTotal.Inc()
		return nil
	}
	return bk.ApplySyntheticDepletion(px, size, side)
}

// TopBidLevels merges each publisher book's own top-n bid levels by price
// and returns the best n of the merged set, highest first.
//
// Only each book's top-n is consulted, not its full depth; that bounds
// per-row work and matches the upstream MBP-N convention. A level a
// publisher holds below its own best n can therefore be missed, which is
// accepted for MBP-N output.
func (m *Market) TopBidLevels(instrument uint32, n int) []mbo.PriceLevel {
	return m.mergeTop(instrument, n, func(bk *book.Book) []mbo.PriceLevel { return bk.TopBidLevels(n) }, true)
}

// TopAskLevels is TopBidLevels for the ask side, lowest first.
func (m *Market) TopAskLevels(instrument uint32, n int) []mbo.PriceLevel {
	return m.mergeTop(instrument, n, func(bk *book.Book) []mbo.PriceLevel { return bk.TopAskLevels(n) }, false)
}

func (m *Market) mergeTop(instrument uint32, n int, top func(*book.Book) []mbo.PriceLevel, desc bool) []mbo.PriceLevel {
	merged := make(map[mbo.Price]mbo.PriceLevel)
	for _, bk := range m.books[instrument] {
		for _, lv := range top(bk) {
			agg := merged[lv.Price]
			agg.Price = lv.Price
			agg.Size += lv.Size
			agg.Count += lv.Count
			merged[lv.Price] = agg
		}
	}
	if len(merged) == 0 {
		return nil
	}
	prices := make([]mbo.Price, 0, len(merged))
	for px := range merged {
		prices = append(prices, px)
	}
	sort.Slice(prices, func(i, j int) bool {
		if desc {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	if len(prices) > n {
		prices = prices[:n]
	}
	out := make([]mbo.PriceLevel, 0, len(prices))
	for _, px := range prices {
		out = append(out, merged[px])
	}
	return out
}

// Depth answers the depth-of-price question against one publisher book;
// 0 when the book or the level does not exist.
func (m *Market) Depth(instrument uint32, publisher uint16, px mbo.Price, side mbo.Side) uint32 {
	bk := m.lookup(instrument, publisher)
	if bk == nil {
		return 0
	}
	return bk.Depth(px, side)
}

// Books reports how many publisher books exist across all instruments.
func (m *Market) Books() int {
	n := 0
	for _, pubs := range m.books {
		n += len(pubs)
	}
	return n
}
