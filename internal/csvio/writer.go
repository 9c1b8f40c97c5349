package csvio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"bookrec/internal/engine"
	"bookrec/internal/mbo"
)

// mbpRType is the record type stamped on every output row.
const mbpRType = 10

// Writer emits MBP-10 rows in the fixed output layout: row index, echoed
// event fields, depth, then ten bid/ask 6-tuples, symbol and order id.
// Prices carry exactly nine fractional digits; empty slots emit an empty
// price and zero size/count.
type Writer struct {
	w      *bufio.Writer
	levels int
	buf    []byte
}

func NewWriter(w io.Writer, levels int) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 1<<16), levels: levels, buf: make([]byte, 0, 512)}
}

// WriteHeader writes the column header. The index column is unnamed.
func (w *Writer) WriteHeader() error {
	b := w.buf[:0]
	b = append(b, ",ts_recv,ts_event,rtype,publisher_id,instrument_id,action,side,depth,price,size,flags,ts_in_delta,sequence,"...)
	for i := 0; i < w.levels; i++ {
		b = append(b, fmt.Sprintf("bid_px_%02d,bid_sz_%02d,bid_ct_%02d,ask_px_%02d,ask_sz_%02d,ask_ct_%02d", i, i, i, i, i, i)...)
		if i < w.levels-1 {
			b = append(b, ',')
		}
	}
	b = append(b, ",symbol,order_id\n"...)
	w.buf = b
	_, err := w.w.Write(b)
	return err
}

func (w *Writer) WriteRow(row engine.Row) error {
	ev := row.Event
	b := w.buf[:0]
	b = strconv.AppendInt(b, int64(row.Index), 10)
	b = append(b, ',')
	b = append(b, ev.TsRecv...)
	b = append(b, ',')
	b = append(b, ev.TsEvent...)
	b = append(b, ',')
	b = strconv.AppendUint(b, mbpRType, 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(ev.PublisherID), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(ev.InstrumentID), 10)
	b = append(b, ',')
	b = append(b, byte(ev.Action), ',', byte(ev.Side), ',')
	b = strconv.AppendUint(b, uint64(row.Depth), 10)
	b = append(b, ',')
	b = ev.Price.AppendFixed(b)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(ev.Size), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(ev.Flags), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(ev.TsInDelta), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(ev.Sequence), 10)
	b = append(b, ',')
	for i := 0; i < w.levels; i++ {
		b = appendLevel(b, row.Bids, i)
		b = append(b, ',')
		b = appendLevel(b, row.Asks, i)
		if i < w.levels-1 {
			b = append(b, ',')
		}
	}
	b = append(b, ',')
	b = append(b, ev.Symbol...)
	b = append(b, ',')
	b = strconv.AppendUint(b, ev.OrderID, 10)
	b = append(b, '\n')
	w.buf = b
	_, err := w.w.Write(b)
	return err
}

// appendLevel writes one px,sz,ct triple; an absent slot is an empty price
// with zero size and count.
func appendLevel(b []byte, levels []mbo.PriceLevel, i int) []byte {
	if i < len(levels) {
		b = levels[i].Price.AppendFixed(b)
		b = append(b, ',')
		b = strconv.AppendUint(b, uint64(levels[i].Size), 10)
		b = append(b, ',')
		b = strconv.AppendUint(b, uint64(levels[i].Count), 10)
		return b
	}
	return append(b, ",0,0"...)
}

// Flush drains the buffered output.
func (w *Writer) Flush() error { return w.w.Flush() }
