// Package csvio adapts the engine to its CSV surfaces: an MBO record
// reader and an MBP-10 row writer. The core never sees delimited text.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"bookrec/internal/mbo"
)

const mboFieldCount = 15

// Reader decodes MBO records. The first record of the input is discarded
// unconditionally (header or initial clear, per the feed's convention).
type Reader struct {
	csv     *csv.Reader
	skipped bool
	record  int
}

func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// Next returns the next event, or io.EOF at end of input.
func (r *Reader) Next() (mbo.Event, error) {
	if !r.skipped {
		r.skipped = true
		if _, err := r.csv.Read(); err != nil {
			if err == io.EOF {
				return mbo.Event{}, io.EOF
			}
			return mbo.Event{}, fmt.Errorf("read header: %w", err)
		}
	}
	rec, err := r.csv.Read()
	if err != nil {
		if err == io.EOF {
			return mbo.Event{}, io.EOF
		}
		return mbo.Event{}, err
	}
	r.record++
	ev, err := decodeRecord(rec)
	if err != nil {
		return mbo.Event{}, fmt.Errorf("record %d: %w", r.record, err)
	}
	return ev, nil
}

func decodeRecord(rec []string) (mbo.Event, error) {
	if len(rec) != mboFieldCount {
		return mbo.Event{}, fmt.Errorf("expected %d fields, got %d", mboFieldCount, len(rec))
	}
	var ev mbo.Event
	ev.TsRecv = rec[0]
	ev.TsEvent = rec[1]

	rtype, err := parseUint(rec[2], 8, "rtype")
	if err != nil {
		return ev, err
	}
	ev.RType = uint8(rtype)

	pub, err := parseUint(rec[3], 16, "publisher_id")
	if err != nil {
		return ev, err
	}
	ev.PublisherID = uint16(pub)

	instr, err := parseUint(rec[4], 32, "instrument_id")
	if err != nil {
		return ev, err
	}
	ev.InstrumentID = uint32(instr)

	if len(rec[5]) != 1 {
		return ev, fmt.Errorf("bad action %q", rec[5])
	}
	ev.Action = mbo.Action(rec[5][0])

	if len(rec[6]) != 1 {
		return ev, fmt.Errorf("bad side %q", rec[6])
	}
	ev.Side = mbo.Side(rec[6][0])

	ev.Price, err = parsePrice(rec[7])
	if err != nil {
		return ev, err
	}

	size, err := parseUint(rec[8], 32, "size")
	if err != nil {
		return ev, err
	}
	ev.Size = uint32(size)

	chanID, err := parseUint(rec[9], 8, "channel_id")
	if err != nil {
		return ev, err
	}
	ev.ChannelID = uint8(chanID)

	ev.OrderID, err = parseUint(rec[10], 64, "order_id")
	if err != nil {
		return ev, err
	}

	flags, err := parseUint(rec[11], 8, "flags")
	if err != nil {
		return ev, err
	}
	ev.Flags = uint8(flags)

	delta, err := strconv.ParseInt(rec[12], 10, 32)
	if err != nil {
		return ev, fmt.Errorf("bad ts_in_delta %q: %w", rec[12], err)
	}
	ev.TsInDelta = int32(delta)

	seq, err := parseUint(rec[13], 32, "sequence")
	if err != nil {
		return ev, err
	}
	ev.Sequence = uint32(seq)

	ev.Symbol = rec[14]
	return ev, nil
}

func parseUint(s string, bits int, field string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", field, s, err)
	}
	return v, nil
}

// parsePrice converts decimal price text to the 1e-9 integer form exactly,
// without passing through binary floating point. Empty text means the
// price is undefined.
func parsePrice(s string) (mbo.Price, error) {
	if s == "" {
		return mbo.UndefinedPrice, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return mbo.UndefinedPrice, fmt.Errorf("bad price %q: %w", s, err)
	}
	return mbo.Price(d.Shift(mbo.PriceScale).Round(0).IntPart()), nil
}
