package mbo

import (
	"math"
	"strconv"
)

// Price is an integer price in 1e-9 units of the quote currency. All
// comparisons and map keys use the integer form; decimal text appears only
// at the I/O boundary.
type Price int64

// UndefinedPrice marks "no price". The value matches the feed's reserved
// minimum-integer sentinel.
const UndefinedPrice Price = math.MinInt64 + 1

// PriceScale is the number of fractional digits a price carries.
const PriceScale = 9

const priceUnit = 1_000_000_000

// IsDefined reports whether the price carries a real value.
func (p Price) IsDefined() bool { return p != UndefinedPrice }

// AppendFixed appends the price as fixed-point text with exactly nine
// fractional digits. An undefined price appends nothing, which is how the
// output format encodes it.
func (p Price) AppendFixed(dst []byte) []byte {
	if !p.IsDefined() {
		return dst
	}
	v := int64(p)
	if v < 0 {
		dst = append(dst, '-')
		v = -v
	}
	dst = strconv.AppendInt(dst, v/priceUnit, 10)
	dst = append(dst, '.')
	frac := v % priceUnit
	for div := int64(priceUnit / 10); div > 0; div /= 10 {
		dst = append(dst, byte('0'+frac/div))
		frac %= div
	}
	return dst
}

func (p Price) String() string {
	if !p.IsDefined() {
		return "undefined"
	}
	return string(p.AppendFixed(nil))
}
