package book

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrec/internal/mbo"
)

func px(units int64) mbo.Price { return mbo.Price(units * 1_000_000_000) }

func ev(action mbo.Action, side mbo.Side, price mbo.Price, size uint32, id uint64) mbo.Event {
	return mbo.Event{
		InstrumentID: 7,
		PublisherID:  3,
		Action:       action,
		Side:         side,
		Price:        price,
		Size:         size,
		OrderID:      id,
	}
}

func newBook() *Book { return New(zerolog.Nop()) }

func TestAddAndTopLevels(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(99), 2, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 3, 3)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 4, 4)))

	bids := b.TopBidLevels(10)
	require.Len(t, bids, 2)
	assert.Equal(t, mbo.PriceLevel{Price: px(100), Size: 8, Count: 2}, bids[0])
	assert.Equal(t, mbo.PriceLevel{Price: px(99), Size: 2, Count: 1}, bids[1])

	asks := b.TopAskLevels(10)
	require.Len(t, asks, 1)
	assert.Equal(t, mbo.PriceLevel{Price: px(101), Size: 4, Count: 1}, asks[0])

	require.NoError(t, b.CheckConsistency())
}

func TestAddDuplicateIDRefused(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	err := b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(99), 5, 1))
	require.ErrorIs(t, err, ErrDuplicateOrderID)

	// no partial mutation: the second add must not have touched the book
	bids := b.TopBidLevels(10)
	require.Len(t, bids, 1)
	assert.Equal(t, px(100), bids[0].Price)
	require.NoError(t, b.CheckConsistency())
}

func TestAddWithoutSideRefused(t *testing.T) {
	b := newBook()
	err := b.Apply(ev(mbo.ActionAdd, mbo.SideNone, px(100), 5, 1))
	require.ErrorIs(t, err, ErrUnknownSide)
	assert.Zero(t, b.Orders())
}

func TestCancelPartialKeepsPosition(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 7, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionCancel, mbo.SideBid, px(100), 2, 1)))

	bids := b.TopBidLevels(1)
	require.Len(t, bids, 1)
	assert.Equal(t, uint32(10), bids[0].Size)
	assert.Equal(t, uint32(2), bids[0].Count)

	// order 1 shrank in place; deplete 3 and it must absorb first
	require.NoError(t, b.ApplySyntheticDepletion(px(100), 3, mbo.SideBid))
	assert.Equal(t, 1, b.Orders())
	bids = b.TopBidLevels(1)
	assert.Equal(t, uint32(7), bids[0].Size)
}

func TestCancelFullRemovesOrderAndLevel(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionCancel, mbo.SideAsk, px(101), 5, 1)))
	assert.Empty(t, b.TopAskLevels(10))
	assert.Zero(t, b.Orders())
	require.NoError(t, b.CheckConsistency())
}

func TestCancelOverSizeClampsToRemoval(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionCancel, mbo.SideAsk, px(101), 9, 1)))
	assert.Empty(t, b.TopAskLevels(10))
	assert.Zero(t, b.Orders())
}

func TestCancelUnknownIDIgnored(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionCancel, mbo.SideBid, px(100), 5, 42)))
	assert.Equal(t, 1, b.Orders())
}

func TestAddThenFullCancelRestoresBook(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	before := b.TopBidLevels(10)

	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(102), 9, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionCancel, mbo.SideBid, px(102), 9, 2)))

	assert.Equal(t, before, b.TopBidLevels(10))
	require.NoError(t, b.CheckConsistency())
}

func TestModifyUnknownIDUpserts(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionModify, mbo.SideBid, px(100), 5, 1)))
	bids := b.TopBidLevels(1)
	require.Len(t, bids, 1)
	assert.Equal(t, mbo.PriceLevel{Price: px(100), Size: 5, Count: 1}, bids[0])
}

func TestModifySideChangeRefused(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	err := b.Apply(ev(mbo.ActionModify, mbo.SideAsk, px(100), 5, 1))
	require.ErrorIs(t, err, ErrSideChange)
	require.NoError(t, b.CheckConsistency())
}

func TestModifySizeDecreaseKeepsPriority(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionModify, mbo.SideBid, px(100), 3, 1)))

	// order 1 kept the head: depleting 3 consumes it entirely, leaving 2
	require.NoError(t, b.ApplySyntheticDepletion(px(100), 3, mbo.SideBid))
	assert.Equal(t, 1, b.Orders())
	bids := b.TopBidLevels(1)
	assert.Equal(t, uint32(5), bids[0].Size)
	assert.Equal(t, uint32(1), bids[0].Count)
}

func TestModifySizeIncreaseLosesPriority(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 2, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionModify, mbo.SideBid, px(100), 8, 1)))

	// order 1 moved to the tail: depleting 2 consumes order 2 first
	require.NoError(t, b.ApplySyntheticDepletion(px(100), 2, mbo.SideBid))
	assert.Equal(t, 1, b.Orders())
	bids := b.TopBidLevels(1)
	assert.Equal(t, uint32(8), bids[0].Size)
}

func TestModifyPriceChangeMovesToNewLevelTail(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(101), 4, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionModify, mbo.SideBid, px(101), 5, 1)))

	bids := b.TopBidLevels(10)
	require.Len(t, bids, 1)
	assert.Equal(t, mbo.PriceLevel{Price: px(101), Size: 9, Count: 2}, bids[0])

	// order 1 joined at the tail of 101; depleting 4 consumes order 2
	require.NoError(t, b.ApplySyntheticDepletion(px(101), 4, mbo.SideBid))
	bids = b.TopBidLevels(1)
	assert.Equal(t, uint32(5), bids[0].Size)
	require.NoError(t, b.CheckConsistency())
}

func TestClearEmptiesBook(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 5, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionClear, mbo.SideNone, mbo.UndefinedPrice, 0, 0)))
	assert.Empty(t, b.TopBidLevels(10))
	assert.Empty(t, b.TopAskLevels(10))
	assert.Zero(t, b.Orders())
}

func TestClearThenReplayMatchesFreshBook(t *testing.T) {
	adds := []mbo.Event{
		ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1),
		ev(mbo.ActionAdd, mbo.SideBid, px(99), 3, 2),
		ev(mbo.ActionAdd, mbo.SideAsk, px(101), 7, 3),
	}
	replayed := newBook()
	require.NoError(t, replayed.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(50), 1, 9)))
	require.NoError(t, replayed.Apply(ev(mbo.ActionClear, mbo.SideNone, mbo.UndefinedPrice, 0, 0)))
	fresh := newBook()
	for _, a := range adds {
		require.NoError(t, replayed.Apply(a))
		require.NoError(t, fresh.Apply(a))
	}
	assert.Equal(t, fresh.TopBidLevels(10), replayed.TopBidLevels(10))
	assert.Equal(t, fresh.TopAskLevels(10), replayed.TopAskLevels(10))
}

func TestSyntheticDepletionFIFO(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 3, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 4, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(102), 9, 3)))

	// 5 = all of order 1 plus 2 from order 2
	require.NoError(t, b.ApplySyntheticDepletion(px(101), 5, mbo.SideAsk))
	asks := b.TopAskLevels(10)
	require.Len(t, asks, 2)
	assert.Equal(t, mbo.PriceLevel{Price: px(101), Size: 2, Count: 1}, asks[0])
	assert.Equal(t, 2, b.Orders())
	require.NoError(t, b.CheckConsistency())
}

func TestSyntheticDepletionOverflowStaysOnLevel(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 3, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(102), 9, 2)))

	// overflow is absorbed; the 102 level must be untouched
	require.NoError(t, b.ApplySyntheticDepletion(px(101), 50, mbo.SideAsk))
	asks := b.TopAskLevels(10)
	require.Len(t, asks, 1)
	assert.Equal(t, mbo.PriceLevel{Price: px(102), Size: 9, Count: 1}, asks[0])
}

func TestSyntheticDepletionMissingLevelIgnored(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 5, 1)))
	require.NoError(t, b.ApplySyntheticDepletion(px(90), 5, mbo.SideBid))
	assert.Equal(t, 1, b.Orders())
}

func TestDepth(t *testing.T) {
	b := newBook()
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(100), 1, 1)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(99), 1, 2)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(98), 1, 3)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(101), 1, 4)))
	require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(103), 1, 5)))

	assert.Equal(t, uint32(0), b.Depth(px(100), mbo.SideBid))
	assert.Equal(t, uint32(1), b.Depth(px(99), mbo.SideBid))
	assert.Equal(t, uint32(2), b.Depth(px(98), mbo.SideBid))
	assert.Equal(t, uint32(0), b.Depth(px(101), mbo.SideAsk))
	assert.Equal(t, uint32(1), b.Depth(px(103), mbo.SideAsk))

	// absent prices and sideless queries report 0
	assert.Equal(t, uint32(0), b.Depth(px(97), mbo.SideBid))
	assert.Equal(t, uint32(0), b.Depth(px(102), mbo.SideAsk))
	assert.Equal(t, uint32(0), b.Depth(px(100), mbo.SideNone))
}

func TestBestFirstOrderingStrict(t *testing.T) {
	b := newBook()
	prices := []int64{100, 97, 103, 99, 101}
	for i, p := range prices {
		require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideBid, px(p), 1, uint64(i+1))))
		require.NoError(t, b.Apply(ev(mbo.ActionAdd, mbo.SideAsk, px(p+10), 1, uint64(i+100))))
	}
	bids := b.TopBidLevels(10)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, int64(bids[i-1].Price), int64(bids[i].Price))
	}
	asks := b.TopAskLevels(10)
	for i := 1; i < len(asks); i++ {
		assert.Less(t, int64(asks[i-1].Price), int64(asks[i].Price))
	}
}
