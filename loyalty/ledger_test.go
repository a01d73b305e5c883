package loyalty_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/loyalty-engine/loyalty"
)

var entryTime = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// VARIANT CONSTRUCTOR TESTS
// =============================================================================

func TestEntry_Constructors_ProduceValidVariants(t *testing.T) {
	entries := []loyalty.Entry{
		loyalty.NewPurchaseEntry("u-1", "order-1", 150, entryTime),
		loyalty.NewRedemptionEntry("u-1", "discount-5", 50, entryTime),
		loyalty.NewAdjustmentEntry("u-1", -25, "support correction", entryTime),
		loyalty.NewTestPointsEntry("u-1", 500, "demo seed", entryTime),
	}
	for _, e := range entries {
		assert.NoError(t, e.Validate(), "source=%s", e.Source)
		assert.NotEmpty(t, e.ID)
	}
}

func TestEntry_RedemptionIsNegativeDelta(t *testing.T) {
	e := loyalty.NewRedemptionEntry("u-1", "discount-15", 200, entryTime)
	assert.Equal(t, int64(-200), e.Points)
	assert.Equal(t, "discount-15", e.RewardName)
	assert.Empty(t, e.OrderID)
}

// =============================================================================
// VALIDATION TESTS - Illegal combinations rejected
// =============================================================================

func TestEntry_Validate_OrderEntryRequiresOrderID(t *testing.T) {
	e := loyalty.NewPurchaseEntry("u-1", "order-1", 100, entryTime)
	e.OrderID = ""
	assert.ErrorIs(t, e.Validate(), loyalty.ErrInvalidInput)
}

func TestEntry_Validate_OrderEntryCannotCarryRewardName(t *testing.T) {
	e := loyalty.NewPurchaseEntry("u-1", "order-1", 100, entryTime)
	e.RewardName = "discount-5"
	assert.ErrorIs(t, e.Validate(), loyalty.ErrInvalidInput)
}

func TestEntry_Validate_RedemptionMustBeNegative(t *testing.T) {
	e := loyalty.NewRedemptionEntry("u-1", "discount-5", 50, entryTime)
	e.Points = 50
	assert.ErrorIs(t, e.Validate(), loyalty.ErrInvalidInput)
}

func TestEntry_Validate_AdjustmentCarriesNoReferences(t *testing.T) {
	e := loyalty.NewAdjustmentEntry("u-1", 10, "fix", entryTime)
	e.OrderID = "order-1"
	assert.ErrorIs(t, e.Validate(), loyalty.ErrInvalidInput)
}

func TestEntry_Validate_UnknownSource(t *testing.T) {
	e := loyalty.NewPurchaseEntry("u-1", "order-1", 100, entryTime)
	e.Source = "mystery"
	assert.ErrorIs(t, e.Validate(), loyalty.ErrInvalidInput)
}

// =============================================================================
// BALANCE FOLDING
// =============================================================================

func TestSumPoints_FoldsDeltas(t *testing.T) {
	// GIVEN: Earn 225, redeem 200, adjust +50
	// THEN: The ledger proves a balance of 75

	entries := []loyalty.Entry{
		loyalty.NewPurchaseEntry("u-1", "order-1", 225, entryTime),
		loyalty.NewRedemptionEntry("u-1", "discount-15", 200, entryTime),
		loyalty.NewAdjustmentEntry("u-1", 50, "goodwill", entryTime),
	}
	require.Equal(t, int64(75), loyalty.SumPoints(entries))
}

func TestSumPoints_Empty(t *testing.T) {
	assert.Equal(t, int64(0), loyalty.SumPoints(nil))
}
