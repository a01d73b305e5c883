package loyalty_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/loyalty-engine/loyalty"
)

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestCatalog_DefaultIsValid(t *testing.T) {
	require.NoError(t, loyalty.DefaultCatalog().Validate())
}

func TestCatalog_Validate_NoTiers(t *testing.T) {
	cat := &loyalty.Catalog{Rules: loyalty.DefaultRules()}
	assert.Error(t, cat.Validate())
}

func TestCatalog_Validate_NoZeroThresholdTier(t *testing.T) {
	// GIVEN: A catalog whose lowest tier starts at 50 points
	// THEN: Validation rejects it - accounts below 50 would have no tier

	cat := &loyalty.Catalog{
		Tiers: []loyalty.TierDefinition{
			{Name: "bronze", PointThreshold: 50, DisplayOrder: 1},
			{Name: "silver", PointThreshold: 100, DisplayOrder: 2},
		},
		Rules: loyalty.DefaultRules(),
	}
	assert.Error(t, cat.Validate())
}

func TestCatalog_Validate_NonIncreasingThresholds(t *testing.T) {
	cat := &loyalty.Catalog{
		Tiers: []loyalty.TierDefinition{
			{Name: "bronze", PointThreshold: 0, DisplayOrder: 1},
			{Name: "silver", PointThreshold: 100, DisplayOrder: 2},
			{Name: "gold", PointThreshold: 100, DisplayOrder: 3},
		},
		Rules: loyalty.DefaultRules(),
	}
	assert.Error(t, cat.Validate())
}

func TestCatalog_Validate_DuplicateRewardName(t *testing.T) {
	cat := loyalty.DefaultCatalog()
	cat.Rewards = append(cat.Rewards, loyalty.RewardDefinition{
		Name: "discount-5", Cost: 10, Type: loyalty.RewardDiscount,
	})
	assert.Error(t, cat.Validate())
}

func TestCatalog_Validate_ZeroCostReward(t *testing.T) {
	cat := loyalty.DefaultCatalog()
	cat.Rewards = append(cat.Rewards, loyalty.RewardDefinition{
		Name: "freebie", Cost: 0, Type: loyalty.RewardDiscount,
	})
	assert.Error(t, cat.Validate())
}

// =============================================================================
// CLASSIFICATION TESTS
// =============================================================================

func TestCatalog_Classify_Boundaries(t *testing.T) {
	// GIVEN: The default tiers (0, 100, 300, 750, 1500)
	// THEN: Thresholds are inclusive lower bounds

	cat := loyalty.DefaultCatalog()
	require.NoError(t, cat.Validate())

	cases := []struct {
		points int64
		tier   loyalty.TierName
	}{
		{0, loyalty.TierSprout},
		{99, loyalty.TierSprout},
		{100, loyalty.TierSeedling},
		{265, loyalty.TierSeedling},
		{299, loyalty.TierSeedling},
		{300, loyalty.TierCultivator},
		{749, loyalty.TierCultivator},
		{750, loyalty.TierBloom},
		{1500, loyalty.TierHarvester},
		{999999, loyalty.TierHarvester},
	}
	for _, tc := range cases {
		got := cat.Classify(tc.points)
		assert.Equal(t, tc.tier, got.Name, "points=%d", tc.points)
	}
}

func TestCatalog_Classify_DiscountMatchesTier(t *testing.T) {
	cat := loyalty.DefaultCatalog()
	require.NoError(t, cat.Validate())

	tier := cat.Classify(350)
	assert.Equal(t, loyalty.TierCultivator, tier.Name)
	assert.True(t, tier.DiscountPercent.Equal(decimal.NewFromInt(5)))
}

// =============================================================================
// YAML LOADING TESTS
// =============================================================================

func TestParseCatalog_FullDocument(t *testing.T) {
	doc := `
version: 3
tiers:
  - name: basic
    point_threshold: 0
    discount_percent: 0
    display_order: 1
  - name: plus
    point_threshold: 200
    discount_percent: 4
    display_order: 2
rewards:
  - name: voucher
    cost: 100
    type: discount
    value: 10
rules:
  bonus_threshold: 250
  purchase_count_threshold: 3
`
	cat, err := loyalty.ParseCatalog([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 3, cat.Version)
	assert.Len(t, cat.Tiers, 2)
	assert.Equal(t, loyalty.TierName("plus"), cat.Classify(200).Name)

	// Overridden rules take effect; omitted rules keep defaults.
	assert.True(t, cat.Rules.BonusThreshold.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, int64(3), cat.Rules.PurchaseCountThreshold)
	assert.True(t, cat.Rules.PremiumMultiplier.Equal(decimal.NewFromFloat(1.2)))
	assert.Equal(t, 365*24*time.Hour, cat.Rules.CardValidity)
}

func TestParseCatalog_InvalidDocumentRejected(t *testing.T) {
	// Missing a zero-threshold floor tier.
	doc := `
tiers:
  - name: plus
    point_threshold: 200
    display_order: 1
`
	_, err := loyalty.ParseCatalog([]byte(doc))
	assert.Error(t, err)
}

func TestParseCatalog_MalformedYAML(t *testing.T) {
	_, err := loyalty.ParseCatalog([]byte("tiers: ["))
	assert.Error(t, err)
}
