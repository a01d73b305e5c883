/*
catalog.go - Tier and reward catalog configuration

PURPOSE:
  The catalog is the static, admin-editable configuration the engine reads:
  ordered tier definitions (threshold -> discount, benefits), named rewards
  (cost, effect), and the accrual/eligibility rule constants. It is pure
  data: loaded at process start, injected into the engine, and hot-swapped
  atomically by admins. Historical ledger entries are never recomputed when
  the catalog changes.

WHY CONFIG-AS-DATA?
  - Non-developers can tune tiers and rewards in YAML
  - Tests run against alternate catalogs
  - Hot-reload without restarting the process

CLASSIFICATION:
  Classify walks tiers in descending threshold order and returns the first
  whose threshold <= points. Pure, deterministic, O(number of tiers).

VALIDATION INVARIANTS:
  - Thresholds strictly increasing with display order
  - Exactly one tier with threshold 0 (the floor tier)
  - Reward names unique, costs positive

SEE ALSO:
  - engine.go: Holds the catalog behind an atomic pointer
  - catalog.yaml: Example configuration file
*/
package loyalty

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// TIER DEFINITIONS
// =============================================================================

// TierDefinition is one bracket of point totals.
type TierDefinition struct {
	Name TierName
	// PointThreshold is the inclusive lower bound of the bracket.
	PointThreshold  int64
	DiscountPercent decimal.Decimal
	Benefits        []string
	DisplayOrder    int
}

// =============================================================================
// REWARD DEFINITIONS
// =============================================================================

// RewardType describes what a redeemed reward does at order-pricing time.
type RewardType string

const (
	RewardDiscount RewardType = "discount" // Value = percentage off
	RewardShipping RewardType = "shipping" // free shipping, Value unused
	RewardBonus    RewardType = "bonus"    // Value = points multiplier
)

// RewardDefinition is one redeemable catalog item, keyed by Name.
type RewardDefinition struct {
	Name        string
	Cost        int64 // points
	Type        RewardType
	Value       decimal.Decimal // percentage or multiplier, per Type
	Description string
}

// =============================================================================
// RULES - Accrual and eligibility constants
// =============================================================================

// Rules holds the engine's rule constants. Defaults match the production
// program; tests and deployments may override via catalog files.
type Rules struct {
	// PointsPerCurrencyUnit is the base accrual rate (1 point per unit).
	PointsPerCurrencyUnit decimal.Decimal
	// BonusThreshold is the order amount at which BonusMultiplier applies.
	BonusThreshold  decimal.Decimal
	BonusMultiplier decimal.Decimal
	// PremiumMultiplier applies when the caller flags a premium-category
	// purchase. The engine never inspects product data itself.
	PremiumMultiplier decimal.Decimal
	// Card eligibility criteria: either condition unlocks eligibility.
	PurchaseCountThreshold int64
	TotalSpentThreshold    decimal.Decimal
	// CardValidity is how long an issued card stays active.
	CardValidity time.Duration
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog bundles tiers, rewards, and rules into one injected, versioned
// configuration value. Catalogs are immutable after Validate; admin edits
// build a new Catalog and swap it in.
type Catalog struct {
	Version int
	Tiers   []TierDefinition // ascending by PointThreshold after Validate
	Rewards []RewardDefinition
	Rules   Rules
}

// Validate checks the catalog invariants and normalizes tier order.
func (c *Catalog) Validate() error {
	if len(c.Tiers) == 0 {
		return &InvalidInputError{Field: "catalog.tiers", Reason: "at least one tier required"}
	}

	sort.SliceStable(c.Tiers, func(i, j int) bool {
		return c.Tiers[i].DisplayOrder < c.Tiers[j].DisplayOrder
	})

	zeroTiers := 0
	for i, t := range c.Tiers {
		if t.Name == "" {
			return &InvalidInputError{Field: "catalog.tiers", Reason: fmt.Sprintf("tier %d has no name", i)}
		}
		if t.PointThreshold < 0 {
			return &InvalidInputError{Field: "catalog.tiers", Reason: fmt.Sprintf("tier %q has negative threshold", t.Name)}
		}
		if t.PointThreshold == 0 {
			zeroTiers++
		}
		if i > 0 && t.PointThreshold <= c.Tiers[i-1].PointThreshold {
			return &InvalidInputError{
				Field:  "catalog.tiers",
				Reason: fmt.Sprintf("thresholds must be strictly increasing: %q (%d) after %q (%d)", t.Name, t.PointThreshold, c.Tiers[i-1].Name, c.Tiers[i-1].PointThreshold),
			}
		}
		if t.DiscountPercent.IsNegative() {
			return &InvalidInputError{Field: "catalog.tiers", Reason: fmt.Sprintf("tier %q has negative discount", t.Name)}
		}
	}
	if zeroTiers != 1 {
		return &InvalidInputError{Field: "catalog.tiers", Reason: "exactly one tier must have threshold 0"}
	}

	seen := make(map[string]bool, len(c.Rewards))
	for _, r := range c.Rewards {
		if r.Name == "" {
			return &InvalidInputError{Field: "catalog.rewards", Reason: "reward with no name"}
		}
		if seen[r.Name] {
			return &InvalidInputError{Field: "catalog.rewards", Reason: fmt.Sprintf("duplicate reward %q", r.Name)}
		}
		seen[r.Name] = true
		if r.Cost <= 0 {
			return &InvalidInputError{Field: "catalog.rewards", Reason: fmt.Sprintf("reward %q must cost at least 1 point", r.Name)}
		}
		switch r.Type {
		case RewardDiscount, RewardShipping, RewardBonus:
		default:
			return &InvalidInputError{Field: "catalog.rewards", Reason: fmt.Sprintf("reward %q has unknown type %q", r.Name, r.Type)}
		}
	}

	if c.Rules.PointsPerCurrencyUnit.Sign() <= 0 {
		return &InvalidInputError{Field: "catalog.rules", Reason: "points_per_currency_unit must be positive"}
	}
	if c.Rules.CardValidity <= 0 {
		return &InvalidInputError{Field: "catalog.rules", Reason: "card_validity must be positive"}
	}
	return nil
}

// Classify returns the highest tier whose threshold the point total meets.
// Tiers are ascending after Validate, so scan from the top.
func (c *Catalog) Classify(points int64) TierDefinition {
	for i := len(c.Tiers) - 1; i >= 0; i-- {
		if c.Tiers[i].PointThreshold <= points {
			return c.Tiers[i]
		}
	}
	// Validate guarantees a zero-threshold floor tier; points is never
	// negative by the balance invariant.
	return c.Tiers[0]
}

// Reward looks up a reward definition by name.
func (c *Catalog) Reward(name string) (RewardDefinition, bool) {
	for _, r := range c.Rewards {
		if r.Name == name {
			return r, true
		}
	}
	return RewardDefinition{}, false
}

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

// DefaultCatalog returns the compiled-in production catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Version: 1,
		Tiers: []TierDefinition{
			{
				Name: TierSprout, PointThreshold: 0,
				DiscountPercent: decimal.Zero,
				Benefits:        []string{"member pricing alerts"},
				DisplayOrder:    1,
			},
			{
				Name: TierSeedling, PointThreshold: 100,
				DiscountPercent: decimal.NewFromInt(2),
				Benefits:        []string{"2% member discount", "early access to seasonal produce"},
				DisplayOrder:    2,
			},
			{
				Name: TierCultivator, PointThreshold: 300,
				DiscountPercent: decimal.NewFromInt(5),
				Benefits:        []string{"5% member discount", "free delivery over 50", "birthday bonus points"},
				DisplayOrder:    3,
			},
			{
				Name: TierBloom, PointThreshold: 750,
				DiscountPercent: decimal.NewFromInt(8),
				Benefits:        []string{"8% member discount", "free delivery", "priority support"},
				DisplayOrder:    4,
			},
			{
				Name: TierHarvester, PointThreshold: 1500,
				DiscountPercent: decimal.NewFromInt(12),
				Benefits:        []string{"12% member discount", "free delivery", "dedicated account manager", "harvest box gift"},
				DisplayOrder:    5,
			},
		},
		Rewards: []RewardDefinition{
			{Name: "discount-5", Cost: 50, Type: RewardDiscount, Value: decimal.NewFromInt(5), Description: "5% off one order"},
			{Name: "free-shipping", Cost: 75, Type: RewardShipping, Description: "Free shipping on one order"},
			{Name: "discount-15", Cost: 200, Type: RewardDiscount, Value: decimal.NewFromInt(15), Description: "15% off one order"},
			{Name: "double-points", Cost: 350, Type: RewardBonus, Value: decimal.NewFromInt(2), Description: "2x points on your next order"},
			{Name: "discount-25", Cost: 500, Type: RewardDiscount, Value: decimal.NewFromInt(25), Description: "25% off one order"},
		},
		Rules: DefaultRules(),
	}
}

// DefaultRules returns the production rule constants.
func DefaultRules() Rules {
	return Rules{
		PointsPerCurrencyUnit:  decimal.NewFromInt(1),
		BonusThreshold:         decimal.NewFromInt(100),
		BonusMultiplier:        decimal.NewFromFloat(1.5),
		PremiumMultiplier:      decimal.NewFromFloat(1.2),
		PurchaseCountThreshold: 5,
		TotalSpentThreshold:    decimal.NewFromInt(5000),
		CardValidity:           365 * 24 * time.Hour,
	}
}

// =============================================================================
// YAML LOADING
// =============================================================================

type catalogYAML struct {
	Version int `yaml:"version"`
	Tiers   []struct {
		Name            string   `yaml:"name"`
		PointThreshold  int64    `yaml:"point_threshold"`
		DiscountPercent float64  `yaml:"discount_percent"`
		Benefits        []string `yaml:"benefits"`
		DisplayOrder    int      `yaml:"display_order"`
	} `yaml:"tiers"`
	Rewards []struct {
		Name        string  `yaml:"name"`
		Cost        int64   `yaml:"cost"`
		Type        string  `yaml:"type"`
		Value       float64 `yaml:"value"`
		Description string  `yaml:"description"`
	} `yaml:"rewards"`
	Rules *struct {
		PointsPerCurrencyUnit  *float64 `yaml:"points_per_currency_unit"`
		BonusThreshold         *float64 `yaml:"bonus_threshold"`
		BonusMultiplier        *float64 `yaml:"bonus_multiplier"`
		PremiumMultiplier      *float64 `yaml:"premium_multiplier"`
		PurchaseCountThreshold *int64   `yaml:"purchase_count_threshold"`
		TotalSpentThreshold    *float64 `yaml:"total_spent_threshold"`
		CardValidityDays       *int     `yaml:"card_validity_days"`
	} `yaml:"rules"`
}

// ParseCatalog decodes and validates a YAML catalog document. Rule fields
// not present in the document keep their defaults.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	cat := &Catalog{Version: doc.Version, Rules: DefaultRules()}
	if cat.Version == 0 {
		cat.Version = 1
	}

	for _, t := range doc.Tiers {
		cat.Tiers = append(cat.Tiers, TierDefinition{
			Name:            TierName(t.Name),
			PointThreshold:  t.PointThreshold,
			DiscountPercent: decimal.NewFromFloat(t.DiscountPercent),
			Benefits:        t.Benefits,
			DisplayOrder:    t.DisplayOrder,
		})
	}
	for _, r := range doc.Rewards {
		cat.Rewards = append(cat.Rewards, RewardDefinition{
			Name:        r.Name,
			Cost:        r.Cost,
			Type:        RewardType(r.Type),
			Value:       decimal.NewFromFloat(r.Value),
			Description: r.Description,
		})
	}

	if ru := doc.Rules; ru != nil {
		if ru.PointsPerCurrencyUnit != nil {
			cat.Rules.PointsPerCurrencyUnit = decimal.NewFromFloat(*ru.PointsPerCurrencyUnit)
		}
		if ru.BonusThreshold != nil {
			cat.Rules.BonusThreshold = decimal.NewFromFloat(*ru.BonusThreshold)
		}
		if ru.BonusMultiplier != nil {
			cat.Rules.BonusMultiplier = decimal.NewFromFloat(*ru.BonusMultiplier)
		}
		if ru.PremiumMultiplier != nil {
			cat.Rules.PremiumMultiplier = decimal.NewFromFloat(*ru.PremiumMultiplier)
		}
		if ru.PurchaseCountThreshold != nil {
			cat.Rules.PurchaseCountThreshold = *ru.PurchaseCountThreshold
		}
		if ru.TotalSpentThreshold != nil {
			cat.Rules.TotalSpentThreshold = decimal.NewFromFloat(*ru.TotalSpentThreshold)
		}
		if ru.CardValidityDays != nil {
			cat.Rules.CardValidity = time.Duration(*ru.CardValidityDays) * 24 * time.Hour
		}
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// LoadCatalog reads and parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}
