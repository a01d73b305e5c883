/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/harvestly/loyalty-engine/loyalty"
)

// =============================================================================
// STATUS / ACCOUNT
// =============================================================================

// StatusDTO is the read-only account snapshot for UI display.
type StatusDTO struct {
	UserID          string   `json:"user_id"`
	Points          int64    `json:"points"`
	Tier            string   `json:"tier"`
	DiscountPercent float64  `json:"discount_percent"`
	IsEligible      bool     `json:"is_eligible"`
	PurchaseCount   int64    `json:"purchase_count"`
	TotalSpent      float64  `json:"total_spent"`
	CardIssued      bool     `json:"card_issued"`
	Card            *CardDTO `json:"card,omitempty"`
}

// CardDTO represents an issued loyalty card.
type CardDTO struct {
	CardID     string `json:"card_id"`
	CardType   string `json:"card_type"`
	IssuedDate string `json:"issued_date"`
	ExpiryDate string `json:"expiry_date"`
	Active     bool   `json:"active"`
}

// IssueCardResponse is the issuance payload: the card plus the tier
// discount in effect at issuance time. The discount lives on the account,
// not the card, so it is carried here rather than on CardDTO.
type IssueCardResponse struct {
	CardDTO
	DiscountPercent float64 `json:"discount_percent"`
}

// =============================================================================
// AWARD
// =============================================================================

// AwardRequest is the purchase-confirmation payload from the order/payment
// collaborator.
type AwardRequest struct {
	UserID string `json:"user_id"`
	// OrderID is the idempotency key; resending the same order is safe.
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
	// PremiumCategory is supplied by the caller; the engine does not
	// inspect product data.
	PremiumCategory bool `json:"premium_category,omitempty"`
}

// AwardResponse reports the points credited and the resulting state.
type AwardResponse struct {
	PointsAwarded int64  `json:"points_awarded"`
	Duplicate     bool   `json:"duplicate"`
	Points        int64  `json:"points"`
	Tier          string `json:"tier"`
	IsEligible    bool   `json:"is_eligible"`
}

// =============================================================================
// REDEMPTION
// =============================================================================

// RedeemRequest names the catalog reward to redeem.
type RedeemRequest struct {
	Reward string `json:"reward"`
}

// RedeemResponse reports the redemption outcome.
type RedeemResponse struct {
	EntryID         string `json:"entry_id"`
	Reward          string `json:"reward"`
	PointsSpent     int64  `json:"points_spent"`
	RemainingPoints int64  `json:"remaining_points"`
	Tier            string `json:"tier"`
}

// =============================================================================
// HISTORY
// =============================================================================

// EntryDTO represents one ledger entry.
type EntryDTO struct {
	ID         string `json:"id"`
	Points     int64  `json:"points"`
	Source     string `json:"source"`
	OrderID    string `json:"order_id,omitempty"`
	RewardName string `json:"reward_name,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Used       bool   `json:"used"`
	CreatedAt  string `json:"created_at"`
}

// =============================================================================
// CATALOG
// =============================================================================

// TierDTO represents a tier definition.
type TierDTO struct {
	Name            string   `json:"name"`
	PointThreshold  int64    `json:"point_threshold"`
	DiscountPercent float64  `json:"discount_percent"`
	Benefits        []string `json:"benefits"`
	DisplayOrder    int      `json:"display_order"`
}

// RewardDTO represents a redeemable reward.
type RewardDTO struct {
	Name        string  `json:"name"`
	Cost        int64   `json:"cost"`
	Type        string  `json:"type"`
	Value       float64 `json:"value,omitempty"`
	Description string  `json:"description,omitempty"`
}

// CatalogDTO bundles the current catalog for admin reads.
type CatalogDTO struct {
	Version int         `json:"version"`
	Tiers   []TierDTO   `json:"tiers"`
	Rewards []RewardDTO `json:"rewards"`
}

// =============================================================================
// ADMIN
// =============================================================================

// AdjustmentRequest is a manual points correction.
type AdjustmentRequest struct {
	UserID string `json:"user_id"`
	// Points may be negative; deductions cannot overdraw the balance.
	Points float64 `json:"points"`
	Reason string  `json:"reason"`
}

// ErrorResponse is the standard error payload. Details carries
// condition-specific context (e.g. the points shortfall).
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toStatusDTO(acct *loyalty.Account) StatusDTO {
	spent, _ := loyalty.RoundCurrency(acct.TotalSpent).Float64()
	discount, _ := acct.DiscountPercent.Float64()
	dto := StatusDTO{
		UserID:          string(acct.UserID),
		Points:          acct.Points,
		Tier:            string(acct.Tier),
		DiscountPercent: discount,
		IsEligible:      acct.Eligible,
		PurchaseCount:   acct.PurchaseCount,
		TotalSpent:      spent,
		CardIssued:      acct.HasCard(),
	}
	if acct.Card != nil {
		card := toCardDTO(acct.Card)
		dto.Card = &card
	}
	return dto
}

func toCardDTO(card *loyalty.Card) CardDTO {
	return CardDTO{
		CardID:     card.ID,
		CardType:   string(card.Type),
		IssuedDate: card.IssuedAt.Format(time.RFC3339),
		ExpiryDate: card.ExpiresAt.Format(time.RFC3339),
		Active:     card.Active,
	}
}

func toEntryDTO(e loyalty.Entry) EntryDTO {
	return EntryDTO{
		ID:         string(e.ID),
		Points:     e.Points,
		Source:     string(e.Source),
		OrderID:    e.OrderID,
		RewardName: e.RewardName,
		Reason:     e.Reason,
		Used:       e.Used,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

func toCatalogDTO(cat *loyalty.Catalog) CatalogDTO {
	dto := CatalogDTO{Version: cat.Version}
	for _, t := range cat.Tiers {
		discount, _ := t.DiscountPercent.Float64()
		dto.Tiers = append(dto.Tiers, TierDTO{
			Name:            string(t.Name),
			PointThreshold:  t.PointThreshold,
			DiscountPercent: discount,
			Benefits:        t.Benefits,
			DisplayOrder:    t.DisplayOrder,
		})
	}
	for _, r := range cat.Rewards {
		value, _ := r.Value.Float64()
		dto.Rewards = append(dto.Rewards, RewardDTO{
			Name:        r.Name,
			Cost:        r.Cost,
			Type:        string(r.Type),
			Value:       value,
			Description: r.Description,
		})
	}
	return dto
}
