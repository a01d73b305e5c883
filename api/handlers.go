/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Loyalty:
    GET    /api/loyalty/{userID}/status              Account snapshot
    GET    /api/loyalty/{userID}/history             Points ledger
    POST   /api/loyalty/{userID}/redeem              Redeem a reward
    POST   /api/loyalty/{userID}/card                Issue the loyalty card
    POST   /api/loyalty/{userID}/rewards/{entryID}/use  Consume a redemption

  Orders:
    POST   /api/orders/confirm         Purchase confirmation (award points)

  Catalog:
    GET    /api/catalog/tiers          Tier definitions
    GET    /api/catalog/rewards        Redeemable rewards

  Admin:
    POST   /api/admin/adjustments      Manual points correction
    GET    /api/admin/catalog          Current catalog (full)
    PUT    /api/admin/catalog          Hot-swap the catalog

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine)
  4. Serialize response
  5. Map domain errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, not eligible
  - 404: Account, reward, or entry not found
  - 409: Conflict (insufficient points, card already issued, reward used)
  - 500: Internal errors
  Insufficient-points responses carry the shortfall in details so clients
  can render "N more points needed".

SECURITY NOTE:
  Currently NO authentication or authorization. The admin routes are meant
  to sit behind an internal gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/harvestly/loyalty-engine/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *loyalty.Engine
	log    zerolog.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *loyalty.Engine, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, log: log}
}

// =============================================================================
// LOYALTY HANDLERS
// =============================================================================

// GetStatus returns the account snapshot, creating the account lazily.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := loyalty.UserID(chi.URLParam(r, "userID"))

	acct, err := h.Engine.Status(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "Failed to get loyalty status")
		return
	}

	writeJSON(w, http.StatusOK, toStatusDTO(acct))
}

// GetHistory returns the points ledger, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := loyalty.UserID(chi.URLParam(r, "userID"))

	entries, err := h.Engine.History(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "Failed to get points history")
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": dtos})
}

// Redeem exchanges points for a catalog reward.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID := loyalty.UserID(chi.URLParam(r, "userID"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	if req.Reward == "" {
		writeBadRequest(w, "Reward name is required", nil)
		return
	}

	result, err := h.Engine.Redeem(r.Context(), userID, req.Reward)
	if err != nil {
		h.writeError(w, err, "Failed to redeem reward")
		return
	}

	writeJSON(w, http.StatusCreated, RedeemResponse{
		EntryID:         string(result.Entry.ID),
		Reward:          result.Entry.RewardName,
		PointsSpent:     -result.Entry.Points,
		RemainingPoints: result.Remaining,
		Tier:            string(result.Account.Tier),
	})
}

// IssueCard issues the one-time loyalty card for an eligible account.
func (h *Handler) IssueCard(w http.ResponseWriter, r *http.Request) {
	userID := loyalty.UserID(chi.URLParam(r, "userID"))

	result, err := h.Engine.IssueCard(r.Context(), userID)
	if err != nil {
		// "Already issued" carries the existing card; return it alongside
		// the conflict so clients can display it.
		var issued *loyalty.AlreadyIssuedError
		if errors.As(err, &issued) {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:   "Loyalty card already issued",
				Code:    "already_issued",
				Details: toCardDTO(issued.Card),
			})
			return
		}
		h.writeError(w, err, "Failed to issue loyalty card")
		return
	}

	discount, _ := result.Account.DiscountPercent.Float64()
	writeJSON(w, http.StatusCreated, IssueCardResponse{
		CardDTO:         toCardDTO(result.Card),
		DiscountPercent: discount,
	})
}

// UseReward consumes a redeemed reward exactly once.
func (h *Handler) UseReward(w http.ResponseWriter, r *http.Request) {
	userID := loyalty.UserID(chi.URLParam(r, "userID"))
	entryID := loyalty.EntryID(chi.URLParam(r, "entryID"))

	if err := h.Engine.MarkRewardUsed(r.Context(), userID, entryID); err != nil {
		h.writeError(w, err, "Failed to mark reward used")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "used",
		"entry_id": string(entryID),
	})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// ConfirmOrder awards points for a paid order. Idempotent per order id:
// the payment collaborator may retry safely.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		writeBadRequest(w, "Amount must be a finite number", nil)
		return
	}

	amount := decimal.NewFromFloat(req.Amount)
	result, err := h.Engine.AwardForPurchase(r.Context(),
		loyalty.UserID(req.UserID), req.OrderID, amount, req.PremiumCategory)
	if err != nil {
		h.writeError(w, err, "Failed to process order confirmation")
		return
	}

	writeJSON(w, http.StatusOK, AwardResponse{
		PointsAwarded: result.Points,
		Duplicate:     result.Duplicate,
		Points:        result.Account.Points,
		Tier:          string(result.Account.Tier),
		IsEligible:    result.Account.Eligible,
	})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListTiers returns the tier definitions, ascending by threshold.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	dto := toCatalogDTO(h.Engine.Catalog())
	writeJSON(w, http.StatusOK, map[string]any{"tiers": dto.Tiers})
}

// ListRewards returns the redeemable rewards.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	dto := toCatalogDTO(h.Engine.Catalog())
	writeJSON(w, http.StatusOK, map[string]any{"rewards": dto.Rewards})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment applies a signed manual points correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	if math.IsNaN(req.Points) || math.IsInf(req.Points, 0) {
		writeBadRequest(w, "Points must be a finite number", nil)
		return
	}
	if req.Points != math.Trunc(req.Points) {
		writeBadRequest(w, "Points must be a whole number", nil)
		return
	}

	acct, err := h.Engine.AdjustPoints(r.Context(),
		loyalty.UserID(req.UserID), int64(req.Points), req.Reason)
	if err != nil {
		h.writeError(w, err, "Failed to apply adjustment")
		return
	}

	writeJSON(w, http.StatusCreated, toStatusDTO(acct))
}

// GetCatalog returns the full current catalog.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCatalogDTO(h.Engine.Catalog()))
}

// PutCatalog validates and hot-swaps the catalog from a YAML document.
// In-flight operations finish against the catalog they started with.
func (h *Handler) PutCatalog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CatalogYAML string `json:"catalog_yaml"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}

	cat, err := loyalty.ParseCatalog([]byte(req.CatalogYAML))
	if err != nil {
		writeBadRequest(w, "Invalid catalog", err)
		return
	}

	if err := h.Engine.ReloadCatalog(cat); err != nil {
		writeBadRequest(w, "Catalog rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, toCatalogDTO(cat))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeBadRequest(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "invalid_input"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// writeError maps domain errors to HTTP responses. Business-rule violations
// become 4xx with stable codes; everything else is a 500 with the generic
// message (the underlying error is logged, not leaked).
func (h *Handler) writeError(w http.ResponseWriter, err error, message string) {
	var insufficient *loyalty.InsufficientPointsError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "insufficient_points",
			Details: map[string]int64{
				"requested": insufficient.Requested,
				"available": insufficient.Available,
				"shortfall": insufficient.Shortfall,
			},
		})
		return
	}

	switch {
	case loyalty.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, loyalty.ErrNotEligible):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "not_eligible"})
	case errors.Is(err, loyalty.ErrRewardAlreadyUsed):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "reward_already_used"})
	case errors.Is(err, loyalty.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
	default:
		h.log.Error().Err(err).Msg(message)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message, Code: "internal"})
	}
}
