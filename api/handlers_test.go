package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/loyalty-engine/api"
	"github.com/harvestly/loyalty-engine/loyalty"
	memstore "github.com/harvestly/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	engine, err := loyalty.NewEngine(memstore.NewMemory(), loyalty.DefaultCatalog())
	require.NoError(t, err)

	handler := api.NewHandler(engine, zerolog.Nop())
	server := httptest.NewServer(api.NewRouter(handler, zerolog.Nop()))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func confirmOrder(t *testing.T, server *httptest.Server, userID, orderID string, amount float64) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/orders/confirm", map[string]any{
		"user_id":  userID,
		"order_id": orderID,
		"amount":   amount,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	return body
}

// =============================================================================
// ORDER CONFIRMATION
// =============================================================================

func TestConfirmOrder_AwardsPoints(t *testing.T) {
	server := newTestServer(t)

	body := confirmOrder(t, server, "u-1", "order-1", 150)

	assert.Equal(t, float64(225), body["points_awarded"])
	assert.Equal(t, float64(225), body["points"])
	assert.Equal(t, "seedling", body["tier"])
	assert.Equal(t, false, body["duplicate"])
}

func TestConfirmOrder_RetryIsIdempotent(t *testing.T) {
	server := newTestServer(t)

	confirmOrder(t, server, "u-1", "order-1", 150)
	body := confirmOrder(t, server, "u-1", "order-1", 150)

	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, float64(0), body["points_awarded"])
	assert.Equal(t, float64(225), body["points"])
}

func TestConfirmOrder_RejectsNonFiniteAmount(t *testing.T) {
	server := newTestServer(t)

	// NaN is not representable in JSON; a string amount is the realistic
	// malformed payload from a buggy caller.
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/orders/confirm", map[string]any{
		"user_id":  "u-1",
		"order_id": "order-1",
		"amount":   "fifty",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["code"])
}

func TestConfirmOrder_MissingOrderID(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/orders/confirm", map[string]any{
		"user_id": "u-1",
		"amount":  50,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["code"])
}

// =============================================================================
// STATUS AND HISTORY
// =============================================================================

func TestGetStatus_NewAccount(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/loyalty/u-new/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "u-new", body["user_id"])
	assert.Equal(t, float64(0), body["points"])
	assert.Equal(t, "sprout", body["tier"])
	assert.Equal(t, false, body["is_eligible"])
	assert.Equal(t, false, body["card_issued"])
}

func TestGetHistory_ListsEntries(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 50)
	confirmOrder(t, server, "u-1", "order-2", 150)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/loyalty/u-1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	history, ok := body["history"].([]any)
	require.True(t, ok)
	assert.Len(t, history, 2)

	first := history[0].(map[string]any)
	assert.Equal(t, "order_processed", first["source"])
	assert.Equal(t, "order-1", first["order_id"])
}

// =============================================================================
// REDEMPTION
// =============================================================================

func TestRedeem_Success(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 150) // 225 points

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/redeem",
		map[string]any{"reward": "discount-15"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Equal(t, "discount-15", body["reward"])
	assert.Equal(t, float64(200), body["points_spent"])
	assert.Equal(t, float64(25), body["remaining_points"])
	assert.NotEmpty(t, body["entry_id"])
}

func TestRedeem_InsufficientPointsCarriesShortfall(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 30)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/redeem",
		map[string]any{"reward": "discount-5"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Equal(t, "insufficient_points", body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, float64(20), details["shortfall"])
	assert.Equal(t, float64(30), details["available"])
}

func TestRedeem_UnknownReward(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/redeem",
		map[string]any{"reward": "time-machine"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])
}

func TestUseReward_ExactlyOnce(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 150)

	_, redeemed := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/redeem",
		map[string]any{"reward": "discount-5"})
	entryID := redeemed["entry_id"].(string)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/rewards/"+entryID+"/use", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/rewards/"+entryID+"/use", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "reward_already_used", body["code"])
}

// =============================================================================
// CARD ISSUANCE
// =============================================================================

func TestIssueCard_NotEligible(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 10)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/card", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "not_eligible", body["code"])
}

func TestIssueCard_ThenConflictWithExistingCard(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 5000)

	resp, card := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/card", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, card["card_id"])
	assert.Equal(t, "premium", card["card_type"])
	assert.Equal(t, true, card["active"])
	// 7500 points puts the account in harvester; issuance reports that
	// tier's discount alongside the card.
	assert.Equal(t, float64(12), card["discount_percent"])
	assert.NotEmpty(t, card["expiry_date"])

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/loyalty/u-1/card", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_issued", body["code"])

	existing := body["details"].(map[string]any)
	assert.Equal(t, card["card_id"], existing["card_id"])
}

// =============================================================================
// CATALOG AND ADMIN
// =============================================================================

func TestListTiersAndRewards(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/catalog/tiers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tiers := body["tiers"].([]any)
	assert.Len(t, tiers, 5)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/catalog/rewards", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rewards := body["rewards"].([]any)
	assert.Len(t, rewards, 5)
}

func TestCreateAdjustment(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 100)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/admin/adjustments", map[string]any{
		"user_id": "u-1",
		"points":  -40,
		"reason":  "pricing error refund",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(110), body["points"])
}

func TestCreateAdjustment_FractionalPointsRejected(t *testing.T) {
	server := newTestServer(t)
	confirmOrder(t, server, "u-1", "order-1", 100)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/admin/adjustments", map[string]any{
		"user_id": "u-1",
		"points":  2.5,
		"reason":  "oops",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["code"])
}

func TestCreateAdjustment_UnknownAccount(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/admin/adjustments", map[string]any{
		"user_id": "ghost",
		"points":  10,
		"reason":  "fix",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])
}

func TestPutCatalog_HotSwap(t *testing.T) {
	server := newTestServer(t)

	doc := `
version: 2
tiers:
  - name: basic
    point_threshold: 0
    display_order: 1
rewards:
  - name: voucher
    cost: 10
    type: discount
    value: 5
`
	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/admin/catalog",
		map[string]any{"catalog_yaml": doc})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["version"])

	// Subsequent classification uses the new catalog.
	confirmed := confirmOrder(t, server, "u-1", "order-1", 50)
	assert.Equal(t, "basic", confirmed["tier"])
}

func TestPutCatalog_RejectsInvalidDocument(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPut, server.URL+"/api/admin/catalog",
		map[string]any{"catalog_yaml": "tiers: []"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["code"])
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
