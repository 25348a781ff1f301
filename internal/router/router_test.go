package router_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blues/relief/internal/chain"
	"github.com/blues/relief/internal/handler"
	"github.com/blues/relief/internal/logic"
	"github.com/blues/relief/internal/model"
	"github.com/blues/relief/internal/poller"
	"github.com/blues/relief/internal/repository"
	"github.com/blues/relief/internal/router"
	"github.com/blues/relief/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubmitter struct {
	pending bool
}

func (s *stubSubmitter) CreateCampaign(ctx context.Context, title, description string, goalWei *big.Int) (*chain.SubmitResult, error) {
	return &chain.SubmitResult{TxHash: common.HexToHash("0x01"), Pending: true}, nil
}

func (s *stubSubmitter) Withdraw(ctx context.Context, onchainId int64, amountWei *big.Int) (*chain.SubmitResult, error) {
	return &chain.SubmitResult{TxHash: common.HexToHash("0x02"), Nonce: 4, GasPrice: big.NewInt(12), Pending: s.pending}, nil
}

func (s *stubSubmitter) SetActive(ctx context.Context, onchainId int64, active bool) (*chain.SubmitResult, error) {
	return &chain.SubmitResult{TxHash: common.HexToHash("0x03")}, nil
}

type stubSyncer struct{}

func (stubSyncer) Resync(ctx context.Context, onchainId int64) (poller.SyncResult, error) {
	return poller.SyncResult{FromBlock: 10, ToBlock: 20, Inserted: 1}, nil
}

func (stubSyncer) ResyncKind(ctx context.Context, onchainId int64, kind model.LedgerKind) (poller.SyncResult, error) {
	return poller.SyncResult{}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setup(t *testing.T, submitter logic.Submitter) (*gin.Engine, *repository.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := repository.NewStore(testutil.NewDB(t))
	bg := logic.NewBackground(context.Background())
	t.Cleanup(bg.Wait)
	return router.Setup(logic.NewCampaignLogic(store, submitter, stubSyncer{}, bg)), store
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.ActorHeader, "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestCreateAndListCampaigns(t *testing.T) {
	r, _ := setup(t, nil)

	code, env := do(t, r, http.MethodPost, "/api/v1/campaigns", `{"title":"Flood","goal_amount":"10","auto_disburse":true}`)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, env.Success)

	var created model.CampaignModel
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "Flood", created.Title)
	assert.True(t, created.AutoDisburse)

	code, env = do(t, r, http.MethodPost, "/api/v1/campaigns", `{"title":"Bad","goal_amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)

	code, _ = do(t, r, http.MethodPost, "/api/v1/campaigns", `{"goal_amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/campaigns", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)

	code, _ = do(t, r, http.MethodGet, "/api/v1/campaigns/999", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, r, http.MethodGet, "/api/v1/campaigns/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminRoutes(t *testing.T) {
	r, store := setup(t, &stubSubmitter{pending: true})
	db := store.DB()
	offchain := testutil.CreateCampaign(t, db, nil, "10")
	onchain := testutil.CreateCampaign(t, db, testutil.Int64(3), "10")

	code, _ := do(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/campaigns/%d/withdraw", offchain.Id), `{"amount":"1"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, env := do(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/campaigns/%d/withdraw", onchain.Id), `{"amount":"1.5"}`)
	require.Equal(t, http.StatusAccepted, code)
	var withdraw handler.WithdrawResponse
	require.NoError(t, json.Unmarshal(env.Data, &withdraw))
	assert.True(t, withdraw.Pending)
	assert.Equal(t, uint64(4), withdraw.Nonce)
	assert.Equal(t, "12", withdraw.GasPrice)

	code, _ = do(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/campaigns/%d/active", onchain.Id), `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/campaigns/%d/active", onchain.Id), `{"active":false}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/campaigns/%d/visibility", onchain.Id), `{"is_visible":false}`)
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodPost, fmt.Sprintf("/api/v1/admin/campaigns/%d/sync", onchain.Id), "")
	require.Equal(t, http.StatusOK, code)
	var sync poller.SyncResult
	require.NoError(t, json.Unmarshal(env.Data, &sync))
	assert.Equal(t, 1, sync.Inserted)

	code, env = do(t, r, http.MethodGet, "/api/v1/admin/audit-logs?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	var entries []model.AuditLogModel
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, "alice", e.Actor)
	}

	got, err := store.GetCampaign(context.Background(), onchain.Id)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusClosed, got.Status)
	assert.False(t, got.IsVisible)
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := setup(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
