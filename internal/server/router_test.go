package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"darkpool-indexer/internal/event"
	"darkpool-indexer/internal/handler"
	"darkpool-indexer/internal/model"
	"darkpool-indexer/internal/service/applicator"
	"darkpool-indexer/internal/service/mq"
	"darkpool-indexer/internal/store/storetest"
	"darkpool-indexer/pkg/errno"
	"darkpool-indexer/pkg/stream"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	app    *applicator.Applicator
	queue  *mq.MemoryQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := storetest.New(t)
	q := mq.NewMemoryQueue()
	app := applicator.New(st, q, 2, zap.NewNop())
	r := NewHTTPRouter(Handlers{
		Health:   handler.NewHealthHandler(st),
		Accounts: handler.NewAccountHandler(app),
		Messages: handler.NewMessageHandler(q),
		Objects:  handler.NewObjectHandler(app),
	})
	return &testServer{router: r, app: app, queue: q}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, errno.OK.Code, env.Code)

	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "indexer_")
}

type downDB struct{}

func (downDB) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthReportsDatabaseDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", handler.NewHealthHandler(downDB{}).HealthCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmitRegisterAndReadState(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	account := uuid.New()
	seed := stream.MustParseScalar("0xabc")

	payload, err := json.Marshal(event.RegisterMasterViewSeed{AccountID: account, Seed: seed})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{"type": event.TypeRegisterMasterViewSeed, "payload": json.RawMessage(payload)})
	require.NoError(t, err)

	_, env := s.do(t, http.MethodPost, "/api/v1/messages", body)
	require.Equal(t, errno.OK.Code, env.Code, env.Msg)
	require.Equal(t, 1, s.queue.Len())

	// 还没被 worker 处理，账户不存在
	_, env = s.do(t, http.MethodGet, "/api/v1/accounts/"+account.String()+"/state", nil)
	assert.Equal(t, errno.ErrAccountNotFound.Code, env.Code)

	ds, err := s.queue.Poll(ctx, 1, 0)
	require.NoError(t, err)
	queued, err := event.Decode(ds[0].Payload)
	require.NoError(t, err)
	outcome, err := s.app.Apply(ctx, queued)
	require.NoError(t, err)
	require.Equal(t, applicator.Applied, outcome)

	r0, k0 := stream.Derive(seed, 0)
	ct, err := event.Share{Mint: common.HexToAddress("0x02"), Amount: big.NewInt(42)}.Seal(k0)
	require.NoError(t, err)
	reg, err := event.NewRecoveryIDRegistered("base", event.RecoveryIDRegistered{RecoveryID: r0, Kind: model.KindBalance, Ciphertext: ct, Block: 9})
	require.NoError(t, err)
	_, err = s.app.Apply(ctx, reg)
	require.NoError(t, err)

	_, env = s.do(t, http.MethodGet, "/api/v1/accounts/"+account.String()+"/state", nil)
	require.Equal(t, errno.OK.Code, env.Code)
	var state applicator.State
	require.NoError(t, json.Unmarshal(env.Data, &state))
	require.Len(t, state.Balances, 1)
	assert.Equal(t, r0, state.Balances[0].RecoveryID)
	assert.Equal(t, "42", state.Balances[0].Amount.String())

	_, env = s.do(t, http.MethodPost, "/api/v1/accounts/"+account.String()+"/backfill", nil)
	require.Equal(t, errno.OK.Code, env.Code)
	var res applicator.BackfillResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 0, res.Derived)

	_, env = s.do(t, http.MethodGet, "/api/v1/objects/"+r0.Hex(), nil)
	require.Equal(t, errno.OK.Code, env.Code, env.Msg)
	var obj applicator.Object
	require.NoError(t, json.Unmarshal(env.Data, &obj))
	assert.Equal(t, model.KindBalance, obj.Kind)
	require.NotNil(t, obj.Balance)
	assert.Equal(t, account, obj.Balance.AccountID)
	assert.Nil(t, obj.Intent)
}

func TestObjectLookupErrors(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, http.MethodGet, "/api/v1/objects/0x1234", nil)
	assert.Equal(t, errno.ErrObjectNotFound.Code, env.Code)

	_, env = s.do(t, http.MethodGet, "/api/v1/objects/not-hex", nil)
	assert.Equal(t, errno.ErrInvalidRecoveryID.Code, env.Code)
	assert.Contains(t, env.Msg, "RecoveryID")
}

func TestSubmitRejectsChainEvents(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"type":"nullifier_spent","payload":{"nullifier":"0x01"}}`)
	_, env := s.do(t, http.MethodPost, "/api/v1/messages", body)
	assert.Equal(t, errno.ErrUnsupportedSubmit.Code, env.Code)

	body = []byte(`{"type":"register_master_view_seed","payload":{"account_id":"00000000-0000-0000-0000-000000000000"}}`)
	_, env = s.do(t, http.MethodPost, "/api/v1/messages", body)
	assert.Equal(t, errno.ErrInvalidMessage.Code, env.Code)

	_, env = s.do(t, http.MethodPost, "/api/v1/messages", []byte(`not json`))
	assert.Equal(t, errno.ErrBind.Code, env.Code)
	assert.Equal(t, 0, s.queue.Len())
}

func TestInvalidAccountID(t *testing.T) {
	s := newTestServer(t)
	_, env := s.do(t, http.MethodGet, "/api/v1/accounts/not-a-uuid/state", nil)
	assert.Equal(t, errno.ErrInvalidAccountID.Code, env.Code)
}
