package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RogueTeam/8ball/cmd/gateway/internal/router"
	"github.com/RogueTeam/8ball/gateway"
	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/storage/badgerdb"
	"github.com/RogueTeam/8ball/wallets"
	"github.com/RogueTeam/8ball/wallets/mock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiKey = "secret"

type server struct {
	*httptest.Server
	ctrl   *gateway.Controller
	wallet *mock.Mock
}

func newServer(t *testing.T) (s *server) {
	gin.SetMode(gin.TestMode)

	store, err := badgerdb.Open(badgerdb.Config{InMemory: true})
	require.Nil(t, err, "failed to open database")
	t.Cleanup(func() { store.Close() })

	s = &server{wallet: mock.New(mock.Config{})}
	s.ctrl = gateway.New(gateway.Config{
		Store:            store,
		Wallet:           s.wallet,
		Currency:         "PEPE",
		Timeout:          time.Hour,
		MinConfirmations: 1,
	})

	e := gin.New()
	r := router.Router{
		ProcessInterval: time.Second,
		Gateway:         s.ctrl,
		Base:            e,
		ApiKey:          apiKey,
		Metrics:         s.ctrl.Metrics().Handler(),
	}
	r.Register()

	s.Server = httptest.NewServer(e)
	t.Cleanup(s.Close)
	return s
}

func (s *server) do(t *testing.T, method, path string, body any, out any) (status int) {
	var reader io.Reader
	if body != nil {
		contents, err := json.Marshal(body)
		require.Nil(t, err)
		reader = bytes.NewReader(contents)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.Nil(t, err)
	req.Header.Set(router.ApiKeyHeader, apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer res.Body.Close()

	if out != nil {
		err = json.NewDecoder(res.Body).Decode(out)
		require.Nil(t, err, "failed to decode response")
	}
	return res.StatusCode
}

func Test_Orders(t *testing.T) {
	assertions := assert.New(t)

	s := newServer(t)

	var created router.Order
	status := s.do(t, http.MethodPost, router.OrdersPath, map[string]any{
		"amount":         "1.5",
		"description":    "coffee",
		"customer_email": "customer@example.com",
		"metadata":       map[string]any{"cart": "42"},
	}, &created)
	if !assertions.Equal(http.StatusCreated, status) {
		return
	}
	assertions.Equal(orders.StatusPending, created.Status)
	assertions.Equal("1.50000000", created.AmountDue.String())
	assertions.NotEmpty(created.PaymentAddress)
	assertions.JSONEq(`{"cart":"42"}`, string(created.Metadata))
	assertions.Nil(created.Overpaid)
	assertions.Nil(created.FinalizedAt)

	// Pay more than due
	txId := s.wallet.Receive(created.PaymentAddress, 200_000_000)
	s.wallet.Confirm(txId, 1)
	_, err := s.ctrl.Process(context.TODO())
	assertions.Nil(err)

	var queried router.Order
	status = s.do(t, http.MethodGet, router.OrdersPath+"/"+created.Id.String(), nil, &queried)
	assertions.Equal(http.StatusOK, status)
	assertions.Equal(orders.StatusPaid, queried.Status)
	assertions.Equal("2.00000000", queried.AmountPaid.String())
	if assertions.NotNil(queried.Overpaid) {
		assertions.Equal("0.50000000", queried.Overpaid.String())
	}
	assertions.NotNil(queried.FinalizedAt)
	if assertions.Len(queried.Transactions, 1) {
		assertions.Equal(txId, queried.Transactions[0].TxId)
	}

	var envelope router.ErrorResponse
	status = s.do(t, http.MethodDelete, router.OrdersPath+"/"+created.Id.String(), nil, &envelope)
	assertions.Equal(http.StatusConflict, status)
	assertions.Equal("invalid_transition", envelope.Error.Code)

	var second router.Order
	status = s.do(t, http.MethodPost, router.OrdersPath, map[string]any{"amount": 1}, &second)
	assertions.Equal(http.StatusCreated, status)

	var cancelled router.Order
	status = s.do(t, http.MethodDelete, router.OrdersPath+"/"+second.Id.String(), nil, &cancelled)
	assertions.Equal(http.StatusOK, status)
	assertions.Equal(orders.StatusFailed, cancelled.Status)
	assertions.Equal(orders.FailureReasonCancelled, cancelled.FailureReason)

	var list router.OrderList
	status = s.do(t, http.MethodGet, router.OrdersPath+"?status=paid", nil, &list)
	assertions.Equal(http.StatusOK, status)
	assertions.Equal(1, list.Total)
	assertions.Equal(storage.DefaultLimit, list.Limit)
	if assertions.Len(list.Orders, 1) {
		assertions.Equal(created.Id, list.Orders[0].Id)
	}

	status = s.do(t, http.MethodGet, router.OrdersPath+"?limit=1000&offset=1", nil, &list)
	assertions.Equal(http.StatusOK, status)
	assertions.Equal(2, list.Total)
	assertions.Equal(storage.MaxLimit, list.Limit)
	assertions.Len(list.Orders, 1)
}

func Test_Metadata(t *testing.T) {
	assertions := assert.New(t)

	s := newServer(t)
	body := `{"amount":"1","metadata":{"note":"<b>&</b>","nested":{"n":1}}}`
	req, err := http.NewRequest(http.MethodPost, s.URL+router.OrdersPath, bytes.NewReader([]byte(body)))
	require.Nil(t, err)
	req.Header.Set(router.ApiKeyHeader, apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer res.Body.Close()
	contents, err := io.ReadAll(res.Body)
	require.Nil(t, err)

	assertions.Equal(http.StatusCreated, res.StatusCode)
	assertions.Contains(string(contents), `"metadata":{"note":"<b>&</b>","nested":{"n":1}}`, "metadata is echoed unescaped")

	var created router.Order
	err = json.Unmarshal(contents, &created)
	require.Nil(t, err)

	res, err = func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, s.URL+router.OrdersPath+"/"+created.Id.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(router.ApiKeyHeader, apiKey)
		return http.DefaultClient.Do(req)
	}()
	require.Nil(t, err)
	defer res.Body.Close()
	contents, err = io.ReadAll(res.Body)
	require.Nil(t, err)
	assertions.Contains(string(contents), `"metadata":{"note":"<b>&</b>","nested":{"n":1}}`, "stored metadata is returned unchanged")
}

func Test_Errors(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown order", http.MethodGet, router.OrdersPath + "/" + uuid.NewString(), nil, http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, router.OrdersPath + "/not-a-uuid", nil, http.StatusBadRequest, "invalid_request"},
		{"cancel unknown", http.MethodDelete, router.OrdersPath + "/" + uuid.NewString(), nil, http.StatusNotFound, "not_found"},
		{"zero amount", http.MethodPost, router.OrdersPath, map[string]any{"amount": "0"}, http.StatusBadRequest, "invalid_request"},
		{"negative amount", http.MethodPost, router.OrdersPath, map[string]any{"amount": "-1"}, http.StatusBadRequest, "invalid_request"},
		{"too precise", http.MethodPost, router.OrdersPath, map[string]any{"amount": "0.000000001"}, http.StatusBadRequest, "invalid_request"},
		{"wrapping amount", http.MethodPost, router.OrdersPath, map[string]any{"amount": "184467440737.1"}, http.StatusBadRequest, "invalid_request"},
		{"unstorable amount", http.MethodPost, router.OrdersPath, map[string]any{"amount": "92233720368.54775808"}, http.StatusBadRequest, "invalid_request"},
		{"bad body", http.MethodPost, router.OrdersPath, "amount", http.StatusBadRequest, "invalid_request"},
		{"bad status", http.MethodGet, router.OrdersPath + "?status=done", nil, http.StatusBadRequest, "invalid_request"},
		{"bad limit", http.MethodGet, router.OrdersPath + "?limit=ten", nil, http.StatusBadRequest, "invalid_request"},
		{"bad offset", http.MethodGet, router.OrdersPath + "?offset=-5", nil, http.StatusBadRequest, "invalid_request"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assertions := assert.New(t)

			var envelope router.ErrorResponse
			status := s.do(t, test.method, test.path, test.body, &envelope)
			assertions.Equal(test.status, status)
			assertions.Equal(test.code, envelope.Error.Code)
			assertions.NotEmpty(envelope.Error.Message)
		})
	}

	t.Run("Daemon down", func(t *testing.T) {
		assertions := assert.New(t)

		s.wallet.Fail("getnewaddress", wallets.ErrUnavailable)
		defer s.wallet.Fail("getnewaddress", nil)

		var envelope router.ErrorResponse
		status := s.do(t, http.MethodPost, router.OrdersPath, map[string]any{"amount": "1"}, &envelope)
		assertions.Equal(http.StatusBadGateway, status)
		assertions.Equal("external_service", envelope.Error.Code)
	})
}

func Test_Auth(t *testing.T) {
	assertions := assert.New(t)

	s := newServer(t)
	for _, key := range []string{"", "wrong"} {
		req, err := http.NewRequest(http.MethodGet, s.URL+router.OrdersPath, nil)
		require.Nil(t, err)
		if key != "" {
			req.Header.Set(router.ApiKeyHeader, key)
		}
		res, err := http.DefaultClient.Do(req)
		require.Nil(t, err)

		var envelope router.ErrorResponse
		err = json.NewDecoder(res.Body).Decode(&envelope)
		res.Body.Close()
		assertions.Nil(err)
		assertions.Equal(http.StatusUnauthorized, res.StatusCode)
		assertions.Equal("unauthorized", envelope.Error.Code)
	}

	// Health and metrics stay public
	for _, path := range []string{router.HealthPath, router.MetricsPath} {
		res, err := http.Get(s.URL + path)
		require.Nil(t, err)
		res.Body.Close()
		assertions.Equal(http.StatusOK, res.StatusCode, path)
	}
}

func Test_Health(t *testing.T) {
	assertions := assert.New(t)

	s := newServer(t)
	var health router.Health
	status := s.do(t, http.MethodGet, router.HealthPath, nil, &health)
	assertions.Equal(http.StatusOK, status)
	assertions.Equal("ok", health.Status)
	if assertions.NotNil(health.Balance) {
		assertions.Equal("0.00000000", health.Balance.String())
	}

	s.wallet.Fail("getbalance", wallets.ErrUnavailable)
	status = s.do(t, http.MethodGet, router.HealthPath, nil, &health)
	assertions.Equal(http.StatusServiceUnavailable, status)
	assertions.Equal("unavailable", health.Status)
}

// stub answers every call with err
type stub struct {
	router.Gateway
	err       error
	processed chan struct{}
}

func (s *stub) Receive(ctx context.Context, req *gateway.Receive) (order orders.Order, err error) {
	return order, s.err
}

func (s *stub) Process(ctx context.Context) (result gateway.ProcessResult, err error) {
	s.processed <- struct{}{}
	return result, s.err
}

func Test_ErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrapped: %w", gateway.ErrAddressConflict), http.StatusInternalServerError, "address_conflict"},
		{gateway.ErrPersistenceConflict, http.StatusServiceUnavailable, "persistence_conflict"},
		{gateway.ErrExternalService, http.StatusBadGateway, "external_service"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, test := range tests {
		t.Run(test.code, func(t *testing.T) {
			assertions := assert.New(t)

			e := gin.New()
			r := router.Router{Gateway: &stub{err: test.err}, Base: e}
			r.Register()

			req := httptest.NewRequest(http.MethodPost, router.OrdersPath, bytes.NewBufferString(`{"amount":"1"}`))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			var envelope router.ErrorResponse
			err := json.Unmarshal(rec.Body.Bytes(), &envelope)
			assertions.Nil(err)
			assertions.Equal(test.status, rec.Code)
			assertions.Equal(test.code, envelope.Error.Code)
			if test.code == "internal" {
				assertions.NotContains(envelope.Error.Message, "boom", "internal details stay in the logs")
			}
		})
	}
}

func Test_Loop(t *testing.T) {
	assertions := assert.New(t)

	gw := &stub{processed: make(chan struct{}, 10)}
	r := router.Router{ProcessInterval: 10 * time.Millisecond, Gateway: gw}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Loop(ctx)
	}()

	for range 3 {
		select {
		case <-gw.processed:
		case <-time.After(time.Second):
			t.Fatal("process was not called")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		assertions.Fail("loop did not stop")
	}
}
