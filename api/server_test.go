package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnledger/lnledger/ledger"
	"github.com/lnledger/lnledger/sqldb"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestAPI wires a full stack (sqlite store, service, HTTP gateway) and
// returns a test server in front of it.
func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()

	db := sqldb.NewTestSqliteDB(t)
	testClock := clock.NewTestClock(testTime)
	store := ledger.NewSQLStoreFromDB(db.BaseDB, testClock)

	service := ledger.NewService(&ledger.ServiceConfig{
		DB:    store,
		Clock: testClock,
	})
	require.NoError(t, service.Start())
	t.Cleanup(func() {
		require.NoError(t, service.Stop())
	})

	server := NewServer(Config{
		Service: service,
	})

	srv := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(srv.Close)

	return srv
}

// doJSON posts a JSON body and decodes the JSON response.
func doJSON(t *testing.T, method, url string, body any,
	result any) *http.Response {

	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if result != nil {
		require.NoError(
			t, json.NewDecoder(resp.Body).Decode(result),
		)
	}

	return resp
}

func createRequest(hash string) CreatePaymentRequest {
	return CreatePaymentRequest{
		Kind:        "incoming",
		PaymentHash: hash,
		AmountMsat:  10_000,
		Description: "coffee",
	}
}

const testHash = "8f3d9f0dd0496b0a45b794db22f353431cf41da1d16c1a6e89b1a0c552d1e9f0"

// TestCreateAndLookup exercises the create endpoint and the three lookup
// endpoints, including their error statuses.
func TestCreateAndLookup(t *testing.T) {
	t.Parallel()

	srv := newTestAPI(t)

	var created Payment
	resp := doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments",
		createRequest(testHash), &created,
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "incoming", created.Direction)
	require.Equal(t, testHash, created.PaymentHash)
	require.Equal(t, testTime.UnixMilli(), created.CreatedAt)

	// Lookup by id.
	var byID Payment
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments/"+created.ID, nil,
		&byID,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, created.ID, byID.ID)

	// Lookup by hash.
	var byHash Payment
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments/hash/"+testHash,
		nil, &byHash,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, created.ID, byHash.ID)

	// Unknown id and unknown hash are 404s.
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments/unknown", nil, nil,
	)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	otherHash := strings.Repeat("11", 32)
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments/hash/"+otherHash,
		nil, nil,
	)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A malformed hash is a 400, not a 404.
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments/hash/zz", nil, nil,
	)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestCreateConflicts asserts the duplicate taxonomy maps to 409.
func TestCreateConflicts(t *testing.T) {
	t.Parallel()

	srv := newTestAPI(t)

	var created Payment
	resp := doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments",
		createRequest(testHash), &created,
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Same hash, fresh id.
	resp = doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments",
		createRequest(testHash), nil,
	)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Same id, fresh hash.
	dupe := createRequest(strings.Repeat("22", 32))
	dupe.ID = created.ID
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/payments", dupe, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Incoming without a hash is a 400.
	resp = doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments",
		createRequest(""), nil,
	)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestSettleEndpoint exercises the settlement endpoint and its error
// statuses.
func TestSettleEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestAPI(t)

	var created Payment
	resp := doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments",
		createRequest(testHash), &created,
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var settled Payment
	resp = doJSON(
		t, http.MethodPost,
		srv.URL+"/v1/payments/"+created.ID+"/settle",
		SettlePaymentRequest{TxID: "cafe"}, &settled,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, settled.SettledAt)
	require.Equal(t, "settled", settled.Status)
	require.Equal(t, "cafe", settled.TxID)

	// Settling an unknown id is a 404.
	resp = doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments/ghost/settle",
		SettlePaymentRequest{}, nil,
	)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestFailEndpoint asserts a failed status records the failure without a
// settlement time, keeping the payment out of the settled listing.
func TestFailEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestAPI(t)

	var created Payment
	resp := doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments",
		createRequest(testHash), &created,
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var failed Payment
	resp = doJSON(
		t, http.MethodPost,
		srv.URL+"/v1/payments/"+created.ID+"/settle",
		SettlePaymentRequest{Status: "failed"}, &failed,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "failed", failed.Status)
	require.Nil(t, failed.SettledAt)

	var page PaymentPage
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments/settled", nil, &page,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, page.Payments)
}

// TestListEndpoints exercises the paginated listings and their parameter
// validation.
func TestListEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestAPI(t)

	for i := 0; i < 5; i++ {
		req := createRequest(fmt.Sprintf("%064x", i+1))
		req.ExternalID = "batch-1"
		resp := doJSON(
			t, http.MethodPost, srv.URL+"/v1/payments", req, nil,
		)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	var page PaymentPage
	resp := doJSON(
		t, http.MethodGet,
		srv.URL+"/v1/payments?direction=incoming&limit=3", nil, &page,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Payments, 3)
	require.EqualValues(t, 3, page.Limit)

	resp = doJSON(
		t, http.MethodGet,
		srv.URL+"/v1/payments?external_id=batch-1&limit=10", nil,
		&page,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Payments, 5)

	// Nothing is settled yet.
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments/settled", nil, &page,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, page.Payments)

	// Parameter validation.
	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments?direction=sideways",
		nil, nil,
	)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(
		t, http.MethodGet, srv.URL+"/v1/payments?limit=-1", nil, nil,
	)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestEventStream subscribes over the websocket endpoint and asserts ledger
// writes show up as events.
func TestEventStream(t *testing.T) {
	t.Parallel()

	srv := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var created Payment
	resp := doJSON(
		t, http.MethodPost, srv.URL+"/v1/payments",
		createRequest(testHash), &created,
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var event PaymentEvent
	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, "accepted", event.Event)
	require.Equal(t, created.ID, event.Payment.ID)

	resp = doJSON(
		t, http.MethodPost,
		srv.URL+"/v1/payments/"+created.ID+"/settle",
		SettlePaymentRequest{}, nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.ReadJSON(&event))
	require.Equal(t, "settled", event.Event)
	require.Equal(t, created.ID, event.Payment.ID)
}
