package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-flower-orders/internal/events"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	"github.com/ariefcatur/go-flower-orders/internal/memory"
	"github.com/ariefcatur/go-flower-orders/internal/metrics"
	"github.com/ariefcatur/go-flower-orders/internal/orders"
	"github.com/ariefcatur/go-flower-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type memIdem struct {
	mu   sync.Mutex
	keys map[string]string
}

func idemKey(orderID, key string) string { return orderID + ":" + key }

func (m *memIdem) Reserve(_ context.Context, orderID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[idemKey(orderID, key)]
	if !ok {
		m.keys[idemKey(orderID, key)] = "pending"
		return "", true, nil
	}
	if v == "pending" {
		return "", false, redisx.ErrInFlight
	}
	return v, false, nil
}

func (m *memIdem) Complete(_ context.Context, orderID, key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[idemKey(orderID, key)] = id
	return nil
}

func (m *memIdem) Release(_ context.Context, orderID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, idemKey(orderID, key))
	return nil
}

type cachedStatus struct {
	status string
	at     time.Time
	dead   bool
}

// memStatus keeps the newest entry per order like redisx.StatusCache.
type memStatus struct {
	mu      sync.Mutex
	entries map[string]cachedStatus
	gets    int
}

func (m *memStatus) Get(_ context.Context, id string) (string, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	e, ok := m.entries[id]
	if !ok || e.dead {
		return "", time.Time{}, false, nil
	}
	return e.status, e.at, true, nil
}

func (m *memStatus) Set(_ context.Context, id, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && (e.dead || e.at.After(at)) {
		return nil
	}
	m.entries[id] = cachedStatus{status: status, at: at}
	return nil
}

func (m *memStatus) Invalidate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = cachedStatus{dead: true}
	return nil
}

type staticStock map[string]int

func (s staticStock) Stock(_ context.Context, id string) (int, time.Time, bool, error) {
	v, ok := s[id]
	return v, time.Unix(0, 0).UTC(), ok, nil
}

type testServer struct {
	srv    *httptest.Server
	store  *memory.Store
	idem   *memIdem
	status *memStatus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ts := &testServer{
		store:  store,
		idem:   &memIdem{keys: map[string]string{}},
		status: &memStatus{entries: map[string]cachedStatus{}},
	}
	h := &OrdersHandler{
		Service: &orders.Service{
			Store:     store,
			Ledger:    inventory.NewLedger(m),
			Publisher: events.NopPublisher{},
			Metrics:   m,
			Producer:  "http-test",
		},
		Idem:   ts.idem,
		Status: ts.status,
		Stock:  staticStock{},
	}
	r := NewRouter(zap.NewNop(), 5*time.Second, reg)
	h.Register(r)
	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (ts *testServer) flower(stock int) string {
	id := uuid.NewString()
	ts.store.PutFlower(orders.Flower{ID: id, Name: "peony", Price: 3000, Stock: stock})
	return id
}

func (ts *testServer) order(t *testing.T) orders.Order {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/orders", orders.NewOrder{
		Name: "Aziza", PhoneNumber: "+998901112233", Address: "Samarkand", TelegramUsername: "@aziza",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var o orders.Order
	require.NoError(t, json.Unmarshal(body, &o))
	return o
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	o := ts.order(t)
	resp, _ = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: ts.flower(1), Quantity: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "stock_decrements_total")
}

func TestCreateItem_StatusCodesFollowErrorKind(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	flowerID := ts.flower(3)

	resp, body := ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 2, Price: 3000})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 2, Price: 3000})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	e := decodeError(t, body)
	assert.Equal(t, "insufficient_stock", e.Error)
	assert.Equal(t, []inventory.Shortage{{FlowerID: flowerID, Required: 2, Available: 1}}, e.Shortages)

	resp, body = ts.do(t, http.MethodPost, "/orders/"+uuid.NewString()+"/items", createItemReq{FlowerID: flowerID, Quantity: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, body).Error)

	resp, body = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decodeError(t, body).Error)

	resp, _ = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", "{broken")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateItem_IdempotencyKeyReplaysWithoutSecondDecrement(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	flowerID := ts.flower(10)
	req := createItemReq{FlowerID: flowerID, Quantity: 4, Price: 3000}

	resp, body := ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", req, headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first orders.OrderItem
	require.NoError(t, json.Unmarshal(body, &first))

	resp, body = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", req, headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var replay orders.OrderItem
	require.NoError(t, json.Unmarshal(body, &replay))
	assert.Equal(t, first.ID, replay.ID)

	stock, _ := ts.store.Stock(flowerID)
	assert.Equal(t, 6, stock)
}

func TestCreateItem_FailedAttemptReleasesKey(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	flowerID := ts.flower(1)

	resp, _ := ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 2}, headerIdempotencyKey, "k-2")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotContains(t, ts.idem.keys, idemKey(o.ID, "k-2"))

	resp, _ = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 1}, headerIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateItem_InFlightKeyConflicts(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	ts.idem.keys[idemKey(o.ID, "k-3")] = "pending"

	resp, body := ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: ts.flower(5), Quantity: 1}, headerIdempotencyKey, "k-3")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "idempotency_conflict", decodeError(t, body).Error)
}

func TestCreateItem_SameKeyOnAnotherOrderIsNotAReplay(t *testing.T) {
	ts := newTestServer(t)
	a, b := ts.order(t), ts.order(t)
	flowerID := ts.flower(10)
	req := createItemReq{FlowerID: flowerID, Quantity: 2, Price: 3000}

	resp, body := ts.do(t, http.MethodPost, "/orders/"+a.ID+"/items", req, headerIdempotencyKey, "shared")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first orders.OrderItem
	require.NoError(t, json.Unmarshal(body, &first))

	resp, body = ts.do(t, http.MethodPost, "/orders/"+b.ID+"/items", req, headerIdempotencyKey, "shared")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var second orders.OrderItem
	require.NoError(t, json.Unmarshal(body, &second))

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, a.ID, first.OrderID)
	assert.Equal(t, b.ID, second.OrderID)
	stock, _ := ts.store.Stock(flowerID)
	assert.Equal(t, 6, stock)
}

func TestPutStatus_PaysAndWritesThroughCache(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	flowerID := ts.flower(5)
	resp, _ := ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st statusResp
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "pending", st.Status)
	assert.False(t, st.Cached)

	_, body = ts.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Cached)

	resp, body = ts.do(t, http.MethodPut, "/orders/"+o.ID+"/status", statusReq{Status: orders.StatusPaid})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var paid orders.Order
	require.NoError(t, json.Unmarshal(body, &paid))
	stock, _ := ts.store.Stock(flowerID)
	assert.Equal(t, 1, stock)
	assert.Equal(t, "paid", ts.status.entries[o.ID].status)

	// a fill from a read that started before the payment loses
	require.NoError(t, ts.status.Set(context.Background(), o.ID, "pending", o.UpdatedAt))

	_, body = ts.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "paid", st.Status)
	assert.True(t, st.Cached)
	assert.True(t, paid.UpdatedAt.Equal(st.UpdatedAt))
}

func TestDeleteOrder_TombstonesStatus(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	resp, _ := ts.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/orders/"+o.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, ts.status.Set(context.Background(), o.ID, "pending", o.UpdatedAt))

	resp, _ = ts.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutStatus_Errors(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	flowerID := ts.flower(2)
	resp, _ := ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ts.store.PutFlower(orders.Flower{ID: flowerID, Name: "peony", Stock: 1})

	resp, body := ts.do(t, http.MethodPut, "/orders/"+o.ID+"/status", statusReq{Status: orders.StatusPaid})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Len(t, decodeError(t, body).Shortages, 1)

	resp, _ = ts.do(t, http.MethodPut, "/orders/"+o.ID+"/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/orders/"+o.ID+"/status", statusReq{Status: "shipped"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/orders/"+uuid.NewString()+"/status", statusReq{Status: orders.StatusPaid})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderAndItemCRUD(t *testing.T) {
	ts := newTestServer(t)
	o := ts.order(t)
	flowerID := ts.flower(10)

	resp, body := ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: flowerID, Quantity: 1, Price: 3000})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var it orders.OrderItem
	require.NoError(t, json.Unmarshal(body, &it))

	resp, body = ts.do(t, http.MethodPatch, "/order-items/"+it.ID, `{"quantity":3,"price":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &it))
	assert.Equal(t, 3, it.Quantity)
	assert.Equal(t, int64(3000), it.Price)

	resp, body = ts.do(t, http.MethodGet, "/orders/"+o.ID+"/items", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var items []orders.OrderItem
	require.NoError(t, json.Unmarshal(body, &items))
	assert.Len(t, items, 1)

	resp, body = ts.do(t, http.MethodPatch, "/orders/"+o.ID, `{"address":"Bukhara"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var got orders.Order
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Bukhara", got.Address)
	assert.Equal(t, "Aziza", got.Name)

	resp, _ = ts.do(t, http.MethodPatch, "/orders/"+o.ID, `{"name":null}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/order-items/"+it.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/order-items/"+it.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []orders.Order
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, _ = ts.do(t, http.MethodDelete, "/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlowerStock_ReportsLedgerAndProjection(t *testing.T) {
	ts := newTestServer(t)
	flowerID := ts.flower(7)

	resp, body := ts.do(t, http.MethodGet, "/flowers/"+flowerID+"/stock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st stockResp
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 7, st.Stock)
	assert.Nil(t, st.Projected)

	resp, _ = ts.do(t, http.MethodGet, "/flowers/"+uuid.NewString()+"/stock", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFlowers_CreateListPatchThenOrder(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/flowers", orders.NewFlower{Name: "tulip", Price: 2500, Stock: 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var f orders.Flower
	require.NoError(t, json.Unmarshal(body, &f))
	assert.Equal(t, 3, f.Stock)

	resp, body = ts.do(t, http.MethodGet, "/flowers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []orders.Flower
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, f.ID, list[0].ID)

	o := ts.order(t)
	resp, _ = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: f.ID, Quantity: 4})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPatch, "/flowers/"+f.ID, `{"stock":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	resp, _ = ts.do(t, http.MethodPost, "/orders/"+o.ID+"/items", createItemReq{FlowerID: f.ID, Quantity: 4})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	stock, _ := ts.store.Stock(f.ID)
	assert.Equal(t, 6, stock)
}

func TestFlowers_Validation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/flowers", orders.NewFlower{Name: "tulip", Stock: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decodeError(t, body).Error)

	resp, _ = ts.do(t, http.MethodPost, "/flowers", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	id := ts.flower(2)
	resp, _ = ts.do(t, http.MethodPatch, "/flowers/"+id, `{"stock":-5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPatch, "/flowers/"+uuid.NewString(), `{"stock":5}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(orders.KindNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(orders.KindInsufficientStock))
	assert.Equal(t, http.StatusBadRequest, statusFor(orders.KindValidation))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(orders.KindTransient))
	assert.Equal(t, http.StatusInternalServerError, statusFor(orders.KindUnknown))
}
