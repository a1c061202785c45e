package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-order-orchestrator/internal/locking"
	"github.com/ariefcatur/go-order-orchestrator/internal/memory"
	"github.com/ariefcatur/go-order-orchestrator/internal/metrics"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/payment"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type testEnv struct {
	store *memory.Store
	svc   *orders.Service
	srv   *httptest.Server
}

func newTestEnv(t *testing.T, checks ...Check) *testEnv {
	t.Helper()
	store := memory.New()
	store.Seed([]orders.Product{
		{ID: 1, Name: "Keyboard", Price: orders.MustMoney("69.99"), Stock: 10},
		{ID: 2, Name: "Cable", Price: orders.MustMoney("9.99"), Stock: 50},
		{ID: 3, Name: "Headphones", Price: orders.MustMoney("299.99"), Stock: 1},
	})
	svc := &orders.Service{
		Orders:   store.Orders(),
		Products: store.Products(),
		Tx:       store,
		Locker:   locking.NewMemoryLocker(nil, locking.DefaultBackoff(), nil),
		Payments: payment.NewSimulated(1, 0, 0),
	}
	r := NewRouter(nil, metrics.NewRegistry(), checks...)
	(&OrdersHandler{Service: svc}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{store: store, svc: svc, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var out map[string]any
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(res.Body)
	if buf.Len() > 0 {
		if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: body %q is not json: %v", method, path, buf.String(), err)
		}
	}
	return res, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("no data object in %v", body)
	}
	return d
}

const createBody = `{"user_id": 7, "idempotency_key": "k-1", "items": [{"product_id": 1, "quantity": 2}, {"product_id": 2, "quantity": 3}]}`

func TestCreateOrderThenDuplicate(t *testing.T) {
	e := newTestEnv(t)

	res, body := e.do(t, http.MethodPost, "/orders", createBody)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d body=%v", res.StatusCode, body)
	}
	d := data(t, body)
	if d["status"] != "PENDING" || d["total_amount"] != "169.95" {
		t.Fatalf("unexpected order %v", d)
	}
	items := d["items"].([]any)
	first := items[0].(map[string]any)
	if first["unit_price"] != "69.99" || first["line_total"] != "139.98" {
		t.Fatalf("item snapshot %v", first)
	}
	if res.Header.Get(HeaderTraceID) == "" {
		t.Fatalf("missing %s header", HeaderTraceID)
	}

	res2, body2 := e.do(t, http.MethodPost, "/orders", createBody)
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d", res2.StatusCode)
	}
	if data(t, body2)["id"] != d["id"] {
		t.Fatalf("duplicate returned a different order")
	}
	if n, _ := e.store.Stock(1); n != 8 {
		t.Fatalf("stock decremented twice: %d", n)
	}
}

func TestCreateOrderErrors(t *testing.T) {
	e := newTestEnv(t)
	cases := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"bad json", `{"user_id":`, http.StatusBadRequest, CodeValidation},
		{"no items", `{"user_id": 1, "idempotency_key": "a", "items": []}`, http.StatusUnprocessableEntity, CodeValidation},
		{"zero quantity", `{"user_id": 1, "idempotency_key": "a", "items": [{"product_id": 1, "quantity": 0}]}`, http.StatusUnprocessableEntity, CodeValidation},
		{"missing key", `{"user_id": 1, "items": [{"product_id": 1, "quantity": 1}]}`, http.StatusUnprocessableEntity, CodeValidation},
		{"long key", `{"user_id": 1, "idempotency_key": "` + strings.Repeat("x", 256) + `", "items": [{"product_id": 1, "quantity": 1}]}`, http.StatusUnprocessableEntity, CodeValidation},
		{"unknown product", `{"user_id": 1, "idempotency_key": "b", "items": [{"product_id": 99, "quantity": 1}]}`, http.StatusUnprocessableEntity, CodeDomain},
		{"oversell", `{"user_id": 1, "idempotency_key": "c", "items": [{"product_id": 3, "quantity": 2}]}`, http.StatusConflict, CodeInsufficientStock},
	}
	for _, tc := range cases {
		res, body := e.do(t, http.MethodPost, "/orders", tc.body)
		if res.StatusCode != tc.code || body["error_code"] != tc.err {
			t.Fatalf("%s: status=%d body=%v", tc.name, res.StatusCode, body)
		}
	}
	if n, _ := e.store.Stock(3); n != 1 {
		t.Fatalf("failed create changed stock: %d", n)
	}
}

func TestLockConflictIs409(t *testing.T) {
	e := newTestEnv(t)
	reg := locking.NewRegistry()
	e.svc.Locker = locking.NewMemoryLocker(reg, locking.Backoff{}, nil)
	held := e.svc.Locker.Session()
	if ok, _ := held.AcquireForProducts(context.Background(), []int64{1}, time.Minute); !ok {
		t.Fatal("could not pre-acquire")
	}
	defer held.ReleaseAll(context.Background())

	res, body := e.do(t, http.MethodPost, "/orders", createBody)
	if res.StatusCode != http.StatusConflict || body["error_code"] != CodeLockConflict {
		t.Fatalf("status=%d body=%v", res.StatusCode, body)
	}
}

func TestGetAndCancel(t *testing.T) {
	e := newTestEnv(t)
	_, body := e.do(t, http.MethodPost, "/orders", createBody)
	id := int64(data(t, body)["id"].(float64))
	path := "/orders/" + jsonInt(id)

	res, body := e.do(t, http.MethodGet, path, "")
	if res.StatusCode != http.StatusOK || data(t, body)["idempotency_key"] != "k-1" {
		t.Fatalf("get: %d %v", res.StatusCode, body)
	}

	res, body = e.do(t, http.MethodPost, path+"/cancel", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %v", res.StatusCode, body)
	}
	d := data(t, body)
	if d["status"] != "CANCELLED" || d["cancelled_at"] == nil {
		t.Fatalf("cancelled order %v", d)
	}
	if n, _ := e.store.Stock(1); n != 10 {
		t.Fatalf("stock not restored: %d", n)
	}

	res, _ = e.do(t, http.MethodPost, path+"/cancel", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second cancel: %d", res.StatusCode)
	}

	for _, p := range []string{"/orders/999", "/orders/abc", "/orders/999/cancel"} {
		method := http.MethodGet
		if strings.HasSuffix(p, "/cancel") {
			method = http.MethodPost
		}
		res, body := e.do(t, method, p, "")
		if res.StatusCode != http.StatusNotFound || body["error_code"] != CodeNotFound {
			t.Fatalf("%s: %d %v", p, res.StatusCode, body)
		}
	}
}

func TestCancelPaidOrderIs422(t *testing.T) {
	e := newTestEnv(t)
	_, body := e.do(t, http.MethodPost, "/orders", createBody)
	id := int64(data(t, body)["id"].(float64))
	if err := e.svc.ProcessOrder(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	res, body := e.do(t, http.MethodPost, "/orders/"+jsonInt(id)+"/cancel", "")
	if res.StatusCode != http.StatusUnprocessableEntity || body["error_code"] != CodeInvalidTransition {
		t.Fatalf("status=%d body=%v", res.StatusCode, body)
	}
}

func TestListOrders(t *testing.T) {
	e := newTestEnv(t)
	for _, key := range []string{"a", "b", "c"} {
		b := `{"user_id": 5, "idempotency_key": "` + key + `", "items": [{"product_id": 2, "quantity": 1}]}`
		if res, body := e.do(t, http.MethodPost, "/orders", b); res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: %v", key, body)
		}
	}

	res, body := e.do(t, http.MethodGet, "/orders?user_id=5&per_page=2&page=2", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %v", res.StatusCode, body)
	}
	meta := body["meta"].(map[string]any)
	if meta["total"] != float64(3) || meta["last_page"] != float64(2) || meta["current_page"] != float64(2) {
		t.Fatalf("meta %v", meta)
	}
	if got := body["data"].([]any); len(got) != 1 {
		t.Fatalf("page 2 has %d orders", len(got))
	}

	res, body = e.do(t, http.MethodGet, "/orders?user_id=5&page=4611686018427387905", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("huge page: %d %v", res.StatusCode, body)
	}
	if got := body["data"].([]any); len(got) != 0 {
		t.Fatalf("huge page has %d orders", len(got))
	}

	_, body = e.do(t, http.MethodGet, "/orders?user_id=5&status=PAID", "")
	if got := body["data"].([]any); len(got) != 0 {
		t.Fatalf("PAID filter returned %d", len(got))
	}

	for _, q := range []string{"", "?user_id=5&per_page=51", "?user_id=5&page=0", "?user_id=5&status=SHIPPED", "?user_id=x"} {
		res, body := e.do(t, http.MethodGet, "/orders"+q, "")
		if res.StatusCode != http.StatusUnprocessableEntity || body["error_code"] != CodeValidation {
			t.Fatalf("%q: %d %v", q, res.StatusCode, body)
		}
	}
}

func TestListProducts(t *testing.T) {
	e := newTestEnv(t)
	res, body := e.do(t, http.MethodGet, "/products", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	list := body["data"].([]any)
	if len(list) != 3 {
		t.Fatalf("products = %d", len(list))
	}
	first := list[0].(map[string]any)
	if first["id"] != float64(1) || first["price"] != "69.99" || first["stock"] != float64(10) {
		t.Fatalf("first product %v", first)
	}
}

func TestHealthz(t *testing.T) {
	ok := newTestEnv(t, Check{Name: "database", Ping: func(context.Context) error { return nil }})
	res, body := ok.do(t, http.MethodGet, "/healthz", "")
	if res.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthy: %d %v", res.StatusCode, body)
	}

	bad := newTestEnv(t,
		Check{Name: "database", Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }},
	)
	res, body = bad.do(t, http.MethodGet, "/healthz", "")
	if res.StatusCode != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("degraded: %d %v", res.StatusCode, body)
	}
	services := body["services"].(map[string]any)
	if services["redis"] != "disconnected" || services["database"] != "connected" {
		t.Fatalf("services %v", services)
	}
}

func TestTraceIDPropagates(t *testing.T) {
	e := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/products", nil)
	req.Header.Set(HeaderTraceID, "trace-abc")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if got := res.Header.Get(HeaderTraceID); got != "trace-abc" {
		t.Fatalf("trace id = %q", got)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
