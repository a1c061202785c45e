package orders_test

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-order-orchestrator/internal/locking"
	"github.com/ariefcatur/go-order-orchestrator/internal/memory"
	"github.com/ariefcatur/go-order-orchestrator/internal/metrics"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	tasks []orders.ProcessOrderTask
	notes []orders.Notification
	err   error
}

func (r *recorder) Enqueue(_ context.Context, task orders.ProcessOrderTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return r.err
}

func (r *recorder) Notify(_ context.Context, n orders.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Event
	}
	return out
}

type gateway struct {
	charges atomic.Int32
	result  orders.PaymentResult
	err     error
	delay   time.Duration
}

func (g *gateway) Charge(context.Context, int64, decimal.Decimal) (orders.PaymentResult, error) {
	g.charges.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	return g.result, g.err
}

type fixture struct {
	store *memory.Store
	locks *locking.Registry
	pay   *gateway
	rec   *recorder
	svc   *orders.Service
}

// patient retries long enough that contention never surfaces as a lock failure.
func patient() locking.Backoff {
	return locking.Backoff{MaxRetries: 2000, Base: time.Millisecond, Min: time.Millisecond, Max: 2 * time.Millisecond, Jitter: 0.25}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.Seed([]orders.Product{
		{ID: 1, Name: "Laptop", Price: orders.MustMoney("99.99"), Stock: 50},
		{ID: 2, Name: "Mouse", Price: orders.MustMoney("9.99"), Stock: 50},
		{ID: 3, Name: "Headphones", Price: orders.MustMoney("299.99"), Stock: 1},
	})
	reg := locking.NewRegistry()
	rec := &recorder{}
	pay := &gateway{result: orders.PaymentResult{Success: true}}
	svc := &orders.Service{
		Orders:     store.Orders(),
		Products:   store.Products(),
		Tx:         store,
		Locker:     locking.NewMemoryLocker(reg, patient(), nil),
		Payments:   pay,
		Dispatcher: rec,
		Notifier:   rec,
		Metrics:    metrics.NewRegistry(),
	}
	return &fixture{store: store, locks: reg, pay: pay, rec: rec, svc: svc}
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	n, ok := f.store.Stock(id)
	if !ok {
		t.Fatalf("product %d missing", id)
	}
	return n
}

func input(key string, items ...orders.ItemInput) orders.CreateOrderInput {
	return orders.CreateOrderInput{UserID: 42, IdempotencyKey: key, Items: items, TraceID: "trace-" + key}
}

func item(id int64, qty int) orders.ItemInput { return orders.ItemInput{ProductID: id, Quantity: qty} }

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, input("k1", item(1, 2), item(2, 1)))
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	o := res.Order
	if !res.Created || o.ID == 0 || o.Status != orders.StatusPending {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := orders.FormatMoney(o.TotalAmount); got != "209.97" {
		t.Fatalf("total = %s", got)
	}
	if f.stock(t, 1) != 48 || f.stock(t, 2) != 49 {
		t.Fatalf("stock = %d/%d", f.stock(t, 1), f.stock(t, 2))
	}
	if f.locks.Held(1) || f.locks.Held(2) {
		t.Fatalf("locks still held after create")
	}
	if len(f.rec.tasks) != 1 || f.rec.tasks[0].OrderID != o.ID || f.rec.tasks[0].TraceID != "trace-k1" {
		t.Fatalf("dispatched %v", f.rec.tasks)
	}
	if ev := f.rec.events(); len(ev) != 1 || ev[0] != orders.EventOrderCreated {
		t.Fatalf("notifications %v", ev)
	}
}

func TestCreateOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, input("same", item(1, 2)))
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.CreateOrder(ctx, input("same", item(2, 5)))
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.Order.ID != first.Order.ID {
		t.Fatalf("duplicate created a new order: %+v", second)
	}
	if f.stock(t, 1) != 48 || f.stock(t, 2) != 50 {
		t.Fatalf("duplicate touched stock")
	}
	if len(f.rec.tasks) != 1 {
		t.Fatalf("duplicate dispatched again: %d", len(f.rec.tasks))
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), input("k", item(1, 1), item(3, 2)))
	var ise *orders.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("err = %v", err)
	}
	if ise.ProductID != 3 || ise.Requested != 2 || ise.Available != 1 {
		t.Fatalf("details %+v", ise)
	}
	if f.stock(t, 1) != 50 || f.stock(t, 3) != 1 {
		t.Fatalf("partial reservation leaked")
	}
	if f.store.CountOrders() != 0 || len(f.rec.tasks) != 0 || len(f.rec.notes) != 0 {
		t.Fatalf("side effects after rollback")
	}
	if f.locks.Held(1) || f.locks.Held(3) {
		t.Fatalf("locks not released on failure")
	}
}

func TestCreateOrderUnknownProductRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), input("k", item(1, 3), item(99, 1)))
	if !errors.Is(err, orders.ErrProductNotFound) {
		t.Fatalf("err = %v", err)
	}
	if f.stock(t, 1) != 50 {
		t.Fatalf("stock = %d", f.stock(t, 1))
	}
	if f.locks.Held(1) || f.locks.Held(99) {
		t.Fatalf("locks not released after unknown product")
	}
}

func TestCreateOrderWaitsForInFlightSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved := make(chan int64)
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- f.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
			o := orders.NewOrder(42, "shared", nil)
			if err := tx.SaveOrder(ctx, o); err != nil {
				return err
			}
			saved <- o.ID
			<-release
			return nil
		})
	}()
	winner := <-saved

	type outcome struct {
		res orders.CreateOrderResult
		err error
	}
	loser := make(chan outcome, 1)
	go func() {
		res, err := f.svc.CreateOrder(ctx, input("shared", item(2, 1)))
		loser <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	if err := <-holder; err != nil {
		t.Fatalf("holder: %v", err)
	}

	got := <-loser
	if got.err != nil {
		t.Fatalf("CreateOrder: %v", got.err)
	}
	if got.res.Created || got.res.Order.ID != winner {
		t.Fatalf("want duplicate of order %d, got %+v", winner, got.res)
	}
	if f.stock(t, 2) != 50 || f.locks.Held(2) {
		t.Fatalf("loser kept stock or lock: stock=%d", f.stock(t, 2))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), input("k"))
	if !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateOrderLockConflict(t *testing.T) {
	f := newFixture(t)
	f.svc.Locker = locking.NewMemoryLocker(f.locks, locking.Backoff{MaxRetries: 1, Base: time.Millisecond}, nil)
	held := f.svc.Locker.Session()
	if ok, _ := held.AcquireForProducts(context.Background(), []int64{2}, time.Minute); !ok {
		t.Fatal("pre-acquire failed")
	}

	_, err := f.svc.CreateOrder(context.Background(), input("k", item(1, 1), item(2, 1)))
	var lae *orders.LockAcquisitionError
	if !errors.As(err, &lae) || !errors.Is(err, orders.ErrLockAcquisition) {
		t.Fatalf("err = %v", err)
	}
	if f.locks.Held(1) {
		t.Fatalf("lock on product 1 leaked after conflict on 2")
	}
	if f.stock(t, 1) != 50 || f.store.CountOrders() != 0 {
		t.Fatalf("state changed without locks")
	}
	held.ReleaseAll(context.Background())
}

func TestCreateOrderSideEffectFailuresDoNotFail(t *testing.T) {
	f := newFixture(t)
	f.rec.err = errors.New("broker down")
	res, err := f.svc.CreateOrder(context.Background(), input("k", item(1, 1)))
	if err != nil || !res.Created {
		t.Fatalf("create failed because of post-commit side effect: %v", err)
	}
	if f.stock(t, 1) != 49 {
		t.Fatalf("stock = %d", f.stock(t, 1))
	}
}

func TestConcurrentCreateNeverOversells(t *testing.T) {
	f := newFixture(t)
	const n = 50
	var (
		wg           sync.WaitGroup
		ok, short    atomic.Int32
		unexpectedMu sync.Mutex
		unexpected   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderInput{
				UserID: int64(i + 1), IdempotencyKey: fmt.Sprintf("buyer-%d", i), Items: []orders.ItemInput{item(3, 1)},
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, orders.ErrInsufficientStock):
				short.Add(1)
			default:
				unexpectedMu.Lock()
				unexpected = append(unexpected, err)
				unexpectedMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if ok.Load() != 1 || short.Load() != n-1 {
		t.Fatalf("succeeded=%d insufficient=%d", ok.Load(), short.Load())
	}
	if f.stock(t, 3) != 0 {
		t.Fatalf("stock = %d", f.stock(t, 3))
	}
}

func TestConcurrentCreateSameKeyYieldsOneOrder(t *testing.T) {
	f := newFixture(t)
	const n = 20
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
		errs    atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CreateOrder(context.Background(), input("shared", item(1, 1)))
			if err != nil {
				errs.Add(1)
				return
			}
			if res.Created {
				created.Add(1)
			}
			ids.Store(res.Order.ID, true)
		}()
	}
	wg.Wait()

	distinct := 0
	ids.Range(func(any, any) bool { distinct++; return true })
	if errs.Load() != 0 || created.Load() != 1 || distinct != 1 {
		t.Fatalf("errors=%d created=%d distinct ids=%d", errs.Load(), created.Load(), distinct)
	}
	if f.stock(t, 1) != 49 || f.store.CountOrders() != 1 {
		t.Fatalf("stock=%d orders=%d", f.stock(t, 1), f.store.CountOrders())
	}
}

func TestCancelOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 2), item(2, 3)))

	o, err := f.svc.CancelOrder(ctx, res.Order.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o.Status != orders.StatusCancelled || o.CancelledAt == nil {
		t.Fatalf("cancelled order %+v", o)
	}
	if f.stock(t, 1) != 50 || f.stock(t, 2) != 50 {
		t.Fatalf("stock = %d/%d", f.stock(t, 1), f.stock(t, 2))
	}

	again, err := f.svc.CancelOrder(ctx, res.Order.ID)
	if err != nil || again.Status != orders.StatusCancelled {
		t.Fatalf("second cancel: %+v %v", again, err)
	}
	if f.stock(t, 1) != 50 {
		t.Fatalf("stock restored twice: %d", f.stock(t, 1))
	}
	if ev := f.rec.events(); len(ev) != 2 || ev[1] != orders.EventOrderCancelled {
		t.Fatalf("notifications %v", ev)
	}
	if f.locks.Held(1) || f.locks.Held(2) {
		t.Fatalf("locks still held after cancel")
	}
}

func TestCancelOrderErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CancelOrder(ctx, 404); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("missing order: %v", err)
	}

	res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 1)))
	if err := f.svc.ProcessOrder(ctx, res.Order.ID); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.CancelOrder(ctx, res.Order.ID)
	var nce *orders.NotCancellableError
	if !errors.As(err, &nce) || nce.Status != orders.StatusPaid {
		t.Fatalf("cancel PAID: %v", err)
	}
	if f.stock(t, 1) != 49 {
		t.Fatalf("stock restored for a paid order")
	}
}

func TestConcurrentCancelRestoresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 5)))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CancelOrder(ctx, res.Order.ID); err != nil {
				t.Errorf("cancel: %v", err)
			}
		}()
	}
	wg.Wait()
	if f.stock(t, 1) != 50 {
		t.Fatalf("stock = %d, want 50", f.stock(t, 1))
	}
}

func TestProcessOrderPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 1)))

	if err := f.svc.ProcessOrder(ctx, res.Order.ID); err != nil {
		t.Fatal(err)
	}
	o, _ := f.svc.GetOrder(ctx, res.Order.ID)
	if o.Status != orders.StatusPaid {
		t.Fatalf("status = %s", o.Status)
	}
	if f.stock(t, 1) != 49 {
		t.Fatalf("settlement touched stock")
	}
	ev := f.rec.events()
	if ev[len(ev)-1] != orders.EventOrderPaid {
		t.Fatalf("notifications %v", ev)
	}

	// redelivery is a no-op
	if err := f.svc.ProcessOrder(ctx, res.Order.ID); err != nil {
		t.Fatal(err)
	}
	if f.pay.charges.Load() != 1 {
		t.Fatalf("charged %d times", f.pay.charges.Load())
	}
}

func TestProcessOrderFailed(t *testing.T) {
	for name, g := range map[string]*gateway{
		"declined":      {result: orders.PaymentResult{Success: false, Message: "Simulated payment decline."}},
		"gateway error": {err: errors.New("timeout")},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.Payments = g
			ctx := context.Background()
			res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 1)))

			if err := f.svc.ProcessOrder(ctx, res.Order.ID); err != nil {
				t.Fatal(err)
			}
			o, _ := f.svc.GetOrder(ctx, res.Order.ID)
			if o.Status != orders.StatusFailed {
				t.Fatalf("status = %s", o.Status)
			}
			last := f.rec.notes[len(f.rec.notes)-1]
			if last.Event != orders.EventOrderFailed || last.Reason == "" || last.FailedAt == nil {
				t.Fatalf("failure notification %+v", last)
			}
			// stock stays reserved on failure
			if f.stock(t, 1) != 49 {
				t.Fatalf("stock = %d", f.stock(t, 1))
			}
		})
	}
}

// failingTx fails every transaction after the first n.
type failingTx struct {
	orders.Transactor
	n     int
	calls atomic.Int32
}

func (f *failingTx) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if int(f.calls.Add(1)) > f.n {
		return errors.New("connection reset")
	}
	return f.Transactor.InTx(ctx, fn)
}

func TestProcessOrderLogsStrandedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 1)))

	core, logs := observer.New(zap.ErrorLevel)
	f.svc.Log = zap.New(core)
	f.svc.Tx = &failingTx{Transactor: f.store, n: 1}

	if err := f.svc.ProcessOrder(ctx, res.Order.ID); err == nil {
		t.Fatal("finalize failure was swallowed")
	}
	o, _ := f.svc.GetOrder(ctx, res.Order.ID)
	if o.Status != orders.StatusProcessing {
		t.Fatalf("status = %s", o.Status)
	}
	entries := logs.FilterMessage("settlement_stranded_processing").All()
	if len(entries) != 1 {
		t.Fatalf("stranded order not logged: %v", logs.All())
	}
	if id, ok := entries[0].ContextMap()["order_id"]; !ok || id != res.Order.ID {
		t.Fatalf("log fields %v", entries[0].ContextMap())
	}
}

func TestProcessOrderNoops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.ProcessOrder(ctx, 12345); err != nil {
		t.Fatalf("missing order should be ignored: %v", err)
	}

	res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 1)))
	if _, err := f.svc.CancelOrder(ctx, res.Order.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.ProcessOrder(ctx, res.Order.ID); err != nil {
		t.Fatal(err)
	}
	o, _ := f.svc.GetOrder(ctx, res.Order.ID)
	if o.Status != orders.StatusCancelled || f.pay.charges.Load() != 0 {
		t.Fatalf("cancelled order was settled: %s, charges=%d", o.Status, f.pay.charges.Load())
	}
}

func TestConcurrentProcessChargesOnce(t *testing.T) {
	f := newFixture(t)
	f.pay.delay = 5 * time.Millisecond
	ctx := context.Background()
	res, _ := f.svc.CreateOrder(ctx, input("k", item(1, 1)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.ProcessOrder(ctx, res.Order.ID); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()
	if f.pay.charges.Load() != 1 {
		t.Fatalf("charged %d times", f.pay.charges.Load())
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := f.svc.CreateOrder(ctx, input(fmt.Sprintf("k%d", i), item(2, 1))); err != nil {
			t.Fatal(err)
		}
	}
	page, err := f.svc.ListOrders(ctx, orders.ListQuery{UserID: 42, PerPage: 3})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 || len(page.Orders) != 3 || page.LastPage() != 2 || page.Page != 1 {
		t.Fatalf("page %+v", page)
	}
	if _, err := f.svc.ListOrders(ctx, orders.ListQuery{}); !errors.Is(err, orders.ErrValidation) {
		t.Fatalf("missing user_id accepted")
	}
	ps, _ := f.svc.ListProducts(ctx)
	if len(ps) != 3 || ps[0].ID != 1 {
		t.Fatalf("products %v", ps)
	}
}
