// Package memory is an in-process order store and inventory ledger with
// transaction semantics: row locks held until commit or rollback, staged
// writes, and a unique idempotency key.
package memory

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"sort"
	"sync"
	"time"
)

type Store struct {
	mu          sync.Mutex
	products    map[int64]*orders.Product
	orders      map[int64]*orders.Order
	byKey       map[string]int64
	pendingKeys map[string]chan struct{}
	nextOrderID int64

	productRows map[int64]chan struct{}
	orderRows   map[int64]chan struct{}

	now func() time.Time
}

func New() *Store {
	return &Store{
		products:    make(map[int64]*orders.Product),
		orders:      make(map[int64]*orders.Order),
		byKey:       make(map[string]int64),
		pendingKeys: make(map[string]chan struct{}),
		productRows: make(map[int64]chan struct{}),
		orderRows:   make(map[int64]chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PutProduct inserts or replaces a catalog row.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	s.products[p.ID] = &p
}

func (s *Store) Seed(ps []orders.Product) {
	for _, p := range ps {
		s.PutProduct(p)
	}
}

// Stock returns the committed stock of a product.
func (s *Store) Stock(id int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return 0, false
	}
	return p.Stock, true
}

// CountOrders returns how many committed orders exist.
func (s *Store) CountOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Orders() orders.OrderStore        { return orderReader{s} }
func (s *Store) Products() orders.InventoryLedger { return productReader{s} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	t := &tx{
		s:            s,
		heldProducts: make(map[int64]chan struct{}),
		heldOrders:   make(map[int64]chan struct{}),
		stockDelta:   make(map[int64]int),
		updated:      make(map[int64]*orders.Order),
	}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
	}()
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	t.commit()
	return nil
}

func (s *Store) row(m map[int64]chan struct{}, id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := m[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m[id] = ch
	}
	return ch
}

type tx struct {
	s            *Store
	heldProducts map[int64]chan struct{}
	heldOrders   map[int64]chan struct{}
	stockDelta   map[int64]int
	newOrders    []*orders.Order
	updated      map[int64]*orders.Order
	keys         []string
}

func lockRow(ctx context.Context, held map[int64]chan struct{}, id int64, ch chan struct{}) error {
	if _, ok := held[id]; ok {
		return nil
	}
	select {
	case ch <- struct{}{}:
		held[id] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) lockProduct(ctx context.Context, id int64) error {
	t.s.mu.Lock()
	_, ok := t.s.products[id]
	t.s.mu.Unlock()
	if !ok {
		return &orders.ProductNotFoundError{ProductID: id}
	}
	if _, held := t.heldProducts[id]; held {
		return nil
	}
	return lockRow(ctx, t.heldProducts, id, t.s.row(t.s.productRows, id))
}

func (t *tx) FindProductForUpdate(ctx context.Context, id int64) (*orders.Product, error) {
	if err := t.lockProduct(ctx, id); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p := *t.s.products[id]
	p.Stock += t.stockDelta[id]
	return &p, nil
}

func (t *tx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	if err := t.lockProduct(ctx, productID); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.products[productID].Stock+t.stockDelta[productID]-qty < 0 {
		return fmt.Errorf("product %d: %w", productID, orders.ErrNegativeStock)
	}
	t.stockDelta[productID] -= qty
	return nil
}

func (t *tx) IncrementStock(ctx context.Context, productID int64, qty int) error {
	if err := t.lockProduct(ctx, productID); err != nil {
		return err
	}
	t.stockDelta[productID] += qty
	return nil
}

func (t *tx) FindOrderForUpdate(ctx context.Context, id int64) (*orders.Order, error) {
	for _, o := range t.newOrders {
		if o.ID == id {
			return o.Clone(), nil
		}
	}
	t.s.mu.Lock()
	_, ok := t.s.orders[id]
	t.s.mu.Unlock()
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	if err := lockRow(ctx, t.heldOrders, id, t.s.row(t.s.orderRows, id)); err != nil {
		return nil, err
	}
	if o, ok := t.updated[id]; ok {
		return o.Clone(), nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.orders[id].Clone(), nil
}

// SaveOrder waits while another open transaction holds the same key, like an
// insert blocking on a unique index, and then fails only if that one committed.
func (t *tx) SaveOrder(ctx context.Context, o *orders.Order) error {
	for _, k := range t.keys {
		if k == o.IdempotencyKey {
			return orders.ErrDuplicateIdempotencyKey
		}
	}
	t.s.mu.Lock()
	for {
		if _, taken := t.s.byKey[o.IdempotencyKey]; taken {
			t.s.mu.Unlock()
			return orders.ErrDuplicateIdempotencyKey
		}
		done, pending := t.s.pendingKeys[o.IdempotencyKey]
		if !pending {
			break
		}
		t.s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		t.s.mu.Lock()
	}
	defer t.s.mu.Unlock()
	t.s.pendingKeys[o.IdempotencyKey] = make(chan struct{})
	t.keys = append(t.keys, o.IdempotencyKey)

	t.s.nextOrderID++
	o.ID = t.s.nextOrderID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t.s.now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	t.newOrders = append(t.newOrders, o.Clone())
	return nil
}

// UpdateOrderStatus only touches status, cancelled_at and updated_at.
func (t *tx) UpdateOrderStatus(ctx context.Context, o *orders.Order) error {
	for i, n := range t.newOrders {
		if n.ID == o.ID {
			c := n.Clone()
			c.Status, c.CancelledAt, c.UpdatedAt = o.Status, o.CancelledAt, o.UpdatedAt
			t.newOrders[i] = c
			return nil
		}
	}
	cur, err := t.FindOrderForUpdate(ctx, o.ID)
	if err != nil {
		return err
	}
	cur.Status = o.Status
	cur.CancelledAt = nil
	if o.CancelledAt != nil {
		at := *o.CancelledAt
		cur.CancelledAt = &at
	}
	cur.UpdatedAt = o.UpdatedAt
	if cur.UpdatedAt.IsZero() {
		cur.UpdatedAt = t.s.now()
	}
	t.updated[o.ID] = cur
	return nil
}

func (t *tx) commit() {
	t.s.mu.Lock()
	for id, d := range t.stockDelta {
		if d == 0 {
			continue
		}
		p := t.s.products[id]
		p.Stock += d
		p.UpdatedAt = t.s.now()
	}
	for _, o := range t.newOrders {
		t.s.orders[o.ID] = o
		t.s.byKey[o.IdempotencyKey] = o.ID
	}
	t.s.finishKeys(t.keys)
	for id, o := range t.updated {
		t.s.orders[id] = o
	}
	t.s.mu.Unlock()
	t.release()
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	t.s.finishKeys(t.keys)
	t.s.mu.Unlock()
	t.release()
}

// finishKeys wakes transactions waiting on keys. Callers hold s.mu.
func (s *Store) finishKeys(keys []string) {
	for _, k := range keys {
		if done, ok := s.pendingKeys[k]; ok {
			close(done)
			delete(s.pendingKeys, k)
		}
	}
}

func (t *tx) release() {
	for id, ch := range t.heldProducts {
		<-ch
		delete(t.heldProducts, id)
	}
	for id, ch := range t.heldOrders {
		<-ch
		delete(t.heldOrders, id)
	}
}

type orderReader struct{ s *Store }

func (r orderReader) FindByID(_ context.Context, id int64) (*orders.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r orderReader) FindByIdempotencyKey(_ context.Context, key string) (*orders.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byKey[key]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return r.s.orders[id].Clone(), nil
}

func (r orderReader) matching(userID int64, status orders.Status) []*orders.Order {
	var out []*orders.Order
	for _, o := range r.s.orders {
		if o.UserID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (r orderReader) FindByUser(_ context.Context, q orders.ListQuery) ([]*orders.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.matching(q.UserID, q.Status)
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	start := q.Offset()
	if start < 0 || start >= len(list) {
		return []*orders.Order{}, nil
	}
	end := min(start+q.PerPage, len(list))
	out := make([]*orders.Order, 0, end-start)
	for _, o := range list[start:end] {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (r orderReader) CountByUser(_ context.Context, userID int64, status orders.Status) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.matching(userID, status)), nil
}

type productReader struct{ s *Store }

func (r productReader) FindByID(_ context.Context, id int64) (*orders.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, &orders.ProductNotFoundError{ProductID: id}
	}
	c := *p
	return &c, nil
}

func (r productReader) ListAll(context.Context) ([]orders.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]orders.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
