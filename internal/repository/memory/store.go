// Package memory is an in-process implementation of the shop store. A transaction holds
// the store-wide lock until it ends and is rolled back from a snapshot on error.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
)

type product struct {
	name       string
	priceCents int64
	stock      int
}

type user struct {
	name  string
	email string
}

type state struct {
	users         map[string]user
	products      map[int64]*product
	nextProductID int64
	carts         map[string]map[int64]int
	orders        map[uuid.UUID]*domain.Order
	orderSeq      []uuid.UUID
	payments      map[uuid.UUID]*domain.Payment
	paymentSeq    []uuid.UUID
	receipts      map[uuid.UUID]*domain.Receipt // by payment id
	stockLogs     []domain.StockLog
}

func newState() *state {
	return &state{
		users:    make(map[string]user),
		products: make(map[int64]*product),
		carts:    make(map[string]map[int64]int),
		orders:   make(map[uuid.UUID]*domain.Order),
		payments: make(map[uuid.UUID]*domain.Payment),
		receipts: make(map[uuid.UUID]*domain.Receipt),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.products {
		p := *v
		cp.products[k] = &p
	}
	cp.nextProductID = s.nextProductID
	for u, lines := range s.carts {
		m := make(map[int64]int, len(lines))
		for k, v := range lines {
			m[k] = v
		}
		cp.carts[u] = m
	}
	for k, v := range s.orders {
		cp.orders[k] = cloneOrder(v)
	}
	cp.orderSeq = append([]uuid.UUID(nil), s.orderSeq...)
	for k, v := range s.payments {
		cp.payments[k] = v.Clone()
	}
	cp.paymentSeq = append([]uuid.UUID(nil), s.paymentSeq...)
	for k, v := range s.receipts {
		cp.receipts[k] = cloneReceipt(v)
	}
	cp.stockLogs = append([]domain.StockLog(nil), s.stockLogs...)
	return cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}

func cloneReceipt(r *domain.Receipt) *domain.Receipt {
	cp := *r
	cp.Items = append([]domain.ReceiptItem(nil), r.Items...)
	return &cp
}

type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(struct{})
	return ok
}

// RunInTx serializes fn against every other transaction and plain call.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		} else if err != nil {
			s.st = snapshot
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, struct{}{}))
}

// lock takes the store lock unless the caller already holds it through a transaction.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	defer s.lock(ctx)()
	p, ok := s.st.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return p.Clone(), nil
}

// GetPaymentForUpdate needs no row lock: a transaction already owns the whole store.
func (s *Store) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) GetPaymentForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Payment, error) {
	defer s.lock(ctx)()
	p, ok := s.st.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	o, ok := s.st.orders[p.OrderID]
	if !ok || o.UserID != userID {
		return nil, domain.ErrPaymentNotFound
	}
	return p.Clone(), nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	defer s.lock(ctx)()
	for _, id := range s.st.paymentSeq {
		if p := s.st.payments[id]; p.OrderID == orderID {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (s *Store) ListPendingPaymentsForUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	defer s.lock(ctx)()
	var out []*domain.Payment
	for _, id := range s.st.paymentSeq {
		p := s.st.payments[id]
		if p.Status != domain.PaymentStatusPending {
			continue
		}
		if o, ok := s.st.orders[p.OrderID]; ok && o.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *Store) InsertPayment(ctx context.Context, p *domain.Payment) error {
	defer s.lock(ctx)()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.payments[p.ID] = p.Clone()
	s.st.paymentSeq = append(s.st.paymentSeq, p.ID)
	return nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	defer s.lock(ctx)()
	cur, ok := s.st.payments[p.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	next := p.Clone()
	next.CreatedAt = cur.CreatedAt
	s.st.payments[p.ID] = next
	return nil
}

func (s *Store) InsertOrder(ctx context.Context, o *domain.Order) error {
	defer s.lock(ctx)()
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	s.st.orders[o.ID] = cloneOrder(o)
	s.st.orderSeq = append(s.st.orderSeq, o.ID)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderForUser(ctx context.Context, id uuid.UUID, userID string) (*domain.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.st.orders[id]
	if !ok || o.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// ListOrdersForUser returns newest first.
func (s *Store) ListOrdersForUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	defer s.lock(ctx)()
	var out []*domain.Order
	for i := len(s.st.orderSeq) - 1; i >= 0; i-- {
		if o := s.st.orders[s.st.orderSeq[i]]; o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	defer s.lock(ctx)()
	o, ok := s.st.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetUserName(ctx context.Context, userID string) (string, error) {
	defer s.lock(ctx)()
	return s.st.users[userID].name, nil
}

func (s *Store) UpsertUser(ctx context.Context, id, name, email string) error {
	defer s.lock(ctx)()
	s.st.users[id] = user{name: name, email: email}
	return nil
}

func (s *Store) InsertReceipt(ctx context.Context, r *domain.Receipt) error {
	defer s.lock(ctx)()
	for _, existing := range s.st.receipts {
		if existing.Number == r.Number {
			return domain.ErrReceiptNumberTaken
		}
		if existing.OrderID == r.OrderID {
			return domain.ErrReceiptExists
		}
	}
	if _, ok := s.st.receipts[r.PaymentID]; ok {
		return domain.ErrReceiptExists
	}
	s.st.receipts[r.PaymentID] = cloneReceipt(r)
	return nil
}

func (s *Store) GetReceiptByPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Receipt, error) {
	defer s.lock(ctx)()
	r, ok := s.st.receipts[paymentID]
	if !ok {
		return nil, domain.ErrReceiptNotFound
	}
	return cloneReceipt(r), nil
}

func (s *Store) GetReceiptByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Receipt, error) {
	defer s.lock(ctx)()
	for _, r := range s.st.receipts {
		if r.OrderID == orderID {
			return cloneReceipt(r), nil
		}
	}
	return nil, domain.ErrReceiptNotFound
}

// ReceiptCount is the number of receipts issued so far.
func (s *Store) ReceiptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.receipts)
}

func (s *Store) LockCart(ctx context.Context, userID string) ([]domain.CartLine, error) {
	defer s.lock(ctx)()
	lines := make([]domain.CartLine, 0, len(s.st.carts[userID]))
	for pid, qty := range s.st.carts[userID] {
		p, ok := s.st.products[pid]
		if !ok {
			continue
		}
		lines = append(lines, domain.CartLine{
			ProductID:   pid,
			ProductName: p.name,
			PriceCents:  p.priceCents,
			Quantity:    qty,
			Stock:       p.stock,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (s *Store) DecrementStock(ctx context.Context, productID int64, qty int) error {
	defer s.lock(ctx)()
	p, ok := s.st.products[productID]
	if !ok || p.stock < qty {
		return domain.ErrInsufficientStock
	}
	p.stock -= qty
	return nil
}

func (s *Store) InsertStockLog(ctx context.Context, l domain.StockLog) error {
	defer s.lock(ctx)()
	s.st.stockLogs = append(s.st.stockLogs, l)
	return nil
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	defer s.lock(ctx)()
	delete(s.st.carts, userID)
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, name string, priceCents int64, stock int) (int64, error) {
	defer s.lock(ctx)()
	s.st.nextProductID++
	id := s.st.nextProductID
	s.st.products[id] = &product{name: name, priceCents: priceCents, stock: stock}
	return id, nil
}

func (s *Store) ProductStock(ctx context.Context, productID int64) (int, error) {
	defer s.lock(ctx)()
	p, ok := s.st.products[productID]
	if !ok {
		return 0, domain.Validationf("product %d does not exist", productID)
	}
	return p.stock, nil
}

// SetProductPrice changes the catalog price without touching existing orders.
func (s *Store) SetProductPrice(ctx context.Context, productID int64, priceCents int64) {
	defer s.lock(ctx)()
	if p, ok := s.st.products[productID]; ok {
		p.priceCents = priceCents
	}
}

func (s *Store) AddCartItem(ctx context.Context, userID string, productID int64, qty int) error {
	defer s.lock(ctx)()
	if s.st.carts[userID] == nil {
		s.st.carts[userID] = make(map[int64]int)
	}
	s.st.carts[userID][productID] += qty
	return nil
}

func (s *Store) StockLogs(ctx context.Context, productID int64) ([]domain.StockLog, error) {
	defer s.lock(ctx)()
	var out []domain.StockLog
	for _, l := range s.st.stockLogs {
		if l.ProductID == productID {
			out = append(out, l)
		}
	}
	return out, nil
}

// CartSize returns the number of distinct products in the user's cart.
func (s *Store) CartSize(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.carts[userID])
}
