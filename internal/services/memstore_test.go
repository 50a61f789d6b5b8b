package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"brokerage/internal/events"
	"brokerage/internal/models"
	"brokerage/internal/store"
	"brokerage/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memDB is an in-memory stand-in for the database. Every unit of work gets its
// own *sqlx.Tx handle, writes are staged until commit, and row locks are held
// until the unit of work ends, the way SELECT ... FOR UPDATE behaves.
type memDB struct {
	mu        sync.Mutex
	cond      *sync.Cond
	assets    map[string]models.Asset
	orders    map[string]models.Order
	customers map[string]models.Customer
	audit     []memAuditEntry
	locks     map[string]*sqlx.Tx
	txs       map[*sqlx.Tx]*memTxState
	commits   int
	rollbacks int

	auditErr       func(action string) error
	createOrderErr error
	updateErr      func(asset models.Asset) error
	beforeStatus   func(orderID string)
}

type memTxState struct {
	assets    map[string]models.Asset
	orders    map[string]models.Order
	customers map[string]models.Customer
	audit     []memAuditEntry
	held      []string
}

type memAuditEntry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Data       string
}

func newMemDB() *memDB {
	m := &memDB{
		assets:    make(map[string]models.Asset),
		orders:    make(map[string]models.Order),
		customers: make(map[string]models.Customer),
		locks:     make(map[string]*sqlx.Tx),
		txs:       make(map[*sqlx.Tx]*memTxState),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *memDB) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	tx := &sqlx.Tx{}
	state := &memTxState{
		assets:    make(map[string]models.Asset),
		orders:    make(map[string]models.Order),
		customers: make(map[string]models.Customer),
	}
	m.mu.Lock()
	m.txs[tx] = state
	m.mu.Unlock()

	err := fn(tx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = m.apply(state)
	}
	if err != nil {
		m.rollbacks++
	} else {
		m.commits++
	}
	for _, key := range state.held {
		delete(m.locks, key)
	}
	delete(m.txs, tx)
	m.cond.Broadcast()
	return err
}

// apply enforces the asset CHECK constraints before making staged writes
// visible.
func (m *memDB) apply(state *memTxState) error {
	for _, asset := range state.assets {
		if asset.UsableSize.IsNegative() || asset.UsableSize.GreaterThan(asset.Size) {
			return &pq.Error{Code: "23514", Message: "assets_usable_size_check"}
		}
	}
	for key, asset := range state.assets {
		m.assets[key] = asset
	}
	for id, order := range state.orders {
		m.orders[id] = order
	}
	for id, customer := range state.customers {
		m.customers[id] = customer
	}
	m.audit = append(m.audit, state.audit...)
	return nil
}

// state returns the staged writes of q when q is a unit of work, nil for
// plain reads. Callers hold m.mu.
func (m *memDB) state(q any) *memTxState {
	tx, ok := q.(*sqlx.Tx)
	if !ok {
		return nil
	}
	return m.txs[tx]
}

// lock blocks until tx owns key. Callers hold m.mu.
func (m *memDB) lock(q any, key string) {
	tx, ok := q.(*sqlx.Tx)
	if !ok {
		return
	}
	for m.locks[key] != nil && m.locks[key] != tx {
		m.cond.Wait()
	}
	if m.locks[key] == nil {
		m.locks[key] = tx
		state := m.txs[tx]
		state.held = append(state.held, key)
	}
}

func (m *memDB) readAsset(state *memTxState, key string) (models.Asset, bool) {
	if state != nil {
		if asset, ok := state.assets[key]; ok {
			return asset, true
		}
	}
	asset, ok := m.assets[key]
	return asset, ok
}

func (m *memDB) readOrder(state *memTxState, id string) (models.Order, bool) {
	if state != nil {
		if order, ok := state.orders[id]; ok {
			return order, true
		}
	}
	order, ok := m.orders[id]
	return order, ok
}

func assetKey(customerID, assetName string) string {
	return customerID + "/" + assetName
}

type memAssets struct{ m *memDB }

func (s memAssets) Ensure(_ context.Context, tx store.Execer, id, customerID, assetName string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key := assetKey(customerID, assetName)
	s.m.lock(tx, "asset/"+key)
	state := s.m.state(tx)
	if _, ok := s.m.readAsset(state, key); ok {
		return 0, nil
	}
	state.assets[key] = models.Asset{
		ID:         id,
		CustomerID: customerID,
		AssetName:  assetName,
		Size:       decimal.Zero,
		UsableSize: decimal.Zero,
	}
	return 1, nil
}

func (s memAssets) GetByCustomerAndName(_ context.Context, q store.Getter, customerID, assetName string) (models.Asset, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	asset, ok := s.m.readAsset(s.m.state(q), assetKey(customerID, assetName))
	if !ok {
		return models.Asset{}, sql.ErrNoRows
	}
	return asset, nil
}

func (s memAssets) GetForUpdate(_ context.Context, tx store.Getter, customerID, assetName string) (models.Asset, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key := assetKey(customerID, assetName)
	s.m.lock(tx, "asset/"+key)
	asset, ok := s.m.readAsset(s.m.state(tx), key)
	if !ok {
		return models.Asset{}, sql.ErrNoRows
	}
	return asset, nil
}

func (s memAssets) UpdateBalances(_ context.Context, tx store.Execer, assetID string, size, usableSize decimal.Decimal) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	state := s.m.state(tx)
	var (
		key   string
		found bool
	)
	for k, asset := range state.assets {
		if asset.ID == assetID {
			key, found = k, true
		}
	}
	if !found {
		for k, asset := range s.m.assets {
			if asset.ID == assetID {
				key, found = k, true
			}
		}
	}
	if !found {
		return 0, nil
	}
	s.m.lock(tx, "asset/"+key)
	asset, _ := s.m.readAsset(state, key)
	if s.m.updateErr != nil {
		if err := s.m.updateErr(asset); err != nil {
			return 0, err
		}
	}
	asset.Size = size
	asset.UsableSize = usableSize
	asset.Version++
	state.assets[key] = asset
	return 1, nil
}

func (s memAssets) ListByCustomer(_ context.Context, customerID string) ([]models.Asset, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var assets []models.Asset
	for _, asset := range s.m.assets {
		if asset.CustomerID == customerID {
			assets = append(assets, asset)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].AssetName < assets[j].AssetName })
	return assets, nil
}

type memOrders struct{ m *memDB }

func (s memOrders) Create(_ context.Context, tx store.Execer, order models.Order) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.createOrderErr != nil {
		return s.m.createOrderErr
	}
	s.m.state(tx).orders[order.ID] = order
	return nil
}

func (s memOrders) GetByID(_ context.Context, q store.Getter, orderID string) (models.Order, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	order, ok := s.m.readOrder(s.m.state(q), orderID)
	if !ok {
		return models.Order{}, sql.ErrNoRows
	}
	return order, nil
}

func (s memOrders) GetByIDAndCustomer(ctx context.Context, q store.Getter, orderID, customerID string) (models.Order, error) {
	order, err := s.GetByID(ctx, q, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.CustomerID != customerID {
		return models.Order{}, sql.ErrNoRows
	}
	return order, nil
}

func (s memOrders) UpdateStatus(_ context.Context, tx store.Execer, orderID string, version int64, status models.OrderStatus) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.beforeStatus != nil {
		s.m.beforeStatus(orderID)
	}
	s.m.lock(tx, "order/"+orderID)
	state := s.m.state(tx)
	order, ok := s.m.readOrder(state, orderID)
	if !ok || order.Version != version || order.Status != models.StatusPending {
		return 0, nil
	}
	order.Status = status
	order.Version++
	state.orders[orderID] = order
	return 1, nil
}

func (s memOrders) filter(keep func(models.Order) bool) []models.Order {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var orders []models.Order
	for _, order := range s.m.orders {
		if keep(order) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreateDate.After(orders[j].CreateDate) })
	return orders
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func (s memOrders) ListByCustomer(_ context.Context, customerID string) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool { return o.CustomerID == customerID }), nil
}

func (s memOrders) ListByCustomerAndDateRange(_ context.Context, customerID string, start, end time.Time) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool {
		return o.CustomerID == customerID && inRange(o.CreateDate, start, end)
	}), nil
}

func (s memOrders) ListByDateRange(_ context.Context, start, end time.Time) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool { return inRange(o.CreateDate, start, end) }), nil
}

func (s memOrders) ListByStatus(_ context.Context, status models.OrderStatus) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool { return o.Status == status }), nil
}

func (s memOrders) ListAll(_ context.Context) ([]models.Order, error) {
	return s.filter(func(models.Order) bool { return true }), nil
}

type memCustomers struct{ m *memDB }

func (s memCustomers) Create(_ context.Context, tx store.Execer, customer models.Customer) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	state := s.m.state(tx)
	for _, existing := range s.m.customers {
		if existing.Username == customer.Username || existing.Email == customer.Email {
			return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	customer.Roles = nil
	state.customers[customer.ID] = customer
	return nil
}

func (s memCustomers) GrantRole(_ context.Context, tx store.Execer, customerID, role string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	state := s.m.state(tx)
	customer, ok := state.customers[customerID]
	if !ok {
		customer, ok = s.m.customers[customerID]
	}
	if !ok {
		return errors.New("foreign key violation")
	}
	customer.Roles = append(customer.Roles, role)
	state.customers[customerID] = customer
	return nil
}

func (s memCustomers) GetByUsername(_ context.Context, username string) (models.Customer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, customer := range s.m.customers {
		if customer.Username == username {
			return customer, nil
		}
	}
	return models.Customer{}, sql.ErrNoRows
}

func (s memCustomers) GetByID(_ context.Context, customerID string) (models.Customer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	customer, ok := s.m.customers[customerID]
	if !ok {
		return models.Customer{}, sql.ErrNoRows
	}
	return customer, nil
}

func (s memCustomers) IsAdmin(ctx context.Context, customerID string) (bool, error) {
	customer, err := s.GetByID(ctx, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return customer.Active && customer.HasRole(models.RoleAdmin), nil
}

func (s memCustomers) List(_ context.Context, limit, offset int) ([]models.Customer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var customers []models.Customer
	for _, customer := range s.m.customers {
		customers = append(customers, customer)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].Username < customers[j].Username })
	if offset >= len(customers) {
		return nil, nil
	}
	customers = customers[offset:]
	if len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

type memAudit struct{ m *memDB }

func (s memAudit) Log(_ context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.auditErr != nil {
		if err := s.m.auditErr(action); err != nil {
			return err
		}
	}
	state := s.m.state(tx)
	state.audit = append(state.audit, memAuditEntry{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
	})
	return nil
}

type balanceCall struct {
	CustomerID string
	Update     websocket.BalanceUpdate
}

type recordingHub struct {
	mu    sync.Mutex
	calls []balanceCall
}

func (h *recordingHub) BroadcastBalance(customerID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, balanceCall{CustomerID: customerID, Update: update})
}

func (h *recordingHub) snapshot() []balanceCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]balanceCall(nil), h.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events []events.OrderEvent
}

func (p *recordingPublisher) PublishOrder(_ context.Context, event events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type harness struct {
	db        *memDB
	hub       *recordingHub
	publisher *recordingPublisher
	ledger    *AssetLedger
	orders    *OrderService
	customers *CustomerService
	clock     time.Time
	clockMu   sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := newMemDB()
	h := &harness{
		db:        m,
		hub:       &recordingHub{},
		publisher: &recordingPublisher{},
		clock:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	logger := zap.NewNop().Sugar()
	h.ledger = NewAssetLedger(m, memAssets{m}, memAudit{m}, h.hub, logger)
	h.orders = NewOrderService(m, h.ledger, memOrders{m}, memCustomers{m}, memAudit{m}, h.publisher, DefaultOrderPolicy(), logger)
	h.orders.now = h.tick
	h.customers = NewCustomerService(m, memCustomers{m}, h.ledger, memAudit{m}, "TRY", logger)
	return h
}

// tick advances a fake clock by one minute per call.
func (h *harness) tick() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.clock = h.clock.Add(time.Minute)
	return h.clock
}

func (h *harness) addCustomer(id, username string, admin bool) Actor {
	roles := []string{models.RoleCustomer}
	if admin {
		roles = append(roles, models.RoleAdmin)
	}
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	h.db.customers[id] = models.Customer{
		ID:       id,
		Username: username,
		Email:    username + "@example.com",
		Active:   true,
		Roles:    roles,
	}
	return Actor{CustomerID: id, Username: username, IsAdmin: admin}
}

func (h *harness) fund(customerID, assetName, size string) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	h.db.assets[assetKey(customerID, assetName)] = models.Asset{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		AssetName:  assetName,
		Size:       dec(size),
		UsableSize: dec(size),
	}
}

func (h *harness) asset(customerID, assetName string) (models.Asset, bool) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	asset, ok := h.db.assets[assetKey(customerID, assetName)]
	return asset, ok
}

func (h *harness) order(id string) models.Order {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return h.db.orders[id]
}

func (h *harness) auditActions() []string {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	actions := make([]string, 0, len(h.db.audit))
	for _, entry := range h.db.audit {
		actions = append(actions, entry.Action)
	}
	return actions
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func buy(assetName, size, price string) OrderRequest {
	return OrderRequest{AssetName: assetName, Side: models.SideBuy, Size: dec(size), Price: dec(price)}
}

func sell(assetName, size, price string) OrderRequest {
	return OrderRequest{AssetName: assetName, Side: models.SideSell, Size: dec(size), Price: dec(price)}
}
