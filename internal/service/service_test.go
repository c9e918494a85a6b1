package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restopos/terminal/internal/cart"
	"restopos/terminal/internal/domain"
	"restopos/terminal/internal/lifecycle"
	"restopos/terminal/internal/pricing"
	"restopos/terminal/internal/render"
	"restopos/terminal/internal/report"
	"restopos/terminal/internal/settlement"
)

type fakeBackend struct {
	mu           sync.Mutex
	menu         []domain.MenuItem
	menuCalls    int
	reservations []domain.Reservation
	nextNumber   int64
	orders       []domain.Order
	inventory    []domain.InventoryItem
	history      []domain.CustomerOrder
	submissions  []domain.OrderSubmission
	placeErr     error
}

func (f *fakeBackend) ListMenu(context.Context) ([]domain.MenuItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menuCalls++
	return f.menu, nil
}

func (f *fakeBackend) ListReservations(context.Context) ([]domain.Reservation, error) {
	return f.reservations, nil
}

func (f *fakeBackend) NextOrderNumber(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextNumber, nil
}

func (f *fakeBackend) PlaceOrder(_ context.Context, submission domain.OrderSubmission) (domain.PlaceOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.PlaceOrderResult{}, f.placeErr
	}
	f.submissions = append(f.submissions, submission)
	f.nextNumber++
	return domain.PlaceOrderResult{OrderID: "900"}, nil
}

func (f *fakeBackend) ListOrders(context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Order(nil), f.orders...), nil
}

func (f *fakeBackend) UpdateStatus(_ context.Context, orderID int64, status domain.OrderStatus) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.orders {
		if f.orders[i].OrderID == orderID {
			f.orders[i].Status = status
		}
	}
	return "Order status updated successfully", nil
}

func (f *fakeBackend) ListInventory(context.Context) ([]domain.InventoryItem, error) {
	return f.inventory, nil
}

func (f *fakeBackend) CustomerHistory(context.Context) ([]domain.CustomerOrder, error) {
	return f.history, nil
}

type fakeRenderer struct {
	receipts int
	sales    int
}

func (f *fakeRenderer) Receipt(domain.Receipt) (string, error) {
	f.receipts++
	return "out/receipt.pdf", nil
}

func (f *fakeRenderer) SalesReport(report.Sales) (render.Document, error) {
	f.sales++
	return render.Document{Name: render.SalesFile, Path: "out/sales_report.pdf", Content: []byte("%PDF-sales")}, nil
}

func (f *fakeRenderer) InventoryReport(report.Inventory) (render.Document, error) {
	return render.Document{Name: render.InventoryFile, Path: "out/combined_inventory_report.pdf", Content: []byte("%PDF-inventory")}, nil
}

type countingRecorder struct {
	settlements map[string]int
}

func (c *countingRecorder) Settlement(method string, outcome string) {
	c.settlements[method+"/"+outcome]++
}

func (c *countingRecorder) Transition(string, string) {}

func newTestService() (*Service, *fakeBackend, *fakeRenderer, *countingRecorder) {
	backend := &fakeBackend{
		menu: []domain.MenuItem{
			{ItemID: 1, Name: "Burger", Price: decimal.RequireFromString("10"), Category: "FastFood"},
			{ItemID: 2, Name: "Cola", Price: decimal.RequireFromString("5"), Category: "Drinks"},
			{ItemID: 3, Name: "Sundae", Price: decimal.RequireFromString("4.5"), Category: "Desert"},
		},
		reservations: []domain.Reservation{{ReservationID: 1, TableName: "T1"}},
		nextNumber:   41,
	}
	renderer := &fakeRenderer{}
	recorder := &countingRecorder{settlements: make(map[string]int)}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc := New(backend, renderer, Options{Recorder: recorder, Logger: logger, ReportZone: time.UTC})
	return svc, backend, renderer, recorder
}

func staffContext(id int64, role string) context.Context {
	return WithActor(context.Background(), domain.Actor{StaffID: id, Role: role})
}

func strPtr(s string) *string { return &s }

func TestSessionRequiresActor(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Session(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewSessionDefaults(t *testing.T) {
	svc, _, _, _ := newTestService()

	view, err := svc.Session(staffContext(7, domain.RoleStaff))
	require.NoError(t, err)
	assert.NotEmpty(t, view.SessionID)
	assert.Equal(t, int64(41), view.OrderNumber)
	assert.Equal(t, pricing.DefaultDiscount, view.Pricing.DiscountPercent)
	assert.Equal(t, domain.PaymentCash, view.PaymentMethod)
	assert.Equal(t, domain.CategoryTakeAway, view.OrderCategory)
	assert.Equal(t, []int{2, 5, 7, 10}, view.Discounts)
	assert.Empty(t, view.Lines)
}

func TestSessionsAreIsolatedPerStaff(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.AddItem(staffContext(7, domain.RoleStaff), 1)
	require.NoError(t, err)

	other, err := svc.Session(staffContext(8, domain.RoleStaff))
	require.NoError(t, err)
	assert.Empty(t, other.Lines)
}

func TestMenuIsCachedAndFiltered(t *testing.T) {
	svc, backend, _, _ := newTestService()
	svc.menuCache = &memoryMenuCache{}

	drinks, err := svc.Menu(context.Background(), "Drinks")
	require.NoError(t, err)
	require.Len(t, drinks, 1)
	assert.Equal(t, "Cola", drinks[0].Name)

	all, err := svc.Menu(context.Background(), "all")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 1, backend.menuCalls)
}

func TestAddUnknownItem(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.AddItem(staffContext(7, domain.RoleStaff), 99)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemoveOutOfRange(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.RemoveItem(staffContext(7, domain.RoleStaff), 0)
	assert.ErrorIs(t, err, cart.ErrLineNotFound)
}

func TestCardTakeAwayCheckout(t *testing.T) {
	svc, backend, renderer, recorder := newTestService()
	ctx := staffContext(7, domain.RoleStaff)

	for _, id := range []int64{1, 1, 2} {
		_, err := svc.AddItem(ctx, id)
		require.NoError(t, err)
	}
	view, err := svc.UpdateOptions(ctx, OptionsRequest{CustomerNumber: strPtr("42")})
	require.NoError(t, err)
	assert.Equal(t, "25.00", view.Pricing.Subtotal.StringFixed(2))

	result, err := svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCreditCard})
	require.NoError(t, err)

	require.Len(t, backend.submissions, 1)
	sub := backend.submissions[0]
	assert.Equal(t, "24.70", sub.TotalAmount.StringFixed(2))
	assert.Equal(t, 5, sub.Discount)
	assert.Equal(t, int64(7), sub.StaffID)
	assert.Nil(t, sub.TableName)
	for _, detail := range sub.OrderDetails {
		assert.Equal(t, "42", detail.CustomerNumber)
	}

	assert.Equal(t, "900", result.OrderID)
	assert.Equal(t, 1, renderer.receipts)
	assert.Empty(t, result.Session.Lines)
	assert.Equal(t, int64(42), result.Session.OrderNumber)
	assert.Equal(t, 1, recorder.settlements["credit-card/placed"])
}

func TestCashShortfallBlocksEverything(t *testing.T) {
	svc, backend, renderer, recorder := newTestService()
	ctx := staffContext(7, domain.RoleStaff)

	_, err := svc.AddItem(ctx, 1)
	require.NoError(t, err)
	_, err = svc.UpdateOptions(ctx, OptionsRequest{CustomerNumber: strPtr("42")})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCash, CashReceived: "5"})
	require.ErrorIs(t, err, settlement.ErrInsufficientCash)
	assert.Empty(t, backend.submissions)
	assert.Zero(t, renderer.receipts)
	assert.Equal(t, 1, recorder.settlements["cash/insufficient_cash"])

	view, err := svc.Session(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)
}

func TestBackendFailureKeepsCart(t *testing.T) {
	svc, backend, _, _ := newTestService()
	backend.placeErr = errors.New("connection refused")
	ctx := staffContext(7, domain.RoleStaff)

	_, err := svc.AddItem(ctx, 2)
	require.NoError(t, err)
	_, err = svc.UpdateOptions(ctx, OptionsRequest{CustomerNumber: strPtr("42")})
	require.NoError(t, err)

	_, err = svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCreditCard})
	require.Error(t, err)

	view, err := svc.Session(ctx)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "42", view.CustomerNumber)
}

func TestDineInNeedsReservedTable(t *testing.T) {
	svc, backend, _, _ := newTestService()
	ctx := staffContext(7, domain.RoleStaff)
	dineIn := domain.CategoryDineIn

	_, err := svc.AddItem(ctx, 3)
	require.NoError(t, err)
	view, err := svc.UpdateOptions(ctx, OptionsRequest{OrderCategory: &dineIn, CustomerNumber: strPtr("5")})
	require.NoError(t, err)
	assert.Len(t, view.Reservations, 1)

	_, err = svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCreditCard})
	require.ErrorIs(t, err, settlement.ErrTableRequired)

	_, err = svc.UpdateOptions(ctx, OptionsRequest{TableName: strPtr("T1")})
	require.NoError(t, err)
	_, err = svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCreditCard})
	require.NoError(t, err)

	require.Len(t, backend.submissions, 1)
	require.NotNil(t, backend.submissions[0].TableName)
	assert.Equal(t, "T1", *backend.submissions[0].TableName)
}

func TestUpdateOptionsRejectsUnknownValues(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := staffContext(7, domain.RoleStaff)
	three := 3
	voucher := domain.PaymentMethod("voucher")
	drive := domain.OrderCategory("Drive-thru")

	_, err := svc.UpdateOptions(ctx, OptionsRequest{Discount: &three})
	assert.ErrorIs(t, err, pricing.ErrUnsupportedDiscount)
	_, err = svc.UpdateOptions(ctx, OptionsRequest{PaymentMethod: &voucher})
	assert.ErrorIs(t, err, pricing.ErrUnsupportedPaymentMethod)
	_, err = svc.UpdateOptions(ctx, OptionsRequest{OrderCategory: &drive})
	assert.ErrorIs(t, err, settlement.ErrUnsupportedCategory)
}

func TestOrdersDefaultToCompletedWithActions(t *testing.T) {
	svc, backend, _, _ := newTestService()
	backend.orders = []domain.Order{
		{OrderID: 1, Status: domain.StatusPending},
		{OrderID: 2, Status: domain.StatusCompleted},
	}

	view, err := svc.Orders(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Status)
	require.Len(t, view.Orders, 1)
	assert.Equal(t, lifecycle.Actions(domain.StatusCompleted), view.Orders[0].Actions)

	_, err = svc.Orders(context.Background(), "archived")
	assert.ErrorIs(t, err, lifecycle.ErrUnknownStatus)
}

func TestTransitionOrder(t *testing.T) {
	svc, backend, _, _ := newTestService()
	backend.orders = []domain.Order{{OrderID: 1, Status: domain.StatusPending}}

	result, err := svc.TransitionOrder(context.Background(), 1, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, "Order status updated successfully", result.Message)
	assert.Equal(t, domain.StatusCancelled, result.Orders[0].Status)

	_, err = svc.TransitionOrder(context.Background(), 1, "cancelled")
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
}

func TestSalesReport(t *testing.T) {
	svc, backend, renderer, _ := newTestService()
	backend.orders = []domain.Order{
		{OrderID: 1, Status: domain.StatusCompleted, OrderDate: time.Date(2024, 3, 10, 23, 59, 59, 999e6, time.UTC)},
		{OrderID: 2, Status: domain.StatusCompleted, OrderDate: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
	}

	result, err := svc.SalesReport(context.Background(), "2024-03-01", "2024-03-10", true)
	require.NoError(t, err)
	require.Len(t, result.Report.Completed, 1)
	assert.Equal(t, int64(1), result.Report.Completed[0].OrderID)
	assert.Equal(t, "out/sales_report.pdf", result.FilePath)
	require.NotNil(t, result.Document)
	assert.Equal(t, "%PDF-sales", string(result.Document.Content))
	assert.Equal(t, 1, renderer.sales)

	_, err = svc.SalesReport(context.Background(), "03/01/2024", "", false)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestInventoryReportIsAdminOnly(t *testing.T) {
	svc, backend, _, _ := newTestService()
	backend.inventory = []domain.InventoryItem{{ItemID: 1, StockLocation: "Warehouse C", Quantity: 0}}

	_, err := svc.InventoryReport(staffContext(7, domain.RoleStaff), false)
	assert.ErrorIs(t, err, ErrForbidden)

	result, err := svc.InventoryReport(staffContext(1, domain.RoleAdmin), false)
	require.NoError(t, err)
	assert.Len(t, result.Report.OutOfStock, 1)
	assert.Len(t, result.Report.Locations[2].Items, 1)
}

func TestCustomerHistorySearch(t *testing.T) {
	svc, backend, _, _ := newTestService()
	backend.history = []domain.CustomerOrder{
		{CustomerNumber: "0812", OrderID: 1},
		{CustomerNumber: "0999", OrderID: 2},
	}

	groups, err := svc.CustomerHistory(context.Background(), "081")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "0812", groups[0].CustomerNumber)
}

type memoryMenuCache struct {
	items         []domain.MenuItem
	invalidations int
}

func (m *memoryMenuCache) Get(context.Context, string) ([]domain.MenuItem, bool, error) {
	return m.items, m.items != nil, nil
}

func (m *memoryMenuCache) Set(_ context.Context, _ string, items []domain.MenuItem, _ time.Duration) error {
	m.items = items
	return nil
}

func (m *memoryMenuCache) Invalidate(context.Context, string) error {
	m.items = nil
	m.invalidations++
	return nil
}

func TestStaleMenuCacheIsDroppedOnMiss(t *testing.T) {
	svc, backend, _, _ := newTestService()
	menu := &memoryMenuCache{items: backend.menu[:2]}
	svc.menuCache = menu
	ctx := staffContext(7, domain.RoleStaff)

	view, err := svc.AddItem(ctx, 3)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "Sundae", view.Lines[0].Name)
	assert.Equal(t, 1, menu.invalidations)
	assert.Len(t, menu.items, 3)
	assert.Equal(t, 1, backend.menuCalls)

	_, err = svc.AddItem(ctx, 99)
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, 2, menu.invalidations)
	assert.Equal(t, 2, backend.menuCalls)
}

func TestUncachedMissDoesNotRefetch(t *testing.T) {
	svc, backend, _, _ := newTestService()

	_, err := svc.AddItem(staffContext(7, domain.RoleStaff), 99)
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, 1, backend.menuCalls)
}

func TestRestoreCartUsesMenuPrices(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := staffContext(7, domain.RoleStaff)

	view, err := svc.RestoreCart(ctx, []HeldLine{{ItemID: 1, Count: 2}, {ItemID: 2, Count: 0}, {ItemID: 1, Count: 1}})
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "Burger", view.Lines[0].Name)
	assert.Equal(t, 3, view.Lines[0].Count)
	assert.True(t, view.Lines[0].Price.Equal(decimal.RequireFromString("10")))

	_, err = svc.RestoreCart(ctx, []HeldLine{{ItemID: 99, Count: 1}})
	require.ErrorIs(t, err, ErrItemNotFound)

	view, err = svc.Session(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)
}

// gateRecorder parks the first successful settlement until resume is closed.
type gateRecorder struct {
	once   sync.Once
	placed chan struct{}
	resume chan struct{}
}

func (g *gateRecorder) Settlement(_ string, outcome string) {
	if outcome != "placed" {
		return
	}
	g.once.Do(func() {
		close(g.placed)
		<-g.resume
	})
}

func (g *gateRecorder) Transition(string, string) {}

func TestSettleStaysBusyUntilCartCleared(t *testing.T) {
	_, backend, renderer, _ := newTestService()
	gate := &gateRecorder{placed: make(chan struct{}), resume: make(chan struct{})}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := New(backend, renderer, Options{Recorder: gate, Logger: logger, ReportZone: time.UTC})
	ctx := staffContext(7, domain.RoleStaff)

	_, err := svc.AddItem(ctx, 1)
	require.NoError(t, err)
	_, err = svc.UpdateOptions(ctx, OptionsRequest{CustomerNumber: strPtr("42")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCreditCard})
		done <- err
	}()
	<-gate.placed

	// the first order is accepted but its cart is not cleared yet
	_, err = svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCreditCard})
	assert.ErrorIs(t, err, settlement.ErrSubmissionInFlight)
	_, err = svc.AddItem(ctx, 2)
	assert.ErrorIs(t, err, settlement.ErrSubmissionInFlight)

	close(gate.resume)
	require.NoError(t, <-done)

	backend.mu.Lock()
	assert.Len(t, backend.submissions, 1)
	backend.mu.Unlock()

	view, err := svc.Session(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.False(t, view.Submitting)

	_, err = svc.Settle(ctx, SettleRequest{PaymentMethod: domain.PaymentCreditCard})
	assert.ErrorIs(t, err, settlement.ErrEmptyCart)
}

func TestMobilePaymentIsPricedButNotSubmitted(t *testing.T) {
	svc, backend, renderer, recorder := newTestService()
	ctx := staffContext(7, domain.RoleStaff)
	mobile := domain.PaymentMobilePayment

	_, err := svc.AddItem(ctx, 1)
	require.NoError(t, err)
	view, err := svc.UpdateOptions(ctx, OptionsRequest{PaymentMethod: &mobile, CustomerNumber: strPtr("42")})
	require.NoError(t, err)
	assert.Equal(t, "0.04", view.Pricing.TaxRate.StringFixed(2))

	_, err = svc.Settle(ctx, SettleRequest{})
	require.ErrorIs(t, err, settlement.ErrMethodNotSettleable)
	assert.Empty(t, backend.submissions)
	assert.Zero(t, renderer.receipts)
	assert.Equal(t, 1, recorder.settlements["mobile-payment/unsettled_payment_method"])

	view, err = svc.Session(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)
	assert.False(t, view.Submitting)
}
