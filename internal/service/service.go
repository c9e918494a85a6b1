package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"restopos/terminal/internal/cache"
	"restopos/terminal/internal/domain"
	"restopos/terminal/internal/lifecycle"
	"restopos/terminal/internal/render"
	"restopos/terminal/internal/report"
	"restopos/terminal/internal/settlement"
)

var (
	ErrUnauthenticated = errors.New("staff identity required")
	ErrForbidden       = errors.New("admin role required")
	ErrItemNotFound    = errors.New("menu item not found")
	ErrInvalidDate     = errors.New("dates must use YYYY-MM-DD")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Backend interface {
	ListMenu(ctx context.Context) ([]domain.MenuItem, error)
	ListReservations(ctx context.Context) ([]domain.Reservation, error)
	NextOrderNumber(ctx context.Context) (int64, error)
	PlaceOrder(ctx context.Context, submission domain.OrderSubmission) (domain.PlaceOrderResult, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (string, error)
	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
	CustomerHistory(ctx context.Context) ([]domain.CustomerOrder, error)
}

type Renderer interface {
	Receipt(receipt domain.Receipt) (string, error)
	SalesReport(sales report.Sales) (render.Document, error)
	InventoryReport(inv report.Inventory) (render.Document, error)
}

// Recorder receives business outcome counts.
type Recorder interface {
	Settlement(method string, outcome string)
	Transition(target string, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) Settlement(string, string) {}
func (noopRecorder) Transition(string, string) {}

type Options struct {
	MenuCache  cache.MenuCache
	MenuTTL    time.Duration
	Recorder   Recorder
	Logger     *logrus.Logger
	ReportZone *time.Location
}

type Service struct {
	backend   Backend
	renderer  Renderer
	menuCache cache.MenuCache
	menuTTL   time.Duration
	recorder  Recorder
	logger    *logrus.Logger
	loc       *time.Location

	settler *settlement.Settler
	orders  *lifecycle.Manager

	mu       sync.Mutex
	sessions map[int64]*session
}

func New(backend Backend, renderer Renderer, opts Options) *Service {
	if opts.MenuCache == nil {
		opts.MenuCache = cache.NoopMenuCache{}
	}
	if opts.MenuTTL <= 0 {
		opts.MenuTTL = time.Minute
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ReportZone == nil {
		opts.ReportZone = time.Local
	}

	return &Service{
		backend:   backend,
		renderer:  renderer,
		menuCache: opts.MenuCache,
		menuTTL:   opts.MenuTTL,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		loc:       opts.ReportZone,
		settler:   settlement.NewSettler(backend, renderer, opts.Logger),
		orders:    lifecycle.NewManager(backend, opts.Logger),
		sessions:  make(map[int64]*session),
	}
}

// Menu returns the catalogue, optionally narrowed to one category. "all" and
// an empty category both mean no filter.
func (s *Service) Menu(ctx context.Context, category string) ([]domain.MenuItem, error) {
	items, _, err := s.menu(ctx)
	if err != nil {
		return nil, err
	}

	category = strings.TrimSpace(category)
	if category == "" || strings.EqualFold(category, "all") {
		return items, nil
	}
	filtered := make([]domain.MenuItem, 0, len(items))
	for _, item := range items {
		if strings.EqualFold(item.Category, category) {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

func (s *Service) menu(ctx context.Context) ([]domain.MenuItem, bool, error) {
	cached, ok, err := s.menuCache.Get(ctx, cache.MenuKey)
	if err != nil {
		s.logger.WithError(err).WithField("component", "service").Warn("menu cache read failed")
	} else if ok {
		return cached, true, nil
	}

	items, err := s.backend.ListMenu(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := s.menuCache.Set(ctx, cache.MenuKey, items, s.menuTTL); err != nil {
		s.logger.WithError(err).WithField("component", "service").Warn("menu cache write failed")
	}
	return items, false, nil
}

// findMenuItem looks itemID up in the menu. A miss against a cached menu drops
// the cache and asks the backend once more, since the item may be new.
func (s *Service) findMenuItem(ctx context.Context, itemID int64) (domain.MenuItem, error) {
	items, fromCache, err := s.menu(ctx)
	if err != nil {
		return domain.MenuItem{}, err
	}
	if item, ok := lookupItem(items, itemID); ok {
		return item, nil
	}

	if fromCache {
		if err := s.menuCache.Invalidate(ctx, cache.MenuKey); err != nil {
			s.logger.WithError(err).WithField("component", "service").Warn("menu cache invalidate failed")
		}
		items, err = s.backend.ListMenu(ctx)
		if err != nil {
			return domain.MenuItem{}, err
		}
		if err := s.menuCache.Set(ctx, cache.MenuKey, items, s.menuTTL); err != nil {
			s.logger.WithError(err).WithField("component", "service").Warn("menu cache write failed")
		}
		if item, ok := lookupItem(items, itemID); ok {
			return item, nil
		}
	}
	return domain.MenuItem{}, fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
}

func lookupItem(items []domain.MenuItem, itemID int64) (domain.MenuItem, bool) {
	for _, item := range items {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return domain.MenuItem{}, false
}

type OrderView struct {
	domain.Order
	Actions []lifecycle.Action `json:"actions"`
}

type OrdersView struct {
	Status domain.OrderStatus `json:"status"`
	Orders []OrderView        `json:"orders"`
}

// Orders fetches every order and returns those in status, with the actions
// each one offers. An empty status selects the default view.
func (s *Service) Orders(ctx context.Context, status string) (OrdersView, error) {
	target := lifecycle.DefaultViewStatus
	if strings.TrimSpace(status) != "" {
		parsed, err := lifecycle.ParseStatus(status)
		if err != nil {
			return OrdersView{}, err
		}
		target = parsed
	}

	all, err := s.orders.Refresh(ctx)
	if err != nil {
		return OrdersView{}, err
	}
	return OrdersView{Status: target, Orders: withActions(lifecycle.FilterByStatus(all, target))}, nil
}

func withActions(orders []domain.Order) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, OrderView{Order: order, Actions: lifecycle.Actions(order.Status)})
	}
	return views
}

type TransitionResult struct {
	Message string      `json:"message"`
	Orders  []OrderView `json:"orders"`
}

func (s *Service) TransitionOrder(ctx context.Context, orderID int64, status string) (TransitionResult, error) {
	target, err := lifecycle.ParseStatus(status)
	if err != nil {
		return TransitionResult{}, err
	}

	orders, message, err := s.orders.Transition(ctx, orderID, target)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, lifecycle.ErrIllegalTransition) {
			outcome = "rejected"
		}
		s.recorder.Transition(string(target), outcome)
		return TransitionResult{}, err
	}
	s.recorder.Transition(string(target), "applied")
	return TransitionResult{Message: message, Orders: withActions(orders)}, nil
}

type SalesReportResult struct {
	Report   report.Sales     `json:"report"`
	FilePath string           `json:"filePath,omitempty"`
	Document *render.Document `json:"-"`
}

// SalesReport selects completed and cancelled orders between two YYYY-MM-DD
// dates in the report zone. Leaving either date blank selects every order.
func (s *Service) SalesReport(ctx context.Context, start string, end string, document bool) (SalesReportResult, error) {
	from, err := s.parseDate(start)
	if err != nil {
		return SalesReportResult{}, err
	}
	to, err := s.parseDate(end)
	if err != nil {
		return SalesReportResult{}, err
	}

	orders, err := s.orders.Refresh(ctx)
	if err != nil {
		return SalesReportResult{}, err
	}

	result := SalesReportResult{Report: report.SalesReport(orders, from, to, s.loc)}
	if document {
		doc, err := s.renderer.SalesReport(result.Report)
		if err != nil {
			return SalesReportResult{}, err
		}
		result.FilePath = doc.Path
		result.Document = &doc
	}
	return result, nil
}

func (s *Service) parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", raw, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return &parsed, nil
}

type InventoryReportResult struct {
	Report   report.Inventory `json:"report"`
	FilePath string           `json:"filePath,omitempty"`
	Document *render.Document `json:"-"`
}

func (s *Service) InventoryReport(ctx context.Context, document bool) (InventoryReportResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return InventoryReportResult{}, ErrForbidden
	}

	items, err := s.backend.ListInventory(ctx)
	if err != nil {
		return InventoryReportResult{}, err
	}

	result := InventoryReportResult{Report: report.CombinedInventory(items)}
	if document {
		doc, err := s.renderer.InventoryReport(result.Report)
		if err != nil {
			return InventoryReportResult{}, err
		}
		result.FilePath = doc.Path
		result.Document = &doc
	}
	return result, nil
}

func (s *Service) CustomerHistory(ctx context.Context, search string) ([]report.CustomerGroup, error) {
	orders, err := s.backend.CustomerHistory(ctx)
	if err != nil {
		return nil, err
	}
	return report.CustomerHistory(orders, search), nil
}
