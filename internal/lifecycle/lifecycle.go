package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"restopos/terminal/internal/domain"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrUnknownStatus     = errors.New("unknown order status")
	ErrOrderNotFound     = errors.New("order not found")
)

// DefaultViewStatus is the status the orders screen opens on.
const DefaultViewStatus = domain.StatusCompleted

type Action struct {
	Label  string             `json:"label"`
	Target domain.OrderStatus `json:"target"`
}

var transitions = map[domain.OrderStatus][]Action{
	domain.StatusPending: {
		{Label: "Mark Completed", Target: domain.StatusCompleted},
		{Label: "Cancel", Target: domain.StatusCancelled},
	},
	domain.StatusCompleted: {
		{Label: "Revert to Pending", Target: domain.StatusPending},
	},
	domain.StatusCancelled: {
		{Label: "Revert to Pending", Target: domain.StatusPending},
		{Label: "Revert to Completed", Target: domain.StatusCompleted},
	},
}

func ParseStatus(raw string) (domain.OrderStatus, error) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// Actions lists the transitions offered for an order in the given status.
func Actions(status domain.OrderStatus) []Action {
	return append([]Action(nil), transitions[status]...)
}

func CanTransition(from, to domain.OrderStatus) bool {
	for _, action := range transitions[from] {
		if action.Target == to {
			return true
		}
	}
	return false
}

func FilterByStatus(orders []domain.Order, status domain.OrderStatus) []domain.Order {
	filtered := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if order.Status == status {
			filtered = append(filtered, order)
		}
	}
	return filtered
}

type Backend interface {
	ListOrders(ctx context.Context) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (string, error)
}

// Manager holds the most recently fetched order collection. The collection is
// only ever replaced by a full fetch, never patched.
type Manager struct {
	backend Backend
	logger  *logrus.Logger

	mu     sync.RWMutex
	orders []domain.Order
}

func NewManager(backend Backend, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{backend: backend, logger: logger}
}

func (m *Manager) Refresh(ctx context.Context) ([]domain.Order, error) {
	orders, err := m.backend.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.orders = orders
	m.mu.Unlock()
	return m.Orders(), nil
}

// Orders returns a copy of the last fetched collection.
func (m *Manager) Orders() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Order(nil), m.orders...)
}

func (m *Manager) lookup(orderID int64) (domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, order := range m.orders {
		if order.OrderID == orderID {
			return order, true
		}
	}
	return domain.Order{}, false
}

// Transition asks the backend to move an order to target and then re-fetches
// every order. The order's current status is read from a fresh fetch, and an
// illegal pair is refused without sending an update.
func (m *Manager) Transition(ctx context.Context, orderID int64, target domain.OrderStatus) ([]domain.Order, string, error) {
	if _, err := m.Refresh(ctx); err != nil {
		return nil, "", err
	}
	current, ok := m.lookup(orderID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if !CanTransition(current.Status, target) {
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, target)
	}

	log := m.logger.WithFields(logrus.Fields{
		"component": "lifecycle",
		"order_id":  orderID,
		"from":      current.Status,
		"to":        target,
	})

	message, err := m.backend.UpdateStatus(ctx, orderID, target)
	if err != nil {
		log.WithError(err).Warn("status update failed")
		return nil, "", err
	}

	orders, err := m.Refresh(ctx)
	if err != nil {
		log.WithError(err).Warn("re-fetch after status update failed")
		return nil, message, err
	}
	log.Info("order status updated")
	return orders, message, nil
}
