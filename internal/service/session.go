package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"restopos/terminal/internal/cart"
	"restopos/terminal/internal/domain"
	"restopos/terminal/internal/pricing"
	"restopos/terminal/internal/settlement"
)

type session struct {
	mu sync.Mutex

	id           string
	staffID      int64
	ledger       *cart.Ledger
	discount     int
	method       domain.PaymentMethod
	category     domain.OrderCategory
	table        string
	customer     string
	orderNumber  int64
	reservations []domain.Reservation
	loaded       bool
}

type SessionView struct {
	SessionID      string                 `json:"sessionId"`
	StaffID        int64                  `json:"staffId"`
	OrderNumber    int64                  `json:"orderNumber"`
	Lines          []domain.CartLine      `json:"lines"`
	Pricing        domain.PricingSnapshot `json:"pricing"`
	Discounts      []int                  `json:"discounts"`
	PaymentMethod  domain.PaymentMethod   `json:"paymentMethod"`
	OrderCategory  domain.OrderCategory   `json:"orderCategory"`
	TableName      string                 `json:"tableName,omitempty"`
	CustomerNumber string                 `json:"customerNumber,omitempty"`
	Reservations   []domain.Reservation   `json:"reservations"`
	Submitting     bool                   `json:"submitting"`
}

// OptionsRequest changes checkout options. Nil fields are left as they are.
type OptionsRequest struct {
	Discount       *int                  `json:"discount"`
	PaymentMethod  *domain.PaymentMethod `json:"paymentMethod"`
	OrderCategory  *domain.OrderCategory `json:"orderCategory"`
	TableName      *string               `json:"tableName"`
	CustomerNumber *string               `json:"customerNumber"`
}

type SettleRequest struct {
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	CashReceived  string               `json:"cashReceived"`
}

type SettleResult struct {
	settlement.Result
	Session SessionView `json:"session"`
}

func (s *Service) session(ctx context.Context) (*session, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	s.mu.Lock()
	sess, exists := s.sessions[actor.StaffID]
	if !exists {
		sess = &session{
			id:       uuid.NewString(),
			staffID:  actor.StaffID,
			ledger:   cart.NewLedger(),
			discount: pricing.DefaultDiscount,
			method:   domain.PaymentCash,
			category: domain.CategoryTakeAway,
		}
		s.sessions[actor.StaffID] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	loaded := sess.loaded
	sess.mu.Unlock()
	if !loaded {
		if err := s.refreshSession(ctx, sess); err != nil {
			s.sessionLog(sess).WithError(err).Warn("loading order number and reservations failed")
		}
	}
	return sess, nil
}

// refreshSession reloads the next order number and the reservation list.
func (s *Service) refreshSession(ctx context.Context, sess *session) error {
	number, err := s.backend.NextOrderNumber(ctx)
	if err != nil {
		return fmt.Errorf("next order number: %w", err)
	}
	reservations, err := s.backend.ListReservations(ctx)
	if err != nil {
		return fmt.Errorf("reservations: %w", err)
	}

	sess.mu.Lock()
	sess.orderNumber = number
	sess.reservations = reservations
	sess.loaded = true
	sess.mu.Unlock()
	return nil
}

func (s *Service) sessionLog(sess *session) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"component":  "session",
		"session_id": sess.id,
		"staff_id":   sess.staffID,
	})
}

// view must be called with sess.mu held.
func (s *Service) view(sess *session) SessionView {
	lines := sess.ledger.Snapshot()
	snapshot, err := pricing.Price(lines, sess.discount, sess.method)
	if err != nil {
		s.sessionLog(sess).WithError(err).Error("session holds unpriceable options")
	}
	return SessionView{
		SessionID:      sess.id,
		StaffID:        sess.staffID,
		OrderNumber:    sess.orderNumber,
		Lines:          lines,
		Pricing:        snapshot.Rounded(),
		Discounts:      append([]int(nil), pricing.Discounts...),
		PaymentMethod:  sess.method,
		OrderCategory:  sess.category,
		TableName:      sess.table,
		CustomerNumber: sess.customer,
		Reservations:   append([]domain.Reservation{}, sess.reservations...),
		Submitting:     s.settler.InFlight(sess.id),
	}
}

func (s *Service) Session(ctx context.Context) (SessionView, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return SessionView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.view(sess), nil
}

func (s *Service) AddItem(ctx context.Context, itemID int64) (SessionView, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return SessionView{}, err
	}
	item, err := s.findMenuItem(ctx, itemID)
	if err != nil {
		return SessionView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if s.settler.InFlight(sess.id) {
		return SessionView{}, settlement.ErrSubmissionInFlight
	}
	sess.ledger.Add(item)
	return s.view(sess), nil
}

// HeldLine is one line of a cart the terminal is resuming.
type HeldLine struct {
	ItemID int64 `json:"itemId"`
	Count  int   `json:"count"`
}

// RestoreCart replaces the session's cart with held lines. Names and prices
// always come from the current menu.
func (s *Service) RestoreCart(ctx context.Context, held []HeldLine) (SessionView, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return SessionView{}, err
	}

	lines := make([]domain.CartLine, 0, len(held))
	for _, h := range held {
		item, err := s.findMenuItem(ctx, h.ItemID)
		if err != nil {
			return SessionView{}, err
		}
		lines = append(lines, domain.CartLine{ItemID: item.ItemID, Name: item.Name, Price: item.Price, Count: h.Count})
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if s.settler.InFlight(sess.id) {
		return SessionView{}, settlement.ErrSubmissionInFlight
	}
	sess.ledger.Restore(lines)
	return s.view(sess), nil
}

func (s *Service) RemoveItem(ctx context.Context, index int) (SessionView, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return SessionView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if s.settler.InFlight(sess.id) {
		return SessionView{}, settlement.ErrSubmissionInFlight
	}
	if err := sess.ledger.Remove(index); err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

func (s *Service) UpdateOptions(ctx context.Context, req OptionsRequest) (SessionView, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return SessionView{}, err
	}

	if req.Discount != nil && !pricing.IsSupportedDiscount(*req.Discount) {
		return SessionView{}, fmt.Errorf("%w: %d%%", pricing.ErrUnsupportedDiscount, *req.Discount)
	}
	if req.PaymentMethod != nil {
		if _, err := pricing.TaxRate(*req.PaymentMethod); err != nil {
			return SessionView{}, err
		}
	}
	switchToDineIn := false
	if req.OrderCategory != nil {
		switch *req.OrderCategory {
		case domain.CategoryDineIn:
			switchToDineIn = true
		case domain.CategoryTakeAway:
		default:
			return SessionView{}, fmt.Errorf("%w: %q", settlement.ErrUnsupportedCategory, *req.OrderCategory)
		}
	}

	if switchToDineIn {
		// the reservation list shown for dine-in is always fresh
		reservations, err := s.backend.ListReservations(ctx)
		if err != nil {
			return SessionView{}, err
		}
		sess.mu.Lock()
		sess.reservations = reservations
		sess.mu.Unlock()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if s.settler.InFlight(sess.id) {
		return SessionView{}, settlement.ErrSubmissionInFlight
	}
	if req.Discount != nil {
		sess.discount = *req.Discount
	}
	if req.PaymentMethod != nil {
		sess.method = *req.PaymentMethod
	}
	if req.OrderCategory != nil {
		sess.category = *req.OrderCategory
		if sess.category == domain.CategoryTakeAway {
			sess.table = ""
		}
	}
	if req.TableName != nil {
		sess.table = strings.TrimSpace(*req.TableName)
	}
	if req.CustomerNumber != nil {
		sess.customer = strings.TrimSpace(*req.CustomerNumber)
	}
	return s.view(sess), nil
}

// Settle submits the session's cart. The session stays busy from the moment
// the cart is read until it has been cleared, so a second settle cannot post
// the same cart. The cart is cleared only after the backend accepted the order.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (SettleResult, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return SettleResult{}, err
	}

	sess.mu.Lock()
	method := sess.method
	if req.PaymentMethod != "" {
		method = req.PaymentMethod
	}
	release, err := s.settler.Begin(sess.id)
	if err != nil {
		sess.mu.Unlock()
		s.recorder.Settlement(string(method), settlementOutcome(err))
		return SettleResult{}, err
	}
	defer release()

	settleReq := settlement.Request{
		StaffID:         sess.staffID,
		Lines:           sess.ledger.Snapshot(),
		DiscountPercent: sess.discount,
		PaymentMethod:   method,
		CashReceived:    req.CashReceived,
		CustomerNumber:  sess.customer,
		OrderCategory:   sess.category,
		TableName:       sess.table,
		Reservations:    append([]domain.Reservation(nil), sess.reservations...),
		OrderNumber:     sess.orderNumber,
		Refresh: func(ctx context.Context) error {
			return s.refreshSession(ctx, sess)
		},
	}
	sess.mu.Unlock()

	result, err := s.settler.Submit(ctx, settleReq)
	if err != nil {
		s.recorder.Settlement(string(method), settlementOutcome(err))
		return SettleResult{}, err
	}
	s.recorder.Settlement(string(method), "placed")

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.ledger.Clear()
	sess.method = method
	sess.customer = ""
	sess.table = ""
	release()
	return SettleResult{Result: result, Session: s.view(sess)}, nil
}

func settlementOutcome(err error) string {
	var verr *settlement.ValidationError
	switch {
	case errors.As(err, &verr):
		return string(verr.Kind)
	case errors.Is(err, pricing.ErrUnsupportedDiscount), errors.Is(err, pricing.ErrUnsupportedPaymentMethod):
		return "invalid_option"
	case errors.Is(err, settlement.ErrSubmissionInFlight):
		return "in_flight"
	default:
		return "failed"
	}
}
