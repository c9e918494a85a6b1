package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"restopos/terminal/internal/domain"
	"restopos/terminal/internal/pricing"
)

var ErrSubmissionInFlight = errors.New("an order submission is already in progress")

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, submission domain.OrderSubmission) (domain.PlaceOrderResult, error)
}

type ReceiptRenderer interface {
	Receipt(receipt domain.Receipt) (string, error)
}

// Request is everything the operator has entered for one checkout.
type Request struct {
	StaffID         int64
	Lines           []domain.CartLine
	DiscountPercent int
	PaymentMethod   domain.PaymentMethod
	CashReceived    string
	CustomerNumber  string
	OrderCategory   domain.OrderCategory
	TableName       string
	Reservations    []domain.Reservation
	OrderNumber     int64

	// Refresh reloads the session's next order number and reservations once the order is placed.
	Refresh func(ctx context.Context) error
}

// Checked is a request that passed every local validation.
type Checked struct {
	Pricing        domain.PricingSnapshot
	CashReceived   decimal.Decimal
	ChangeDue      decimal.Decimal
	CustomerNumber string
	TableName      *string
}

type Result struct {
	OrderID    string                 `json:"orderId"`
	Submission domain.OrderSubmission `json:"submission"`
	Receipt    domain.Receipt         `json:"receipt"`
}

// Check runs the local validations in the order the operator sees them.
func Check(req Request) (Checked, error) {
	if len(req.Lines) == 0 {
		return Checked{}, ErrEmptyCart
	}
	snapshot, err := pricing.Price(req.Lines, req.DiscountPercent, req.PaymentMethod)
	if err != nil {
		return Checked{}, err
	}
	if err := ValidateSettlementMethod(req.PaymentMethod); err != nil {
		return Checked{}, err
	}
	customer, err := ValidateCustomerNumber(req.CustomerNumber)
	if err != nil {
		return Checked{}, err
	}
	table, err := ValidateTable(req.OrderCategory, req.TableName, req.Reservations)
	if err != nil {
		return Checked{}, err
	}
	cash, change, err := ValidateCash(snapshot, req.PaymentMethod, req.CashReceived)
	if err != nil {
		return Checked{}, err
	}
	return Checked{
		Pricing:        snapshot,
		CashReceived:   cash,
		ChangeDue:      change,
		CustomerNumber: customer,
		TableName:      table,
	}, nil
}

// BuildSubmission maps the cart onto the backend payload.
func BuildSubmission(req Request, checked Checked, now time.Time) domain.OrderSubmission {
	details := make([]domain.OrderDetail, 0, len(req.Lines))
	for _, line := range req.Lines {
		details = append(details, domain.OrderDetail{
			ItemID:         line.ItemID,
			CustomerNumber: checked.CustomerNumber,
			Quantity:       line.Count,
			Price:          line.Price,
		})
	}
	return domain.OrderSubmission{
		StaffID:       req.StaffID,
		OrderDate:     now.UTC(),
		Discount:      req.DiscountPercent,
		PaymentMethod: req.PaymentMethod,
		TotalAmount:   checked.Pricing.FinalTotal,
		OrderDetails:  details,
		TableName:     checked.TableName,
	}
}

type Settler struct {
	placer   OrderPlacer
	renderer ReceiptRenderer
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewSettler(placer OrderPlacer, renderer ReceiptRenderer, logger *logrus.Logger) *Settler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Settler{
		placer:   placer,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Settle guards sessionKey for the duration of one submission. Callers that
// must keep the guard across their own bookkeeping use Begin and Submit.
func (s *Settler) Settle(ctx context.Context, sessionKey string, req Request) (Result, error) {
	if _, err := Check(req); err != nil {
		return Result{}, err
	}
	release, err := s.Begin(sessionKey)
	if err != nil {
		return Result{}, err
	}
	defer release()
	return s.Submit(ctx, req)
}

// Begin marks sessionKey as having a submission outstanding until release is
// called. release may be called more than once.
func (s *Settler) Begin(sessionKey string) (release func(), err error) {
	if !s.acquire(sessionKey) {
		return nil, ErrSubmissionInFlight
	}
	var once sync.Once
	return func() { once.Do(func() { s.release(sessionKey) }) }, nil
}

// Submit validates, submits and, once the backend accepts the order, renders
// the receipt. Nothing leaves the terminal when validation fails, and a failed
// submission leaves the caller's cart as it was.
func (s *Settler) Submit(ctx context.Context, req Request) (Result, error) {
	checked, err := Check(req)
	if err != nil {
		return Result{}, err
	}

	submission := BuildSubmission(req, checked, s.now())
	log := s.logger.WithFields(logrus.Fields{
		"component": "settlement",
		"staff_id":  req.StaffID,
		"method":    req.PaymentMethod,
	})

	placed, err := s.placer.PlaceOrder(ctx, submission)
	if err != nil {
		log.WithError(err).Warn("order submission failed")
		return Result{}, fmt.Errorf("place order: %w", err)
	}
	log = log.WithField("order_id", placed.OrderID)
	log.Info("order placed")

	receipt := domain.Receipt{
		OrderID:       placed.OrderID,
		OrderNumber:   req.OrderNumber,
		IssuedAt:      submission.OrderDate,
		Lines:         append([]domain.CartLine(nil), req.Lines...),
		Pricing:       checked.Pricing.Rounded(),
		PaymentMethod: req.PaymentMethod,
		CashReceived:  checked.CashReceived.Round(2),
		ChangeDue:     checked.ChangeDue.Round(2),
		TableName:     checked.TableName,
	}
	if s.renderer != nil {
		path, err := s.renderer.Receipt(receipt)
		if err != nil {
			log.WithError(err).Error("receipt rendering failed")
		} else {
			receipt.FilePath = path
		}
	}

	if req.Refresh != nil {
		if err := req.Refresh(ctx); err != nil {
			log.WithError(err).Warn("session refresh after settlement failed")
		}
	}

	return Result{OrderID: placed.OrderID, Submission: submission, Receipt: receipt}, nil
}

func (s *Settler) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Settler) release(key string) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

// InFlight reports whether a submission for sessionKey is awaiting the backend.
func (s *Settler) InFlight(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[sessionKey]
	return busy
}
