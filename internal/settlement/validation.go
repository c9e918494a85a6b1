package settlement

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"restopos/terminal/internal/domain"
)

type Kind string

const (
	KindInsufficientCash       Kind = "insufficient_cash"
	KindInvalidCustomerNumber  Kind = "invalid_customer_number"
	KindEmptyCart              Kind = "empty_cart"
	KindTableRequired          Kind = "table_required"
	KindUnsupportedOrderOption Kind = "unsupported_order_option"
	KindUnsettledMethod        Kind = "unsettled_payment_method"
)

// ValidationError is returned for operator input that must be corrected
// before anything is sent to the backend.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrInsufficientCash      = &ValidationError{Kind: KindInsufficientCash, Message: "insufficient cash received"}
	ErrInvalidCustomerNumber = &ValidationError{Kind: KindInvalidCustomerNumber, Message: "customer number must be a positive integer"}
	ErrEmptyCart             = &ValidationError{Kind: KindEmptyCart, Message: "cart is empty"}
	ErrTableRequired         = &ValidationError{Kind: KindTableRequired, Message: "dine-in orders need a reserved table"}
	ErrUnsupportedCategory   = &ValidationError{Kind: KindUnsupportedOrderOption, Message: "unsupported order category"}
	ErrMethodNotSettleable   = &ValidationError{Kind: KindUnsettledMethod, Message: "payment method cannot be submitted to the backend"}
)

// ValidateSettlementMethod accepts the payment methods the backend records.
// Mobile payment can be priced but not submitted.
func ValidateSettlementMethod(method domain.PaymentMethod) error {
	switch method {
	case domain.PaymentCash, domain.PaymentCreditCard:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrMethodNotSettleable, method)
	}
}

// ValidateCash parses the operator's cash entry and computes the change due.
// Card and mobile payments take no cash input and return zero amounts.
func ValidateCash(snapshot domain.PricingSnapshot, method domain.PaymentMethod, raw string) (decimal.Decimal, decimal.Decimal, error) {
	if method != domain.PaymentCash {
		return decimal.Zero, decimal.Zero, nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: no amount entered", ErrInsufficientCash)
	}
	cash, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInsufficientCash, raw)
	}
	if cash.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: negative amount", ErrInsufficientCash)
	}

	due := snapshot.FinalTotal.Round(2)
	if cash.LessThan(due) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: received %s, due %s", ErrInsufficientCash, cash.StringFixed(2), due.StringFixed(2))
	}
	return cash, ChangeDue(cash, due), nil
}

func ChangeDue(cash, total decimal.Decimal) decimal.Decimal {
	change := cash.Sub(total)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

// ValidateCustomerNumber returns the canonical form of a positive integer entry.
func ValidateCustomerNumber(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCustomerNumber, raw)
	}
	return strconv.FormatInt(n, 10), nil
}

// ValidateTable resolves the table name sent with the order. Take-away orders
// never carry one; dine-in orders need a table from the reservation list.
func ValidateTable(category domain.OrderCategory, table string, reservations []domain.Reservation) (*string, error) {
	switch category {
	case domain.CategoryTakeAway:
		return nil, nil
	case domain.CategoryDineIn:
		table = strings.TrimSpace(table)
		if table == "" {
			return nil, ErrTableRequired
		}
		for _, r := range reservations {
			if r.TableName == table {
				name := r.TableName
				return &name, nil
			}
		}
		return nil, fmt.Errorf("%w: table %q is not reserved", ErrTableRequired, table)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCategory, category)
	}
}
