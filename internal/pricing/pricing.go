package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"restopos/terminal/internal/domain"
)

var (
	ErrUnsupportedDiscount      = errors.New("unsupported discount")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
)

const DefaultDiscount = 5

// Discounts lists the percentages staff can pick from, in display order.
var Discounts = []int{2, 5, 7, 10}

var (
	hundred      = decimal.NewFromInt(100)
	cashTaxRate  = decimal.NewFromInt(16).Div(hundred)
	cardTaxRate  = decimal.NewFromInt(4).Div(hundred)
	zeroDecimals = decimal.Zero
)

func IsSupportedDiscount(percent int) bool {
	for _, d := range Discounts {
		if d == percent {
			return true
		}
	}
	return false
}

// TaxRate returns the flat rate for a payment method. Cash carries the high rate.
func TaxRate(method domain.PaymentMethod) (decimal.Decimal, error) {
	switch method {
	case domain.PaymentCash:
		return cashTaxRate, nil
	case domain.PaymentCreditCard, domain.PaymentMobilePayment:
		return cardTaxRate, nil
	default:
		return zeroDecimals, fmt.Errorf("%w: %q", ErrUnsupportedPaymentMethod, method)
	}
}

// Price derives the totals for lines. Tax is levied on the discounted subtotal;
// nothing is rounded here.
func Price(lines []domain.CartLine, discountPercent int, method domain.PaymentMethod) (domain.PricingSnapshot, error) {
	if !IsSupportedDiscount(discountPercent) {
		return domain.PricingSnapshot{}, fmt.Errorf("%w: %d%%", ErrUnsupportedDiscount, discountPercent)
	}
	rate, err := TaxRate(method)
	if err != nil {
		return domain.PricingSnapshot{}, err
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Total())
	}

	discountAmount := subtotal.Mul(decimal.NewFromInt(int64(discountPercent))).Div(hundred)
	taxBase := subtotal.Sub(discountAmount)
	taxAmount := taxBase.Mul(rate)

	return domain.PricingSnapshot{
		Subtotal:        subtotal,
		DiscountPercent: discountPercent,
		DiscountAmount:  discountAmount,
		TaxRate:         rate,
		TaxAmount:       taxAmount,
		FinalTotal:      taxBase.Add(taxAmount),
	}, nil
}

// TaxPercent renders a rate as a whole percentage, e.g. 0.16 -> 16.
func TaxPercent(rate decimal.Decimal) int64 {
	return rate.Mul(hundred).Round(0).IntPart()
}
