package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCreditCard    PaymentMethod = "credit-card"
	PaymentMobilePayment PaymentMethod = "mobile-payment"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

type OrderCategory string

const (
	CategoryDineIn   OrderCategory = "Dine-in"
	CategoryTakeAway OrderCategory = "Take-away"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Actor is the verified staff member behind a request.
type Actor struct {
	StaffID int64
	Role    string
}

type MenuItem struct {
	ItemID    int64           `json:"itemId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	ImagePath string          `json:"imagePath,omitempty"`
}

// UnmarshalJSON accepts the backend's legacy "itemPath" field for the image.
func (m *MenuItem) UnmarshalJSON(data []byte) error {
	type alias MenuItem
	aux := struct {
		*alias
		ItemPath string `json:"itemPath"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.ImagePath == "" {
		m.ImagePath = aux.ItemPath
	}
	return nil
}

type CartLine struct {
	ItemID int64           `json:"itemId"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Count  int             `json:"count"`
}

func (l CartLine) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Count)))
}

// PricingSnapshot is derived from a cart, a discount and a payment method. It is never stored.
type PricingSnapshot struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent int             `json:"discountPercent"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	TaxRate         decimal.Decimal `json:"taxRate"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	FinalTotal      decimal.Decimal `json:"finalTotal"`
}

// TaxBase is the discounted subtotal the tax is levied on.
func (p PricingSnapshot) TaxBase() decimal.Decimal {
	return p.Subtotal.Sub(p.DiscountAmount)
}

// Rounded returns a copy with every amount rounded to cents for display.
func (p PricingSnapshot) Rounded() PricingSnapshot {
	return PricingSnapshot{
		Subtotal:        p.Subtotal.Round(2),
		DiscountPercent: p.DiscountPercent,
		DiscountAmount:  p.DiscountAmount.Round(2),
		TaxRate:         p.TaxRate,
		TaxAmount:       p.TaxAmount.Round(2),
		FinalTotal:      p.FinalTotal.Round(2),
	}
}

type OrderDetail struct {
	ItemID         int64           `json:"itemId"`
	CustomerNumber string          `json:"customerNumber"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
}

// OrderSubmission is the payload posted to the backend. It is immutable once sent.
type OrderSubmission struct {
	StaffID       int64           `json:"staffId"`
	OrderDate     time.Time       `json:"orderDate"`
	Discount      int             `json:"discount"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	OrderDetails  []OrderDetail   `json:"orderDetails"`
	TableName     *string         `json:"tableName"`
}

// MarshalJSON writes money as plain JSON numbers rounded to cents, which is what the backend parses.
func (s OrderSubmission) MarshalJSON() ([]byte, error) {
	type wireDetail struct {
		ItemID         int64       `json:"itemId"`
		CustomerNumber string      `json:"customerNumber"`
		Quantity       int         `json:"quantity"`
		Price          json.Number `json:"price"`
	}
	details := make([]wireDetail, 0, len(s.OrderDetails))
	for _, d := range s.OrderDetails {
		details = append(details, wireDetail{
			ItemID:         d.ItemID,
			CustomerNumber: d.CustomerNumber,
			Quantity:       d.Quantity,
			Price:          json.Number(d.Price.StringFixed(2)),
		})
	}
	return json.Marshal(struct {
		StaffID       int64         `json:"staffId"`
		OrderDate     string        `json:"orderDate"`
		Discount      int           `json:"discount"`
		PaymentMethod PaymentMethod `json:"paymentMethod"`
		TotalAmount   json.Number   `json:"totalAmount"`
		OrderDetails  []wireDetail  `json:"orderDetails"`
		TableName     *string       `json:"tableName"`
	}{
		StaffID:       s.StaffID,
		OrderDate:     s.OrderDate.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Discount:      s.Discount,
		PaymentMethod: s.PaymentMethod,
		TotalAmount:   json.Number(s.TotalAmount.StringFixed(2)),
		OrderDetails:  details,
		TableName:     s.TableName,
	})
}

type Order struct {
	OrderID        int64           `json:"orderId"`
	StaffName      string          `json:"staffName"`
	CustomerNumber string          `json:"customerNumber"`
	Status         OrderStatus     `json:"status"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	OrderDate      time.Time       `json:"orderDate"`

	// wallClock marks an OrderDate the backend sent without a zone.
	wallClock bool
}

// In re-reads a zone-less order date as wall-clock time in loc. Dates that
// carried a zone, or were already placed in a zone, are left as they are.
func (o Order) In(loc *time.Location) Order {
	if o.wallClock && loc != nil {
		o.OrderDate = atWallClock(o.OrderDate, loc)
		o.wallClock = false
	}
	return o
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// UnmarshalJSON tolerates numeric customer numbers and zone-less timestamps from the backend.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID        int64           `json:"orderId"`
		StaffName      string          `json:"staffName"`
		CustomerNumber json.RawMessage `json:"customerNumber"`
		Status         OrderStatus     `json:"status"`
		TotalAmount    decimal.Decimal `json:"totalAmount"`
		OrderDate      string          `json:"orderDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, wallClock := parseOrderDate(raw.OrderDate)
	*o = Order{
		OrderID:        raw.OrderID,
		StaffName:      raw.StaffName,
		CustomerNumber: flexString(raw.CustomerNumber),
		Status:         OrderStatus(strings.ToLower(strings.TrimSpace(string(raw.Status)))),
		TotalAmount:    raw.TotalAmount,
		OrderDate:      date,
		wallClock:      wallClock,
	}
	return nil
}

// parseOrderDate reports whether value had no zone. Such values are parsed as
// UTC wall-clock readings until a caller places them with In.
func parseOrderDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed, false
	}
	for _, layout := range zonelessLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func atWallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// CustomerOrder is one row of the backend's customer history feed.
type CustomerOrder struct {
	CustomerNumber string          `json:"customerNumber"`
	OrderID        int64           `json:"orderId"`
	Items          string          `json:"items"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Date           time.Time       `json:"date"`

	wallClock bool
}

// In re-reads a zone-less date as wall-clock time in loc.
func (c CustomerOrder) In(loc *time.Location) CustomerOrder {
	if c.wallClock && loc != nil {
		c.Date = atWallClock(c.Date, loc)
		c.wallClock = false
	}
	return c
}

func (c *CustomerOrder) UnmarshalJSON(data []byte) error {
	var raw struct {
		CustomerNumber json.RawMessage `json:"customerNumber"`
		OrderID        int64           `json:"orderId"`
		Items          json.RawMessage `json:"items"`
		TotalAmount    decimal.Decimal `json:"totalAmount"`
		Date           string          `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, wallClock := parseOrderDate(raw.Date)
	*c = CustomerOrder{
		CustomerNumber: flexString(raw.CustomerNumber),
		OrderID:        raw.OrderID,
		Items:          flexString(raw.Items),
		TotalAmount:    raw.TotalAmount,
		Date:           date,
		wallClock:      wallClock,
	}
	return nil
}

func flexString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

type InventoryItem struct {
	ItemID        int64           `json:"itemId"`
	ItemName      string          `json:"itemName"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	StockLocation string          `json:"stockLocation"`
	Quantity      int             `json:"quantity"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
}

type Reservation struct {
	ReservationID int64  `json:"reservationId"`
	TableName     string `json:"tableName"`
}

type StatusUpdateRequest struct {
	Status OrderStatus `json:"status"`
}

// PlaceOrderResult is the backend acknowledgement of a submission.
type PlaceOrderResult struct {
	OrderID string `json:"orderId"`
}

// Receipt carries the settled values that the receipt document is rendered from.
type Receipt struct {
	OrderID       string          `json:"orderId"`
	OrderNumber   int64           `json:"orderNumber"`
	IssuedAt      time.Time       `json:"issuedAt"`
	Lines         []CartLine      `json:"lines"`
	Pricing       PricingSnapshot `json:"pricing"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	CashReceived  decimal.Decimal `json:"cashReceived"`
	ChangeDue     decimal.Decimal `json:"changeDue"`
	TableName     *string         `json:"tableName,omitempty"`
	FilePath      string          `json:"filePath,omitempty"`
}

// ParseStaffID converts a token subject into a staff id.
func ParseStaffID(sub string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(sub), 10, 64)
}
