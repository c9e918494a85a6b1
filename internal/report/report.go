package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"restopos/terminal/internal/domain"
)

const LowStockThreshold = 50

// Locations are the warehouse sections of the inventory report, in print order.
var Locations = []string{"Warehouse A", "Warehouse B", "Warehouse C"}

var (
	OrderColumns     = []string{"Order ID", "Staff Name", "Customer Number", "Total Amount", "Order Date"}
	InventoryColumns = []string{"Item ID", "Item Name", "Unit Price", "Stock Location", "Quantity", "Description", "Category"}
)

type Sales struct {
	Start     *time.Time     `json:"start,omitempty"`
	End       *time.Time     `json:"end,omitempty"`
	Completed []domain.Order `json:"completed"`
	Cancelled []domain.Order `json:"cancelled"`
}

// EndOfDay returns the last instant of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), loc)
}

// SalesReport keeps orders dated within [start, end of end's day]. When either
// bound is missing every order is kept. Pending orders appear in neither list.
// Order dates sent without a zone are read as wall-clock time in loc.
func SalesReport(orders []domain.Order, start, end *time.Time, loc *time.Location) Sales {
	if loc == nil {
		loc = time.UTC
	}
	report := Sales{
		Completed: make([]domain.Order, 0),
		Cancelled: make([]domain.Order, 0),
	}

	filtered := start != nil && end != nil
	var from, to time.Time
	if filtered {
		from = *start
		to = EndOfDay(*end, loc)
		report.Start = &from
		report.End = &to
	}

	for _, order := range orders {
		order = order.In(loc)
		if filtered && (order.OrderDate.Before(from) || order.OrderDate.After(to)) {
			continue
		}
		switch order.Status {
		case domain.StatusCompleted:
			report.Completed = append(report.Completed, order)
		case domain.StatusCancelled:
			report.Cancelled = append(report.Cancelled, order)
		}
	}
	return report
}

func LowStock(items []domain.InventoryItem) []domain.InventoryItem {
	return selectItems(items, func(item domain.InventoryItem) bool {
		return item.Quantity < LowStockThreshold
	})
}

func OutOfStock(items []domain.InventoryItem) []domain.InventoryItem {
	return selectItems(items, func(item domain.InventoryItem) bool {
		return item.Quantity == 0
	})
}

type LocationSection struct {
	Location string                 `json:"location"`
	Items    []domain.InventoryItem `json:"items"`
}

// ByLocation always returns one section per warehouse, even when it is empty.
func ByLocation(items []domain.InventoryItem) []LocationSection {
	sections := make([]LocationSection, 0, len(Locations))
	for _, location := range Locations {
		sections = append(sections, LocationSection{
			Location: location,
			Items: selectItems(items, func(item domain.InventoryItem) bool {
				return item.StockLocation == location
			}),
		})
	}
	return sections
}

type Inventory struct {
	LowStock   []domain.InventoryItem `json:"lowStock"`
	OutOfStock []domain.InventoryItem `json:"outOfStock"`
	Locations  []LocationSection      `json:"locations"`
}

func CombinedInventory(items []domain.InventoryItem) Inventory {
	return Inventory{
		LowStock:   LowStock(items),
		OutOfStock: OutOfStock(items),
		Locations:  ByLocation(items),
	}
}

func selectItems(items []domain.InventoryItem, keep func(domain.InventoryItem) bool) []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0)
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

type CustomerGroup struct {
	CustomerNumber string                 `json:"customerNumber"`
	Orders         []domain.CustomerOrder `json:"orders"`
	TotalSpent     decimal.Decimal        `json:"totalSpent"`
}

// CustomerHistory groups orders by customer number in order of first appearance
// and keeps the groups whose number contains search, ignoring case.
func CustomerHistory(orders []domain.CustomerOrder, search string) []CustomerGroup {
	search = strings.ToLower(strings.TrimSpace(search))
	index := make(map[string]int)
	groups := make([]CustomerGroup, 0)

	for _, order := range orders {
		i, ok := index[order.CustomerNumber]
		if !ok {
			i = len(groups)
			index[order.CustomerNumber] = i
			groups = append(groups, CustomerGroup{CustomerNumber: order.CustomerNumber, TotalSpent: decimal.Zero})
		}
		groups[i].Orders = append(groups[i].Orders, order)
		groups[i].TotalSpent = groups[i].TotalSpent.Add(order.TotalAmount)
	}

	if search == "" {
		return groups
	}
	matched := make([]CustomerGroup, 0, len(groups))
	for _, group := range groups {
		if strings.Contains(strings.ToLower(group.CustomerNumber), search) {
			matched = append(matched, group)
		}
	}
	return matched
}

func Money(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

// OrderRows formats orders for a table under OrderColumns.
func OrderRows(orders []domain.Order, loc *time.Location) [][]string {
	if loc == nil {
		loc = time.UTC
	}
	rows := make([][]string, 0, len(orders))
	for _, order := range orders {
		order = order.In(loc)
		date := ""
		if !order.OrderDate.IsZero() {
			date = order.OrderDate.In(loc).Format("02 January 2006 03:04:05 PM")
		}
		rows = append(rows, []string{
			strconv.FormatInt(order.OrderID, 10),
			order.StaffName,
			order.CustomerNumber,
			Money(order.TotalAmount),
			date,
		})
	}
	return rows
}

// InventoryRows formats items for a table under InventoryColumns.
func InventoryRows(items []domain.InventoryItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ItemID, 10),
			item.ItemName,
			Money(item.UnitPrice),
			item.StockLocation,
			strconv.Itoa(item.Quantity),
			item.Description,
			item.Category,
		})
	}
	return rows
}

// RangeLabel describes a sales report period for document headers.
func RangeLabel(s Sales, loc *time.Location) string {
	if s.Start == nil || s.End == nil {
		return "All dates"
	}
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%s to %s", s.Start.In(loc).Format("02 Jan 2006"), s.End.In(loc).Format("02 Jan 2006"))
}
