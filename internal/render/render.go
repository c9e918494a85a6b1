package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"

	"restopos/terminal/internal/domain"
	"restopos/terminal/internal/pricing"
	"restopos/terminal/internal/report"
)

const (
	ReceiptFile   = "receipt.pdf"
	SalesFile     = "sales_report.pdf"
	InventoryFile = "combined_inventory_report.pdf"

	pageWidth = 190.0
	rowHeight = 7.0
)

// Renderer writes documents into a single output directory under fixed names,
// so each new document replaces the previous one of the same kind.
type Renderer struct {
	outputDir string
	loc       *time.Location
	now       func() time.Time

	mu sync.Mutex
}

// Document is one rendered PDF. Content is this render's own bytes; the file
// at Path may since have been replaced by a later document of the same kind.
type Document struct {
	Name    string
	Path    string
	Content []byte
}

func New(outputDir string, loc *time.Location) (*Renderer, error) {
	if strings.TrimSpace(outputDir) == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{outputDir: outputDir, loc: loc, now: time.Now}, nil
}

func (r *Renderer) Path(name string) string {
	return filepath.Join(r.outputDir, name)
}

func (r *Renderer) newDocument() (*fpdf.Fpdf, func(string) string) {
	pdf := fpdf.New("P", "mm", "A4", "")
	now := r.now()
	pdf.SetCreationDate(now)
	pdf.SetModificationDate(now)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	return pdf, pdf.UnicodeTranslatorFromDescriptor("")
}

func title(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(pageWidth, 10, tr(text), "", 1, "C", false, 0, "")
	pdf.Ln(2)
}

func heading(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(pageWidth, 9, tr(text), "", 1, "L", false, 0, "")
}

func line(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(pageWidth, 6, tr(text), "", 1, "L", false, 0, "")
}

func table(pdf *fpdf.Fpdf, tr func(string) string, columns []string, rows [][]string) {
	width := pageWidth / float64(len(columns))

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range columns {
		pdf.CellFormat(width, rowHeight, tr(col), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		for _, cell := range row {
			pdf.CellFormat(width, rowHeight, tr(fit(pdf, cell, width-2)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)
}

// fit shortens text until it fits in width millimetres.
func fit(pdf *fpdf.Fpdf, text string, width float64) string {
	if pdf.GetStringWidth(text) <= width {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func (r *Renderer) write(pdf *fpdf.Fpdf, name string) (Document, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Document{}, fmt.Errorf("render %s: %w", name, err)
	}

	path := r.Path(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return Document{}, fmt.Errorf("write %s: %w", name, err)
	}
	return Document{Name: name, Path: path, Content: buf.Bytes()}, nil
}

func (r *Renderer) Receipt(receipt domain.Receipt) (string, error) {
	pdf, tr := r.newDocument()
	title(pdf, tr, "Receipt")

	if receipt.OrderNumber > 0 {
		line(pdf, tr, "Order No: "+strconv.FormatInt(receipt.OrderNumber, 10))
	}
	if receipt.OrderID != "" {
		line(pdf, tr, "Order ID: "+receipt.OrderID)
	}
	line(pdf, tr, "Date: "+receipt.IssuedAt.In(r.loc).Format("02 Jan 2006 15:04:05"))
	if receipt.TableName != nil {
		line(pdf, tr, "Table: "+*receipt.TableName)
	} else {
		line(pdf, tr, "Take-away")
	}
	pdf.Ln(3)

	rows := make([][]string, 0, len(receipt.Lines))
	for _, l := range receipt.Lines {
		rows = append(rows, []string{l.Name, strconv.Itoa(l.Count), report.Money(l.Price), report.Money(l.Total().Round(2))})
	}
	table(pdf, tr, []string{"Item", "Qty", "Price", "Total"}, rows)

	p := receipt.Pricing
	line(pdf, tr, "Subtotal: "+report.Money(p.Subtotal))
	line(pdf, tr, fmt.Sprintf("Discount (%d%%): -%s", p.DiscountPercent, report.Money(p.DiscountAmount)))
	line(pdf, tr, fmt.Sprintf("Tax (%d%%): %s", pricing.TaxPercent(p.TaxRate), report.Money(p.TaxAmount)))
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(pageWidth, 8, tr("Total: "+report.Money(p.FinalTotal)), "", 1, "L", false, 0, "")

	line(pdf, tr, "Payment: "+string(receipt.PaymentMethod))
	if receipt.PaymentMethod == domain.PaymentCash {
		line(pdf, tr, "Cash received: "+report.Money(receipt.CashReceived))
		line(pdf, tr, "Change: "+report.Money(receipt.ChangeDue))
	}

	doc, err := r.write(pdf, ReceiptFile)
	if err != nil {
		return "", err
	}
	return doc.Path, nil
}

func (r *Renderer) SalesReport(sales report.Sales) (Document, error) {
	pdf, tr := r.newDocument()
	title(pdf, tr, "Sales Report")
	line(pdf, tr, "Generated: "+r.now().In(r.loc).Format("02 Jan 2006 15:04:05"))
	line(pdf, tr, "Period: "+report.RangeLabel(sales, r.loc))
	pdf.Ln(3)

	heading(pdf, tr, "Completed Orders")
	table(pdf, tr, report.OrderColumns, report.OrderRows(sales.Completed, r.loc))
	heading(pdf, tr, "Cancelled Orders")
	table(pdf, tr, report.OrderColumns, report.OrderRows(sales.Cancelled, r.loc))

	return r.write(pdf, SalesFile)
}

func (r *Renderer) InventoryReport(inv report.Inventory) (Document, error) {
	pdf, tr := r.newDocument()
	title(pdf, tr, "Inventory Report")
	line(pdf, tr, "Generated: "+r.now().In(r.loc).Format("02 Jan 2006 15:04:05"))
	pdf.Ln(3)

	heading(pdf, tr, fmt.Sprintf("Low Stock Report (Quantity < %d)", report.LowStockThreshold))
	if len(inv.LowStock) == 0 {
		line(pdf, tr, fmt.Sprintf("No items with quantity less than %d.", report.LowStockThreshold))
		pdf.Ln(4)
	} else {
		table(pdf, tr, report.InventoryColumns, report.InventoryRows(inv.LowStock))
	}

	heading(pdf, tr, "Out of Stock Report (Quantity = 0)")
	if len(inv.OutOfStock) == 0 {
		line(pdf, tr, "No items are out of stock.")
		pdf.Ln(4)
	} else {
		table(pdf, tr, report.InventoryColumns, report.InventoryRows(inv.OutOfStock))
	}

	for _, section := range inv.Locations {
		heading(pdf, tr, section.Location)
		if len(section.Items) == 0 {
			line(pdf, tr, "No items stored here.")
			pdf.Ln(4)
			continue
		}
		table(pdf, tr, report.InventoryColumns, report.InventoryRows(section.Items))
	}

	return r.write(pdf, InventoryFile)
}
