package cart

import (
	"fmt"
	"math"
	"time"

	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/store"
	"mercadinho/backend/internal/xid"
)

// Cart is the mutable draft of an in-progress sale. A cart either backs a
// new sale or, when EditingSaleID is set, an edit-in-place of an existing
// committed sale. Edit carts skip the stock admission check because the
// stock already reflects the original sale.
type Cart struct {
	ID              string
	EditingSaleID   string
	Lines           []domain.SaleItem
	DiscountPercent float64
	CustomerID      string
	CreatedAt       time.Time
}

func New(customerID string) *Cart {
	return &Cart{
		ID:         xid.New("cart"),
		CustomerID: customerID,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewFromSale seeds an edit cart from a committed sale's items, discount
// and customer.
func NewFromSale(sale domain.Sale) *Cart {
	lines := make([]domain.SaleItem, len(sale.Items))
	copy(lines, sale.Items)
	return &Cart{
		ID:              xid.New("cart"),
		EditingSaleID:   sale.ID,
		Lines:           lines,
		DiscountPercent: sale.DiscountPercent,
		CustomerID:      sale.CustomerID,
		CreatedAt:       time.Now().UTC(),
	}
}

func (c *Cart) heldQty(productID string) int {
	for _, line := range c.Lines {
		if line.ProductID == productID {
			return line.Qty
		}
	}
	return 0
}

// AddLine merges qty units of product into the cart, appending a new line at
// the product's current sale price when none exists. The admission check
// runs against the live product quantity, so stock changes made since the
// cart was opened are reflected at add time. Rejections leave the cart
// untouched.
func (c *Cart) AddLine(product domain.Product, qty int, allowNegativeStock bool) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}
	if !allowNegativeStock && c.EditingSaleID == "" && c.heldQty(product.ID)+qty > product.Quantity {
		return store.ErrOutOfStock
	}

	for i := range c.Lines {
		if c.Lines[i].ProductID == product.ID {
			c.Lines[i].Qty += qty
			c.Lines[i].TotalPriceCents = int64(c.Lines[i].Qty) * c.Lines[i].UnitPriceCents
			return nil
		}
	}

	c.Lines = append(c.Lines, domain.SaleItem{
		ProductID:       product.ID,
		ProductName:     product.Name,
		Qty:             qty,
		UnitPriceCents:  product.SalePriceCents,
		TotalPriceCents: int64(qty) * product.SalePriceCents,
	})
	return nil
}

// AdjustLine changes an existing line's quantity by delta. Positive deltas
// run the same admission check as AddLine against liveQty; a resulting
// quantity of zero or less removes the line entirely.
func (c *Cart) AdjustLine(productID string, delta int, liveQty int, allowNegativeStock bool) error {
	idx := -1
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return store.ErrNotFound
	}

	if delta > 0 && !allowNegativeStock && c.EditingSaleID == "" && c.Lines[idx].Qty+delta > liveQty {
		return store.ErrOutOfStock
	}

	next := c.Lines[idx].Qty + delta
	if next <= 0 {
		c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
		return nil
	}
	c.Lines[idx].Qty = next
	c.Lines[idx].TotalPriceCents = int64(next) * c.Lines[idx].UnitPriceCents
	return nil
}

// SetDiscount validates the percentage against [0,100] and, when
// maxDiscountPercent is positive, against the configured maximum.
func (c *Cart) SetDiscount(percent float64, maxDiscountPercent float64) error {
	if percent < 0 || percent > 100 {
		return store.ErrInvalidInput
	}
	if maxDiscountPercent > 0 && percent > maxDiscountPercent {
		return fmt.Errorf("%w: discount %.1f%% above configured maximum %.1f%%", store.ErrInvalidInput, percent, maxDiscountPercent)
	}
	c.DiscountPercent = percent
	return nil
}

func (c *Cart) SetCustomer(customerID string) {
	c.CustomerID = customerID
}

// Totals returns subtotal and discounted total in cents.
func (c *Cart) Totals() (int64, int64) {
	var subtotal int64
	for _, line := range c.Lines {
		subtotal += line.TotalPriceCents
	}
	total := int64(math.Round(float64(subtotal) * (1 - c.DiscountPercent/100)))
	return subtotal, total
}

func (c *Cart) Clear() {
	c.Lines = nil
	c.DiscountPercent = 0
	c.CustomerID = ""
}

func (c *Cart) View() domain.CartView {
	subtotal, total := c.Totals()
	items := make([]domain.SaleItem, len(c.Lines))
	copy(items, c.Lines)
	return domain.CartView{
		ID:              c.ID,
		EditingSaleID:   c.EditingSaleID,
		Items:           items,
		DiscountPercent: c.DiscountPercent,
		CustomerID:      c.CustomerID,
		SubtotalCents:   subtotal,
		TotalCents:      total,
	}
}
