package cart

import (
	"errors"
	"testing"

	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/store"
)

func testProduct(id string, qty int, priceCents int64) domain.Product {
	return domain.Product{ID: id, Name: "Produto " + id, Quantity: qty, SalePriceCents: priceCents}
}

func TestAddLineMergesByProduct(t *testing.T) {
	c := New("")
	p := testProduct("p1", 10, 500)

	if err := c.AddLine(p, 2, false); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if err := c.AddLine(p, 3, false); err != nil {
		t.Fatalf("AddLine second: %v", err)
	}

	if len(c.Lines) != 1 {
		t.Fatalf("expected 1 merged line, got %d", len(c.Lines))
	}
	if c.Lines[0].Qty != 5 {
		t.Fatalf("expected qty 5, got %d", c.Lines[0].Qty)
	}
	if c.Lines[0].TotalPriceCents != 2500 {
		t.Fatalf("expected line total 2500, got %d", c.Lines[0].TotalPriceCents)
	}
}

func TestAddLineRejectsBeyondStock(t *testing.T) {
	c := New("")
	p := testProduct("p1", 3, 500)

	if err := c.AddLine(p, 2, false); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	err := c.AddLine(p, 2, false)
	if !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if c.Lines[0].Qty != 2 {
		t.Fatalf("rejected add must not mutate cart, qty is %d", c.Lines[0].Qty)
	}
}

func TestAddLineAllowsNegativeStockWhenConfigured(t *testing.T) {
	c := New("")
	p := testProduct("p1", 1, 500)

	if err := c.AddLine(p, 5, true); err != nil {
		t.Fatalf("expected add beyond stock to pass with negative stock allowed: %v", err)
	}
}

func TestEditCartSkipsAdmissionCheck(t *testing.T) {
	sale := domain.Sale{
		ID: "sale-1",
		Items: []domain.SaleItem{
			{ProductID: "p1", ProductName: "Produto p1", Qty: 2, UnitPriceCents: 500, TotalPriceCents: 1000},
		},
	}
	c := NewFromSale(sale)

	// Live stock already excludes the committed units, so the edit cart may
	// hold more than the shelf shows.
	if err := c.AddLine(testProduct("p1", 0, 500), 1, false); err != nil {
		t.Fatalf("edit cart add: %v", err)
	}
	if c.Lines[0].Qty != 3 {
		t.Fatalf("expected qty 3, got %d", c.Lines[0].Qty)
	}
}

func TestAdjustLineRemovesAtZero(t *testing.T) {
	c := New("")
	if err := c.AddLine(testProduct("p1", 10, 500), 2, false); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if err := c.AdjustLine("p1", -2, 10, false); err != nil {
		t.Fatalf("AdjustLine: %v", err)
	}
	if len(c.Lines) != 0 {
		t.Fatalf("expected line removed, got %d lines", len(c.Lines))
	}
}

func TestAdjustLineUnknownProduct(t *testing.T) {
	c := New("")
	if err := c.AdjustLine("missing", 1, 10, false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdjustLineChecksStockOnIncrease(t *testing.T) {
	c := New("")
	if err := c.AddLine(testProduct("p1", 3, 500), 3, false); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if err := c.AdjustLine("p1", 1, 3, false); !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
}

func TestSetDiscountBounds(t *testing.T) {
	c := New("")
	if err := c.SetDiscount(-1, 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative discount, got %v", err)
	}
	if err := c.SetDiscount(101, 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for >100 discount, got %v", err)
	}
	if err := c.SetDiscount(25, 20); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput above configured maximum, got %v", err)
	}
	if err := c.SetDiscount(15, 20); err != nil {
		t.Fatalf("SetDiscount within maximum: %v", err)
	}
	if c.DiscountPercent != 15 {
		t.Fatalf("expected discount 15, got %v", c.DiscountPercent)
	}
}

func TestTotalsApplyDiscount(t *testing.T) {
	c := New("")
	if err := c.AddLine(testProduct("p1", 10, 1000), 2, false); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if err := c.SetDiscount(10, 0); err != nil {
		t.Fatalf("SetDiscount: %v", err)
	}
	subtotal, total := c.Totals()
	if subtotal != 2000 {
		t.Fatalf("expected subtotal 2000, got %d", subtotal)
	}
	if total != 1800 {
		t.Fatalf("expected total 1800, got %d", total)
	}
}

func TestClearResetsEverything(t *testing.T) {
	c := New("c1")
	if err := c.AddLine(testProduct("p1", 10, 500), 1, false); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if err := c.SetDiscount(5, 0); err != nil {
		t.Fatalf("SetDiscount: %v", err)
	}
	c.Clear()
	if len(c.Lines) != 0 || c.DiscountPercent != 0 || c.CustomerID != "" {
		t.Fatalf("expected cleared cart, got %+v", c)
	}
}
