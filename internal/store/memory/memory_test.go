package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/store"
)

func seedEngineFixtures(t *testing.T) (*Store, context.Context) {
	t.Helper()
	s := NewSeeded()
	ctx := context.Background()

	products := []domain.Product{
		{ID: "eng-p1", Name: "Engine Produto Um", Quantity: 5, SalePriceCents: 1000},
		{ID: "eng-p2", Name: "Engine Produto Dois", Quantity: 3, SalePriceCents: 500},
	}
	for _, p := range products {
		if _, err := s.CreateProduct(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "eng-c1", Name: "Engine Cliente"}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return s, ctx
}

func commitFixtureSale(t *testing.T, s *Store, ctx context.Context, customerID string, items []domain.SaleItem) *domain.Sale {
	t.Helper()
	sale, err := s.CommitSale(ctx, domain.Sale{CustomerID: customerID, Items: items})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	return sale
}

func TestCommitSaleRejectsOversellBeforeMutating(t *testing.T) {
	s, ctx := seedEngineFixtures(t)

	_, err := s.CommitSale(ctx, domain.Sale{
		CustomerID: "eng-c1",
		Items: []domain.SaleItem{
			{ProductID: "eng-p1", Qty: 1, UnitPriceCents: 1000, TotalPriceCents: 1000},
			{ProductID: "eng-p2", Qty: 4, UnitPriceCents: 500, TotalPriceCents: 2000},
		},
	})
	if !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	// The valid first line must not have been applied.
	p1, err := s.GetProduct(ctx, "eng-p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p1.Quantity != 5 {
		t.Fatalf("rejected commit must not touch stock, got %d", p1.Quantity)
	}
	customer, err := s.GetCustomer(ctx, "eng-c1")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if customer.SalesCount != 0 || customer.TotalSpentCents != 0 {
		t.Fatalf("rejected commit must not touch aggregates, got %+v", customer)
	}
}

func TestCommitSaleToleratesVanishedProduct(t *testing.T) {
	s, ctx := seedEngineFixtures(t)

	sale := commitFixtureSale(t, s, ctx, "", []domain.SaleItem{
		{ProductID: "eng-gone", ProductName: "Produto Removido", Qty: 2, UnitPriceCents: 700, TotalPriceCents: 1400},
	})
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed sale, got %s", sale.Status)
	}
	if sale.SubtotalCents != 1400 {
		t.Fatalf("expected subtotal 1400, got %d", sale.SubtotalCents)
	}
}

func TestUpdateSaleRejectsIncreaseBeyondStock(t *testing.T) {
	s, ctx := seedEngineFixtures(t)

	sale := commitFixtureSale(t, s, ctx, "", []domain.SaleItem{
		{ProductID: "eng-p2", Qty: 1, UnitPriceCents: 500, TotalPriceCents: 500},
	})
	// Stock is now 2; growing the line to 4 needs 3 more units.
	_, err := s.UpdateSale(ctx, sale.ID, []domain.SaleItem{
		{ProductID: "eng-p2", Qty: 4, UnitPriceCents: 500, TotalPriceCents: 2000},
	}, 0, "", time.Now().UTC())
	if !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	current, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(current.Items) != 1 || current.Items[0].Qty != 1 {
		t.Fatalf("rejected edit must not change the sale, got %+v", current.Items)
	}
	p2, err := s.GetProduct(ctx, "eng-p2")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p2.Quantity != 2 {
		t.Fatalf("rejected edit must not touch stock, got %d", p2.Quantity)
	}
}

func TestUpdateSaleDropsRemovedLines(t *testing.T) {
	s, ctx := seedEngineFixtures(t)

	sale := commitFixtureSale(t, s, ctx, "", []domain.SaleItem{
		{ProductID: "eng-p1", Qty: 2, UnitPriceCents: 1000, TotalPriceCents: 2000},
		{ProductID: "eng-p2", Qty: 1, UnitPriceCents: 500, TotalPriceCents: 500},
	})

	updated, err := s.UpdateSale(ctx, sale.ID, []domain.SaleItem{
		{ProductID: "eng-p1", Qty: 2, UnitPriceCents: 1000, TotalPriceCents: 2000},
	}, 0, "", time.Now().UTC())
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if updated.SubtotalCents != 2000 {
		t.Fatalf("expected subtotal 2000, got %d", updated.SubtotalCents)
	}

	// The dropped line returns to stock, the untouched one does not move.
	p1, _ := s.GetProduct(ctx, "eng-p1")
	p2, _ := s.GetProduct(ctx, "eng-p2")
	if p1.Quantity != 3 {
		t.Fatalf("expected eng-p1 at 3, got %d", p1.Quantity)
	}
	if p2.Quantity != 3 {
		t.Fatalf("expected eng-p2 restored to 3, got %d", p2.Quantity)
	}
}

func TestAdjustStockHonorsNegativePolicy(t *testing.T) {
	s, ctx := seedEngineFixtures(t)

	err := s.AdjustStock(ctx, []domain.StockAdjustment{{ProductID: "eng-p1", Delta: -6}})
	if !errors.Is(err, store.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	settings, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	settings.Stock.AllowNegativeStock = true
	if err := s.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	if err := s.AdjustStock(ctx, []domain.StockAdjustment{{ProductID: "eng-p1", Delta: -6}}); err != nil {
		t.Fatalf("expected adjustment to pass with negative stock allowed: %v", err)
	}
	p1, _ := s.GetProduct(ctx, "eng-p1")
	if p1.Quantity != -1 {
		t.Fatalf("expected quantity -1, got %d", p1.Quantity)
	}
}

func TestListSalesFiltersAndLimits(t *testing.T) {
	s, ctx := seedEngineFixtures(t)

	first := commitFixtureSale(t, s, ctx, "eng-c1", []domain.SaleItem{
		{ProductID: "eng-p1", Qty: 1, UnitPriceCents: 1000, TotalPriceCents: 1000},
	})
	commitFixtureSale(t, s, ctx, "", []domain.SaleItem{
		{ProductID: "eng-p2", Qty: 1, UnitPriceCents: 500, TotalPriceCents: 500},
	})
	if _, err := s.CancelSale(ctx, first.ID, time.Now().UTC()); err != nil {
		t.Fatalf("cancel sale: %v", err)
	}

	cancelled, err := s.ListSales(ctx, domain.SaleStatusCancelled, "", 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != first.ID {
		t.Fatalf("expected only the cancelled sale, got %+v", cancelled)
	}

	byCustomer, err := s.ListSales(ctx, "", "eng-c1", 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(byCustomer) != 1 {
		t.Fatalf("expected one sale for eng-c1, got %d", len(byCustomer))
	}

	limited, err := s.ListSales(ctx, "", "", 1)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit 1 to be applied, got %d", len(limited))
	}
}

func TestClonedSalesAreIsolated(t *testing.T) {
	s, ctx := seedEngineFixtures(t)

	sale := commitFixtureSale(t, s, ctx, "", []domain.SaleItem{
		{ProductID: "eng-p1", Qty: 1, UnitPriceCents: 1000, TotalPriceCents: 1000},
	})
	sale.Items[0].Qty = 99

	stored, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if stored.Items[0].Qty != 1 {
		t.Fatalf("mutating a returned sale must not leak into the store, got %d", stored.Items[0].Qty)
	}
}
