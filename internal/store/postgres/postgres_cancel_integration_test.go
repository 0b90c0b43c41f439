package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"mercadinho/backend/internal/domain"
)

func TestCancelSaleRestocksAndDebitsCustomer(t *testing.T) {
	databaseURL := os.Getenv("MERCADINHO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MERCADINHO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prod-cancel-it-%d", stamp)
	customerID := fmt.Sprintf("cust-cancel-it-%d", stamp)
	saleID := fmt.Sprintf("sale-cancel-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, quantity, purchase_price_cents, sale_price_cents, created_at, updated_at)
		VALUES ($1, 'Produto Cancel IT', 'mercearia', 10, 700, 1000, now(), now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, sales_count, total_spent_cents, created_at, updated_at)
		VALUES ($1, 'Cliente Cancel IT', 0, 0, now(), now())
	`, customerID); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	sale := domain.Sale{
		ID:         saleID,
		CustomerID: customerID,
		Items: []domain.SaleItem{
			{ProductID: productID, ProductName: "Produto Cancel IT", Qty: 2, UnitPriceCents: 1000, TotalPriceCents: 2000},
		},
	}
	committed, err := s.CommitSale(ctx, sale)
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if committed.TotalCents != 2000 {
		t.Fatalf("expected total 2000, got %d", committed.TotalCents)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 8 {
		t.Fatalf("expected stock 8 after commit, got %d", qty)
	}

	if _, err := s.CancelSale(ctx, saleID, time.Now().UTC()); err != nil {
		t.Fatalf("cancel sale: %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&qty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if qty != 10 {
		t.Fatalf("expected stock 10 after cancel restock, got %d", qty)
	}

	var salesCount int
	var totalSpent int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT sales_count, total_spent_cents FROM customers WHERE id = $1
	`, customerID).Scan(&salesCount, &totalSpent); err != nil {
		t.Fatalf("query customer: %v", err)
	}
	if salesCount != 0 || totalSpent != 0 {
		t.Fatalf("expected customer aggregates back to zero, got count=%d spent=%d", salesCount, totalSpent)
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM sales WHERE id = $1`, saleID).Scan(&status); err != nil {
		t.Fatalf("query sale status: %v", err)
	}
	if status != domain.SaleStatusCancelled {
		t.Fatalf("expected sale status cancelled, got %s", status)
	}
}
