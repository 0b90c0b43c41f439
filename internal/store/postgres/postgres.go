package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/store"
	"mercadinho/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, quantity, purchase_price_cents, sale_price_cents,
			COALESCE(barcode,''), COALESCE(image_url,'')
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Quantity, &p.PurchasePriceCents, &p.SalePriceCents, &p.Barcode, &p.ImageURL); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, quantity, purchase_price_cents, sale_price_cents,
			COALESCE(barcode,''), COALESCE(image_url,'')
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.Quantity, &p.PurchasePriceCents, &p.SalePriceCents, &p.Barcode, &p.ImageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, quantity, purchase_price_cents, sale_price_cents,
			COALESCE(barcode,''), COALESCE(image_url,'')
		FROM products
		WHERE lower(name) = lower($1)
		LIMIT 1
	`, strings.TrimSpace(name)).Scan(&p.ID, &p.Name, &p.Category, &p.Quantity, &p.PurchasePriceCents, &p.SalePriceCents, &p.Barcode, &p.ImageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.SalePriceCents < 0 || product.PurchasePriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, quantity, purchase_price_cents, sale_price_cents, barcode, image_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, product.ID, product.Name, product.Category, product.Quantity, product.PurchasePriceCents, product.SalePriceCents, nullIfEmpty(product.Barcode), nullIfEmpty(product.ImageURL))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.SalePriceCents < 0 || product.PurchasePriceCents < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, quantity = $4, purchase_price_cents = $5,
			sale_price_cents = $6, barcode = $7, image_url = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Quantity, product.PurchasePriceCents, product.SalePriceCents, nullIfEmpty(product.Barcode), nullIfEmpty(product.ImageURL))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	settings, err := loadSettingsTx(ctx, tx)
	if err != nil {
		return err
	}

	for _, adj := range adjustments {
		var quantity int
		err := tx.QueryRowContext(ctx, `
			SELECT quantity FROM products WHERE id = $1 FOR UPDATE
		`, adj.ProductID).Scan(&quantity)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("product %s unavailable: %w", adj.ProductID, store.ErrNotFound)
			}
			return err
		}
		if quantity+adj.Delta < 0 && !settings.Stock.AllowNegativeStock {
			return store.ErrOutOfStock
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1
		`, adj.ProductID, adj.Delta)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(nickname,''), COALESCE(phone,''), COALESCE(address,''),
			sales_count, total_spent_cents
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Nickname, &c.Phone, &c.Address, &c.SalesCount, &c.TotalSpentCents); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(nickname,''), COALESCE(phone,''), COALESCE(address,''),
			sales_count, total_spent_cents
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Nickname, &c.Phone, &c.Address, &c.SalesCount, &c.TotalSpentCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, nickname, phone, address, sales_count, total_spent_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,0,now(),now())
	`, customer.ID, customer.Name, nullIfEmpty(customer.Nickname), nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	customer.SalesCount = 0
	customer.TotalSpentCents = 0
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	// Identity fields only. The aggregates belong to the sale engines.
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, nickname = $3, phone = $4, address = $5, updated_at = now()
		WHERE id = $1
		RETURNING sales_count, total_spent_cents
	`, customer.ID, customer.Name, nullIfEmpty(customer.Nickname), nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address)).
		Scan(&customer.SalesCount, &customer.TotalSpentCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CommitSale records the sale, decrements stock and credits the customer
// aggregates inside one serializable transaction.
func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if sale.DiscountPercent < 0 || sale.DiscountPercent > 100 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	settings, err := loadSettingsTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	qtyByProduct := make(map[string]int, len(sale.Items))
	subtotal := int64(0)
	for _, item := range sale.Items {
		if item.Qty < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrInvalidInput
		}
		qtyByProduct[item.ProductID] += item.Qty
		subtotal += int64(item.Qty) * item.UnitPriceCents
	}

	stockMap, err := lockProductStock(ctx, tx, productIDs(qtyByProduct))
	if err != nil {
		return nil, err
	}
	if !settings.Stock.AllowNegativeStock {
		for productID, qty := range qtyByProduct {
			if available, exists := stockMap[productID]; exists && available < qty {
				return nil, store.ErrOutOfStock
			}
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.SubtotalCents = subtotal
	sale.TotalCents = discountedTotal(subtotal, sale.DiscountPercent)
	sale.Status = domain.SaleStatusCompleted
	sale.UpdatedAt = nil
	sale.CancelledAt = nil

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, subtotal_cents, discount_percent, total_cents, status, seller_id, seller_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sale.ID, nullIfEmpty(sale.CustomerID), sale.SubtotalCents, sale.DiscountPercent, sale.TotalCents, sale.Status, nullIfEmpty(sale.SellerID), nullIfEmpty(sale.SellerName), sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := insertSaleItems(ctx, tx, sale.ID, sale.Items); err != nil {
		return nil, err
	}

	for productID, qty := range qtyByProduct {
		if _, exists := stockMap[productID]; !exists {
			log.Printf("[postgres-store] WARN: sale %s references missing product %s, stock not adjusted", sale.ID, productID)
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity - $2, updated_at = now() WHERE id = $1
		`, productID, qty)
		if err != nil {
			return nil, err
		}
	}

	if sale.CustomerID != "" {
		if err := creditCustomer(ctx, tx, sale.ID, sale.CustomerID, 1, sale.TotalCents); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := sale
	return &saved, nil
}

// CancelSale restores stock, debits the customer aggregates and flips the
// sale to cancelled. A sale already cancelled is rejected untouched.
func (s *Store) CancelSale(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := loadSaleForUpdate(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleAlreadyCancelled
	}

	qtyByProduct := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		qtyByProduct[item.ProductID] += item.Qty
	}
	for productID, qty := range qtyByProduct {
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1
		`, productID, qty)
		if err != nil {
			return nil, err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			log.Printf("[postgres-store] WARN: cancel of sale %s references missing product %s, stock not restored", saleID, productID)
		}
	}

	if sale.CustomerID != "" {
		if err := creditCustomer(ctx, tx, sale.ID, sale.CustomerID, -1, -sale.TotalCents); err != nil {
			return nil, err
		}
	}

	cancelledAt := at.UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE sales SET status = $2, cancelled_at = $3 WHERE id = $1
	`, saleID, domain.SaleStatusCancelled, cancelledAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Status = domain.SaleStatusCancelled
	sale.CancelledAt = &cancelledAt
	return sale, nil
}

// UpdateSale replaces the item set, discount and customer of a completed
// sale. Stock moves by per-product net delta only and the original sale date
// is preserved.
func (s *Store) UpdateSale(ctx context.Context, saleID string, items []domain.SaleItem, discountPercent float64, customerID string, at time.Time) (*domain.Sale, error) {
	if len(items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if discountPercent < 0 || discountPercent > 100 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := loadSaleForUpdate(ctx, tx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleAlreadyCancelled
	}

	settings, err := loadSettingsTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	oldQty := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		oldQty[item.ProductID] += item.Qty
	}
	newQty := make(map[string]int, len(items))
	subtotal := int64(0)
	for _, item := range items {
		if item.Qty < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrInvalidInput
		}
		newQty[item.ProductID] += item.Qty
		subtotal += item.TotalPriceCents
	}

	union := make(map[string]int, len(oldQty)+len(newQty))
	for productID := range oldQty {
		union[productID] = 0
	}
	for productID := range newQty {
		union[productID] = 0
	}
	stockMap, err := lockProductStock(ctx, tx, productIDs(union))
	if err != nil {
		return nil, err
	}

	if !settings.Stock.AllowNegativeStock {
		for productID, qty := range newQty {
			extra := qty - oldQty[productID]
			if extra <= 0 {
				continue
			}
			if available, exists := stockMap[productID]; exists && available < extra {
				return nil, store.ErrOutOfStock
			}
		}
	}

	for productID := range union {
		delta := oldQty[productID] - newQty[productID]
		if delta == 0 {
			continue
		}
		if _, exists := stockMap[productID]; !exists {
			log.Printf("[postgres-store] WARN: edit of sale %s references missing product %s, stock not adjusted", saleID, productID)
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1
		`, productID, delta)
		if err != nil {
			return nil, err
		}
	}

	newTotal := discountedTotal(subtotal, discountPercent)
	if sale.CustomerID == customerID {
		if customerID != "" && newTotal != sale.TotalCents {
			if err := creditCustomer(ctx, tx, saleID, customerID, 0, newTotal-sale.TotalCents); err != nil {
				return nil, err
			}
		}
	} else {
		if sale.CustomerID != "" {
			if err := creditCustomer(ctx, tx, saleID, sale.CustomerID, -1, -sale.TotalCents); err != nil {
				return nil, err
			}
		}
		if customerID != "" {
			if err := creditCustomer(ctx, tx, saleID, customerID, 1, newTotal); err != nil {
				return nil, err
			}
		}
	}

	updatedAt := at.UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET customer_id = $2, subtotal_cents = $3, discount_percent = $4, total_cents = $5, updated_at = $6
		WHERE id = $1
	`, saleID, nullIfEmpty(customerID), subtotal, discountPercent, newTotal, updatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
	if err != nil {
		return nil, err
	}
	if err := insertSaleItems(ctx, tx, saleID, items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Items = items
	sale.CustomerID = customerID
	sale.DiscountPercent = discountPercent
	sale.SubtotalCents = subtotal
	sale.TotalCents = newTotal
	sale.UpdatedAt = &updatedAt
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(customer_id,''), subtotal_cents, discount_percent, total_cents,
			status, COALESCE(seller_id,''), COALESCE(seller_name,''), created_at, updated_at, cancelled_at
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	items, err := loadSaleItems(ctx, s.db, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, status string, customerID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(customer_id,''), subtotal_cents, discount_percent, total_cents,
			status, COALESCE(seller_id,''), COALESCE(seller_name,''), created_at, updated_at, cancelled_at
		FROM sales
		WHERE ($1 = '' OR status = $1)
			AND ($2 = '' OR customer_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, status, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := loadSaleItems(ctx, s.db, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM settings WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}

	var settings domain.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, payload, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, payload)
	return err
}

func (s *Store) AppendPriceSimulation(ctx context.Context, sim domain.PriceSimulation) error {
	if sim.ID == "" {
		sim.ID = xid.New("sim")
	}
	if sim.CreatedAt.IsZero() {
		sim.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_simulations (id, purchase_price_cents, tax_rate_percent, profit_margin_percent, suggested_price_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sim.ID, sim.PurchasePriceCents, sim.TaxRatePercent, sim.ProfitMarginPercent, sim.SuggestedPriceCents, sim.CreatedAt)
	return err
}

func (s *Store) ListPriceSimulations(ctx context.Context, limit int) ([]domain.PriceSimulation, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, purchase_price_cents, tax_rate_percent, profit_margin_percent, suggested_price_cents, created_at
		FROM price_simulations
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sims := make([]domain.PriceSimulation, 0, limit)
	for rows.Next() {
		var sim domain.PriceSimulation
		if err := rows.Scan(&sim.ID, &sim.PurchasePriceCents, &sim.TaxRatePercent, &sim.ProfitMarginPercent, &sim.SuggestedPriceCents, &sim.CreatedAt); err != nil {
			return nil, err
		}
		sim.CreatedAt = sim.CreatedAt.UTC()
		sims = append(sims, sim)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sims, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	pages, err := json.Marshal(user.Pages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, name, password, role, pages, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.Name, user.Password, user.Role, pages, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, COALESCE(name,''), password, role, COALESCE(pages,'[]'), active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var user domain.User
		var pages []byte
		if err := rows.Scan(&user.Username, &user.Name, &user.Password, &user.Role, &pages, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pages, &user.Pages); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return nil, store.ErrInvalidInput
	}

	pages, err := json.Marshal(user.Pages)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx, `
		UPDATE app_users
		SET name = $2, role = $3, pages = $4, active = $5, updated_at = now()
		WHERE username = $1
		RETURNING password, created_at
	`, user.Username, user.Name, user.Role, pages, user.Active).Scan(&user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()

	updated := user
	return &updated, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var updatedAt sql.NullTime
	var cancelledAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.CustomerID,
		&sale.SubtotalCents,
		&sale.DiscountPercent,
		&sale.TotalCents,
		&sale.Status,
		&sale.SellerID,
		&sale.SellerName,
		&sale.CreatedAt,
		&updatedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		sale.UpdatedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		sale.CancelledAt = &t
	}
	return &sale, nil
}

func loadSaleForUpdate(ctx context.Context, tx *sql.Tx, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(tx.QueryRowContext(ctx, `
		SELECT id, COALESCE(customer_id,''), subtotal_cents, discount_percent, total_cents,
			status, COALESCE(seller_id,''), COALESCE(seller_name,''), created_at, updated_at, cancelled_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID))
	if err != nil {
		return nil, err
	}

	items, err := loadSaleItems(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadSaleItems(ctx context.Context, q queryer, saleID string) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, qty, unit_price_cents, total_price_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Qty, &item.UnitPriceCents, &item.TotalPriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func insertSaleItems(ctx context.Context, tx *sql.Tx, saleID string, items []domain.SaleItem) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, qty, unit_price_cents, total_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, saleID, item.ProductID, item.ProductName, item.Qty, item.UnitPriceCents, item.TotalPriceCents)
		if err != nil {
			return err
		}
	}
	return nil
}

func lockProductStock(ctx context.Context, tx *sql.Tx, ids []string) (map[string]int, error) {
	stockMap := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return stockMap, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, quantity
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stockMap, nil
}

// creditCustomer applies a sales-count and total-spent delta. A missing
// customer only logs a warning so that sales against deleted customers still
// settle.
func creditCustomer(ctx context.Context, tx *sql.Tx, saleID string, customerID string, countDelta int, spentDelta int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET sales_count = sales_count + $2, total_spent_cents = total_spent_cents + $3, updated_at = now()
		WHERE id = $1
	`, customerID, countDelta, spentDelta)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		log.Printf("[postgres-store] WARN: sale %s references missing customer %s, aggregates not adjusted", saleID, customerID)
	}
	return nil
}

func loadSettingsTx(ctx context.Context, tx *sql.Tx) (domain.Settings, error) {
	var payload []byte
	err := tx.QueryRowContext(ctx, `SELECT payload FROM settings WHERE id = 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	var settings domain.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func productIDs(qtyByProduct map[string]int) []string {
	ids := make([]string, 0, len(qtyByProduct))
	for id := range qtyByProduct {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func discountedTotal(subtotal int64, discountPercent float64) int64 {
	return int64(math.Round(float64(subtotal) * (1 - discountPercent/100)))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
