package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/store"
	"mercadinho/backend/internal/xid"
)

type Store struct {
	mu          sync.RWMutex
	products    map[string]domain.Product
	customers   map[string]domain.Customer
	salesByID   map[string]*domain.Sale
	settings    domain.Settings
	simulations []domain.PriceSimulation
	usersByName map[string]domain.User
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD; unset
// variables fall back to hardcoded dev defaults with a warning. The backend
// uses PostgreSQL when DATABASE_URL is set, so these never reach production.
func seedUsers() map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.User{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
		pages    []string
	}{
		{"admin", "Administrador", adminPwd, domain.RoleAdmin, nil},
		{"vendedor", "Vendedor", sellerPwd, domain.RoleSeller, []string{"vendas", "produtos", "clientes"}},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.User{
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			Pages:     u.pages,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-arroz-01", Name: "Arroz 5kg", Category: "mercearia", Quantity: 40, PurchasePriceCents: 1890, SalePriceCents: 2650},
		{ID: "prod-feijao-01", Name: "Feijao Carioca 1kg", Category: "mercearia", Quantity: 60, PurchasePriceCents: 620, SalePriceCents: 890},
		{ID: "prod-acucar-01", Name: "Acucar Cristal 1kg", Category: "mercearia", Quantity: 55, PurchasePriceCents: 380, SalePriceCents: 540},
		{ID: "prod-cafe-01", Name: "Cafe Torrado 500g", Category: "mercearia", Quantity: 30, PurchasePriceCents: 1450, SalePriceCents: 2090},
		{ID: "prod-leite-01", Name: "Leite Integral 1L", Category: "laticinios", Quantity: 48, PurchasePriceCents: 420, SalePriceCents: 590},
		{ID: "prod-queijo-01", Name: "Queijo Minas 500g", Category: "laticinios", Quantity: 12, PurchasePriceCents: 1680, SalePriceCents: 2390},
		{ID: "prod-pao-01", Name: "Pao Frances kg", Category: "padaria", Quantity: 25, PurchasePriceCents: 890, SalePriceCents: 1490},
		{ID: "prod-refri-01", Name: "Refrigerante 2L", Category: "bebidas", Quantity: 36, PurchasePriceCents: 550, SalePriceCents: 850},
		{ID: "prod-agua-01", Name: "Agua Mineral 500ml", Category: "bebidas", Quantity: 80, PurchasePriceCents: 90, SalePriceCents: 200},
		{ID: "prod-sabao-01", Name: "Sabao em Po 1kg", Category: "limpeza", Quantity: 20, PurchasePriceCents: 980, SalePriceCents: 1450},
		{ID: "prod-deterg-01", Name: "Detergente 500ml", Category: "limpeza", Quantity: 45, PurchasePriceCents: 180, SalePriceCents: 320},
		{ID: "prod-biscoito-01", Name: "Biscoito Recheado", Category: "doces", Quantity: 50, PurchasePriceCents: 220, SalePriceCents: 390},
	}

	customers := []domain.Customer{
		{ID: "cust-maria-01", Name: "Maria Silva", Nickname: "Dona Maria", Phone: "11 98888-1111"},
		{ID: "cust-joao-01", Name: "Joao Santos", Nickname: "Seu Joao", Phone: "11 98888-2222"},
		{ID: "cust-ana-01", Name: "Ana Oliveira", Phone: "11 98888-3333", Address: "Rua das Flores, 123"},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}

	return &Store{
		products:    productMap,
		customers:   customerMap,
		salesByID:   make(map[string]*domain.Sale),
		settings:    domain.DefaultSettings(),
		simulations: make([]domain.PriceSimulation, 0, 32),
		usersByName: seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = strings.TrimSpace(name)
	for _, product := range s.products {
		if strings.EqualFold(product.Name, name) {
			copyProduct := product
			return &copyProduct, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.SalePriceCents < 0 || product.PurchasePriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if product.SalePriceCents < 0 || product.PurchasePriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, adjustments []domain.StockAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, adj := range adjustments {
		product, exists := s.products[adj.ProductID]
		if !exists {
			return fmt.Errorf("product %s unavailable: %w", adj.ProductID, store.ErrNotFound)
		}
		next := product.Quantity + adj.Delta
		if next < 0 && !s.settings.Stock.AllowNegativeStock {
			return store.ErrOutOfStock
		}
		product.Quantity = next
		s.products[adj.ProductID] = product
	}
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrInvalidInput
	}

	// Aggregates are owned by the sale engines.
	customer.SalesCount = 0
	customer.TotalSpentCents = 0
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	current, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Identity fields only; the stored aggregates always win.
	customer.SalesCount = current.SalesCount
	customer.TotalSpentCents = current.TotalSpentCents
	s.customers[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

// CommitSale atomically records the sale, decrements stock for every line and
// credits the customer aggregates. Validation runs before any mutation so a
// rejected commit leaves products and customers untouched.
func (s *Store) CommitSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if sale.DiscountPercent < 0 || sale.DiscountPercent > 100 {
		return nil, store.ErrInvalidInput
	}

	subtotal := int64(0)
	for _, item := range sale.Items {
		if item.Qty < 1 || item.UnitPriceCents < 0 {
			return nil, store.ErrInvalidInput
		}
		product, exists := s.products[item.ProductID]
		if exists && !s.settings.Stock.AllowNegativeStock && product.Quantity < item.Qty {
			return nil, store.ErrOutOfStock
		}
		subtotal += int64(item.Qty) * item.UnitPriceCents
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

	for _, item := range sale.Items {
		product, exists := s.products[item.ProductID]
		if !exists {
			log.Printf("[memory-store] WARN: sale %s references missing product %s, stock not adjusted", sale.ID, item.ProductID)
			continue
		}
		product.Quantity -= item.Qty
		s.products[item.ProductID] = product
	}

	if sale.CustomerID != "" {
		customer, exists := s.customers[sale.CustomerID]
		if !exists {
			log.Printf("[memory-store] WARN: sale %s references missing customer %s, aggregates not adjusted", sale.ID, sale.CustomerID)
		} else {
			customer.SalesCount++
			customer.TotalSpentCents += sale.TotalCents
			s.customers[sale.CustomerID] = customer
		}
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	return cloneSale(saved), nil
}

// CancelSale reverses a completed sale: stock is restored per line, the
// customer aggregates are debited and the sale flips to cancelled. A second
// cancellation of the same sale fails without touching anything.
func (s *Store) CancelSale(_ context.Context, saleID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrSaleNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleAlreadyCancelled
	}

	for _, item := range sale.Items {
		product, exists := s.products[item.ProductID]
		if !exists {
			log.Printf("[memory-store] WARN: cancel of sale %s references missing product %s, stock not restored", saleID, item.ProductID)
			continue
		}
		product.Quantity += item.Qty
		s.products[item.ProductID] = product
	}

	if sale.CustomerID != "" {
		customer, exists := s.customers[sale.CustomerID]
		if !exists {
			log.Printf("[memory-store] WARN: cancel of sale %s references missing customer %s, aggregates not adjusted", saleID, sale.CustomerID)
		} else {
			customer.SalesCount--
			customer.TotalSpentCents -= sale.TotalCents
			s.customers[sale.CustomerID] = customer
		}
	}

	sale.Status = domain.SaleStatusCancelled
	cancelledAt := at.UTC()
	sale.CancelledAt = &cancelledAt

	return cloneSale(sale), nil
}

// UpdateSale replaces a completed sale's item set, discount and customer,
// reconciling stock by per-product net delta: only the difference between old
// and new quantities moves, so untouched lines cost nothing. The original
// sale date is preserved.
func (s *Store) UpdateSale(_ context.Context, saleID string, items []domain.SaleItem, discountPercent float64, customerID string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrSaleNotFound
	}
	if sale.Status == domain.SaleStatusCancelled {
		return nil, store.ErrSaleAlreadyCancelled
	}
	if len(items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if discountPercent < 0 || discountPercent > 100 {
		return nil, store.ErrInvalidInput
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

	// Validate every stock increase before applying any delta.
	for productID, qty := range newQty {
		extra := qty - oldQty[productID]
		if extra <= 0 {
			continue
		}
		product, exists := s.products[productID]
		if exists && !s.settings.Stock.AllowNegativeStock && product.Quantity < extra {
			return nil, store.ErrOutOfStock
		}
	}

	adjust := func(productID string, delta int) {
		if delta == 0 {
			return
		}
		product, exists := s.products[productID]
		if !exists {
			log.Printf("[memory-store] WARN: edit of sale %s references missing product %s, stock not adjusted", saleID, productID)
			return
		}
		product.Quantity += delta
		s.products[productID] = product
	}
	for productID, qty := range oldQty {
		adjust(productID, qty-newQty[productID])
	}
	for productID, qty := range newQty {
		if _, had := oldQty[productID]; !had {
			adjust(productID, -qty)
		}
	}

	newTotal := discountedTotal(subtotal, discountPercent)
	s.reconcileCustomer(saleID, sale.CustomerID, customerID, sale.TotalCents, newTotal)

	sale.Items = make([]domain.SaleItem, len(items))
	copy(sale.Items, items)
	sale.CustomerID = customerID
	sale.DiscountPercent = discountPercent
	sale.SubtotalCents = subtotal
	sale.TotalCents = newTotal
	updatedAt := at.UTC()
	sale.UpdatedAt = &updatedAt

	return cloneSale(sale), nil
}

// reconcileCustomer moves the aggregate credit for a sale from oldID to
// newID. When the customer is unchanged only the spent delta applies; the
// sale count stays put.
func (s *Store) reconcileCustomer(saleID string, oldID string, newID string, oldTotal int64, newTotal int64) {
	if oldID == newID {
		if oldID == "" || oldTotal == newTotal {
			return
		}
		customer, exists := s.customers[oldID]
		if !exists {
			log.Printf("[memory-store] WARN: edit of sale %s references missing customer %s, aggregates not adjusted", saleID, oldID)
			return
		}
		customer.TotalSpentCents += newTotal - oldTotal
		s.customers[oldID] = customer
		return
	}

	if oldID != "" {
		if customer, exists := s.customers[oldID]; exists {
			customer.SalesCount--
			customer.TotalSpentCents -= oldTotal
			s.customers[oldID] = customer
		} else {
			log.Printf("[memory-store] WARN: edit of sale %s references missing customer %s, aggregates not adjusted", saleID, oldID)
		}
	}
	if newID != "" {
		if customer, exists := s.customers[newID]; exists {
			customer.SalesCount++
			customer.TotalSpentCents += newTotal
			s.customers[newID] = customer
		} else {
			log.Printf("[memory-store] WARN: edit of sale %s references missing customer %s, aggregates not adjusted", saleID, newID)
		}
	}
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, status string, customerID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if status != "" && sale.Status != status {
			continue
		}
		if customerID != "" && sale.CustomerID != customerID {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

func (s *Store) AppendPriceSimulation(_ context.Context, sim domain.PriceSimulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sim.ID == "" {
		sim.ID = xid.New("sim")
	}
	if sim.CreatedAt.IsZero() {
		sim.CreatedAt = time.Now().UTC()
	}
	s.simulations = append(s.simulations, sim)
	return nil
}

func (s *Store) ListPriceSimulations(_ context.Context, limit int) ([]domain.PriceSimulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PriceSimulation, len(s.simulations))
	copy(result, s.simulations)
	slices.SortFunc(result, func(a, b domain.PriceSimulation) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByName[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = s.settings.Users.DefaultRole
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	current, exists := s.usersByName[username]
	if !exists {
		return nil, store.ErrNotFound
	}

	current.Name = user.Name
	current.Role = user.Role
	current.Pages = user.Pages
	current.Active = user.Active
	s.usersByName[username] = current
	updated := current
	return &updated, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByName[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

func discountedTotal(subtotal int64, discountPercent float64) int64 {
	return int64(math.Round(float64(subtotal) * (1 - discountPercent/100)))
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	if src.UpdatedAt != nil {
		t := *src.UpdatedAt
		dup.UpdatedAt = &t
	}
	if src.CancelledAt != nil {
		t := *src.CancelledAt
		dup.CancelledAt = &t
	}
	return &dup
}
