package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mercadinho/backend/internal/cart"
	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/pricing"
	"mercadinho/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service orchestrates carts, the sale engines and entity CRUD. Carts are
// in-memory drafts scoped to this process; only a commit reaches the
// repository.
type Service struct {
	repo   store.Repository
	pricer *pricing.Engine

	mu    sync.Mutex
	carts map[string]*cart.Cart
}

func New(repo store.Repository, pricer *pricing.Engine) *Service {
	return &Service{
		repo:   repo,
		pricer: pricer,
		carts:  make(map[string]*cart.Cart),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// ListLowStockProducts returns products at or below the configured minimum
// stock level, the restock worklist of the inventory screen.
func (s *Service) ListLowStockProducts(ctx context.Context) ([]domain.Product, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	low := make([]domain.Product, 0, len(products))
	for _, product := range products {
		if product.Quantity <= settings.Stock.DefaultMinStock {
			low = append(low, product)
		}
	}
	return low, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Quantity < 0 || req.PurchasePriceCents < 0 || req.SalePriceCents < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:               req.Name,
		Category:           req.Category,
		Quantity:           req.Quantity,
		PurchasePriceCents: req.PurchasePriceCents,
		SalePriceCents:     req.SalePriceCents,
		Barcode:            strings.TrimSpace(req.Barcode),
		ImageURL:           strings.TrimSpace(req.ImageURL),
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}
	if id == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Quantity != nil {
		updated.Quantity = *req.Quantity
	}
	if req.PurchasePriceCents != nil {
		if *req.PurchasePriceCents < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PurchasePriceCents = *req.PurchasePriceCents
	}
	if req.SalePriceCents != nil {
		if *req.SalePriceCents < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.SalePriceCents = *req.SalePriceCents
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	return s.repo.DeleteProduct(ctx, id)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:     req.Name,
		Nickname: strings.TrimSpace(req.Nickname),
		Phone:    strings.TrimSpace(req.Phone),
		Address:  strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	if id == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Nickname != nil {
		updated.Nickname = strings.TrimSpace(*req.Nickname)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	return s.repo.DeleteCustomer(ctx, id)
}

// OpenCart starts a draft. With a sale id the cart becomes an edit session
// seeded from the committed sale; edit carts bypass the stock admission
// check since stock already reflects the original sale.
func (s *Service) OpenCart(ctx context.Context, req domain.CartOpenRequest) (domain.CartView, error) {
	var c *cart.Cart
	if req.SaleID != "" {
		sale, err := s.repo.GetSale(ctx, req.SaleID)
		if err != nil {
			return domain.CartView{}, err
		}
		if sale.Status == domain.SaleStatusCancelled {
			return domain.CartView{}, store.ErrSaleAlreadyCancelled
		}
		c = cart.NewFromSale(*sale)
	} else {
		if req.CustomerID != "" {
			if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
				return domain.CartView{}, err
			}
		}
		c = cart.New(req.CustomerID)
	}

	s.mu.Lock()
	s.carts[c.ID] = c
	s.mu.Unlock()
	return c.View(), nil
}

func (s *Service) GetCart(_ context.Context, cartID string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		return domain.CartView{}, store.ErrNotFound
	}
	return c.View(), nil
}

func (s *Service) AddCartLine(ctx context.Context, cartID string, req domain.CartAddLineRequest) (domain.CartView, error) {
	if req.ProductID == "" || req.Qty < 1 {
		return domain.CartView{}, store.ErrInvalidInput
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.CartView{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		return domain.CartView{}, store.ErrNotFound
	}
	if err := c.AddLine(*product, req.Qty, settings.Stock.AllowNegativeStock); err != nil {
		return domain.CartView{}, err
	}
	return c.View(), nil
}

func (s *Service) AdjustCartLine(ctx context.Context, cartID string, req domain.CartAdjustLineRequest) (domain.CartView, error) {
	if req.ProductID == "" || req.Delta == 0 {
		return domain.CartView{}, store.ErrInvalidInput
	}

	liveQty := 0
	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		// Decreasing a line for a product that left the catalog is fine;
		// increasing it is not.
		if !errors.Is(err, store.ErrNotFound) || req.Delta > 0 {
			return domain.CartView{}, err
		}
	} else {
		liveQty = product.Quantity
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		return domain.CartView{}, store.ErrNotFound
	}
	if err := c.AdjustLine(req.ProductID, req.Delta, liveQty, settings.Stock.AllowNegativeStock); err != nil {
		return domain.CartView{}, err
	}
	return c.View(), nil
}

func (s *Service) SetCartDiscount(ctx context.Context, cartID string, req domain.CartDiscountRequest) (domain.CartView, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		return domain.CartView{}, store.ErrNotFound
	}
	if err := c.SetDiscount(req.DiscountPercent, settings.Sales.MaxDiscountPercent); err != nil {
		return domain.CartView{}, err
	}
	return c.View(), nil
}

func (s *Service) SetCartCustomer(ctx context.Context, cartID string, req domain.CartCustomerRequest) (domain.CartView, error) {
	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.CartView{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok {
		return domain.CartView{}, store.ErrNotFound
	}
	c.SetCustomer(req.CustomerID)
	return c.View(), nil
}

func (s *Service) DiscardCart(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.carts[cartID]; !ok {
		return store.ErrNotFound
	}
	delete(s.carts, cartID)
	return nil
}

// CommitCart settles a draft through the matching sale engine: new carts go
// through CommitSale, edit carts through UpdateSale. The cart survives a
// failed commit untouched and is dropped only after the engine succeeds.
func (s *Service) CommitCart(ctx context.Context, cartID string) (domain.Sale, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	s.mu.Lock()
	c, ok := s.carts[cartID]
	if !ok {
		s.mu.Unlock()
		return domain.Sale{}, store.ErrNotFound
	}
	view := c.View()
	editingSaleID := c.EditingSaleID
	s.mu.Unlock()

	if len(view.Items) == 0 {
		return domain.Sale{}, store.ErrEmptyCart
	}

	now := time.Now().UTC()
	var saved *domain.Sale
	if editingSaleID != "" {
		saved, err = s.repo.UpdateSale(ctx, editingSaleID, view.Items, view.DiscountPercent, view.CustomerID, now)
	} else {
		sale := domain.Sale{
			Items:           view.Items,
			CustomerID:      view.CustomerID,
			DiscountPercent: view.DiscountPercent,
			CreatedAt:       now,
		}
		if settings.Sales.AssociateSeller {
			if actor, ok := ActorFromContext(ctx); ok {
				sale.SellerID = actor.Username
				sale.SellerName = actor.Name
			}
		}
		saved, err = s.repo.CommitSale(ctx, sale)
	}
	if err != nil {
		return domain.Sale{}, err
	}

	s.mu.Lock()
	delete(s.carts, cartID)
	s.mu.Unlock()
	return *saved, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, status string, customerID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListSales(ctx, status, customerID, limit)
}

func (s *Service) CancelSale(ctx context.Context, saleID string) (domain.Sale, error) {
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	sale, err := s.repo.CancelSale(ctx, saleID, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// UpdateSale applies a direct edit without a cart session. Item inputs carry
// the target quantity per product; missing unit prices resolve to the
// current catalog price, falling back to the price recorded on the original
// sale for products no longer in the catalog.
func (s *Service) UpdateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalidInput
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, store.ErrEmptyCart
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return domain.Sale{}, store.ErrInvalidInput
	}

	original, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	originalByProduct := make(map[string]domain.SaleItem, len(original.Items))
	for _, item := range original.Items {
		originalByProduct[item.ProductID] = item
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, input := range req.Items {
		if input.ProductID == "" || input.Qty < 1 {
			return domain.Sale{}, store.ErrInvalidInput
		}

		item := domain.SaleItem{
			ProductID:      input.ProductID,
			Qty:            input.Qty,
			UnitPriceCents: input.UnitPriceCents,
		}
		product, err := s.repo.GetProduct(ctx, input.ProductID)
		switch {
		case err == nil:
			item.ProductName = product.Name
			if item.UnitPriceCents == 0 {
				item.UnitPriceCents = product.SalePriceCents
			}
		case errors.Is(err, store.ErrNotFound):
			previous, had := originalByProduct[input.ProductID]
			if !had {
				return domain.Sale{}, fmt.Errorf("%w: unknown product %s", store.ErrInvalidInput, input.ProductID)
			}
			item.ProductName = previous.ProductName
			if item.UnitPriceCents == 0 {
				item.UnitPriceCents = previous.UnitPriceCents
			}
		default:
			return domain.Sale{}, err
		}
		item.TotalPriceCents = int64(item.Qty) * item.UnitPriceCents
		items = append(items, item)
	}

	if req.CustomerID != "" && req.CustomerID != original.CustomerID {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.Sale{}, err
		}
	}

	saved, err := s.repo.UpdateSale(ctx, saleID, items, req.DiscountPercent, req.CustomerID, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}
	return *saved, nil
}

// BuildReceipt renders the plain-text receipt preview for a sale.
func (s *Service) BuildReceipt(ctx context.Context, saleID string) (domain.ReceiptResponse, error) {
	if saleID == "" {
		return domain.ReceiptResponse{}, store.ErrInvalidInput
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	storeName := settings.System.StoreName
	if storeName == "" {
		storeName = "Mercadinho"
	}

	lines := []string{
		storeName,
		"========================",
		"Venda: " + sale.ID,
		"Data: " + sale.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if sale.SellerName != "" {
		lines = append(lines, "Vendedor: "+sale.SellerName)
	}
	lines = append(lines, "------------------------")
	for _, item := range sale.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.ProductName, item.Qty))
		lines = append(lines, "  "+formatCents(item.TotalPriceCents))
	}
	lines = append(lines,
		"------------------------",
		"Subtotal : "+formatCents(sale.SubtotalCents),
		fmt.Sprintf("Desconto : %.1f%%", sale.DiscountPercent),
		"Total    : "+formatCents(sale.TotalCents),
		"========================",
		"Obrigado e volte sempre",
		"",
	)

	return domain.ReceiptResponse{
		SaleID:      sale.ID,
		PreviewText: strings.Join(lines, "\n"),
		FileName:    fmt.Sprintf("recibo-%s.txt", sale.ID),
	}, nil
}

// IngestInvoice applies the typed output of the external invoice-OCR flow.
// Known products (matched case-insensitively by name) receive stock and a
// purchase price refresh; unknown ones are created with a suggested sale
// price derived from the pricing defaults.
func (s *Service) IngestInvoice(ctx context.Context, extraction domain.InvoiceExtraction) (domain.InvoiceIngestResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.InvoiceIngestResult{}, fmt.Errorf("admin role required")
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.InvoiceIngestResult{}, err
	}

	result := domain.InvoiceIngestResult{
		CreatedProducts: []domain.Product{},
		UpdatedProducts: []domain.Product{},
	}
	for _, line := range extraction.Products {
		name := strings.TrimSpace(line.Name)
		if name == "" || line.Quantity < 1 || line.PurchasePriceCents < 1 {
			result.SkippedLines++
			continue
		}

		existing, err := s.repo.FindProductByName(ctx, name)
		switch {
		case err == nil:
			if err := s.repo.AdjustStock(ctx, []domain.StockAdjustment{{ProductID: existing.ID, Delta: line.Quantity}}); err != nil {
				return domain.InvoiceIngestResult{}, err
			}
			existing.Quantity += line.Quantity
			existing.PurchasePriceCents = line.PurchasePriceCents
			if existing.Barcode == "" && line.Barcode != "" {
				existing.Barcode = line.Barcode
			}
			updated, err := s.repo.UpdateProduct(ctx, *existing)
			if err != nil {
				return domain.InvoiceIngestResult{}, err
			}
			result.UpdatedProducts = append(result.UpdatedProducts, *updated)
		case errors.Is(err, store.ErrNotFound):
			quote, err := s.pricer.Suggest(ctx, domain.PriceSuggestionRequest{
				PurchasePriceCents:  line.PurchasePriceCents,
				TaxRatePercent:      settings.Pricing.DefaultTaxRatePercent,
				ProfitMarginPercent: settings.Pricing.DefaultProfitMarginPercent,
			})
			if err != nil {
				return domain.InvoiceIngestResult{}, err
			}
			created, err := s.repo.CreateProduct(ctx, domain.Product{
				Name:               name,
				Quantity:           line.Quantity,
				PurchasePriceCents: line.PurchasePriceCents,
				SalePriceCents:     quote.SuggestedPriceCents,
				Barcode:            line.Barcode,
			})
			if err != nil {
				return domain.InvoiceIngestResult{}, err
			}
			result.CreatedProducts = append(result.CreatedProducts, *created)
		default:
			return domain.InvoiceIngestResult{}, err
		}
	}

	return result, nil
}

// SuggestPrice answers the pricing calculator. Zero rates fall back to the
// configured defaults, and every answered quote lands in the simulation log.
func (s *Service) SuggestPrice(ctx context.Context, req domain.PriceSuggestionRequest) (domain.PriceSuggestion, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.PriceSuggestion{}, err
	}
	if req.TaxRatePercent == 0 {
		req.TaxRatePercent = settings.Pricing.DefaultTaxRatePercent
	}
	if req.ProfitMarginPercent == 0 {
		req.ProfitMarginPercent = settings.Pricing.DefaultProfitMarginPercent
	}

	quote, err := s.pricer.Suggest(ctx, req)
	if err != nil {
		return domain.PriceSuggestion{}, err
	}

	if err := s.repo.AppendPriceSimulation(ctx, domain.PriceSimulation{
		PurchasePriceCents:  quote.PurchasePriceCents,
		TaxRatePercent:      quote.TaxRatePercent,
		ProfitMarginPercent: quote.ProfitMarginPercent,
		SuggestedPriceCents: quote.SuggestedPriceCents,
		CreatedAt:           time.Now().UTC(),
	}); err != nil {
		return domain.PriceSuggestion{}, err
	}

	return *quote, nil
}

func (s *Service) ListPriceSimulations(ctx context.Context, limit int) ([]domain.PriceSimulation, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPriceSimulations(ctx, limit)
}

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Settings{}, fmt.Errorf("admin role required")
	}
	if settings.Sales.MaxDiscountPercent < 0 || settings.Sales.MaxDiscountPercent > 100 {
		return domain.Settings{}, store.ErrInvalidInput
	}
	if settings.Pricing.DefaultTaxRatePercent < 0 || settings.Pricing.DefaultTaxRatePercent > 100 {
		return domain.Settings{}, store.ErrInvalidInput
	}
	if settings.Stock.DefaultMinStock < 0 {
		return domain.Settings{}, store.ErrInvalidInput
	}

	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
