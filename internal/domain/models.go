package domain

import "time"

type Product struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Category           string `json:"category"`
	Quantity           int    `json:"quantity"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	SalePriceCents     int64  `json:"sale_price_cents"`
	Barcode            string `json:"barcode,omitempty"`
	ImageURL           string `json:"image_url,omitempty"`
}

type ProductCreateRequest struct {
	Name               string `json:"name"`
	Category           string `json:"category"`
	Quantity           int    `json:"quantity"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	SalePriceCents     int64  `json:"sale_price_cents"`
	Barcode            string `json:"barcode,omitempty"`
	ImageURL           string `json:"image_url,omitempty"`
}

type ProductUpdateRequest struct {
	Name               *string `json:"name,omitempty"`
	Category           *string `json:"category,omitempty"`
	Quantity           *int    `json:"quantity,omitempty"`
	PurchasePriceCents *int64  `json:"purchase_price_cents,omitempty"`
	SalePriceCents     *int64  `json:"sale_price_cents,omitempty"`
	Barcode            *string `json:"barcode,omitempty"`
	ImageURL           *string `json:"image_url,omitempty"`
}

// Customer carries identity fields editable through CRUD plus two derived
// aggregates (SalesCount, TotalSpentCents) that are owned exclusively by the
// sale engines. CRUD must never write the aggregates directly.
type Customer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Nickname        string `json:"nickname,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Address         string `json:"address,omitempty"`
	SalesCount      int    `json:"sales_count"`
	TotalSpentCents int64  `json:"total_spent_cents"`
}

type CustomerCreateRequest struct {
	Name     string `json:"name"`
	Nickname string `json:"nickname,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

type CustomerUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Nickname *string `json:"nickname,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
}

// SaleItem is a line within a cart or a committed sale. ProductName and
// UnitPriceCents are snapshots taken when the line is created; they do not
// follow later product renames or price changes.
type SaleItem struct {
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	Qty             int    `json:"qty"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

type Sale struct {
	ID              string     `json:"id"`
	Items           []SaleItem `json:"items"`
	CustomerID      string     `json:"customer_id,omitempty"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	DiscountPercent float64    `json:"discount_percent"`
	TotalCents      int64      `json:"total_cents"`
	Status          string     `json:"status"`
	SellerID        string     `json:"seller_id,omitempty"`
	SellerName      string     `json:"seller_name,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

// SaleItemInput is one line of a replacement item set for a sale edit.
// UnitPriceCents is optional; when zero the current product sale price (or,
// for products no longer in the catalog, the price recorded on the original
// sale) is used.
type SaleItemInput struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
}

type SaleUpdateRequest struct {
	Items           []SaleItemInput `json:"items"`
	DiscountPercent float64         `json:"discount_percent"`
	CustomerID      string          `json:"customer_id,omitempty"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type ReceiptResponse struct {
	SaleID      string `json:"sale_id"`
	PreviewText string `json:"preview_text"`
	FileName    string `json:"file_name"`
}

// CartView is the API representation of a draft cart, totals included.
type CartView struct {
	ID              string     `json:"id"`
	EditingSaleID   string     `json:"editing_sale_id,omitempty"`
	Items           []SaleItem `json:"items"`
	DiscountPercent float64    `json:"discount_percent"`
	CustomerID      string     `json:"customer_id,omitempty"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	TotalCents      int64      `json:"total_cents"`
}

type CartOpenRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
	SaleID     string `json:"sale_id,omitempty"`
}

type CartAddLineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CartAdjustLineRequest struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type CartDiscountRequest struct {
	DiscountPercent float64 `json:"discount_percent"`
}

type CartCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

// PriceSimulation is an append-only log entry for the pricing calculator.
type PriceSimulation struct {
	ID                  string    `json:"id"`
	PurchasePriceCents  int64     `json:"purchase_price_cents"`
	TaxRatePercent      float64   `json:"tax_rate_percent"`
	ProfitMarginPercent float64   `json:"profit_margin_percent"`
	SuggestedPriceCents int64     `json:"suggested_price_cents"`
	CreatedAt           time.Time `json:"created_at"`
}

type PriceSuggestionRequest struct {
	PurchasePriceCents  int64   `json:"purchase_price_cents"`
	TaxRatePercent      float64 `json:"tax_rate_percent"`
	ProfitMarginPercent float64 `json:"profit_margin_percent"`
}

type PriceSuggestion struct {
	PurchasePriceCents  int64   `json:"purchase_price_cents"`
	TaxRatePercent      float64 `json:"tax_rate_percent"`
	ProfitMarginPercent float64 `json:"profit_margin_percent"`
	SuggestedPriceCents int64   `json:"suggested_price_cents"`
}

// ExtractedProduct is the typed output of the external invoice-OCR flow for
// a single product line. The backend never performs the extraction itself.
type ExtractedProduct struct {
	Name               string `json:"name"`
	Quantity           int    `json:"quantity"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	Barcode            string `json:"barcode,omitempty"`
}

type InvoiceExtraction struct {
	Supplier    string             `json:"supplier,omitempty"`
	InvoiceDate string             `json:"invoice_date,omitempty"`
	Products    []ExtractedProduct `json:"products"`
}

type InvoiceIngestResult struct {
	CreatedProducts []Product `json:"created_products"`
	UpdatedProducts []Product `json:"updated_products"`
	SkippedLines    int       `json:"skipped_lines"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	Pages       []string `json:"pages"`
	ExpiresAt   string   `json:"expires_at"`
}

// Actor identifies the authenticated user behind a request.
type Actor struct {
	Username string
	Name     string
	Role     string
	Pages    []string
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

// User is the persistence model for an account, including its page-level
// permissions. Password holds a bcrypt hash.
type User struct {
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Pages     []string  `json:"pages"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Role     string   `json:"role"`
	Pages    []string `json:"pages"`
}

type UserUpdateRequest struct {
	Name   *string   `json:"name,omitempty"`
	Role   *string   `json:"role,omitempty"`
	Pages  *[]string `json:"pages,omitempty"`
	Active *bool     `json:"active,omitempty"`
}
