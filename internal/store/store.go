package store

import (
	"context"
	"errors"
	"time"

	"mercadinho/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrOutOfStock           = errors.New("out of stock")
	ErrSaleNotFound         = errors.New("sale not found")
	ErrSaleAlreadyCancelled = errors.New("sale already cancelled")
)

// Repository is the authoritative store for all persisted entities. The
// three sale engine operations (CommitSale, CancelSale, UpdateSale) apply
// their stock and customer-aggregate effects atomically: either every effect
// of the operation is visible or none is.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, adjustments []domain.StockAdjustment) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CancelSale(ctx context.Context, saleID string, at time.Time) (*domain.Sale, error)
	UpdateSale(ctx context.Context, saleID string, items []domain.SaleItem, discountPercent float64, customerID string, at time.Time) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, status string, customerID string, limit int) ([]domain.Sale, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error

	AppendPriceSimulation(ctx context.Context, sim domain.PriceSimulation) error
	ListPriceSimulations(ctx context.Context, limit int) ([]domain.PriceSimulation, error)

	CreateUser(ctx context.Context, user domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
