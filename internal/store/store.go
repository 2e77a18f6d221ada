package store

import (
	"context"
	"errors"
	"time"

	"tokopos/backend/internal/domain"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Repository is the persistence contract. CreatePurchase and CreateSale are
// atomic: either every stock movement and record lands, or none do. Both
// implementations (postgres, memory) serialize the invoice-number sequence and
// the stock check-then-decrement per store.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	ExpireMembers(ctx context.Context, cutoff time.Time) (int, error)
	ListNearExpiryMembers(ctx context.Context, nearCutoff time.Time, expireCutoff time.Time) ([]domain.Customer, error)

	EnsureInventoryRow(ctx context.Context, storeID string, productID string, sellPrice int64, costPerCase int64) (*domain.InventoryRow, error)
	GetInventoryRow(ctx context.Context, storeID string, productID string) (*domain.InventoryRow, error)
	ListInventory(ctx context.Context, storeID string) ([]domain.InventoryView, error)
	SetSellPrice(ctx context.Context, storeID string, productID string, sellPrice int64, costPerCase *int64) (*domain.InventoryRow, error)
	IncreaseStock(ctx context.Context, storeID string, productID string, pieces int) error

	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetPurchase(ctx context.Context, storeID string, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, storeID string) ([]domain.Purchase, error)
	ListPurchasesBetween(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.Purchase, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, storeID string, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, storeID string) ([]domain.Sale, error)
	ListSalesBetween(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
