package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/pricing"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	pricing   pricing.Policy
	discounts pricing.DiscountPolicy

	products        map[string]domain.Product
	suppliers       map[string]domain.Supplier
	customers       map[string]domain.Customer
	inventory       map[string]map[string]domain.InventoryRow
	purchasesByID   map[string]domain.Purchase
	salesByID       map[string]domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New(policy pricing.Policy, discounts pricing.DiscountPolicy) *Store {
	return &Store{
		pricing:         policy,
		discounts:       discounts,
		products:        make(map[string]domain.Product),
		suppliers:       make(map[string]domain.Supplier),
		customers:       make(map[string]domain.Customer),
		inventory:       make(map[string]map[string]domain.InventoryRow),
		purchasesByID:   make(map[string]domain.Purchase),
		salesByID:       make(map[string]domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers(storeID string) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		fullName string
		password string
		role     string
	}{
		{"admin", "Pemilik Toko", adminPwd, domain.RoleAdmin},
		{"cashier", "Kasir Satu", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        xid.New("usr"),
			Username:  u.username,
			Password:  string(hash),
			FullName:  u.fullName,
			StoreID:   storeID,
			Role:      u.role,
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

// NewSeeded returns a store preloaded with a supplier catalog, customers and
// dev users for the given store id. Every product starts with zero stock; the
// first purchase creates the inventory rows.
func NewSeeded(policy pricing.Policy, discounts pricing.DiscountPolicy, storeID string) *Store {
	s := New(policy, discounts)
	now := time.Now().UTC()

	suppliers := []domain.Supplier{
		{ID: "sup-indofood", Name: "PT Indofood Distribusi", Phone: "021-5550101", CreatedAt: now},
		{ID: "sup-wings", Name: "PT Wings Niaga", Phone: "021-5550202", CreatedAt: now},
	}
	for _, sup := range suppliers {
		s.suppliers[sup.ID] = sup
	}

	products := []domain.Product{
		{ID: "prd-mie-01", Name: "Mie Goreng Instan", SupplierID: "sup-indofood", Category: "grocery", Unit: "dus", ContentsPerCase: 40, CostPerCase: 100000, Active: true, CreatedAt: now},
		{ID: "prd-kopi-01", Name: "Kopi Sachet", SupplierID: "sup-indofood", Category: "beverage", Unit: "dus", ContentsPerCase: 120, CostPerCase: 180000, Active: true, CreatedAt: now},
		{ID: "prd-teh-01", Name: "Teh Celup", SupplierID: "sup-indofood", Category: "beverage", Unit: "dus", ContentsPerCase: 24, CostPerCase: 192000, Active: true, CreatedAt: now},
		{ID: "prd-sabun-01", Name: "Sabun Mandi", SupplierID: "sup-wings", Category: "household", Unit: "dus", ContentsPerCase: 48, CostPerCase: 288000, Active: true, CreatedAt: now},
		{ID: "prd-shampoo-01", Name: "Shampoo Sachet", SupplierID: "sup-wings", Category: "household", Unit: "dus", ContentsPerCase: 144, CostPerCase: 216000, Active: true, CreatedAt: now},
	}
	for i, p := range products {
		if derived, err := policy.SellPricePerPiece(p.CostPerCase, p.ContentsPerCase); err == nil {
			products[i].SellPricePerPiece = derived
		}
		s.products[p.ID] = products[i]
	}

	memberSince := now.Add(-48 * time.Hour)
	customers := []domain.Customer{
		{ID: "cus-budi", Name: "Budi Santoso", Phone: "0812-1111-2222", IsMember: true, MemberID: "MBR00000001", LastTransactionAt: &memberSince, CreatedAt: now},
		{ID: "cus-sari", Name: "Sari Lestari", Phone: "0812-3333-4444", IsMember: false, CreatedAt: now},
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}

	s.usersByUsername = seedUsers(storeID)
	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.SupplierID == "" || product.Category == "" || product.Unit == "" {
		return nil, store.ErrValidation
	}
	if product.ContentsPerCase < 1 || product.CostPerCase < 1 || product.SellPricePerPiece < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.suppliers[product.SupplierID]; !exists {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, product.SupplierID)
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Category == "" || product.Unit == "" {
		return nil, store.ErrValidation
	}
	if product.ContentsPerCase < 1 || product.CostPerCase < 1 || product.SellPricePerPiece < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, product.ID)
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
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

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliers[id]
	if !exists {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
	}
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	created := cloneCustomer(customer)
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
	}
	copyCustomer := cloneCustomer(customer)
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.customers[customer.ID]; !exists {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, customer.ID)
	}
	s.customers[customer.ID] = cloneCustomer(customer)
	updated := cloneCustomer(customer)
	return &updated, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, cloneCustomer(c))
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) ExpireMembers(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	demoted := 0
	for id, customer := range s.customers {
		if !customer.IsMember || customer.LastTransactionAt == nil {
			continue
		}
		if customer.LastTransactionAt.Before(cutoff) {
			customer.IsMember = false
			customer.MemberID = ""
			customer.LastTransactionAt = nil
			s.customers[id] = customer
			demoted++
		}
	}
	return demoted, nil
}

func (s *Store) ListNearExpiryMembers(_ context.Context, nearCutoff time.Time, expireCutoff time.Time) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, 8)
	for _, customer := range s.customers {
		if !customer.IsMember || customer.LastTransactionAt == nil {
			continue
		}
		last := *customer.LastTransactionAt
		if last.Before(nearCutoff) && !last.Before(expireCutoff) {
			result = append(result, cloneCustomer(customer))
		}
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if a.LastTransactionAt.Equal(*b.LastTransactionAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.LastTransactionAt.Before(*b.LastTransactionAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) EnsureInventoryRow(_ context.Context, storeID string, productID string, sellPrice int64, costPerCase int64) (*domain.InventoryRow, error) {
	if storeID == "" || productID == "" || sellPrice < 0 || costPerCase < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[productID]; !exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	row := s.ensureRowLocked(storeID, productID, sellPrice, costPerCase)
	copyRow := row
	return &copyRow, nil
}

// ensureRowLocked is the find-or-create primitive; callers hold the lock.
// An existing row keeps its sell price; a new row is seeded with the supplied
// one at quantity zero.
func (s *Store) ensureRowLocked(storeID string, productID string, sellPrice int64, costPerCase int64) domain.InventoryRow {
	storeRows, ok := s.inventory[storeID]
	if !ok {
		storeRows = make(map[string]domain.InventoryRow)
		s.inventory[storeID] = storeRows
	}
	row, ok := storeRows[productID]
	if !ok {
		row = domain.InventoryRow{
			StoreID:     storeID,
			ProductID:   productID,
			Qty:         0,
			SellPrice:   sellPrice,
			CostPerCase: costPerCase,
			UpdatedAt:   time.Now().UTC(),
		}
		storeRows[productID] = row
	}
	return row
}

func (s *Store) GetInventoryRow(_ context.Context, storeID string, productID string) (*domain.InventoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.inventory[storeID][productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s not stocked in store %s", store.ErrNotFound, productID, storeID)
	}
	copyRow := row
	return &copyRow, nil
}

func (s *Store) ListInventory(_ context.Context, storeID string) ([]domain.InventoryView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.inventory[storeID]
	result := make([]domain.InventoryView, 0, len(rows))
	for productID, row := range rows {
		product, ok := s.products[productID]
		if !ok {
			continue
		}
		supplierName := ""
		if supplier, ok := s.suppliers[product.SupplierID]; ok {
			supplierName = supplier.Name
		}
		result = append(result, domain.InventoryView{
			ProductID:    productID,
			ProductName:  product.Name,
			Category:     product.Category,
			Unit:         product.Unit,
			SupplierName: supplierName,
			Qty:          row.Qty,
			SellPrice:    row.SellPrice,
			CostPerCase:  row.CostPerCase,
		})
	}
	slices.SortFunc(result, func(a, b domain.InventoryView) int {
		if a.Category == b.Category {
			return cmpString(a.ProductName, b.ProductName)
		}
		return cmpString(a.Category, b.Category)
	})
	return result, nil
}

func (s *Store) SetSellPrice(_ context.Context, storeID string, productID string, sellPrice int64, costPerCase *int64) (*domain.InventoryRow, error) {
	if sellPrice < 0 || (costPerCase != nil && *costPerCase < 0) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.inventory[storeID][productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s not stocked in store %s", store.ErrNotFound, productID, storeID)
	}
	row.SellPrice = sellPrice
	if costPerCase != nil {
		row.CostPerCase = *costPerCase
	}
	row.UpdatedAt = time.Now().UTC()
	s.inventory[storeID][productID] = row
	copyRow := row
	return &copyRow, nil
}

func (s *Store) IncreaseStock(_ context.Context, storeID string, productID string, pieces int) error {
	if pieces < 0 {
		return fmt.Errorf("%w: pieces must not be negative", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.inventory[storeID][productID]
	if !ok {
		return fmt.Errorf("%w: product %s not stocked in store %s", store.ErrNotFound, productID, storeID)
	}
	row.Qty += pieces
	row.UpdatedAt = time.Now().UTC()
	s.inventory[storeID][productID] = row
	return nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if purchase.StoreID == "" || purchase.UserID == "" || len(purchase.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if _, ok := s.suppliers[purchase.SupplierID]; !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, purchase.SupplierID)
	}
	if purchase.Date.IsZero() {
		purchase.Date = time.Now().UTC()
	}

	// Validate and snapshot every line before mutating anything.
	total := int64(0)
	lines := make([]domain.PurchaseLine, 0, len(purchase.Lines))
	for _, line := range purchase.Lines {
		if line.CaseQty < 1 {
			return nil, fmt.Errorf("%w: case quantity must be at least 1", store.ErrValidation)
		}
		product, ok := s.products[line.ProductID]
		if !ok || product.SupplierID != purchase.SupplierID {
			return nil, fmt.Errorf("%w: product %s is not supplied by %s", store.ErrNotFound, line.ProductID, purchase.SupplierID)
		}

		pieceQty, err := pricing.ToPieces(line.CaseQty, product.ContentsPerCase)
		if err != nil {
			return nil, err
		}
		sellPrice, err := s.pricing.SellPricePerPiece(product.CostPerCase, product.ContentsPerCase)
		if err != nil {
			return nil, err
		}

		total += product.CostPerCase * int64(line.CaseQty)
		lines = append(lines, domain.PurchaseLine{
			ProductID:         line.ProductID,
			ProductName:       product.Name,
			CaseQty:           line.CaseQty,
			PieceQty:          pieceQty,
			CostPerCase:       product.CostPerCase,
			SellPricePerPiece: sellPrice,
		})
	}

	if purchase.InvoiceNumber == "" {
		purchase.InvoiceNumber = s.nextPurchaseInvoiceLocked(purchase.StoreID, purchase.Date)
	} else if s.purchaseInvoiceExistsLocked(purchase.StoreID, purchase.InvoiceNumber) {
		return nil, fmt.Errorf("%w: invoice number %s already used", store.ErrConflict, purchase.InvoiceNumber)
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	purchase.Lines = lines
	purchase.Total = total
	purchase.Change = purchase.Paid - total

	// All checks passed; apply stock movements and persist.
	for _, line := range lines {
		row := s.ensureRowLocked(purchase.StoreID, line.ProductID, line.SellPricePerPiece, line.CostPerCase)
		row.Qty += line.PieceQty
		row.CostPerCase = line.CostPerCase
		row.UpdatedAt = time.Now().UTC()
		s.inventory[purchase.StoreID][line.ProductID] = row
	}
	s.purchasesByID[purchase.ID] = clonePurchase(purchase)

	created := clonePurchase(purchase)
	return &created, nil
}

func (s *Store) GetPurchase(_ context.Context, storeID string, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchasesByID[id]
	if !ok || purchase.StoreID != storeID {
		return nil, fmt.Errorf("%w: purchase %s", store.ErrNotFound, id)
	}
	copyPurchase := clonePurchase(purchase)
	return &copyPurchase, nil
}

func (s *Store) ListPurchases(_ context.Context, storeID string) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, 32)
	for _, purchase := range s.purchasesByID {
		if purchase.StoreID == storeID {
			result = append(result, clonePurchase(purchase))
		}
	}
	slices.SortFunc(result, func(a, b domain.Purchase) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.InvoiceNumber, a.InvoiceNumber)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) ListPurchasesBetween(_ context.Context, storeID string, from time.Time, to time.Time) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, 32)
	for _, purchase := range s.purchasesByID {
		if purchase.StoreID != storeID {
			continue
		}
		if purchase.Date.Before(from) || purchase.Date.After(to) {
			continue
		}
		result = append(result, clonePurchase(purchase))
	}
	slices.SortFunc(result, func(a, b domain.Purchase) int {
		if a.Date.Before(b.Date) {
			return -1
		}
		if a.Date.After(b.Date) {
			return 1
		}
		return cmpString(a.InvoiceNumber, b.InvoiceNumber)
	})
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.StoreID == "" || sale.UserID == "" || len(sale.Lines) == 0 || sale.Paid < 0 {
		return nil, store.ErrValidation
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	isMember := false
	var customer domain.Customer
	if sale.CustomerID != "" {
		var ok bool
		customer, ok = s.customers[sale.CustomerID]
		if !ok {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
		}
		isMember = customer.IsMember
		sale.CustomerName = customer.Name
	}

	// Snapshot prices and verify stock for every line before any decrement.
	// remaining carries the quantity left after earlier lines, so repeated
	// lines for one product cannot pass the check against the same row twice.
	total := int64(0)
	remaining := make(map[string]int, len(sale.Lines))
	lines := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
		}
		row, ok := s.inventory[sale.StoreID][line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s not available in store %s", store.ErrNotFound, line.ProductID, sale.StoreID)
		}
		available, seen := remaining[line.ProductID]
		if !seen {
			available = row.Qty
		}
		if available < line.Qty {
			return nil, fmt.Errorf("%w: product %s has %d pieces available", store.ErrInsufficientStock, line.ProductID, available)
		}
		remaining[line.ProductID] = available - line.Qty

		product := s.products[line.ProductID]
		costPerCase := row.CostPerCase
		if costPerCase == 0 {
			costPerCase = product.CostPerCase
		}

		subtotal := int64(line.Qty) * row.SellPrice
		total += subtotal
		lines = append(lines, domain.SaleLine{
			ProductID:   line.ProductID,
			ProductName: product.Name,
			Qty:         line.Qty,
			CostPerCase: costPerCase,
			SellPrice:   row.SellPrice,
			Subtotal:    subtotal,
		})
	}

	rate := s.discounts.RateFor(total, isMember)
	finalTotal := pricing.ApplyDiscount(total, rate)
	if sale.Paid < finalTotal {
		return nil, fmt.Errorf("%w: insufficient payment, total due %d", store.ErrValidation, finalTotal)
	}

	if sale.InvoiceNumber == "" {
		sale.InvoiceNumber = s.nextSaleInvoiceLocked(sale.StoreID, sale.Date)
	} else if s.saleInvoiceExistsLocked(sale.StoreID, sale.InvoiceNumber) {
		return nil, fmt.Errorf("%w: invoice number %s already used", store.ErrConflict, sale.InvoiceNumber)
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	sale.Lines = lines
	sale.Total = total
	sale.DiscountRate = rate
	sale.FinalTotal = finalTotal
	sale.Change = sale.Paid - finalTotal

	// Commit: decrement stock, stamp member activity, persist.
	for _, line := range lines {
		row := s.inventory[sale.StoreID][line.ProductID]
		row.Qty -= line.Qty
		row.UpdatedAt = time.Now().UTC()
		s.inventory[sale.StoreID][line.ProductID] = row
	}
	if sale.CustomerID != "" && isMember {
		at := sale.Date
		customer.LastTransactionAt = &at
		s.customers[sale.CustomerID] = customer
	}
	s.salesByID[sale.ID] = cloneSale(sale)

	created := cloneSale(sale)
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, storeID string, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok || sale.StoreID != storeID {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, id)
	}
	copySale := cloneSale(sale)
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, storeID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.StoreID == storeID {
			result = append(result, cloneSale(sale))
		}
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.Date.Equal(b.Date) {
			return cmpString(b.InvoiceNumber, a.InvoiceNumber)
		}
		if a.Date.After(b.Date) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) ListSalesBetween(_ context.Context, storeID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.StoreID != storeID {
			continue
		}
		if sale.Date.Before(from) || sale.Date.After(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.Date.Before(b.Date) {
			return -1
		}
		if a.Date.After(b.Date) {
			return 1
		}
		return cmpString(a.InvoiceNumber, b.InvoiceNumber)
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		if s.auditLogs[i].StoreID == storeID {
			result = append(result, s.auditLogs[i])
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// nextPurchaseInvoiceLocked scans existing purchase invoices for the store and
// month prefix (INV<yy><mm>) and returns the next zero-padded sequence, e.g.
// INV250100007. Callers hold the write lock, so generation is race-free.
func (s *Store) nextPurchaseInvoiceLocked(storeID string, at time.Time) string {
	prefix := fmt.Sprintf("INV%02d%02d", at.Year()%100, int(at.Month()))
	max := 0
	for _, purchase := range s.purchasesByID {
		if purchase.StoreID != storeID || !strings.HasPrefix(purchase.InvoiceNumber, prefix) {
			continue
		}
		suffix := purchase.InvoiceNumber[len(prefix):]
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%05d", prefix, max+1)
}

func (s *Store) purchaseInvoiceExistsLocked(storeID string, invoiceNumber string) bool {
	for _, purchase := range s.purchasesByID {
		if purchase.StoreID == storeID && purchase.InvoiceNumber == invoiceNumber {
			return true
		}
	}
	return false
}

// nextSaleInvoiceLocked generates INV/<yyyy>/<MM>/<seq> with a 4-digit
// sequence that resets each month per store.
func (s *Store) nextSaleInvoiceLocked(storeID string, at time.Time) string {
	prefix := fmt.Sprintf("INV/%04d/%02d/", at.Year(), int(at.Month()))
	max := 0
	for _, sale := range s.salesByID {
		if sale.StoreID != storeID || !strings.HasPrefix(sale.InvoiceNumber, prefix) {
			continue
		}
		suffix := sale.InvoiceNumber[len(prefix):]
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%04d", prefix, max+1)
}

func (s *Store) saleInvoiceExistsLocked(storeID string, invoiceNumber string) bool {
	for _, sale := range s.salesByID {
		if sale.StoreID == storeID && sale.InvoiceNumber == invoiceNumber {
			return true
		}
	}
	return false
}

func cloneCustomer(c domain.Customer) domain.Customer {
	copyCustomer := c
	if c.LastTransactionAt != nil {
		at := *c.LastTransactionAt
		copyCustomer.LastTransactionAt = &at
	}
	return copyCustomer
}

func clonePurchase(p domain.Purchase) domain.Purchase {
	copyPurchase := p
	copyPurchase.Lines = make([]domain.PurchaseLine, len(p.Lines))
	copy(copyPurchase.Lines, p.Lines)
	return copyPurchase
}

func cloneSale(s domain.Sale) domain.Sale {
	copySale := s
	copySale.Lines = make([]domain.SaleLine, len(s.Lines))
	copy(copySale.Lines, s.Lines)
	return copySale
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
