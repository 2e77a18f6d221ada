package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokopos/backend/internal/cache"
	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/pricing"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Config carries the tunables the service needs beyond its collaborators.
// Zero values fall back to the defaults used across the deployment.
type Config struct {
	DefaultStoreID string
	ExpiryDays     int
	NearExpiryDays int
	ReportCacheTTL time.Duration
}

type Service struct {
	repo           store.Repository
	pricing        pricing.Policy
	discounts      pricing.DiscountPolicy
	reports        cache.ReportCache
	reportTTL      time.Duration
	defaultStoreID string
	expiryDays     int
	nearExpiryDays int
}

func New(repo store.Repository, policy pricing.Policy, discounts pricing.DiscountPolicy, reports cache.ReportCache, cfg Config) *Service {
	if cfg.DefaultStoreID == "" {
		cfg.DefaultStoreID = "main-store"
	}
	if cfg.ExpiryDays < 1 {
		cfg.ExpiryDays = 30
	}
	if cfg.NearExpiryDays < 1 {
		cfg.NearExpiryDays = 23
	}
	if cfg.ReportCacheTTL <= 0 {
		cfg.ReportCacheTTL = 5 * time.Minute
	}
	if reports == nil {
		reports = cache.NoopReportCache{}
	}

	return &Service{
		repo:           repo,
		pricing:        policy,
		discounts:      discounts,
		reports:        reports,
		reportTTL:      cfg.ReportCacheTTL,
		defaultStoreID: cfg.DefaultStoreID,
		expiryDays:     cfg.ExpiryDays,
		nearExpiryDays: cfg.NearExpiryDays,
	}
}

func (s *Service) DefaultStoreID() string {
	return s.defaultStoreID
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

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	req.Unit = strings.TrimSpace(req.Unit)

	if req.Name == "" || req.SupplierID == "" || req.Category == "" || req.Unit == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.ContentsPerCase < 1 || req.CostPerCase < 1 || req.SellPricePerPiece < 0 {
		return domain.Product{}, store.ErrValidation
	}

	sellPrice := req.SellPricePerPiece
	if sellPrice == 0 {
		derived, err := s.pricing.SellPricePerPiece(req.CostPerCase, req.ContentsPerCase)
		if err != nil {
			return domain.Product{}, err
		}
		sellPrice = derived
	}

	product := domain.Product{
		ID:                xid.New("prd"),
		Name:              req.Name,
		SupplierID:        req.SupplierID,
		Category:          req.Category,
		Unit:              req.Unit,
		ContentsPerCase:   req.ContentsPerCase,
		CostPerCase:       req.CostPerCase,
		SellPricePerPiece: sellPrice,
		Active:            true,
		CreatedAt:         time.Now().UTC(),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,cost=%d,isi=%d", created.Name, created.CostPerCase, created.ContentsPerCase))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.ToLower(strings.TrimSpace(*req.Category))
		if category == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Category = category
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Unit = unit
	}
	if req.ContentsPerCase != nil {
		if *req.ContentsPerCase < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.ContentsPerCase = *req.ContentsPerCase
	}
	if req.CostPerCase != nil {
		if *req.CostPerCase < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.CostPerCase = *req.CostPerCase
	}
	if req.SellPricePerPiece != nil {
		if *req.SellPricePerPiece < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.SellPricePerPiece = *req.SellPricePerPiece
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	// A cost or pack-size change without an explicit sell price re-derives it
	// so the catalog price stays on the configured margin.
	costChanged := updated.CostPerCase != existing.CostPerCase || updated.ContentsPerCase != existing.ContentsPerCase
	if costChanged && req.SellPricePerPiece == nil {
		derived, err := s.pricing.SellPricePerPiece(updated.CostPerCase, updated.ContentsPerCase)
		if err != nil {
			return domain.Product{}, err
		}
		updated.SellPricePerPiece = derived
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "product_update", "product", saved.ID, fmt.Sprintf("active=%t,cost=%d,sell=%d", saved.Active, saved.CostPerCase, saved.SellPricePerPiece))
	return *saved, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Supplier{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, store.ErrValidation
	}

	supplier := domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: time.Now().UTC(),
	}

	saved, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrValidation
	}

	now := time.Now().UTC()
	customer := domain.Customer{
		ID:        xid.New("cus"),
		Name:      req.Name,
		Address:   strings.TrimSpace(req.Address),
		Phone:     strings.TrimSpace(req.Phone),
		IsMember:  req.IsMember,
		CreatedAt: now,
	}
	if req.IsMember {
		customer.MemberID = newMemberID()
		customer.LastTransactionAt = &now
	}

	saved, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "customer_create", "customer", saved.ID, fmt.Sprintf("name=%s,member=%t", saved.Name, saved.IsMember))
	return *saved, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.IsMember != nil && *req.IsMember != existing.IsMember {
		if *req.IsMember {
			now := time.Now().UTC()
			updated.IsMember = true
			updated.MemberID = newMemberID()
			updated.LastTransactionAt = &now
		} else {
			updated.IsMember = false
			updated.MemberID = ""
			updated.LastTransactionAt = nil
		}
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "customer_update", "customer", saved.ID, fmt.Sprintf("member=%t", saved.IsMember))
	return *saved, nil
}

// ActivateMember promotes a customer into membership with a fresh member id
// and a membership clock starting now.
func (s *Service) ActivateMember(ctx context.Context, customerID string) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if existing.IsMember {
		return domain.Customer{}, fmt.Errorf("%w: customer %s is already a member", store.ErrConflict, customerID)
	}

	now := time.Now().UTC()
	updated := *existing
	updated.IsMember = true
	updated.MemberID = newMemberID()
	updated.LastTransactionAt = &now

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "member_activate", "customer", saved.ID, fmt.Sprintf("member_id=%s", saved.MemberID))
	return *saved, nil
}

// ReactivateMember restores an expired member. The old member id is gone by
// then, so a new one is issued.
func (s *Service) ReactivateMember(ctx context.Context, customerID string) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if existing.IsMember {
		return domain.Customer{}, fmt.Errorf("%w: customer %s is still an active member", store.ErrConflict, customerID)
	}

	now := time.Now().UTC()
	updated := *existing
	updated.IsMember = true
	updated.MemberID = newMemberID()
	updated.LastTransactionAt = &now

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "member_reactivate", "customer", saved.ID, fmt.Sprintf("member_id=%s", saved.MemberID))
	return *saved, nil
}

// RunExpirySweep demotes members idle past the expiry window and reports the
// ones inside the warning window. The scheduler calls this once a day; the
// admin endpoint can trigger it manually.
func (s *Service) RunExpirySweep(ctx context.Context) (domain.ExpirySweepResult, error) {
	now := time.Now().UTC()
	expireCutoff := now.Add(-time.Duration(s.expiryDays) * 24 * time.Hour)
	nearCutoff := now.Add(-time.Duration(s.nearExpiryDays) * 24 * time.Hour)

	expired, err := s.repo.ExpireMembers(ctx, expireCutoff)
	if err != nil {
		return domain.ExpirySweepResult{}, err
	}

	nearExpiry, err := s.repo.ListNearExpiryMembers(ctx, nearCutoff, expireCutoff)
	if err != nil {
		return domain.ExpirySweepResult{}, err
	}

	if expired > 0 {
		s.logAudit(ctx, s.defaultStoreID, "member_expiry_sweep", "customer", "", fmt.Sprintf("expired=%d,near_expiry=%d", expired, len(nearExpiry)))
	}

	return domain.ExpirySweepResult{
		ExpiredCount: expired,
		NearExpiry:   nearExpiry,
	}, nil
}

func (s *Service) GetInventory(ctx context.Context, storeID string) ([]domain.InventoryView, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	return s.repo.ListInventory(ctx, storeID)
}

func (s *Service) SetSellPrice(ctx context.Context, storeID string, req domain.SetSellPriceRequest) (domain.InventoryRow, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.InventoryRow{}, fmt.Errorf("admin role required")
	}

	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if req.ProductID == "" || req.SellPrice < 0 {
		return domain.InventoryRow{}, store.ErrValidation
	}

	row, err := s.repo.SetSellPrice(ctx, storeID, req.ProductID, req.SellPrice, req.CostPerCase)
	if err != nil {
		return domain.InventoryRow{}, err
	}

	s.logAudit(ctx, storeID, "sell_price_set", "inventory", req.ProductID, fmt.Sprintf("sell_price=%d", req.SellPrice))
	return *row, nil
}

// AdjustStock is a manual correction for damaged or miscounted goods. Only
// additions go through here; sales are the sole path that decrements.
func (s *Service) AdjustStock(ctx context.Context, storeID string, productID string, pieces int) (domain.InventoryRow, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.InventoryRow{}, fmt.Errorf("admin role required")
	}

	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if productID == "" || pieces < 1 {
		return domain.InventoryRow{}, store.ErrValidation
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.InventoryRow{}, err
	}
	sellPrice, err := s.pricing.SellPricePerPiece(product.CostPerCase, product.ContentsPerCase)
	if err != nil {
		return domain.InventoryRow{}, err
	}
	if _, err := s.repo.EnsureInventoryRow(ctx, storeID, productID, sellPrice, product.CostPerCase); err != nil {
		return domain.InventoryRow{}, err
	}
	if err := s.repo.IncreaseStock(ctx, storeID, productID, pieces); err != nil {
		return domain.InventoryRow{}, err
	}

	row, err := s.repo.GetInventoryRow(ctx, storeID, productID)
	if err != nil {
		return domain.InventoryRow{}, err
	}

	s.logAudit(ctx, storeID, "stock_adjust", "inventory", productID, fmt.Sprintf("pieces=%d", pieces))
	return *row, nil
}

func (s *Service) CreatePurchase(ctx context.Context, storeID string, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Purchase{}, fmt.Errorf("admin role required")
	}

	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if req.SupplierID == "" || len(req.Lines) == 0 {
		return domain.Purchase{}, store.ErrValidation
	}
	if req.Paid < 0 {
		return domain.Purchase{}, store.ErrValidation
	}

	date := time.Now().UTC()
	if req.Date != nil {
		date = req.Date.UTC()
	}

	lines := make([]domain.PurchaseLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID == "" || line.CaseQty < 1 {
			return domain.Purchase{}, store.ErrValidation
		}
		lines = append(lines, domain.PurchaseLine{ProductID: line.ProductID, CaseQty: line.CaseQty})
	}

	purchase := domain.Purchase{
		ID:         xid.New("pur"),
		StoreID:    storeID,
		UserID:     actor.UserID,
		SupplierID: req.SupplierID,
		Date:       date,
		Paid:       req.Paid,
		Lines:      lines,
	}

	created, err := s.repo.CreatePurchase(ctx, purchase)
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, storeID, "purchase_create", "purchase", created.ID, fmt.Sprintf("invoice=%s,total=%d,lines=%d", created.InvoiceNumber, created.Total, len(created.Lines)))
	return *created, nil
}

func (s *Service) GetPurchase(ctx context.Context, storeID string, id string) (domain.Purchase, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	purchase, err := s.repo.GetPurchase(ctx, storeID, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	return *purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, storeID string) ([]domain.Purchase, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	return s.repo.ListPurchases(ctx, storeID)
}

func (s *Service) CreateSale(ctx context.Context, storeID string, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authentication required")
	}

	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if len(req.Lines) == 0 || req.Paid < 0 {
		return domain.Sale{}, store.ErrValidation
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Qty < 1 {
			return domain.Sale{}, store.ErrValidation
		}
		lines = append(lines, domain.SaleLine{ProductID: line.ProductID, Qty: line.Qty})
	}

	sale := domain.Sale{
		ID:            xid.New("sal"),
		StoreID:       storeID,
		UserID:        actor.UserID,
		CustomerID:    strings.TrimSpace(req.CustomerID),
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		Date:          time.Now().UTC(),
		Paid:          req.Paid,
		Lines:         lines,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, storeID, "sale_create", "sale", created.ID, fmt.Sprintf("invoice=%s,total=%d,discount=%.2f", created.InvoiceNumber, created.FinalTotal, created.DiscountRate))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, storeID string, id string) (domain.Sale, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	sale, err := s.repo.GetSale(ctx, storeID, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, storeID string) ([]domain.Sale, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	return s.repo.ListSales(ctx, storeID)
}

func (s *Service) ProfitLossReport(ctx context.Context, storeID string, fromDate string, toDate string) (domain.ProfitLossReport, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	from, to, err := parsePeriod(fromDate, toDate)
	if err != nil {
		return domain.ProfitLossReport{}, err
	}

	cacheKey := fmt.Sprintf("report:pl:%s:%s:%s", storeID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached domain.ProfitLossReport
	if s.readReportCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	sales, err := s.repo.ListSalesBetween(ctx, storeID, from, to)
	if err != nil {
		return domain.ProfitLossReport{}, err
	}
	products, err := s.productsForSales(ctx, sales, nil)
	if err != nil {
		return domain.ProfitLossReport{}, err
	}

	perProduct := make(map[string]*domain.ProfitLossProduct, 64)
	for _, sale := range sales {
		for _, line := range sale.Lines {
			entry, ok := perProduct[line.ProductID]
			if !ok {
				product := products[line.ProductID]
				entry = &domain.ProfitLossProduct{
					ProductID:   line.ProductID,
					ProductName: defaultString(line.ProductName, product.Name),
					Category:    defaultString(product.Category, "lainnya"),
				}
				perProduct[line.ProductID] = entry
			}
			hpp := lineHPP(line, products[line.ProductID])
			entry.Qty += line.Qty
			entry.Revenue += line.Subtotal
			entry.HPP += hpp
			entry.Laba += line.Subtotal - hpp
		}
	}

	report := domain.ProfitLossReport{
		StoreID:    storeID,
		From:       from,
		To:         to,
		PerProduct: make([]domain.ProfitLossProduct, 0, len(perProduct)),
	}
	for _, entry := range perProduct {
		report.PerProduct = append(report.PerProduct, *entry)
		report.Summary.Qty += entry.Qty
		report.Summary.Revenue += entry.Revenue
		report.Summary.HPP += entry.HPP
		report.Summary.Laba += entry.Laba
	}
	report.Summary.MarginPercent = percentOf(report.Summary.Laba, report.Summary.HPP)

	sort.Slice(report.PerProduct, func(i, j int) bool {
		if report.PerProduct[i].Category == report.PerProduct[j].Category {
			return report.PerProduct[i].ProductName < report.PerProduct[j].ProductName
		}
		return report.PerProduct[i].Category < report.PerProduct[j].Category
	})

	s.writeReportCache(ctx, cacheKey, report)
	return report, nil
}

// CombinedReport joins the purchase and sale sides of a period per category,
// so the owner can see what was bought, what moved and at which margin.
func (s *Service) CombinedReport(ctx context.Context, storeID string, fromDate string, toDate string) (domain.CombinedReport, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	from, to, err := parsePeriod(fromDate, toDate)
	if err != nil {
		return domain.CombinedReport{}, err
	}

	cacheKey := fmt.Sprintf("report:combined:%s:%s:%s", storeID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached domain.CombinedReport
	if s.readReportCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	sales, err := s.repo.ListSalesBetween(ctx, storeID, from, to)
	if err != nil {
		return domain.CombinedReport{}, err
	}
	purchases, err := s.repo.ListPurchasesBetween(ctx, storeID, from, to)
	if err != nil {
		return domain.CombinedReport{}, err
	}
	products, err := s.productsForSales(ctx, sales, purchases)
	if err != nil {
		return domain.CombinedReport{}, err
	}

	type productAgg struct {
		purchasedQty int
		soldQty      int
		salesTotal   int64
		hpp          int64
	}
	categories := make(map[string]map[string]*productAgg, 8)
	categoryPurchaseTotal := make(map[string]int64, 8)

	aggFor := func(category string, productName string) *productAgg {
		if categories[category] == nil {
			categories[category] = make(map[string]*productAgg, 16)
		}
		entry, ok := categories[category][productName]
		if !ok {
			entry = &productAgg{}
			categories[category][productName] = entry
		}
		return entry
	}

	for _, purchase := range purchases {
		for _, line := range purchase.Lines {
			product := products[line.ProductID]
			category := defaultString(product.Category, "lainnya")
			name := defaultString(line.ProductName, product.Name)
			entry := aggFor(category, name)
			entry.purchasedQty += line.PieceQty
			categoryPurchaseTotal[category] += line.CostPerCase * int64(line.CaseQty)
		}
	}
	for _, sale := range sales {
		for _, line := range sale.Lines {
			product := products[line.ProductID]
			category := defaultString(product.Category, "lainnya")
			name := defaultString(line.ProductName, product.Name)
			entry := aggFor(category, name)
			entry.soldQty += line.Qty
			entry.salesTotal += line.Subtotal
			entry.hpp += lineHPP(line, product)
		}
	}

	report := domain.CombinedReport{
		StoreID:     storeID,
		From:        from,
		To:          to,
		PerCategory: make([]domain.CombinedCategory, 0, len(categories)),
	}
	for category, productMap := range categories {
		cat := domain.CombinedCategory{
			Category:      category,
			PurchaseTotal: categoryPurchaseTotal[category],
			Products:      make([]domain.CombinedCategoryProduct, 0, len(productMap)),
		}
		for name, entry := range productMap {
			cat.PurchasedQty += entry.purchasedQty
			cat.SoldQty += entry.soldQty
			cat.SalesTotal += entry.salesTotal
			cat.HPP += entry.hpp
			cat.Laba += entry.salesTotal - entry.hpp
			cat.Products = append(cat.Products, domain.CombinedCategoryProduct{
				ProductName:  name,
				PurchasedQty: entry.purchasedQty,
				SoldQty:      entry.soldQty,
				SalesTotal:   entry.salesTotal,
				HPP:          entry.hpp,
				Laba:         entry.salesTotal - entry.hpp,
			})
		}
		sort.Slice(cat.Products, func(i, j int) bool {
			return cat.Products[i].ProductName < cat.Products[j].ProductName
		})

		report.Summary.PurchasedQty += cat.PurchasedQty
		report.Summary.PurchaseTotal += cat.PurchaseTotal
		report.Summary.SoldQty += cat.SoldQty
		report.Summary.SalesTotal += cat.SalesTotal
		report.Summary.HPP += cat.HPP
		report.Summary.Laba += cat.Laba
		report.PerCategory = append(report.PerCategory, cat)
	}
	sort.Slice(report.PerCategory, func(i, j int) bool {
		return report.PerCategory[i].Category < report.PerCategory[j].Category
	})

	report.Summary.MarginPercent = percentOf(report.Summary.Laba, report.Summary.HPP)
	report.Summary.PurchaseSalesGap = report.Summary.SalesTotal - report.Summary.PurchaseTotal
	report.Summary.AchievementPercent = percentOf(report.Summary.SalesTotal, report.Summary.PurchaseTotal)

	s.writeReportCache(ctx, cacheKey, report)
	return report, nil
}

func (s *Service) DailySalesSummary(ctx context.Context, storeID string, date string) (domain.DailySalesSummary, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.DailySalesSummary{}, store.ErrValidation
		}
		day = parsed.UTC()
	}
	from := day
	to := from.Add(24*time.Hour - time.Nanosecond)

	sales, err := s.repo.ListSalesBetween(ctx, storeID, from, to)
	if err != nil {
		return domain.DailySalesSummary{}, err
	}

	summary := domain.DailySalesSummary{
		StoreID: storeID,
		Date:    from.Format("2006-01-02"),
		Sales:   sales,
	}
	for _, sale := range sales {
		summary.SalesCount++
		summary.Total += sale.FinalTotal
	}
	return summary, nil
}

// WeeklyExpenses sums purchase spending per day over the last seven days,
// oldest day first.
func (s *Service) WeeklyExpenses(ctx context.Context, storeID string) (domain.WeeklyExpenses, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.Add(-6 * 24 * time.Hour)
	to := today.Add(24*time.Hour - time.Nanosecond)

	purchases, err := s.repo.ListPurchasesBetween(ctx, storeID, from, to)
	if err != nil {
		return domain.WeeklyExpenses{}, err
	}

	totals := make(map[string]int64, 7)
	for _, purchase := range purchases {
		key := purchase.Date.UTC().Format("2006-01-02")
		totals[key] += purchase.Total
	}

	result := domain.WeeklyExpenses{
		StoreID: storeID,
		Days:    make([]domain.WeeklyExpenseDay, 0, 7),
	}
	for d := 0; d < 7; d++ {
		day := from.Add(time.Duration(d) * 24 * time.Hour).Format("2006-01-02")
		result.Days = append(result.Days, domain.WeeklyExpenseDay{
			Date:  day,
			Total: totals[day],
		})
	}
	return result, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, storeID, limit)
}

// Authenticate verifies credentials against the user table and returns the
// account on success. Callers map the error to a generic 401.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.UserAccount, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.UserAccount{}, store.ErrValidation
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, err
	}
	for _, user := range users {
		if user.Username != username || !user.Active {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
			return domain.UserAccount{}, fmt.Errorf("%w: invalid credentials", store.ErrNotFound)
		}
		return user, nil
	}
	return domain.UserAccount{}, fmt.Errorf("%w: invalid credentials", store.ErrNotFound)
}

func (s *Service) ChangePassword(ctx context.Context, username string, newPassword string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin && actor.Username != username {
		return fmt.Errorf("admin role required")
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", store.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, username, string(hash)); err != nil {
		return err
	}

	s.logAudit(ctx, s.defaultStoreID, "password_change", "user", username, "")
	return nil
}

func (s *Service) productsForSales(ctx context.Context, sales []domain.Sale, purchases []domain.Purchase) (map[string]domain.Product, error) {
	seen := make(map[string]struct{}, 64)
	ids := make([]string, 0, 64)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, sale := range sales {
		for _, line := range sale.Lines {
			add(line.ProductID)
		}
	}
	for _, purchase := range purchases {
		for _, line := range purchase.Lines {
			add(line.ProductID)
		}
	}
	return s.repo.GetProductsByIDs(ctx, ids)
}

func (s *Service) readReportCache(ctx context.Context, key string, out any) bool {
	payload, found, err := s.reports.Get(ctx, key)
	if err != nil {
		log.Printf("[report-cache] WARN: get %s: %v", key, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		log.Printf("[report-cache] WARN: decode %s: %v", key, err)
		return false
	}
	return true
}

func (s *Service) writeReportCache(ctx context.Context, key string, report any) {
	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.reports.Set(ctx, key, payload, s.reportTTL); err != nil {
		log.Printf("[report-cache] WARN: set %s: %v", key, err)
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// lineHPP is the cost basis of one sale line: qty times the per-piece cost,
// where the per-piece cost divides the case-level snapshot by the product's
// contents per case.
func lineHPP(line domain.SaleLine, product domain.Product) int64 {
	contents := product.ContentsPerCase
	if contents < 1 {
		contents = 1
	}
	return decimal.NewFromInt(line.CostPerCase).
		Mul(decimal.NewFromInt(int64(line.Qty))).
		Div(decimal.NewFromInt(int64(contents))).
		Round(0).
		IntPart()
}

func percentOf(part int64, base int64) float64 {
	if base == 0 {
		return 0
	}
	ratio, _ := decimal.NewFromInt(part).
		Div(decimal.NewFromInt(base)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		Float64()
	return ratio
}

func parsePeriod(fromDate string, toDate string) (time.Time, time.Time, error) {
	fromDate = strings.TrimSpace(fromDate)
	toDate = strings.TrimSpace(toDate)

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if fromDate != "" {
		parsed, err := time.Parse("2006-01-02", fromDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid from date", store.ErrValidation)
		}
		from = parsed.UTC()
	}
	if toDate != "" {
		parsed, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid to date", store.ErrValidation)
		}
		to = parsed.UTC()
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: period end before start", store.ErrValidation)
	}
	// Inclusive end of day.
	to = to.Add(24*time.Hour - time.Nanosecond)
	return from, to, nil
}

func newMemberID() string {
	millis := time.Now().UnixMilli()
	return fmt.Sprintf("MBR%08d", millis%100000000)
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
