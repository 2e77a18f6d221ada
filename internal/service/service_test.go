package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/pricing"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	policy := pricing.DefaultPolicy()
	discounts := pricing.DefaultDiscountPolicy()
	repo := memory.NewSeeded(policy, discounts, "main-store")
	svc := New(repo, policy, discounts, nil, Config{DefaultStoreID: "main-store"})
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-admin-test",
		Username: "admin",
		StoreID:  "main-store",
		Role:     domain.RoleAdmin,
	})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-cashier-test",
		Username: "cashier",
		StoreID:  "main-store",
		Role:     domain.RoleCashier,
	})
}

func TestCreatePurchaseIncreasesStockAndDerivesSellPrice(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	// Teh Celup: 24 pieces per case at 192,000 per case.
	purchase, err := svc.CreatePurchase(ctx, "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-teh-01", CaseQty: 2}},
		Paid:       384000,
	})
	if err != nil {
		t.Fatalf("create purchase failed: %v", err)
	}
	if purchase.Total != 384000 {
		t.Fatalf("expected total 384000, got %d", purchase.Total)
	}
	if purchase.Change != 0 {
		t.Fatalf("expected change 0, got %d", purchase.Change)
	}
	if len(purchase.Lines) != 1 || purchase.Lines[0].PieceQty != 48 {
		t.Fatalf("expected 48 pieces received, got %+v", purchase.Lines)
	}
	// 192,000 / 24 * 1.2 = 9,600 per piece.
	if purchase.Lines[0].SellPricePerPiece != 9600 {
		t.Fatalf("expected derived sell price 9600, got %d", purchase.Lines[0].SellPricePerPiece)
	}
	if purchase.InvoiceNumber == "" {
		t.Fatalf("expected generated invoice number")
	}

	inventory, err := svc.GetInventory(ctx, "main-store")
	if err != nil {
		t.Fatalf("get inventory failed: %v", err)
	}
	found := false
	for _, row := range inventory {
		if row.ProductID == "prd-teh-01" {
			found = true
			if row.Qty != 48 {
				t.Fatalf("expected 48 pieces in stock, got %d", row.Qty)
			}
			if row.SellPrice != 9600 {
				t.Fatalf("expected shelf price 9600, got %d", row.SellPrice)
			}
		}
	}
	if !found {
		t.Fatalf("expected inventory row for prd-teh-01")
	}
}

func TestCreatePurchaseAllowsPartialPayment(t *testing.T) {
	svc, _ := newTestService()

	purchase, err := svc.CreatePurchase(adminCtx(), "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-teh-01", CaseQty: 1}},
		Paid:       100000,
	})
	if err != nil {
		t.Fatalf("create purchase failed: %v", err)
	}
	// Paid less than 192,000 owed; the negative change records the debt.
	if purchase.Change != -92000 {
		t.Fatalf("expected change -92000, got %d", purchase.Change)
	}
}

func TestCreatePurchaseRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreatePurchase(cashierCtx(), "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-teh-01", CaseQty: 1}},
		Paid:       192000,
	})
	if err == nil {
		t.Fatalf("expected cashier purchase to be rejected")
	}
}

func TestPurchaseInvoiceNumbersAreSequentialPerMonth(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	first, err := svc.CreatePurchase(ctx, "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-mie-01", CaseQty: 1}},
		Paid:       100000,
	})
	if err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	second, err := svc.CreatePurchase(ctx, "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-mie-01", CaseQty: 1}},
		Paid:       100000,
	})
	if err != nil {
		t.Fatalf("second purchase failed: %v", err)
	}

	now := time.Now().UTC()
	wantPrefix := now.Format("0601")
	if first.InvoiceNumber != "INV"+wantPrefix+"00001" {
		t.Fatalf("unexpected first invoice %s", first.InvoiceNumber)
	}
	if second.InvoiceNumber != "INV"+wantPrefix+"00002" {
		t.Fatalf("unexpected second invoice %s", second.InvoiceNumber)
	}
}

func TestSaleAppliesMemberDiscountTiers(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	stockAndPrice(t, svc, ctx, "prd-mie-01", 2000, 3000)

	cases := []struct {
		name       string
		customerID string
		qty        int
		wantTotal  int64
		wantRate   float64
		wantFinal  int64
	}{
		{"walk-in gets no discount", "", 50, 150000, 0, 150000},
		{"member at 150k gets 2%", "cus-budi", 50, 150000, 0.02, 147000},
		{"member at 300k gets 5%", "cus-budi", 100, 300000, 0.05, 285000},
		{"member at 1.002M gets 10%", "cus-budi", 334, 1002000, 0.10, 901800},
		{"non-member customer gets no discount", "cus-sari", 100, 300000, 0, 300000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sale, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
				CustomerID: tc.customerID,
				Lines:      []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: tc.qty}},
				Paid:       tc.wantFinal,
			})
			if err != nil {
				t.Fatalf("create sale failed: %v", err)
			}
			if sale.Total != tc.wantTotal {
				t.Fatalf("expected total %d, got %d", tc.wantTotal, sale.Total)
			}
			if sale.DiscountRate != tc.wantRate {
				t.Fatalf("expected rate %v, got %v", tc.wantRate, sale.DiscountRate)
			}
			if sale.FinalTotal != tc.wantFinal {
				t.Fatalf("expected final %d, got %d", tc.wantFinal, sale.FinalTotal)
			}
		})
	}
}

func TestSaleRejectsInsufficientPayment(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	stockAndPrice(t, svc, ctx, "prd-mie-01", 100, 3000)

	_, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 5}},
		Paid:  10000,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for underpayment, got %v", err)
	}
}

func TestSaleInsufficientStockLeavesQtyUnchanged(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	stockAndPrice(t, svc, ctx, "prd-mie-01", 3, 3000)

	_, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 5}},
		Paid:  15000,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	inventory, err := svc.GetInventory(ctx, "main-store")
	if err != nil {
		t.Fatalf("get inventory failed: %v", err)
	}
	for _, row := range inventory {
		if row.ProductID == "prd-mie-01" && row.Qty != 3 {
			t.Fatalf("expected failed sale to leave qty at 3, got %d", row.Qty)
		}
	}
}

func TestSaleSnapshotSurvivesLaterPriceChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	stockAndPrice(t, svc, ctx, "prd-mie-01", 100, 3000)

	sale, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 4}},
		Paid:  12000,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if _, err := svc.SetSellPrice(ctx, "main-store", domain.SetSellPriceRequest{
		ProductID: "prd-mie-01",
		SellPrice: 9999,
	}); err != nil {
		t.Fatalf("set sell price failed: %v", err)
	}

	reloaded, err := svc.GetSale(ctx, "main-store", sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if reloaded.Lines[0].SellPrice != 3000 {
		t.Fatalf("expected sale line to keep snapshot price 3000, got %d", reloaded.Lines[0].SellPrice)
	}
	if reloaded.FinalTotal != 12000 {
		t.Fatalf("expected sale total to stay 12000, got %d", reloaded.FinalTotal)
	}
}

func TestSaleManualInvoiceDuplicateIsConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	stockAndPrice(t, svc, ctx, "prd-mie-01", 100, 3000)

	_, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		Lines:         []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 1}},
		Paid:          3000,
		InvoiceNumber: "INV/2026/08/9001",
	})
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}

	_, err = svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		Lines:         []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 1}},
		Paid:          3000,
		InvoiceNumber: "INV/2026/08/9001",
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate invoice, got %v", err)
	}
}

func TestMemberExpirySweepDemotesIdleMembers(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	idle := time.Now().UTC().Add(-31 * 24 * time.Hour)
	warning := time.Now().UTC().Add(-25 * 24 * time.Hour)

	expiredSoon, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Pak Idle", IsMember: true})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}
	nearExpiry, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Bu Warning", IsMember: true})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	backdate := func(id string, at time.Time) {
		t.Helper()
		customer, err := repo.GetCustomer(ctx, id)
		if err != nil {
			t.Fatalf("get customer failed: %v", err)
		}
		updated := *customer
		updated.LastTransactionAt = &at
		if _, err := repo.UpdateCustomer(ctx, updated); err != nil {
			t.Fatalf("backdate customer failed: %v", err)
		}
	}
	backdate(expiredSoon.ID, idle)
	backdate(nearExpiry.ID, warning)

	result, err := svc.RunExpirySweep(ctx)
	if err != nil {
		t.Fatalf("expiry sweep failed: %v", err)
	}
	if result.ExpiredCount != 1 {
		t.Fatalf("expected 1 expired member, got %d", result.ExpiredCount)
	}

	foundWarning := false
	for _, customer := range result.NearExpiry {
		if customer.ID == nearExpiry.ID {
			foundWarning = true
		}
		if customer.ID == expiredSoon.ID {
			t.Fatalf("expired customer must not appear in the warning list")
		}
	}
	if !foundWarning {
		t.Fatalf("expected near-expiry customer in warning list")
	}

	demoted, err := svc.GetCustomer(ctx, expiredSoon.ID)
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if demoted.IsMember || demoted.MemberID != "" || demoted.LastTransactionAt != nil {
		t.Fatalf("expected membership cleared, got %+v", demoted)
	}

	// Reactivation issues a fresh member id.
	restored, err := svc.ReactivateMember(ctx, demoted.ID)
	if err != nil {
		t.Fatalf("reactivate failed: %v", err)
	}
	if !restored.IsMember || restored.MemberID == "" {
		t.Fatalf("expected restored membership, got %+v", restored)
	}
}

func TestActivateMemberTwiceIsConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	_, err := svc.ActivateMember(ctx, "cus-budi")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for double activation, got %v", err)
	}
}

func TestSaleStampsMemberActivity(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	stockAndPrice(t, svc, ctx, "prd-mie-01", 100, 3000)

	before, err := svc.GetCustomer(ctx, "cus-budi")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}

	if _, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		CustomerID: "cus-budi",
		Lines:      []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 1}},
		Paid:       3000,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	after, err := svc.GetCustomer(ctx, "cus-budi")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if after.LastTransactionAt == nil || !after.LastTransactionAt.After(*before.LastTransactionAt) {
		t.Fatalf("expected member activity timestamp to move forward")
	}
}

func TestProfitLossReportComputesHPPAndMargin(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	// Mie: 40 per case at 100,000 -> cost basis 2,500, shelf price 3,000.
	if _, err := svc.CreatePurchase(ctx, "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-mie-01", CaseQty: 1}},
		Paid:       100000,
	}); err != nil {
		t.Fatalf("create purchase failed: %v", err)
	}
	if _, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 10}},
		Paid:  30000,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	report, err := svc.ProfitLossReport(ctx, "main-store", "", "")
	if err != nil {
		t.Fatalf("profit loss report failed: %v", err)
	}
	if report.Summary.Revenue != 30000 {
		t.Fatalf("expected revenue 30000, got %d", report.Summary.Revenue)
	}
	if report.Summary.HPP != 25000 {
		t.Fatalf("expected HPP 25000, got %d", report.Summary.HPP)
	}
	if report.Summary.Laba != 5000 {
		t.Fatalf("expected laba 5000, got %d", report.Summary.Laba)
	}
	if report.Summary.MarginPercent != 20 {
		t.Fatalf("expected margin 20%%, got %v", report.Summary.MarginPercent)
	}
	if len(report.PerProduct) != 1 || report.PerProduct[0].ProductID != "prd-mie-01" {
		t.Fatalf("expected single per-product row for prd-mie-01, got %+v", report.PerProduct)
	}
}

func TestCombinedReportTracksGapAndAchievement(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreatePurchase(ctx, "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-mie-01", CaseQty: 1}},
		Paid:       100000,
	}); err != nil {
		t.Fatalf("create purchase failed: %v", err)
	}
	if _, err := svc.CreateSale(ctx, "main-store", domain.SaleCreateRequest{
		Lines: []domain.SaleLineRequest{{ProductID: "prd-mie-01", Qty: 10}},
		Paid:  30000,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	report, err := svc.CombinedReport(ctx, "main-store", "", "")
	if err != nil {
		t.Fatalf("combined report failed: %v", err)
	}
	if report.Summary.PurchaseTotal != 100000 || report.Summary.SalesTotal != 30000 {
		t.Fatalf("unexpected totals %+v", report.Summary)
	}
	if report.Summary.PurchaseSalesGap != -70000 {
		t.Fatalf("expected gap -70000, got %d", report.Summary.PurchaseSalesGap)
	}
	if report.Summary.AchievementPercent != 30 {
		t.Fatalf("expected achievement 30%%, got %v", report.Summary.AchievementPercent)
	}
	if len(report.PerCategory) != 1 || report.PerCategory[0].Category != "grocery" {
		t.Fatalf("expected single grocery category, got %+v", report.PerCategory)
	}
}

func TestReportRejectsInvertedPeriod(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ProfitLossReport(adminCtx(), "main-store", "2026-08-20", "2026-08-10")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for inverted period, got %v", err)
	}
}

func TestWeeklyExpensesZeroFillsQuietDays(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreatePurchase(ctx, "main-store", domain.PurchaseCreateRequest{
		SupplierID: "sup-indofood",
		Lines:      []domain.PurchaseLineRequest{{ProductID: "prd-mie-01", CaseQty: 2}},
		Paid:       200000,
	}); err != nil {
		t.Fatalf("create purchase failed: %v", err)
	}

	expenses, err := svc.WeeklyExpenses(ctx, "main-store")
	if err != nil {
		t.Fatalf("weekly expenses failed: %v", err)
	}
	if len(expenses.Days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(expenses.Days))
	}

	today := time.Now().UTC().Format("2006-01-02")
	if expenses.Days[6].Date != today {
		t.Fatalf("expected last day to be today %s, got %s", today, expenses.Days[6].Date)
	}
	if expenses.Days[6].Total != 200000 {
		t.Fatalf("expected today's spend 200000, got %d", expenses.Days[6].Total)
	}
	for _, day := range expenses.Days[:6] {
		if day.Total != 0 {
			t.Fatalf("expected quiet day %s at zero, got %d", day.Date, day.Total)
		}
	}
}

func TestCreateProductDerivesSellPriceWhenOmitted(t *testing.T) {
	svc, _ := newTestService()

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:            "Biskuit Kaleng",
		SupplierID:      "sup-indofood",
		Category:        "snack",
		Unit:            "dus",
		ContentsPerCase: 12,
		CostPerCase:     60000,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	// 60,000 / 12 * 1.2 = 6,000 per piece.
	if product.SellPricePerPiece != 6000 {
		t.Fatalf("expected derived sell price 6000, got %d", product.SellPricePerPiece)
	}
}

func TestChangePasswordEnforcesOwnershipAndLength(t *testing.T) {
	svc, _ := newTestService()

	if err := svc.ChangePassword(cashierCtx(), "admin", "long-enough-pass"); err == nil {
		t.Fatalf("expected cashier changing another account to fail")
	}
	if err := svc.ChangePassword(cashierCtx(), "cashier", "short"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
	if err := svc.ChangePassword(cashierCtx(), "cashier", "rahasia-baru-1"); err != nil {
		t.Fatalf("expected self password change to succeed, got %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), "cashier", "rahasia-baru-1"); err != nil {
		t.Fatalf("expected new password to authenticate, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "cashier", "cashier123"); err == nil {
		t.Fatalf("expected old password to be rejected")
	}
}

// stockAndPrice puts pieces on the shelf and pins the shelf price so sale
// arithmetic in the tests stays easy to follow.
func stockAndPrice(t *testing.T, svc *Service, ctx context.Context, productID string, pieces int, sellPrice int64) {
	t.Helper()
	if _, err := svc.AdjustStock(ctx, "main-store", productID, pieces); err != nil {
		t.Fatalf("adjust stock failed: %v", err)
	}
	if _, err := svc.SetSellPrice(ctx, "main-store", domain.SetSellPriceRequest{
		ProductID: productID,
		SellPrice: sellPrice,
	}); err != nil {
		t.Fatalf("set sell price failed: %v", err)
	}
}
