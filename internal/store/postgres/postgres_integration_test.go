package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/pricing"
	"tokopos/backend/internal/store"
)

// newIntegrationStore connects to the database named by TOKOPOS_TEST_DATABASE_URL
// and seeds one supplier and one product (24 pieces per case at 24,000, so the
// derived sell price is 1,200). Rows are deleted on cleanup.
func newIntegrationStore(t *testing.T) (*Store, string, string, string) {
	t.Helper()

	databaseURL := os.Getenv("TOKOPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKOPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, pricing.DefaultPolicy(), pricing.DefaultDiscountPolicy())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := fmt.Sprintf("%d", time.Now().UnixNano())
	supplierID := fmt.Sprintf("sup-it-%s", stamp)
	productID := fmt.Sprintf("prd-it-%s", stamp)
	storeID := fmt.Sprintf("store-it-%s", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchase_lines WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchases WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_rows WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, supplierID)
	})

	if _, err := s.CreateSupplier(ctx, domain.Supplier{ID: supplierID, Name: "Supplier IT " + stamp}); err != nil {
		t.Fatalf("create supplier: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, Name: "Produk IT " + stamp, SupplierID: supplierID,
		Category: "grocery", Unit: "dus", ContentsPerCase: 24, CostPerCase: 24000,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	return s, storeID, supplierID, productID
}

func TestPurchaseThenSaleMovesStock(t *testing.T) {
	s, storeID, supplierID, productID := newIntegrationStore(t)
	ctx := context.Background()

	purchase, err := s.CreatePurchase(ctx, domain.Purchase{
		StoreID: storeID,
		UserID:  "usr-it",
		SupplierID: supplierID,
		Paid:    48000,
		Lines:   []domain.PurchaseLine{{ProductID: productID, CaseQty: 2}},
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if purchase.Total != 48000 || purchase.Change != 0 {
		t.Fatalf("expected total 48000 change 0, got %d / %d", purchase.Total, purchase.Change)
	}

	row, err := s.GetInventoryRow(ctx, storeID, productID)
	if err != nil {
		t.Fatalf("get inventory row: %v", err)
	}
	if row.Qty != 48 {
		t.Fatalf("expected 48 pieces after purchase, got %d", row.Qty)
	}
	if row.SellPrice != 1200 {
		t.Fatalf("expected derived sell price 1200, got %d", row.SellPrice)
	}

	sale, err := s.CreateSale(ctx, domain.Sale{
		StoreID: storeID,
		UserID:  "usr-it",
		Paid:    12000,
		Lines:   []domain.SaleLine{{ProductID: productID, Qty: 10}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Total != 12000 || sale.FinalTotal != 12000 {
		t.Fatalf("expected sale total 12000, got %d / %d", sale.Total, sale.FinalTotal)
	}

	row, err = s.GetInventoryRow(ctx, storeID, productID)
	if err != nil {
		t.Fatalf("get inventory row after sale: %v", err)
	}
	if row.Qty != 38 {
		t.Fatalf("expected 38 pieces after sale, got %d", row.Qty)
	}
}

func TestSaleWithRepeatedProductLinesCannotOversell(t *testing.T) {
	s, storeID, supplierID, productID := newIntegrationStore(t)
	ctx := context.Background()

	// 1 case of 24 pieces on hand.
	if _, err := s.CreatePurchase(ctx, domain.Purchase{
		StoreID:    storeID,
		UserID:     "usr-it",
		SupplierID: supplierID,
		Paid:       24000,
		Lines:      []domain.PurchaseLine{{ProductID: productID, CaseQty: 1}},
	}); err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	// Two lines of 15 against 24 on hand must be rejected as a whole.
	_, err := s.CreateSale(ctx, domain.Sale{
		StoreID: storeID,
		UserID:  "usr-it",
		Paid:    36000,
		Lines: []domain.SaleLine{
			{ProductID: productID, Qty: 15},
			{ProductID: productID, Qty: 15},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for repeated lines, got %v", err)
	}

	row, err := s.GetInventoryRow(ctx, storeID, productID)
	if err != nil {
		t.Fatalf("get inventory row: %v", err)
	}
	if row.Qty != 24 {
		t.Fatalf("expected stock untouched at 24, got %d", row.Qty)
	}
}

func TestSaleInvoiceSequenceSurvivesPadOverflow(t *testing.T) {
	s, storeID, supplierID, productID := newIntegrationStore(t)
	ctx := context.Background()

	if _, err := s.CreatePurchase(ctx, domain.Purchase{
		StoreID:    storeID,
		UserID:     "usr-it",
		SupplierID: supplierID,
		Paid:       24000,
		Lines:      []domain.PurchaseLine{{ProductID: productID, CaseQty: 1}},
	}); err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	// A manual invoice past the 4-digit pad would win a lexicographic MAX
	// comparison incorrectly ("9999" > "10000"); the generated sequence must
	// continue numerically from it.
	now := time.Now().UTC()
	prefix := fmt.Sprintf("INV/%04d/%02d/", now.Year(), int(now.Month()))
	if _, err := s.CreateSale(ctx, domain.Sale{
		StoreID:       storeID,
		UserID:        "usr-it",
		InvoiceNumber: prefix + "10000",
		Paid:          1200,
		Lines:         []domain.SaleLine{{ProductID: productID, Qty: 1}},
	}); err != nil {
		t.Fatalf("create manual-invoice sale: %v", err)
	}

	generated, err := s.CreateSale(ctx, domain.Sale{
		StoreID: storeID,
		UserID:  "usr-it",
		Paid:    1200,
		Lines:   []domain.SaleLine{{ProductID: productID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create auto-invoice sale: %v", err)
	}
	if generated.InvoiceNumber != prefix+"10001" {
		t.Fatalf("expected invoice %s10001, got %s", prefix, generated.InvoiceNumber)
	}
}
