package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokopos/backend/internal/domain"
	"tokopos/backend/internal/pricing"
	"tokopos/backend/internal/store"
	"tokopos/backend/internal/xid"
)

type Store struct {
	db        *sql.DB
	pricing   pricing.Policy
	discounts pricing.DiscountPolicy
}

func New(ctx context.Context, databaseURL string, policy pricing.Policy, discounts pricing.DiscountPolicy) (*Store, error) {
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

	return &Store{db: db, pricing: policy, discounts: discounts}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SupplierID == "" || product.Category == "" || product.Unit == "" {
		return nil, store.ErrValidation
	}
	if product.ContentsPerCase < 1 || product.CostPerCase < 1 || product.SellPricePerPiece < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, supplier_id, category, unit, contents_per_case, cost_per_case, sell_price_per_piece, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.Name, product.SupplierID, product.Category, product.Unit,
		product.ContentsPerCase, product.CostPerCase, product.SellPricePerPiece, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, product.SupplierID)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, supplier_id, category, unit, contents_per_case, cost_per_case, sell_price_per_piece, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.SupplierID, &product.Category, &product.Unit,
		&product.ContentsPerCase, &product.CostPerCase, &product.SellPricePerPiece, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" || product.Unit == "" {
		return nil, store.ErrValidation
	}
	if product.ContentsPerCase < 1 || product.CostPerCase < 1 || product.SellPricePerPiece < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit = $4, contents_per_case = $5, cost_per_case = $6, sell_price_per_piece = $7, active = $8
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Unit, product.ContentsPerCase,
		product.CostPerCase, product.SellPricePerPiece, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, product.ID)
	}

	updated := product
	return &updated, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, supplier_id, category, unit, contents_per_case, cost_per_case, sell_price_per_piece, active, created_at
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SupplierID, &p.Category, &p.Unit,
			&p.ContentsPerCase, &p.CostPerCase, &p.SellPricePerPiece, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, supplier_id, category, unit, contents_per_case, cost_per_case, sell_price_per_piece, active, created_at
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SupplierID, &p.Category, &p.Unit,
			&p.ContentsPerCase, &p.CostPerCase, &p.SellPricePerPiece, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM suppliers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return suppliers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, address, phone, is_member, member_id, last_transaction_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, customer.ID, customer.Name, customer.Address, customer.Phone, customer.IsMember,
		nullIfEmpty(customer.MemberID), nullTime(customer.LastTransactionAt), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	var memberID sql.NullString
	var lastTx sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, phone, is_member, member_id, last_transaction_at, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Address, &customer.Phone,
		&customer.IsMember, &memberID, &lastTx, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	customer.MemberID = memberID.String
	if lastTx.Valid {
		at := lastTx.Time.UTC()
		customer.LastTransactionAt = &at
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, address = $3, phone = $4, is_member = $5, member_id = $6, last_transaction_at = $7
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Address, customer.Phone, customer.IsMember,
		nullIfEmpty(customer.MemberID), nullTime(customer.LastTransactionAt))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, customer.ID)
	}

	updated := customer
	return &updated, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, phone, is_member, member_id, last_transaction_at, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var customer domain.Customer
		var memberID sql.NullString
		var lastTx sql.NullTime
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Address, &customer.Phone,
			&customer.IsMember, &memberID, &lastTx, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.MemberID = memberID.String
		if lastTx.Valid {
			at := lastTx.Time.UTC()
			customer.LastTransactionAt = &at
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

// ExpireMembers demotes every member whose last transaction predates the
// cutoff. Members who have never transacted are left alone.
func (s *Store) ExpireMembers(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET is_member = false, member_id = NULL, last_transaction_at = NULL
		WHERE is_member = true AND last_transaction_at IS NOT NULL AND last_transaction_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ListNearExpiryMembers(ctx context.Context, nearCutoff time.Time, expireCutoff time.Time) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, phone, is_member, member_id, last_transaction_at, created_at
		FROM customers
		WHERE is_member = true
		  AND last_transaction_at IS NOT NULL
		  AND last_transaction_at < $1
		  AND last_transaction_at >= $2
		ORDER BY last_transaction_at
	`, nearCutoff, expireCutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 16)
	for rows.Next() {
		var customer domain.Customer
		var memberID sql.NullString
		var lastTx sql.NullTime
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Address, &customer.Phone,
			&customer.IsMember, &memberID, &lastTx, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.MemberID = memberID.String
		if lastTx.Valid {
			at := lastTx.Time.UTC()
			customer.LastTransactionAt = &at
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) EnsureInventoryRow(ctx context.Context, storeID string, productID string, sellPrice int64, costPerCase int64) (*domain.InventoryRow, error) {
	if storeID == "" || productID == "" || sellPrice < 0 || costPerCase < 0 {
		return nil, store.ErrValidation
	}

	// Existing rows keep their sell price; only a brand-new row gets seeded.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_rows (store_id, product_id, qty, sell_price, cost_per_case, updated_at)
		VALUES ($1,$2,0,$3,$4,now())
		ON CONFLICT (store_id, product_id) DO NOTHING
	`, storeID, productID, sellPrice, costPerCase)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return nil, err
	}

	return s.GetInventoryRow(ctx, storeID, productID)
}

func (s *Store) GetInventoryRow(ctx context.Context, storeID string, productID string) (*domain.InventoryRow, error) {
	var row domain.InventoryRow
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, product_id, qty, sell_price, cost_per_case, updated_at
		FROM inventory_rows
		WHERE store_id = $1 AND product_id = $2
	`, storeID, productID).Scan(&row.StoreID, &row.ProductID, &row.Qty, &row.SellPrice, &row.CostPerCase, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s not stocked in store %s", store.ErrNotFound, productID, storeID)
		}
		return nil, err
	}
	row.UpdatedAt = row.UpdatedAt.UTC()
	return &row, nil
}

func (s *Store) ListInventory(ctx context.Context, storeID string) ([]domain.InventoryView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.product_id, p.name, p.category, p.unit, COALESCE(su.name, ''), i.qty, i.sell_price, i.cost_per_case
		FROM inventory_rows i
		JOIN products p ON p.id = i.product_id
		LEFT JOIN suppliers su ON su.id = p.supplier_id
		WHERE i.store_id = $1 AND p.active = true
		ORDER BY p.category, p.name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.InventoryView, 0, 128)
	for rows.Next() {
		var view domain.InventoryView
		if err := rows.Scan(&view.ProductID, &view.ProductName, &view.Category, &view.Unit,
			&view.SupplierName, &view.Qty, &view.SellPrice, &view.CostPerCase); err != nil {
			return nil, err
		}
		result = append(result, view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) SetSellPrice(ctx context.Context, storeID string, productID string, sellPrice int64, costPerCase *int64) (*domain.InventoryRow, error) {
	if sellPrice < 0 || (costPerCase != nil && *costPerCase < 0) {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_rows
		SET sell_price = $3, cost_per_case = COALESCE($4, cost_per_case), updated_at = now()
		WHERE store_id = $1 AND product_id = $2
	`, storeID, productID, sellPrice, nullInt64(costPerCase))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: product %s not stocked in store %s", store.ErrNotFound, productID, storeID)
	}

	return s.GetInventoryRow(ctx, storeID, productID)
}

func (s *Store) IncreaseStock(ctx context.Context, storeID string, productID string, pieces int) error {
	if pieces < 0 {
		return fmt.Errorf("%w: pieces must not be negative", store.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_rows
		SET qty = qty + $3, updated_at = now()
		WHERE store_id = $1 AND product_id = $2
	`, storeID, productID, pieces)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %s not stocked in store %s", store.ErrNotFound, productID, storeID)
	}
	return nil
}

// CreatePurchase runs in one serializable transaction: product validation,
// line snapshotting, invoice sequencing, row upserts and the stock increments
// all commit or roll back together. Inventory rows are locked in product-id
// order to keep concurrent purchases and sales deadlock-free.
func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.StoreID == "" || purchase.UserID == "" || len(purchase.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if purchase.Date.IsZero() {
		purchase.Date = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var supplierExists bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)
	`, purchase.SupplierID).Scan(&supplierExists); err != nil {
		return nil, err
	}
	if !supplierExists {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, purchase.SupplierID)
	}

	productIDs := uniqueProductIDs(purchaseLineIDs(purchase.Lines))
	productMap, err := loadProductsTx(ctx, pgTx, productIDs)
	if err != nil {
		return nil, err
	}

	total := int64(0)
	lines := make([]domain.PurchaseLine, 0, len(purchase.Lines))
	for _, line := range purchase.Lines {
		if line.CaseQty < 1 {
			return nil, fmt.Errorf("%w: case quantity must be at least 1", store.ErrValidation)
		}
		product, ok := productMap[line.ProductID]
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
		prefix := fmt.Sprintf("INV%02d%02d", purchase.Date.Year()%100, int(purchase.Date.Month()))
		seq, err := nextInvoiceSeqTx(ctx, pgTx, "purchases", purchase.StoreID, prefix)
		if err != nil {
			return nil, err
		}
		purchase.InvoiceNumber = fmt.Sprintf("%s%05d", prefix, seq)
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	purchase.Lines = lines
	purchase.Total = total
	purchase.Change = purchase.Paid - total

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchases (id, store_id, user_id, supplier_id, invoice_number, date, total, paid, change)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, purchase.ID, purchase.StoreID, purchase.UserID, purchase.SupplierID,
		purchase.InvoiceNumber, purchase.Date, purchase.Total, purchase.Paid, purchase.Change)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice number %s already used", store.ErrConflict, purchase.InvoiceNumber)
		}
		return nil, err
	}

	for _, line := range lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO purchase_lines (purchase_id, product_id, case_qty, piece_qty, cost_per_case, sell_price_per_piece)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, purchase.ID, line.ProductID, line.CaseQty, line.PieceQty, line.CostPerCase, line.SellPricePerPiece)
		if err != nil {
			return nil, err
		}
	}

	if err := lockInventoryRowsTx(ctx, pgTx, purchase.StoreID, productIDs); err != nil {
		return nil, err
	}
	for _, line := range lines {
		// A new row is seeded with the freshly derived sell price; an existing
		// row keeps its price and only refreshes the cost snapshot.
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO inventory_rows (store_id, product_id, qty, sell_price, cost_per_case, updated_at)
			VALUES ($1,$2,$3,$4,$5,now())
			ON CONFLICT (store_id, product_id)
			DO UPDATE SET qty = inventory_rows.qty + EXCLUDED.qty, cost_per_case = EXCLUDED.cost_per_case, updated_at = now()
		`, purchase.StoreID, line.ProductID, line.PieceQty, line.SellPricePerPiece, line.CostPerCase)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &purchase, nil
}

func (s *Store) GetPurchase(ctx context.Context, storeID string, id string) (*domain.Purchase, error) {
	var purchase domain.Purchase
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, user_id, supplier_id, invoice_number, date, total, paid, change
		FROM purchases
		WHERE id = $1 AND store_id = $2
	`, id, storeID).Scan(&purchase.ID, &purchase.StoreID, &purchase.UserID, &purchase.SupplierID,
		&purchase.InvoiceNumber, &purchase.Date, &purchase.Total, &purchase.Paid, &purchase.Change)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: purchase %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	purchase.Date = purchase.Date.UTC()

	lines, err := s.purchaseLines(ctx, []string{purchase.ID})
	if err != nil {
		return nil, err
	}
	purchase.Lines = lines[purchase.ID]
	return &purchase, nil
}

func (s *Store) ListPurchases(ctx context.Context, storeID string) ([]domain.Purchase, error) {
	return s.queryPurchases(ctx, `
		SELECT id, store_id, user_id, supplier_id, invoice_number, date, total, paid, change
		FROM purchases
		WHERE store_id = $1
		ORDER BY date DESC, invoice_number DESC
	`, storeID)
}

func (s *Store) ListPurchasesBetween(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.Purchase, error) {
	return s.queryPurchases(ctx, `
		SELECT id, store_id, user_id, supplier_id, invoice_number, date, total, paid, change
		FROM purchases
		WHERE store_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, invoice_number
	`, storeID, from, to)
}

func (s *Store) queryPurchases(ctx context.Context, query string, args ...any) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var purchase domain.Purchase
		if err := rows.Scan(&purchase.ID, &purchase.StoreID, &purchase.UserID, &purchase.SupplierID,
			&purchase.InvoiceNumber, &purchase.Date, &purchase.Total, &purchase.Paid, &purchase.Change); err != nil {
			return nil, err
		}
		purchase.Date = purchase.Date.UTC()
		purchases = append(purchases, purchase)
		ids = append(ids, purchase.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.purchaseLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range purchases {
		purchases[i].Lines = lines[purchases[i].ID]
	}
	return purchases, nil
}

func (s *Store) purchaseLines(ctx context.Context, purchaseIDs []string) (map[string][]domain.PurchaseLine, error) {
	result := make(map[string][]domain.PurchaseLine, len(purchaseIDs))
	if len(purchaseIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pl.purchase_id, pl.product_id, COALESCE(p.name, ''), pl.case_qty, pl.piece_qty, pl.cost_per_case, pl.sell_price_per_piece
		FROM purchase_lines pl
		LEFT JOIN products p ON p.id = pl.product_id
		WHERE pl.purchase_id = ANY($1)
		ORDER BY pl.purchase_id, pl.product_id
	`, purchaseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var purchaseID string
		var line domain.PurchaseLine
		if err := rows.Scan(&purchaseID, &line.ProductID, &line.ProductName,
			&line.CaseQty, &line.PieceQty, &line.CostPerCase, &line.SellPricePerPiece); err != nil {
			return nil, err
		}
		result[purchaseID] = append(result[purchaseID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSale is fully transactional. Inventory rows for every line are locked
// with FOR UPDATE in product-id order, stock is verified before any decrement,
// and the member discount is applied to the total recomputed inside the
// transaction so the tier always matches the committed snapshot prices.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.StoreID == "" || sale.UserID == "" || len(sale.Lines) == 0 || sale.Paid < 0 {
		return nil, store.ErrValidation
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	isMember := false
	if sale.CustomerID != "" {
		var name string
		err := pgTx.QueryRowContext(ctx, `
			SELECT name, is_member FROM customers WHERE id = $1
		`, sale.CustomerID).Scan(&name, &isMember)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, sale.CustomerID)
			}
			return nil, err
		}
		sale.CustomerName = name
	}

	productIDs := uniqueProductIDs(saleLineIDs(sale.Lines))
	productMap, err := loadProductsTx(ctx, pgTx, productIDs)
	if err != nil {
		return nil, err
	}

	invRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, qty, sell_price, cost_per_case
		FROM inventory_rows
		WHERE store_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE
	`, sale.StoreID, productIDs)
	if err != nil {
		return nil, err
	}
	type invState struct {
		qty         int
		sellPrice   int64
		costPerCase int64
	}
	invMap := make(map[string]invState, len(productIDs))
	for invRows.Next() {
		var productID string
		var state invState
		if err := invRows.Scan(&productID, &state.qty, &state.sellPrice, &state.costPerCase); err != nil {
			_ = invRows.Close()
			return nil, err
		}
		invMap[productID] = state
	}
	if err := invRows.Err(); err != nil {
		_ = invRows.Close()
		return nil, err
	}
	_ = invRows.Close()

	total := int64(0)
	lines := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
		}
		state, ok := invMap[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s not available in store %s", store.ErrNotFound, line.ProductID, sale.StoreID)
		}
		if state.qty < line.Qty {
			return nil, fmt.Errorf("%w: product %s has %d pieces available", store.ErrInsufficientStock, line.ProductID, state.qty)
		}
		// Reserve against the locked snapshot so repeated lines for one
		// product are checked against what earlier lines left over.
		state.qty -= line.Qty
		invMap[line.ProductID] = state

		product := productMap[line.ProductID]
		costPerCase := state.costPerCase
		if costPerCase == 0 {
			costPerCase = product.CostPerCase
		}

		subtotal := int64(line.Qty) * state.sellPrice
		total += subtotal
		lines = append(lines, domain.SaleLine{
			ProductID:   line.ProductID,
			ProductName: product.Name,
			Qty:         line.Qty,
			CostPerCase: costPerCase,
			SellPrice:   state.sellPrice,
			Subtotal:    subtotal,
		})
	}

	rate := s.discounts.RateFor(total, isMember)
	finalTotal := pricing.ApplyDiscount(total, rate)
	if sale.Paid < finalTotal {
		return nil, fmt.Errorf("%w: insufficient payment, total due %d", store.ErrValidation, finalTotal)
	}

	if sale.InvoiceNumber == "" {
		prefix := fmt.Sprintf("INV/%04d/%02d/", sale.Date.Year(), int(sale.Date.Month()))
		seq, err := nextInvoiceSeqTx(ctx, pgTx, "sales", sale.StoreID, prefix)
		if err != nil {
			return nil, err
		}
		sale.InvoiceNumber = fmt.Sprintf("%s%04d", prefix, seq)
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	sale.Lines = lines
	sale.Total = total
	sale.DiscountRate = rate
	sale.FinalTotal = finalTotal
	sale.Change = sale.Paid - finalTotal

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, store_id, user_id, customer_id, invoice_number, date, total, discount_rate, final_total, paid, change)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sale.ID, sale.StoreID, sale.UserID, nullIfEmpty(sale.CustomerID), sale.InvoiceNumber,
		sale.Date, sale.Total, sale.DiscountRate, sale.FinalTotal, sale.Paid, sale.Change)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: invoice number %s already used", store.ErrConflict, sale.InvoiceNumber)
		}
		return nil, err
	}

	for _, line := range lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, qty, cost_per_case, sell_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, line.ProductID, line.Qty, line.CostPerCase, line.SellPrice, line.Subtotal)
		if err != nil {
			return nil, err
		}

		res, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_rows
			SET qty = qty - $1, updated_at = now()
			WHERE store_id = $2 AND product_id = $3 AND qty >= $1
		`, line.Qty, sale.StoreID, line.ProductID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: product %s has insufficient pieces", store.ErrInsufficientStock, line.ProductID)
		}
	}

	if sale.CustomerID != "" && isMember {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE customers
			SET last_transaction_at = $2
			WHERE id = $1
		`, sale.CustomerID, sale.Date)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, storeID string, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullString
	var customerName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.store_id, s.user_id, s.customer_id, c.name, s.invoice_number, s.date,
		       s.total, s.discount_rate, s.final_total, s.paid, s.change
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.id = $1 AND s.store_id = $2
	`, id, storeID).Scan(&sale.ID, &sale.StoreID, &sale.UserID, &customerID, &customerName,
		&sale.InvoiceNumber, &sale.Date, &sale.Total, &sale.DiscountRate, &sale.FinalTotal, &sale.Paid, &sale.Change)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.CustomerName = customerName.String
	sale.Date = sale.Date.UTC()

	lines, err := s.saleLines(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, storeID string) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT s.id, s.store_id, s.user_id, s.customer_id, c.name, s.invoice_number, s.date,
		       s.total, s.discount_rate, s.final_total, s.paid, s.change
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.store_id = $1
		ORDER BY s.date DESC, s.invoice_number DESC
	`, storeID)
}

func (s *Store) ListSalesBetween(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT s.id, s.store_id, s.user_id, s.customer_id, c.name, s.invoice_number, s.date,
		       s.total, s.discount_rate, s.final_total, s.paid, s.change
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.store_id = $1 AND s.date >= $2 AND s.date <= $3
		ORDER BY s.date, s.invoice_number
	`, storeID, from, to)
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		var customerID sql.NullString
		var customerName sql.NullString
		if err := rows.Scan(&sale.ID, &sale.StoreID, &sale.UserID, &customerID, &customerName,
			&sale.InvoiceNumber, &sale.Date, &sale.Total, &sale.DiscountRate, &sale.FinalTotal, &sale.Paid, &sale.Change); err != nil {
			return nil, err
		}
		sale.CustomerID = customerID.String
		sale.CustomerName = customerName.String
		sale.Date = sale.Date.UTC()
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.saleLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) saleLines(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	result := make(map[string][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sl.sale_id, sl.product_id, COALESCE(p.name, ''), sl.qty, sl.cost_per_case, sl.sell_price, sl.subtotal
		FROM sale_lines sl
		LEFT JOIN products p ON p.id = sl.product_id
		WHERE sl.sale_id = ANY($1)
		ORDER BY sl.sale_id, sl.product_id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.ProductName,
			&line.Qty, &line.CostPerCase, &line.SellPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password, full_name, store_id, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, user.ID, user.Username, user.Password, user.FullName, user.StoreID, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, full_name, store_id, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.FullName,
			&user.StoreID, &user.Role, &user.Active, &user.CreatedAt); err != nil {
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

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func loadProductsTx(ctx context.Context, tx *sql.Tx, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, supplier_id, category, unit, contents_per_case, cost_per_case, sell_price_per_piece
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SupplierID, &p.Category, &p.Unit,
			&p.ContentsPerCase, &p.CostPerCase, &p.SellPricePerPiece); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p.Active = true
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	return result, nil
}

func lockInventoryRowsTx(ctx context.Context, tx *sql.Tx, storeID string, productIDs []string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id
		FROM inventory_rows
		WHERE store_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE
	`, storeID, productIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var productID string
		if err := rows.Scan(&productID); err != nil {
			return err
		}
	}
	return rows.Err()
}

// nextInvoiceSeqTx scans the highest existing invoice sequence under a prefix
// for the store and returns the next one. The max is taken over the parsed
// numeric suffix, not the raw string, so sequences that outgrow their zero
// padding keep counting instead of comparing lexicographically. Manual invoice
// numbers with non-numeric suffixes are ignored. The caller's transaction plus
// the unique (store_id, invoice_number) index make the sequence collision-free
// under concurrency.
func nextInvoiceSeqTx(ctx context.Context, tx *sql.Tx, table string, storeID string, prefix string) (int, error) {
	var last sql.NullInt64
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(substring(invoice_number FROM %d)::bigint) FROM %s
		WHERE store_id = $1
		  AND invoice_number LIKE $2
		  AND substring(invoice_number FROM %d) ~ '^[0-9]+$'
	`, len(prefix)+1, table, len(prefix)+1), storeID, prefix+"%").Scan(&last)
	if err != nil {
		return 0, err
	}
	if !last.Valid {
		return 1, nil
	}
	return int(last.Int64) + 1, nil
}

func purchaseLineIDs(lines []domain.PurchaseLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

func saleLineIDs(lines []domain.SaleLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

func uniqueProductIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
