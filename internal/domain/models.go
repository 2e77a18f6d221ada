package domain

import "time"

// Money amounts are whole rupiah. Quantities are pieces unless the field is
// named CaseQty; ContentsPerCase converts between the two.

type Product struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	SupplierID        string    `json:"supplier_id"`
	Category          string    `json:"category"`
	Unit              string    `json:"unit"`
	ContentsPerCase   int       `json:"contents_per_case"`
	CostPerCase       int64     `json:"cost_per_case"`
	SellPricePerPiece int64     `json:"sell_price_per_piece"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name              string `json:"name"`
	SupplierID        string `json:"supplier_id"`
	Category          string `json:"category"`
	Unit              string `json:"unit"`
	ContentsPerCase   int    `json:"contents_per_case"`
	CostPerCase       int64  `json:"cost_per_case"`
	SellPricePerPiece int64  `json:"sell_price_per_piece,omitempty"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	Category          *string `json:"category,omitempty"`
	Unit              *string `json:"unit,omitempty"`
	ContentsPerCase   *int    `json:"contents_per_case,omitempty"`
	CostPerCase       *int64  `json:"cost_per_case,omitempty"`
	SellPricePerPiece *int64  `json:"sell_price_per_piece,omitempty"`
	Active            *bool   `json:"active,omitempty"`
}

// InventoryRow is the per (store, product) stock ledger record. Qty never goes
// below zero after a committed operation.
type InventoryRow struct {
	StoreID     string    `json:"store_id"`
	ProductID   string    `json:"product_id"`
	Qty         int       `json:"qty"`
	SellPrice   int64     `json:"sell_price"`
	CostPerCase int64     `json:"cost_per_case"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InventoryView is the explicit joined read model for inventory listings.
type InventoryView struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	Category     string `json:"category"`
	Unit         string `json:"unit"`
	SupplierName string `json:"supplier_name"`
	Qty          int    `json:"qty"`
	SellPrice    int64  `json:"sell_price"`
	CostPerCase  int64  `json:"cost_per_case"`
}

type SetSellPriceRequest struct {
	ProductID   string `json:"product_id"`
	SellPrice   int64  `json:"sell_price"`
	CostPerCase *int64 `json:"cost_per_case,omitempty"`
}

type PurchaseLineRequest struct {
	ProductID string `json:"product_id"`
	CaseQty   int    `json:"case_qty"`
}

type PurchaseCreateRequest struct {
	SupplierID string                `json:"supplier_id"`
	Lines      []PurchaseLineRequest `json:"lines"`
	Paid       int64                 `json:"paid"`
	Date       *time.Time            `json:"date,omitempty"`
}

// PurchaseLine snapshots the cost and derived sell price at purchase time.
// PieceQty is always CaseQty multiplied by the product's contents per case.
type PurchaseLine struct {
	ProductID         string `json:"product_id"`
	ProductName       string `json:"product_name,omitempty"`
	CaseQty           int    `json:"case_qty"`
	PieceQty          int    `json:"piece_qty"`
	CostPerCase       int64  `json:"cost_per_case"`
	SellPricePerPiece int64  `json:"sell_price_per_piece"`
}

type Purchase struct {
	ID            string         `json:"id"`
	StoreID       string         `json:"store_id"`
	UserID        string         `json:"user_id"`
	SupplierID    string         `json:"supplier_id"`
	InvoiceNumber string         `json:"invoice_number"`
	Date          time.Time      `json:"date"`
	Total         int64          `json:"total"`
	Paid          int64          `json:"paid"`
	Change        int64          `json:"change"`
	Lines         []PurchaseLine `json:"lines"`
}

type SaleLineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type SaleCreateRequest struct {
	CustomerID    string            `json:"customer_id,omitempty"`
	Lines         []SaleLineRequest `json:"lines"`
	Paid          int64             `json:"paid"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
}

// SaleLine owns its price snapshots; later price changes never touch it.
// CostPerCase is the case-level cost at sale time; the per-piece cost basis
// for profit reporting divides it by the product's contents per case.
type SaleLine struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Qty         int    `json:"qty"`
	CostPerCase int64  `json:"cost_per_case"`
	SellPrice   int64  `json:"sell_price"`
	Subtotal    int64  `json:"subtotal"`
}

type Sale struct {
	ID            string     `json:"id"`
	StoreID       string     `json:"store_id"`
	UserID        string     `json:"user_id"`
	CustomerID    string     `json:"customer_id,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	InvoiceNumber string     `json:"invoice_number"`
	Date          time.Time  `json:"date"`
	Total         int64      `json:"total"`
	DiscountRate  float64    `json:"discount_rate"`
	FinalTotal    int64      `json:"final_total"`
	Paid          int64      `json:"paid"`
	Change        int64      `json:"change"`
	Lines         []SaleLine `json:"lines"`
}

type Customer struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Address           string     `json:"address,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	IsMember          bool       `json:"is_member"`
	MemberID          string     `json:"member_id,omitempty"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	IsMember bool   `json:"is_member"`
}

type CustomerUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Address  *string `json:"address,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	IsMember *bool   `json:"is_member,omitempty"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type ExpirySweepResult struct {
	ExpiredCount int        `json:"expired_count"`
	NearExpiry   []Customer `json:"near_expiry"`
}

type ProfitLossProduct struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
	Qty         int    `json:"qty"`
	Revenue     int64  `json:"revenue"`
	HPP         int64  `json:"hpp"`
	Laba        int64  `json:"laba"`
}

type ProfitLossSummary struct {
	Qty           int     `json:"qty"`
	Revenue       int64   `json:"revenue"`
	HPP           int64   `json:"hpp"`
	Laba          int64   `json:"laba"`
	MarginPercent float64 `json:"margin_percent"`
}

type ProfitLossReport struct {
	StoreID    string              `json:"store_id"`
	From       time.Time           `json:"from"`
	To         time.Time           `json:"to"`
	PerProduct []ProfitLossProduct `json:"per_product"`
	Summary    ProfitLossSummary   `json:"summary"`
}

type CombinedCategoryProduct struct {
	ProductName  string `json:"product_name"`
	PurchasedQty int    `json:"purchased_qty"`
	SoldQty      int    `json:"sold_qty"`
	SalesTotal   int64  `json:"sales_total"`
	HPP          int64  `json:"hpp"`
	Laba         int64  `json:"laba"`
}

type CombinedCategory struct {
	Category      string                    `json:"category"`
	PurchasedQty  int                       `json:"purchased_qty"`
	PurchaseTotal int64                     `json:"purchase_total"`
	SoldQty       int                       `json:"sold_qty"`
	SalesTotal    int64                     `json:"sales_total"`
	HPP           int64                     `json:"hpp"`
	Laba          int64                     `json:"laba"`
	Products      []CombinedCategoryProduct `json:"products"`
}

type CombinedSummary struct {
	PurchasedQty       int     `json:"purchased_qty"`
	PurchaseTotal      int64   `json:"purchase_total"`
	SoldQty            int     `json:"sold_qty"`
	SalesTotal         int64   `json:"sales_total"`
	HPP                int64   `json:"hpp"`
	Laba               int64   `json:"laba"`
	MarginPercent      float64 `json:"margin_percent"`
	PurchaseSalesGap   int64   `json:"purchase_sales_gap"`
	AchievementPercent float64 `json:"achievement_percent"`
}

type CombinedReport struct {
	StoreID     string             `json:"store_id"`
	From        time.Time          `json:"from"`
	To          time.Time          `json:"to"`
	PerCategory []CombinedCategory `json:"per_category"`
	Summary     CombinedSummary    `json:"summary"`
}

type DailySalesSummary struct {
	StoreID    string `json:"store_id"`
	Date       string `json:"date"`
	SalesCount int    `json:"sales_count"`
	Total      int64  `json:"total"`
	Sales      []Sale `json:"sales"`
}

type WeeklyExpenseDay struct {
	Date  string `json:"date"`
	Total int64  `json:"total"`
}

type WeeklyExpenses struct {
	StoreID string             `json:"store_id"`
	Days    []WeeklyExpenseDay `json:"days"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller attached to every request context.
type Actor struct {
	UserID   string
	Username string
	StoreID  string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	FullName  string
	StoreID   string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
