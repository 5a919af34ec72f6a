package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

var ProductTypes = []string{
	"Booster Packs",
	"Booster Boxes",
	"Elite Trainer Boxes",
	"Mini Tins",
	"Graded Cards",
	"Single Cards",
	"Other",
}

var FolderColors = []string{
	"#3B82F6",
	"#10B981",
	"#F59E0B",
	"#EF4444",
	"#8B5CF6",
	"#F97316",
	"#06B6D4",
	"#84CC16",
	"#EC4899",
	"#6B7280",
}

// LowStockThreshold is the quantity below which a product counts as low on stock.
const LowStockThreshold = 3

func IsProductType(value string) bool {
	for _, t := range ProductTypes {
		if t == value {
			return true
		}
	}
	return false
}

func IsFolderColor(value string) bool {
	for _, c := range FolderColors {
		if c == value {
			return true
		}
	}
	return false
}

// Product is the ledger record for one stocked item. Quantity and Profit are
// only changed through version-guarded writes.
type Product struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Quantity  int             `json:"quantity"`
	Cost      decimal.Decimal `json:"cost"`
	Price     decimal.Decimal `json:"price"`
	Profit    decimal.Decimal `json:"profit"`
	ImageURL  string          `json:"image_url,omitempty"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (p Product) StockValue() decimal.Decimal {
	return p.Cost.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

type ProductCreateRequest struct {
	Name     string          `json:"name" validate:"required,max=200"`
	Type     string          `json:"type" validate:"required"`
	Quantity int             `json:"quantity" validate:"gte=0"`
	Cost     decimal.Decimal `json:"cost"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"image_url" validate:"omitempty,url"`
}

// ProductUpdateRequest edits descriptive fields only. Quantity and profit move
// through sales and adjustments.
type ProductUpdateRequest struct {
	Name     *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Type     *string          `json:"type,omitempty"`
	Cost     *decimal.Decimal `json:"cost,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	ImageURL *string          `json:"image_url,omitempty" validate:"omitempty,url"`
	Version  *int64           `json:"version,omitempty"`
}

type QuantityAdjustRequest struct {
	Delta int `json:"delta" validate:"ne=0"`
}

type ProductSort string

const (
	SortNewest   ProductSort = ""
	SortName     ProductSort = "name"
	SortQuantity ProductSort = "quantity"
	SortPrice    ProductSort = "price"
	SortCost     ProductSort = "cost"
)

type ProductFilter struct {
	UserID         string
	Search         string
	Type           string
	HideOutOfStock bool
	HideLowStock   bool
	Sort           ProductSort
	Descending     bool
}

// Sale is an immutable log entry. Cost is the product's standing unit cost at
// the time of sale; NewCost is the per-sale override when one was given.
type Sale struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	ProductID      string           `json:"product_id"`
	ProductName    string           `json:"product_name"`
	Units          int              `json:"units"`
	SellPrice      decimal.Decimal  `json:"sell_price"`
	Cost           decimal.Decimal  `json:"cost"`
	NewCost        *decimal.Decimal `json:"new_cost,omitempty"`
	Profit         decimal.Decimal  `json:"profit"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (s Sale) EffectiveCost() decimal.Decimal {
	if s.NewCost != nil {
		return *s.NewCost
	}
	return s.Cost
}

func (s Sale) Revenue() decimal.Decimal {
	return s.SellPrice.Mul(decimal.NewFromInt(int64(s.Units)))
}

func (s Sale) TotalCost() decimal.Decimal {
	return s.EffectiveCost().Mul(decimal.NewFromInt(int64(s.Units)))
}

type RecordSaleRequest struct {
	ProductID      string           `json:"product_id" validate:"required"`
	Units          int              `json:"units"`
	SellPrice      decimal.Decimal  `json:"sell_price"`
	OverrideCost   *decimal.Decimal `json:"override_cost,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type SaleResponse struct {
	Sale      Sale    `json:"sale"`
	Product   Product `json:"product"`
	Duplicate bool    `json:"duplicate"`
}

type ReverseSaleResponse struct {
	SaleID  string   `json:"sale_id"`
	Product *Product `json:"product,omitempty"`
	Orphan  bool     `json:"orphan"`
}

type SaleFilter struct {
	UserID    string
	ProductID string
	Limit     int
	Offset    int
}

type DashboardSummary struct {
	TotalProducts int             `json:"total_products"`
	UnitsInStock  int             `json:"units_in_stock"`
	StockValue    decimal.Decimal `json:"stock_value"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	SalesCount    int             `json:"sales_count"`
	SalesRevenue  decimal.Decimal `json:"sales_revenue"`
	SalesCost     decimal.Decimal `json:"sales_cost"`
	MoneySpent    decimal.Decimal `json:"money_spent"`
	OutOfStock    int             `json:"out_of_stock"`
	LowStock      int             `json:"low_stock"`
	RecentSales   []Sale          `json:"recent_sales"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

type ProductDrift struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	StoredProfit decimal.Decimal `json:"stored_profit"`
	LedgerProfit decimal.Decimal `json:"ledger_profit"`
}

type ReconcileReport struct {
	UserID          string         `json:"user_id"`
	ProductsChecked int            `json:"products_checked"`
	SalesChecked    int            `json:"sales_checked"`
	OrphanSales     int            `json:"orphan_sales"`
	Drifts          []ProductDrift `json:"drifts"`
	CheckedAt       time.Time      `json:"checked_at"`
}

type LinkFolder struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
}

type FolderRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
	Color       string `json:"color"`
}

type Link struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	FolderID  string    `json:"folder_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type LinkRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	URL      string `json:"url" validate:"required,url"`
	FolderID string `json:"folder_id"`
}

type LinkFilter struct {
	UserID        string
	FolderID      string
	Uncategorized bool
}

type FolderDeleteResponse struct {
	FolderID   string `json:"folder_id"`
	LinksMoved int    `json:"links_moved"`
}

type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NoteRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"max=20000"`
}

type Profile struct {
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProfileUpdateRequest struct {
	FullName  *string `json:"full_name,omitempty" validate:"omitempty,min=1,max=120"`
	AvatarURL *string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

type Upload struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
