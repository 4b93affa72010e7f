package checkout

import "time"

// SettlementMethod says how an order is paid: external money via the
// payment gateway (deferred confirmation) or loyalty points (immediate).
type SettlementMethod string

const (
	SettlementMoney  SettlementMethod = "money"
	SettlementPoints SettlementMethod = "points"
)

func (m SettlementMethod) Valid() bool {
	return m == SettlementMoney || m == SettlementPoints
}

// Variant is a purchasable sub-configuration of a product carrying its
// own stock counter and size list.
type Variant struct {
	Color  string   `json:"color"`
	Sizes  []string `json:"sizes"`
	Images []string `json:"images,omitempty"`
	Stock  int      `json:"stock"`
}

type Product struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Category           string    `json:"category,omitempty"`
	Price              float64   `json:"price"`
	DiscountPercentage float64   `json:"discount_percentage,omitempty"`
	Stock              int       `json:"stock"`
	Variants           []Variant `json:"variants,omitempty"`
	LoyaltyPoints      int       `json:"loyalty_points,omitempty"`
	OnSale             bool      `json:"on_sale"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// VariantFor matches a selector against the product's variants. The color
// must match exactly and the requested size must be listed for that color.
func (p *Product) VariantFor(color, size string) *Variant {
	for i := range p.Variants {
		v := &p.Variants[i]
		if v.Color != color {
			continue
		}
		for _, s := range v.Sizes {
			if s == size {
				return v
			}
		}
	}
	return nil
}

type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	LoyaltyPoints float64   `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderItem is a line of an order. UnitPrice and Subtotal are snapshots
// taken at purchase time and are never recomputed from the live product.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

type Order struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Items       []OrderItem      `json:"items"`
	TotalAmount float64          `json:"total_amount"`
	Discount    float64          `json:"discount,omitempty"`
	PointsUsed  float64          `json:"points_used,omitempty"`
	Settlement  SettlementMethod `json:"settlement"`
	Status      Status           `json:"status"`
	// SessionID is the gateway checkout session reference; set only for
	// money orders and used as the reconciliation key.
	SessionID string    `json:"session_id,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemInput is a cart line as submitted by the client. Color and Size
// together select a variant; both empty means product-level stock.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
}
