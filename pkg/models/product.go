package models

import "time"

// Product is the referenced catalog document. Version enables optimistic
// concurrency on stock allocation: every decrement is conditional on the
// observed version and bumps it.
type Product struct {
	ID                    string    `bson:"_id,omitempty" json:"id"`
	SKU                   string    `bson:"sku" json:"sku"`
	Name                  string    `bson:"name" json:"name"`
	Active                bool      `bson:"active" json:"active"`
	AvailableStock        int       `bson:"available_stock" json:"available_stock"`
	StandardSellingPrice  string    `bson:"standard_selling_price" json:"standard_selling_price"`
	Version               int64     `bson:"version" json:"version"`
	CreatedAt             time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time `bson:"updated_at" json:"updated_at"`
}
