package types

import "time"

// Product is a catalog document in the products collection
type Product struct {
	ID          string    `json:"_id,omitempty"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Brand       string    `json:"brand,omitempty"`
	Description string    `json:"description,omitempty"`
	FaceShapes  []string  `json:"face_shapes"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	Active      bool      `json:"active"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductInput is the externally supplied payload for creating a product.
// Fields are untyped so that the catalog can reject operator maps and
// wrong-typed values instead of losing them in decoding.
type ProductInput struct {
	SKU         any      `json:"sku"`
	Name        any      `json:"name"`
	Brand       any      `json:"brand,omitempty"`
	Description any      `json:"description,omitempty"`
	FaceShapes  []any    `json:"face_shapes"`
	Price       any      `json:"price"`
	Stock       any      `json:"stock,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// MutableProductFields lists the fields an update may set
var MutableProductFields = []string{
	"name", "brand", "description", "face_shapes", "price", "stock", "active", "tags",
}
