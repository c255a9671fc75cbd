package types

import (
	"encoding/json"
	"fmt"

	"github.com/daimoniac/docshield/internal/docstore"
)

// ProductConverter converts between Product and store documents
type ProductConverter struct{}

// NewProductConverter creates a new ProductConverter instance.
func NewProductConverter() *ProductConverter {
	return &ProductConverter{}
}

// ToDocument converts a Product to a store document
func (c *ProductConverter) ToDocument(p *Product) (docstore.Document, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode product %s: %w", p.SKU, err)
	}
	var doc docstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", p.SKU, err)
	}
	return doc, nil
}

// FromDocument converts a store document to a Product
func (c *ProductConverter) FromDocument(doc docstore.Document) (*Product, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("document is not a product: %w", err)
	}
	if p.FaceShapes == nil {
		p.FaceShapes = []string{}
	}
	return &p, nil
}

// FromDocuments converts a slice of store documents to Products
func (c *ProductConverter) FromDocuments(docs []docstore.Document) ([]*Product, error) {
	products := make([]*Product, 0, len(docs))
	for _, doc := range docs {
		p, err := c.FromDocument(doc)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}
