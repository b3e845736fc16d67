package aggregator

import (
	"encoding/json"
	"fmt"

	"github.com/lllypuk/dashhost/internal/domain/product"
)

// EncodeProducts serializes the ordered collection for the storage slot.
func EncodeProducts(products []product.Product) (string, error) {
	if products == nil {
		products = []product.Product{}
	}
	data, err := json.Marshal(products)
	if err != nil {
		return "", fmt.Errorf("failed to encode products: %w", err)
	}
	return string(data), nil
}

// DecodeProducts parses a stored collection. A value that is not a JSON
// array is an error; individual records that cannot be decoded, or that lack
// an id or a known status, are skipped and counted in dropped.
func DecodeProducts(value string) ([]product.Product, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, 0, fmt.Errorf("failed to decode stored products: %w", err)
	}

	products := make([]product.Product, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		var p product.Product
		if err := json.Unmarshal(r, &p); err != nil || p.ID == "" || !p.Status.IsValid() {
			dropped++
			continue
		}
		products = append(products, p)
	}

	return products, dropped, nil
}
