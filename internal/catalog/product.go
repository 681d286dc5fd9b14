// Package catalog holds the product model shared by the storefront sync agent
// and the remote catalog endpoint.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Product is a single catalog entry. Images, when empty, is treated as a
// one-element gallery holding Image.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Image       string   `json:"image"`
	Features    []string `json:"features"`
	Images      []string `json:"images,omitempty"`
}

// Draft is a product as entered by an admin, before an id is assigned.
type Draft struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Image       string   `json:"image"`
	Features    []string `json:"features"`
	Images      []string `json:"images,omitempty"`
}

func (d Draft) WithID(id string) Product {
	return Normalize(Product{
		ID:          id,
		Name:        d.Name,
		Category:    d.Category,
		Description: d.Description,
		Image:       d.Image,
		Features:    append([]string(nil), d.Features...),
		Images:      append([]string(nil), d.Images...),
	})
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(d.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	return nil
}

// Normalize fills the defaults the storefront relies on: a gallery that at
// least contains the primary image and a non-nil feature list.
func Normalize(p Product) Product {
	if p.Features == nil {
		p.Features = []string{}
	}
	if len(p.Images) == 0 {
		p.Images = []string{p.Image}
	}
	return p
}

func (p Product) Clone() Product {
	out := p
	if p.Features != nil {
		out.Features = append([]string{}, p.Features...)
	}
	if p.Images != nil {
		out.Images = append([]string{}, p.Images...)
	}
	return out
}

func Equal(a, b Product) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Category != b.Category || a.Description != b.Description || a.Image != b.Image {
		return false
	}
	return stringsEqual(a.Features, b.Features) && stringsEqual(a.Images, b.Images)
}

func EqualAll(a, b []Product) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func Clone(products []Product) []Product {
	if products == nil {
		return nil
	}
	out := make([]Product, len(products))
	for i, p := range products {
		out[i] = p.Clone()
	}
	return out
}

func IndexOf(products []Product, id string) int {
	for i, p := range products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func Find(products []Product, id string) (Product, bool) {
	idx := IndexOf(products, id)
	if idx < 0 {
		return Product{}, false
	}
	return products[idx].Clone(), true
}

// Replace returns a copy of products with the entry sharing p's id swapped
// for p. The position of the entry is preserved.
func Replace(products []Product, p Product) ([]Product, error) {
	idx := IndexOf(products, p.ID)
	if idx < 0 {
		return nil, ErrNotFound
	}
	out := Clone(products)
	out[idx] = p.Clone()
	return out, nil
}

func Remove(products []Product, id string) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if p.ID == id {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

func ByCategory(products []Product, category string) []Product {
	out := []Product{}
	for _, p := range products {
		if p.Category == category {
			out = append(out, p.Clone())
		}
	}
	return out
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
