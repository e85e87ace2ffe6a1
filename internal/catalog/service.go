package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/noah-isme/toko-qris/internal/common"
)

// ErrProductNotFound is returned when no product matches the requested id.
var ErrProductNotFound = errors.New("catalog: product not found")

// Service serves the read-only product catalog.
type Service struct {
	products []Product
	byID     map[int]Product
}

// NewService indexes products by id. Duplicate ids and non-positive prices are rejected.
func NewService(products []Product) (*Service, error) {
	s := &Service{byID: make(map[int]Product, len(products))}
	for _, p := range products {
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product id %d", p.ID)
		}
		if p.Price <= 0 {
			return nil, fmt.Errorf("catalog: product %d has invalid price %d", p.ID, p.Price)
		}
		s.byID[p.ID] = p
		s.products = append(s.products, p)
	}
	sort.Slice(s.products, func(i, j int) bool { return s.products[i].ID < s.products[j].ID })
	return s, nil
}

// List returns one page of public listings and the total product count.
func (s *Service) List(page, perPage int) ([]Listing, int) {
	total := len(s.products)
	start, end := common.Window(page, perPage, total)
	out := make([]Listing, 0, end-start)
	for _, p := range s.products[start:end] {
		out = append(out, p.Listing())
	}
	return out, total
}

// Get returns the trusted product record, including its deliverable content.
func (s *Service) Get(id int) (Product, error) {
	p, ok := s.byID[id]
	if !ok {
		return Product{}, common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, ErrProductNotFound).
			WithDetails(map[string]any{"id": id})
	}
	return p, nil
}
