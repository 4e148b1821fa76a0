package portfolio

import (
	"sync"
	"time"

	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
)

// WarrantStore holds warrant reference data in memory, keyed by listing
// symbol. Reads dominate writes; reference data changes only on new
// listings.
type WarrantStore struct {
	mu       sync.RWMutex
	warrants map[string]models.WarrantSpec
}

func NewWarrantStore() *WarrantStore {
	return &WarrantStore{
		warrants: make(map[string]models.WarrantSpec),
	}
}

// Upsert inserts or replaces a warrant definition.
func (s *WarrantStore) Upsert(w models.WarrantSpec) error {
	if w.Symbol == "" {
		return errors.InvalidInput("warrant symbol is required")
	}
	if w.ConversionRatio <= 0 {
		return errors.InvalidInputf("conversion ratio must be positive, got %v", w.ConversionRatio)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warrants[w.Symbol] = w
	return nil
}

// Get returns the warrant for a symbol.
func (s *WarrantStore) Get(symbol string) (models.WarrantSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.warrants[symbol]
	if !ok {
		return models.WarrantSpec{}, errors.NotFound("warrant " + symbol + " is not registered")
	}
	return w, nil
}

// List returns all registered warrants.
func (s *WarrantStore) List() []models.WarrantSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WarrantSpec, 0, len(s.warrants))
	for _, w := range s.warrants {
		out = append(out, w)
	}
	return out
}

// PortfolioStore holds portfolios in memory.
type PortfolioStore struct {
	mu         sync.RWMutex
	portfolios map[string]models.Portfolio
}

func NewPortfolioStore() *PortfolioStore {
	return &PortfolioStore{
		portfolios: make(map[string]models.Portfolio),
	}
}

// Save stores a portfolio, stamping the update time.
func (s *PortfolioStore) Save(p models.Portfolio) error {
	if p.ID == "" {
		return errors.InvalidInput("portfolio id is required")
	}
	p.Updated = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolios[p.ID] = p
	return nil
}

// Get returns a portfolio by id.
func (s *PortfolioStore) Get(id string) (models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portfolios[id]
	if !ok {
		return models.Portfolio{}, errors.NotFound("portfolio " + id + " does not exist")
	}
	return p, nil
}
