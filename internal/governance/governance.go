// Package governance models the host's operation budget: every store call has
// a unit cost and a run stops cooperatively before the budget runs out.
package governance

import (
	"context"
	"fmt"
	"sync"

	"rate-reconciliation-service/internal/models"
	"rate-reconciliation-service/internal/store"
	rerrors "rate-reconciliation-service/pkg/errors"
)

// Operation names a metered store call
type Operation string

const (
	OpLoad   Operation = "load"
	OpSave   Operation = "save"
	OpCreate Operation = "create"
	OpSearch Operation = "search"
)

// Config holds the budget and per-operation costs
type Config struct {
	Limit        int `json:"limit"`
	SafetyMargin int `json:"safety_margin"`
	LoadCost     int `json:"load_cost"`
	SaveCost     int `json:"save_cost"`
	CreateCost   int `json:"create_cost"`
	SearchCost   int `json:"search_cost"`
}

// DefaultConfig returns the budget of one scheduled invocation
func DefaultConfig() *Config {
	return &Config{
		Limit:        10000,
		SafetyMargin: 100,
		LoadCost:     10,
		SaveCost:     20,
		CreateCost:   20,
		SearchCost:   10,
	}
}

// Validate checks if the governance configuration is valid
func (c *Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("governance limit must be positive: %d", c.Limit)
	}
	if c.SafetyMargin < 0 || c.SafetyMargin >= c.Limit {
		return fmt.Errorf("safety margin must be between 0 and the limit: %d", c.SafetyMargin)
	}
	for op, cost := range c.costs() {
		if cost < 0 {
			return fmt.Errorf("%s cost cannot be negative: %d", op, cost)
		}
	}
	return nil
}

func (c *Config) costs() map[Operation]int {
	return map[Operation]int{
		OpLoad:   c.LoadCost,
		OpSave:   c.SaveCost,
		OpCreate: c.CreateCost,
		OpSearch: c.SearchCost,
	}
}

// Meter tracks the remaining operation allowance of one invocation
type Meter struct {
	mu        sync.Mutex
	remaining int
	costs     map[Operation]int
	used      map[Operation]int
}

// NewMeter creates a meter with the full budget available
func NewMeter(config *Config) *Meter {
	if config == nil {
		config = DefaultConfig()
	}
	return &Meter{
		remaining: config.Limit,
		costs:     config.costs(),
		used:      make(map[Operation]int),
	}
}

// Charge deducts the cost of op, failing without deducting when the budget cannot cover it
func (m *Meter) Charge(op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cost := m.costs[op]
	if cost > m.remaining {
		return rerrors.BudgetExceededError(string(op), cost, m.remaining)
	}
	m.remaining -= cost
	m.used[op]++
	return nil
}

// Remaining returns the allowance left
func (m *Meter) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// Below reports whether the allowance has dropped under margin
func (m *Meter) Below(margin int) bool {
	return m.Remaining() < margin
}

// Usage returns how many times each operation was charged
func (m *Meter) Usage() map[Operation]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Operation]int, len(m.used))
	for op, n := range m.used {
		out[op] = n
	}
	return out
}

// MeteredStore charges the meter before delegating each call
type MeteredStore struct {
	next  store.DocumentStore
	meter *Meter
}

// NewMeteredStore decorates a document store with budget accounting
func NewMeteredStore(next store.DocumentStore, meter *Meter) *MeteredStore {
	return &MeteredStore{next: next, meter: meter}
}

func (s *MeteredStore) Load(ctx context.Context, docType models.DocumentType, id string) (*models.Document, error) {
	if err := s.meter.Charge(OpLoad); err != nil {
		return nil, err
	}
	return s.next.Load(ctx, docType, id)
}

func (s *MeteredStore) Save(ctx context.Context, doc *models.Document, opts store.SaveOptions) (string, error) {
	if err := s.meter.Charge(OpSave); err != nil {
		return "", err
	}
	return s.next.Save(ctx, doc, opts)
}

func (s *MeteredStore) Create(ctx context.Context, doc *models.Document) (string, error) {
	if err := s.meter.Charge(OpCreate); err != nil {
		return "", err
	}
	return s.next.Create(ctx, doc)
}

func (s *MeteredStore) List(ctx context.Context, docType models.DocumentType) ([]*models.Document, error) {
	if err := s.meter.Charge(OpSearch); err != nil {
		return nil, err
	}
	return s.next.List(ctx, docType)
}
