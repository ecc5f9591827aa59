package memory

import (
	"context"
	"sync"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionMaster.
// Portfolios are stored as trees; nodes, positions and trades are indexed
// by id into the stored tree and copied on the way out.
type PositionStore struct {
	mu         sync.RWMutex
	portfolios map[domain.UniqueID]*domain.Portfolio
	nodes      map[domain.UniqueID]*domain.PortfolioNode
	positions  map[domain.UniqueID]*domain.Position
	trades     map[domain.UniqueID]*domain.Trade
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		portfolios: make(map[domain.UniqueID]*domain.Portfolio),
		nodes:      make(map[domain.UniqueID]*domain.PortfolioNode),
		positions:  make(map[domain.UniqueID]*domain.Position),
		trades:     make(map[domain.UniqueID]*domain.Trade),
	}
}

// InsertPortfolio stores the portfolio tree. Fails the whole insert on any
// duplicate identifier.
func (s *PositionStore) InsertPortfolio(_ context.Context, p *domain.Portfolio) error {
	if p == nil || p.ID.IsZero() || p.Root == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.portfolios[p.ID]; exists {
		return storage.ErrDuplicateKey
	}

	root := p.Root.Clone()
	nodes := make(map[domain.UniqueID]*domain.PortfolioNode)
	positions := make(map[domain.UniqueID]*domain.Position)
	trades := make(map[domain.UniqueID]*domain.Trade)
	if err := s.index(root, nodes, positions, trades); err != nil {
		return err
	}

	for id, n := range nodes {
		s.nodes[id] = n
	}
	for id, pos := range positions {
		s.positions[id] = pos
	}
	for id, t := range trades {
		s.trades[id] = t
	}
	s.portfolios[p.ID] = &domain.Portfolio{ID: p.ID, Name: p.Name, Root: root}
	return nil
}

// index walks the tree collecting ids, rejecting duplicates against both the
// batch and existing data.
func (s *PositionStore) index(
	node *domain.PortfolioNode,
	nodes map[domain.UniqueID]*domain.PortfolioNode,
	positions map[domain.UniqueID]*domain.Position,
	trades map[domain.UniqueID]*domain.Trade,
) error {
	if node.ID.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, ok := s.nodes[node.ID]; ok {
		return storage.ErrDuplicateKey
	}
	if _, ok := nodes[node.ID]; ok {
		return storage.ErrDuplicateKey
	}
	nodes[node.ID] = node

	for _, pos := range node.Positions {
		if pos.ID.IsZero() {
			return storage.ErrInvalidInput
		}
		if _, ok := s.positions[pos.ID]; ok {
			return storage.ErrDuplicateKey
		}
		if _, ok := positions[pos.ID]; ok {
			return storage.ErrDuplicateKey
		}
		pos.ParentNodeID = node.ID
		positions[pos.ID] = pos

		for _, t := range pos.Trades {
			if _, ok := s.trades[t.ID]; ok {
				return storage.ErrDuplicateKey
			}
			if _, ok := trades[t.ID]; ok {
				return storage.ErrDuplicateKey
			}
			t.ParentPositionID = pos.ID
			trades[t.ID] = t
		}
	}

	for _, child := range node.Children {
		child.ParentNodeID = node.ID
		if err := s.index(child, nodes, positions, trades); err != nil {
			return err
		}
	}
	return nil
}

// GetPosition retrieves a position by id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetPosition(_ context.Context, id domain.UniqueID) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, exists := s.positions[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return pos.Clone(), nil
}

// GetTrade retrieves a trade by id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetTrade(_ context.Context, id domain.UniqueID) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.trades[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// GetPortfolioNode retrieves a node with its subtree. Returns ErrNotFound if not exists.
func (s *PositionStore) GetPortfolioNode(_ context.Context, id domain.UniqueID) (*domain.PortfolioNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return n.Clone(), nil
}

// GetPortfolio retrieves a portfolio with its tree. Returns ErrNotFound if not exists.
func (s *PositionStore) GetPortfolio(_ context.Context, id domain.UniqueID) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.portfolios[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &domain.Portfolio{ID: p.ID, Name: p.Name, Root: p.Root.Clone()}, nil
}

// Verify interface compliance at compile time.
var _ storage.PositionMaster = (*PositionStore)(nil)
