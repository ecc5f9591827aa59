// Package portfolio navigates portfolio trees held by a position source.
package portfolio

import (
	"context"
	"errors"
	"fmt"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// Structure answers parent/root/descendant questions about portfolio trees.
// Every call goes to the position source; nothing is cached.
type Structure struct {
	positions storage.PositionSource
}

// NewStructure creates a navigator over positions.
func NewStructure(positions storage.PositionSource) *Structure {
	return &Structure{positions: positions}
}

// ParentNode returns the parent of node, or nil for a root node or when the
// parent cannot be found.
func (s *Structure) ParentNode(ctx context.Context, node *domain.PortfolioNode) (*domain.PortfolioNode, error) {
	if node.ParentNodeID.IsZero() {
		return nil, nil
	}
	return s.lookupNode(ctx, node.ParentNodeID)
}

// ParentOfPosition returns the node holding the position, or nil.
func (s *Structure) ParentOfPosition(ctx context.Context, pos *domain.Position) (*domain.PortfolioNode, error) {
	if pos.ParentNodeID.IsZero() {
		return nil, nil
	}
	return s.lookupNode(ctx, pos.ParentNodeID)
}

// RootNode walks parent links up from node. It returns nil if any link on
// the way cannot be resolved.
func (s *Structure) RootNode(ctx context.Context, node *domain.PortfolioNode) (*domain.PortfolioNode, error) {
	current := node
	seen := map[domain.UniqueID]struct{}{current.ID: {}}
	for !current.ParentNodeID.IsZero() {
		parent, err := s.lookupNode(ctx, current.ParentNodeID)
		if err != nil || parent == nil {
			return nil, err
		}
		if _, loop := seen[parent.ID]; loop {
			return nil, fmt.Errorf("portfolio node %s: parent chain loops at %s", node.ID, parent.ID)
		}
		seen[parent.ID] = struct{}{}
		current = parent
	}
	return current, nil
}

// RootOfPosition returns the root of the tree holding pos, or nil if the
// chain is broken.
func (s *Structure) RootOfPosition(ctx context.Context, pos *domain.Position) (*domain.PortfolioNode, error) {
	parent, err := s.ParentOfPosition(ctx, pos)
	if err != nil || parent == nil {
		return nil, err
	}
	return s.RootNode(ctx, parent)
}

// AllPositions returns every position in the subtree rooted at node,
// depth-first, each node's own positions before its children's.
func AllPositions(node *domain.PortfolioNode) []*domain.Position {
	var out []*domain.Position
	collectPositions(node, &out)
	return out
}

func collectPositions(node *domain.PortfolioNode, out *[]*domain.Position) {
	if node == nil {
		return
	}
	*out = append(*out, node.Positions...)
	for _, child := range node.Children {
		collectPositions(child, out)
	}
}

// AllPositions is the method form of the package function.
func (s *Structure) AllPositions(node *domain.PortfolioNode) []*domain.Position {
	return AllPositions(node)
}

func (s *Structure) lookupNode(ctx context.Context, id domain.UniqueID) (*domain.PortfolioNode, error) {
	n, err := s.positions.GetPortfolioNode(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio node %s: %w", id, err)
	}
	return n, nil
}
