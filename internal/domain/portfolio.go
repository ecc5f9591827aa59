package domain

// PortfolioNode is a node in a portfolio tree. Children reference their parent
// by identifier only; there are no back pointers.
type PortfolioNode struct {
	ID           UniqueID
	ParentNodeID UniqueID // zero for a root node
	Name         string
	Children     []*PortfolioNode
	Positions    []*Position
}

// IsRoot reports whether the node has no parent.
func (n *PortfolioNode) IsRoot() bool {
	return n.ParentNodeID.IsZero()
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *PortfolioNode) Clone() *PortfolioNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*PortfolioNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	if n.Positions != nil {
		c.Positions = make([]*Position, len(n.Positions))
		for i, p := range n.Positions {
			c.Positions[i] = p.Clone()
		}
	}
	return &c
}

// Portfolio is a named tree of portfolio nodes.
type Portfolio struct {
	ID   UniqueID
	Name string
	Root *PortfolioNode
}
