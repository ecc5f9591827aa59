package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// PositionStore implements storage.PositionMaster using PostgreSQL.
// Quantities are NUMERIC and travel as text to keep decimal precision.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionMaster = (*PositionStore)(nil)

// InsertPortfolio stores the portfolio tree atomically. Fails the entire
// insert on any duplicate identifier.
func (s *PositionStore) InsertPortfolio(ctx context.Context, p *domain.Portfolio) (err error) {
	if p == nil || p.ID.IsZero() || p.Root == nil {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_portfolio", start, err) }()

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertNode(ctx, tx, p.Root, domain.UniqueID{}, 0); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO portfolios (id, name, root_node_id) VALUES ($1, $2, $3)
		`, p.ID.String(), p.Name, p.Root.ID.String()); err != nil {
			return fmt.Errorf("insert portfolio: %w", err)
		}
		return nil
	})
}

func insertNode(ctx context.Context, tx pgx.Tx, n *domain.PortfolioNode, parent domain.UniqueID, order int) error {
	if n.ID.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO portfolio_nodes (id, parent_id, name, sort_order) VALUES ($1, $2, $3, $4)
	`, n.ID.String(), nullableID(parent), n.Name, order); err != nil {
		return fmt.Errorf("insert portfolio node %s: %w", n.ID, err)
	}

	for i, pos := range n.Positions {
		if pos.ID.IsZero() {
			return storage.ErrInvalidInput
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO positions (id, node_id, quantity, security_id, sort_order)
			VALUES ($1, $2, $3::numeric, $4, $5)
		`, pos.ID.String(), n.ID.String(), pos.Quantity.String(), pos.SecurityKey.String(), i); err != nil {
			return fmt.Errorf("insert position %s: %w", pos.ID, err)
		}
		for j, t := range pos.Trades {
			if _, err := tx.Exec(ctx, `
				INSERT INTO trades (id, position_id, quantity, security_id, trade_date, counterparty, sort_order)
				VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
			`, t.ID.String(), pos.ID.String(), t.Quantity.String(), t.SecurityKey.String(),
				nullableTime(t.TradeDate), t.Counterparty, j); err != nil {
				return fmt.Errorf("insert trade %s: %w", t.ID, err)
			}
		}
	}

	for i, child := range n.Children {
		if err := insertNode(ctx, tx, child, n.ID, i); err != nil {
			return err
		}
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// GetPosition retrieves a position with its trades. Returns ErrNotFound if not exists.
func (s *PositionStore) GetPosition(ctx context.Context, id domain.UniqueID) (_ *domain.Position, err error) {
	start := time.Now()
	defer func() { observe("get_position", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, node_id, quantity::text, security_id FROM positions WHERE id = $1
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, storage.ErrNotFound
	}
	if err = s.attachTrades(ctx, positions); err != nil {
		return nil, err
	}
	return positions[0], nil
}

// GetTrade retrieves a trade by id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetTrade(ctx context.Context, id domain.UniqueID) (_ *domain.Trade, err error) {
	start := time.Now()
	defer func() { observe("get_trade", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, position_id, quantity::text, security_id, trade_date, counterparty
		FROM trades WHERE id = $1
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, storage.ErrNotFound
	}
	return trades[0], nil
}

// GetPortfolioNode retrieves a node with its full subtree. Returns ErrNotFound if not exists.
func (s *PositionStore) GetPortfolioNode(ctx context.Context, id domain.UniqueID) (_ *domain.PortfolioNode, err error) {
	start := time.Now()
	defer func() { observe("get_portfolio_node", start, err) }()
	return s.loadSubtree(ctx, id)
}

// GetPortfolio retrieves a portfolio with its tree. Returns ErrNotFound if not exists.
func (s *PositionStore) GetPortfolio(ctx context.Context, id domain.UniqueID) (_ *domain.Portfolio, err error) {
	start := time.Now()
	defer func() { observe("get_portfolio", start, err) }()

	var name, rootID string
	err = s.pool.QueryRow(ctx, `
		SELECT name, root_node_id FROM portfolios WHERE id = $1
	`, id.String()).Scan(&name, &rootID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio: %w", err)
	}

	rid, err := parseID(rootID)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	root, err := s.loadSubtree(ctx, rid)
	if err != nil {
		return nil, fmt.Errorf("get portfolio root: %w", err)
	}
	return &domain.Portfolio{ID: id, Name: name, Root: root}, nil
}

// loadSubtree reads the nodes under id with a recursive query, then their
// positions and trades, and assembles the tree.
func (s *PositionStore) loadSubtree(ctx context.Context, id domain.UniqueID) (*domain.PortfolioNode, error) {
	rows, err := s.pool.Query(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id, parent_id, name, sort_order, 0 AS depth
			FROM portfolio_nodes WHERE id = $1
			UNION ALL
			SELECT n.id, n.parent_id, n.name, n.sort_order, s.depth + 1
			FROM portfolio_nodes n
			JOIN subtree s ON n.parent_id = s.id
		)
		SELECT id, COALESCE(parent_id, ''), name FROM subtree
		ORDER BY depth, sort_order
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("load subtree: %w", err)
	}

	var (
		order []*domain.PortfolioNode
		ids   []string
	)
	byID := make(map[domain.UniqueID]*domain.PortfolioNode)
	for rows.Next() {
		var rawID, rawParent, name string
		if err := rows.Scan(&rawID, &rawParent, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan portfolio node: %w", err)
		}
		n := &domain.PortfolioNode{Name: name}
		if n.ID, err = parseID(rawID); err != nil {
			rows.Close()
			return nil, err
		}
		if n.ParentNodeID, err = parseID(rawParent); err != nil {
			rows.Close()
			return nil, err
		}
		order = append(order, n)
		ids = append(ids, rawID)
		byID[n.ID] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolio nodes: %w", err)
	}
	if len(order) == 0 {
		return nil, storage.ErrNotFound
	}

	// Depth ordering guarantees parents are seen before children.
	root := order[0]
	for _, n := range order[1:] {
		if parent, ok := byID[n.ParentNodeID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}

	posRows, err := s.pool.Query(ctx, `
		SELECT id, node_id, quantity::text, security_id FROM positions
		WHERE node_id = ANY($1)
		ORDER BY node_id, sort_order
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	positions, err := scanPositions(posRows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTrades(ctx, positions); err != nil {
		return nil, err
	}
	for _, pos := range positions {
		if n, ok := byID[pos.ParentNodeID]; ok {
			n.Positions = append(n.Positions, pos)
		}
	}
	return root, nil
}

func (s *PositionStore) attachTrades(ctx context.Context, positions []*domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	ids := make([]string, len(positions))
	byID := make(map[domain.UniqueID]*domain.Position, len(positions))
	for i, p := range positions {
		ids[i] = p.ID.String()
		byID[p.ID] = p
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, position_id, quantity::text, security_id, trade_date, counterparty
		FROM trades
		WHERE position_id = ANY($1)
		ORDER BY position_id, sort_order
	`, ids)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return err
	}
	for _, t := range trades {
		if p, ok := byID[t.ParentPositionID]; ok {
			p.Trades = append(p.Trades, t)
		}
	}
	return nil
}

func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		var rawID, rawNode, qty, rawSec string
		if err := rows.Scan(&rawID, &rawNode, &qty, &rawSec); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p := &domain.Position{}
		var err error
		if p.ID, err = parseID(rawID); err != nil {
			return nil, err
		}
		if p.ParentNodeID, err = parseID(rawNode); err != nil {
			return nil, err
		}
		if p.SecurityKey, err = parseID(rawSec); err != nil {
			return nil, err
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("position %s quantity: %w", rawID, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return positions, nil
}

func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var (
			rawID, rawPos, qty, rawSec string
			tradeDate                  *time.Time
			t                          domain.Trade
		)
		if err := rows.Scan(&rawID, &rawPos, &qty, &rawSec, &tradeDate, &t.Counterparty); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		var err error
		if t.ID, err = parseID(rawID); err != nil {
			return nil, err
		}
		if t.ParentPositionID, err = parseID(rawPos); err != nil {
			return nil, err
		}
		if t.SecurityKey, err = parseID(rawSec); err != nil {
			return nil, err
		}
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("trade %s quantity: %w", rawID, err)
		}
		if tradeDate != nil {
			t.TradeDate = tradeDate.UTC()
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}
