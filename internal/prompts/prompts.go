// ABOUTME: Read-only access to the prompt library kept in Postgres
// ABOUTME: Serves the category tree of live prompts and the live content of one prompt

package prompts

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPromptNotFound is returned when a prompt has no live version.
var ErrPromptNotFound = errors.New("prompt not found")

// maxConns caps the pool; the library is read rarely and by few users.
const maxConns = 5

// Category is a row of the categories table.
type Category struct {
	ID       int64
	Name     string
	ParentID *int64
}

// Prompt is a prompt with at least one live version.
type Prompt struct {
	ID         int64
	Title      string
	CategoryID int64
}

// Summary is a prompt as listed in the tree.
type Summary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Node is one category with its sub-categories and prompts, sorted by name
// and title.
type Node struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Children []*Node   `json:"children"`
	Prompts  []Summary `json:"prompts"`
}

// Store reads the prompt library.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to databaseURL. Every pooled session is switched to read-only
// transactions so the library can never be written through this service.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger.With("component", "prompts")}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Tree returns the root categories with every live prompt attached.
func (s *Store) Tree(ctx context.Context) ([]*Node, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, parent_id FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	cats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var c Category
		err := row.Scan(&c.ID, &c.Name, &c.ParentID)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan categories: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT p.id, p.title, p.category_id
		FROM prompts p
		WHERE EXISTS (
			SELECT 1 FROM prompt_versions v
			WHERE v.prompt_id = p.id AND v.is_live = TRUE
		)`)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}
	prompts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Prompt, error) {
		var p Prompt
		err := row.Scan(&p.ID, &p.Title, &p.CategoryID)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan prompts: %w", err)
	}

	s.logger.Debug("loaded prompt tree", "categories", len(cats), "prompts", len(prompts))
	return BuildTree(cats, prompts), nil
}

// LiveContent returns the content of the newest live version of a prompt.
func (s *Store) LiveContent(ctx context.Context, promptID int64) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `
		SELECT content
		FROM prompt_versions
		WHERE prompt_id = $1 AND is_live = TRUE
		ORDER BY version_number DESC
		LIMIT 1`, promptID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrPromptNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query prompt content: %w", err)
	}
	return content, nil
}

// BuildTree links categories to their parents and prompts to their
// categories. Categories whose parent is missing become roots. Prompts of
// unknown categories are dropped.
func BuildTree(cats []Category, prompts []Prompt) []*Node {
	nodes := make(map[int64]*Node, len(cats))
	for _, c := range cats {
		nodes[c.ID] = &Node{ID: c.ID, Name: c.Name, Children: []*Node{}, Prompts: []Summary{}}
	}

	roots := []*Node{}
	for _, c := range cats {
		node := nodes[c.ID]
		if c.ParentID != nil && *c.ParentID != c.ID {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	for _, p := range prompts {
		if node, ok := nodes[p.CategoryID]; ok {
			node.Prompts = append(node.Prompts, Summary{ID: p.ID, Title: p.Title})
		}
	}

	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*Node) {
	slices.SortFunc(nodes, func(a, b *Node) int {
		return cmp.Or(compareFold(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	for _, n := range nodes {
		slices.SortFunc(n.Prompts, func(a, b Summary) int {
			return cmp.Or(compareFold(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
		})
		sortNodes(n.Children)
	}
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
