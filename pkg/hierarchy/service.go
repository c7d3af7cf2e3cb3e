// Package hierarchy answers ancestor/descendant/cycle/depth questions over
// the agent forest maintained by the lifecycle service (spec §4.2).
package hierarchy

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Service walks the hierarchy_edges table (kept in sync with Agent.ParentID
// by the lifecycle service in the same transaction as spawn) to answer
// transitive queries in O(depth)/O(subtree) time via recursive CTEs,
// optionally fronted by a Cache.
type Service struct {
	db    bun.IDB
	cache *Cache
}

// New constructs a hierarchy Service. cache may be nil, in which case every
// call goes straight to the store.
func New(db bun.IDB, cache *Cache) *Service {
	return &Service{db: db, cache: cache}
}

// Ancestors returns id's ancestors ordered nearest-first (parent, then
// grandparent, ...).
func (s *Service) Ancestors(ctx context.Context, id string) ([]string, error) {
	if s.cache != nil {
		if ids, ok := s.cache.GetAncestors(ctx, id); ok {
			return ids, nil
		}
	}

	var rows []struct {
		ID    string `bun:"id"`
		Depth int    `bun:"depth"`
	}
	err := s.db.NewRaw(`
		WITH RECURSIVE chain AS (
			SELECT parent_id AS id, 1 AS depth FROM hierarchy_edges WHERE child_id = ?
			UNION ALL
			SELECT h.parent_id, c.depth + 1
			FROM hierarchy_edges h
			JOIN chain c ON h.child_id = c.id
		)
		SELECT id, depth FROM chain ORDER BY depth ASC
	`, id).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("querying ancestors: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	if s.cache != nil {
		s.cache.SetAncestors(ctx, id, ids)
	}
	return ids, nil
}

// Descendants returns id's full subtree, order unspecified.
func (s *Service) Descendants(ctx context.Context, id string) ([]string, error) {
	var rows []struct {
		ID string `bun:"id"`
	}
	err := s.db.NewRaw(`
		WITH RECURSIVE sub AS (
			SELECT child_id AS id FROM hierarchy_edges WHERE parent_id = ?
			UNION ALL
			SELECT h.child_id
			FROM hierarchy_edges h
			JOIN sub s ON h.parent_id = s.id
		)
		SELECT id FROM sub
	`, id).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("querying descendants: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// WouldCreateCycle reports whether attaching child under parent would
// close a cycle: true if parent == child, or child is already an ancestor
// of parent.
func (s *Service) WouldCreateCycle(ctx context.Context, parentID, childID string) (bool, error) {
	if parentID == childID {
		return true, nil
	}
	ancestors, err := s.Ancestors(ctx, parentID)
	if err != nil {
		return false, err
	}
	for _, a := range ancestors {
		if a == childID {
			return true, nil
		}
	}
	return false, nil
}

// Depth returns the number of ancestors of id (root agents have depth 0),
// bounded implicitly by the HierarchyYAML.MaxDepth (config key
// hierarchy.max_depth) enforced at spawn time.
func (s *Service) Depth(ctx context.Context, id string) (int, error) {
	ancestors, err := s.Ancestors(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(ancestors), nil
}

// InvalidateAgent drops any cached ancestor view touching id; callers must
// invoke this after spawn and after terminate_tree mutate the forest.
func (s *Service) InvalidateAgent(ctx context.Context, id string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
}
