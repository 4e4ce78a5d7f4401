package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/policyfund-crawler/internal/notice"
)

type linkRow struct {
	id    int64
	title string
	link  string
}

// BackfillSearchURLs rewrites link and url of a source's rows to the search URL
// of their title wherever they differ. With dryRun it only counts. It returns
// the number of rows that need (or received) the change.
func (s *PolicyStore) BackfillSearchURLs(ctx context.Context, source string, builder notice.Builder, dryRun bool) (int, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, title, COALESCE(link, '') FROM %s WHERE source_site = $1 ORDER BY id`, s.table), source)
	if err != nil {
		return 0, fmt.Errorf("query links: %w", err)
	}
	var stale []linkRow
	for rows.Next() {
		var r linkRow
		if err := rows.Scan(&r.id, &r.title, &r.link); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan link row: %w", err)
		}
		if r.link != builder.SearchURL(r.title) {
			stale = append(stale, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate link rows: %w", err)
	}
	if dryRun {
		return len(stale), nil
	}

	update := fmt.Sprintf(`UPDATE %s SET link = $1, url = $1, updated_at = NOW() WHERE id = $2`, s.table)
	for i, r := range stale {
		if _, err := s.pool.Exec(ctx, update, builder.SearchURL(r.title), r.id); err != nil {
			return i, fmt.Errorf("update link of row %d: %w", r.id, err)
		}
	}
	return len(stale), nil
}

// DeleteDuplicateTitles keeps the lowest id per title and deletes the rest.
// Titles repeat when the natural key is notice_id and a portal re-lists a
// program under a new id or both portals carry it. With dryRun it only counts
// the rows that would go.
func (s *PolicyStore) DeleteDuplicateTitles(ctx context.Context, dryRun bool) (int, error) {
	if dryRun {
		query := fmt.Sprintf(`
SELECT COUNT(*) FROM %s a
WHERE EXISTS (SELECT 1 FROM %s b WHERE b.title = a.title AND b.id < a.id)`, s.table, s.table)
		rows, err := s.pool.Query(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("count duplicate titles: %w", err)
		}
		defer rows.Close()
		var n int64
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				return 0, fmt.Errorf("scan duplicate count: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("iterate duplicate count: %w", err)
		}
		return int(n), nil
	}

	query := fmt.Sprintf(`DELETE FROM %s a USING %s b WHERE a.title = b.title AND a.id > b.id`, s.table, s.table)
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate titles: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
