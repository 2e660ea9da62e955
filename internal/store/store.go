package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trendwatch-io/trendwatch/internal/models"
)

// Store persists crawled items and the error log in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// New wraps a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// LoadSeen returns all seqs recorded for a source, used to seed the tracker
// on registration.
func (s *Store) LoadSeen(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT seq FROM crawler_raw WHERE source_id = $1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: load seen: %w", err)
	}
	defer rows.Close()

	var seqs []string
	for rows.Next() {
		var seq string
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("store: load seen scan: %w", err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, rows.Err()
}

// upsertSQL merges an incoming row into crawler_raw. Title, summary and
// last_seen always take the incoming value; full_content and the content
// fetch fields never erase known-good state with blanks, and content_fetched
// only moves false -> true.
const upsertSQL = `
	INSERT INTO crawler_raw (
		source_id, source_name, seq, title, summary, full_content,
		url, published_at, extra_data, crawl_time, first_seen,
		last_seen, content_fetched, content_fetch_error, content_fetch_time
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10, $11, $12, $13)
	ON CONFLICT (source_id, seq) DO UPDATE SET
		title = EXCLUDED.title,
		summary = EXCLUDED.summary,
		full_content = CASE
			WHEN EXCLUDED.full_content <> '' THEN EXCLUDED.full_content
			ELSE crawler_raw.full_content
		END,
		last_seen = EXCLUDED.last_seen,
		content_fetched = crawler_raw.content_fetched OR EXCLUDED.content_fetched,
		content_fetch_error = CASE
			WHEN EXCLUDED.content_fetch_error <> '' THEN EXCLUDED.content_fetch_error
			ELSE crawler_raw.content_fetch_error
		END,
		content_fetch_time = CASE
			WHEN EXCLUDED.content_fetch_time IS NOT NULL THEN EXCLUDED.content_fetch_time
			ELSE crawler_raw.content_fetch_time
		END`

// UpsertItems persists a full item set in one transaction using the merge
// policy above.
func (s *Store) UpsertItems(ctx context.Context, sourceID, sourceName string, items []*models.NewsItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for _, item := range items {
		if item.Seq == "" {
			continue
		}
		extra, err := marshalExtra(item.Extra)
		if err != nil {
			return fmt.Errorf("store: marshal extra for %s: %w", item.Seq, err)
		}
		_, err = tx.Exec(ctx, upsertSQL,
			sourceID, sourceName, item.Seq, item.Title, item.Summary, item.FullContent,
			item.URL, nullTime(item.PublishedAt), extra, now,
			item.ContentFetched, item.ContentFetchError, nullTime(item.ContentFetchTime),
		)
		if err != nil {
			return fmt.Errorf("store: upsert %s/%s: %w", sourceID, item.Seq, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// UpdateItemContent writes one item's full-content fetch outcome. Called once
// per completed fetch so partial batch progress survives a crash.
func (s *Store) UpdateItemContent(ctx context.Context, sourceID string, item *models.NewsItem) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE crawler_raw SET
			full_content = CASE WHEN $1 <> '' THEN $1 ELSE full_content END,
			content_fetched = content_fetched OR $2,
			content_fetch_error = $3,
			content_fetch_time = $4
		WHERE source_id = $5 AND seq = $6
	`, item.FullContent, item.ContentFetched, item.ContentFetchError,
		nullTime(item.ContentFetchTime), sourceID, item.Seq)
	if err != nil {
		return fmt.Errorf("store: update content %s/%s: %w", sourceID, item.Seq, err)
	}
	return nil
}

// SaveFiltered snapshots items that passed the keyword filter, linked back to
// their crawler_raw row.
func (s *Store) SaveFiltered(ctx context.Context, sourceID, sourceName string, items []*models.NewsItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for _, item := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO crawler_filtered (
				raw_id, source_id, source_name, seq, title, summary,
				full_content, url, published_at, matched_keywords, filter_time
			)
			SELECT r.id, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
			FROM crawler_raw r
			WHERE r.source_id = $1 AND r.seq = $3
		`, sourceID, sourceName, item.Seq, item.Title, item.Summary,
			item.FullContent, item.URL, nullTime(item.PublishedAt),
			strings.Join(item.MatchedKeywords, ","), now)
		if err != nil {
			return fmt.Errorf("store: save filtered %s/%s: %w", sourceID, item.Seq, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// MarkPushed flags filtered rows as delivered to the notification channel.
func (s *Store) MarkPushed(ctx context.Context, sourceID string, seqs []string) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE crawler_filtered
		SET pushed = TRUE, push_time = now()
		WHERE source_id = $1 AND seq = ANY($2) AND NOT pushed
	`, sourceID, seqs)
	if err != nil {
		return fmt.Errorf("store: mark pushed: %w", err)
	}
	return nil
}

// SaveAnalysis writes an AI analysis result back onto the newest filtered row
// for the given item.
func (s *Store) SaveAnalysis(ctx context.Context, sourceID, seq, analysis string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE crawler_filtered
		SET ai_analysis = $1, ai_analysis_time = now()
		WHERE id = (
			SELECT max(id) FROM crawler_filtered
			WHERE source_id = $2 AND seq = $3
		)
	`, analysis, sourceID, seq)
	if err != nil {
		return fmt.Errorf("store: save analysis %s/%s: %w", sourceID, seq, err)
	}
	return nil
}

// AppendError appends one entry to the durable error log.
func (s *Store) AppendError(ctx context.Context, e *models.ErrorLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawler_errors (
			timestamp, source_id, operation, url,
			error_type, error_message, stack_trace
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.Timestamp, e.SourceID, e.Operation, e.URL, e.ErrorType, e.ErrorMessage, e.StackTrace)
	if err != nil {
		return fmt.Errorf("store: append error: %w", err)
	}
	return nil
}

// QueryErrors returns recent error entries, newest first, with optional
// source and resolved filters.
func (s *Store) QueryErrors(ctx context.Context, sourceID string, unresolvedOnly bool, limit int) ([]models.ErrorLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	q := s.sb.Select(
		"id", "timestamp", "source_id", "operation", "url",
		"error_type", "error_message", "stack_trace", "resolved", "resolve_note",
	).From("crawler_errors")

	if sourceID != "" {
		q = q.Where(sq.Eq{"source_id": sourceID})
	}
	if unresolvedOnly {
		q = q.Where(sq.Eq{"resolved": false})
	}
	q = q.OrderBy("timestamp DESC").Limit(uint64(limit))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build errors query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query errors: %w", err)
	}
	defer rows.Close()

	var out []models.ErrorLogEntry
	for rows.Next() {
		var e models.ErrorLogEntry
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.SourceID, &e.Operation, &e.URL,
			&e.ErrorType, &e.ErrorMessage, &e.StackTrace, &e.Resolved, &e.ResolveNote,
		); err != nil {
			return nil, fmt.Errorf("store: scan error row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Items reads stored items, newest first by first_seen (filter_time for the
// filtered table).
func (s *Store) Items(ctx context.Context, sourceID string, limit, offset int, filteredOnly bool) ([]*models.NewsItem, error) {
	if limit <= 0 {
		limit = 100
	}

	if filteredOnly {
		return s.filteredItems(ctx, sourceID, limit, offset)
	}

	q := s.sb.Select(
		"seq", "title", "summary", "full_content", "url", "published_at",
		"source_name", "extra_data", "content_fetched", "content_fetch_error",
		"content_fetch_time",
	).From("crawler_raw")

	if sourceID != "" {
		q = q.Where(sq.Eq{"source_id": sourceID})
	}
	q = q.OrderBy("first_seen DESC").Limit(uint64(limit)).Offset(uint64(offset))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build items query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query items: %w", err)
	}
	defer rows.Close()

	var out []*models.NewsItem
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) filteredItems(ctx context.Context, sourceID string, limit, offset int) ([]*models.NewsItem, error) {
	q := s.sb.Select(
		"seq", "title", "summary", "full_content", "url", "published_at",
		"source_name", "matched_keywords", "ai_analysis", "ai_analysis_time",
	).From("crawler_filtered")

	if sourceID != "" {
		q = q.Where(sq.Eq{"source_id": sourceID})
	}
	q = q.OrderBy("filter_time DESC").Limit(uint64(limit)).Offset(uint64(offset))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build filtered query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query filtered: %w", err)
	}
	defer rows.Close()

	var out []*models.NewsItem
	for rows.Next() {
		var (
			item       models.NewsItem
			published  *time.Time
			keywords   string
			aiTime     *time.Time
		)
		if err := rows.Scan(
			&item.Seq, &item.Title, &item.Summary, &item.FullContent, &item.URL,
			&published, &item.SourceName, &keywords, &item.AIAnalysis, &aiTime,
		); err != nil {
			return nil, fmt.Errorf("store: scan filtered row: %w", err)
		}
		if published != nil {
			item.PublishedAt = *published
		}
		if aiTime != nil {
			item.AIAnalysisTime = *aiTime
		}
		if keywords != "" {
			item.MatchedKeywords = strings.Split(keywords, ",")
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// CleanupOldData deletes crawler_raw rows past either retention bound (age by
// first_seen, then count beyond maxItems, oldest first) and prunes the error
// log to the same age bound. Returns the number of item rows deleted.
func (s *Store) CleanupOldData(ctx context.Context, maxItems, maxDays int) (int64, error) {
	var deleted int64

	if maxDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -maxDays)

		sqlStr, args, err := s.sb.Delete("crawler_raw").
			Where(sq.Lt{"first_seen": cutoff}).ToSql()
		if err != nil {
			return deleted, fmt.Errorf("store: build cleanup query: %w", err)
		}
		tag, err := s.pool.Exec(ctx, sqlStr, args...)
		if err != nil {
			return deleted, fmt.Errorf("store: cleanup by age: %w", err)
		}
		deleted += tag.RowsAffected()

		if _, err := s.pool.Exec(ctx,
			`DELETE FROM crawler_errors WHERE timestamp < $1`, cutoff); err != nil {
			return deleted, fmt.Errorf("store: cleanup errors: %w", err)
		}
	}

	if maxItems > 0 {
		var count int
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM crawler_raw`).Scan(&count); err != nil {
			return deleted, fmt.Errorf("store: count items: %w", err)
		}
		if count > maxItems {
			tag, err := s.pool.Exec(ctx, `
				DELETE FROM crawler_raw WHERE id IN (
					SELECT id FROM crawler_raw ORDER BY first_seen ASC LIMIT $1
				)
			`, count-maxItems)
			if err != nil {
				return deleted, fmt.Errorf("store: cleanup by count: %w", err)
			}
			deleted += tag.RowsAffected()
		}
	}

	return deleted, nil
}

func scanRawItem(rows pgx.Rows) (*models.NewsItem, error) {
	var (
		item      models.NewsItem
		published *time.Time
		fetchTime *time.Time
		extra     []byte
	)
	if err := rows.Scan(
		&item.Seq, &item.Title, &item.Summary, &item.FullContent, &item.URL,
		&published, &item.SourceName, &extra, &item.ContentFetched,
		&item.ContentFetchError, &fetchTime,
	); err != nil {
		return nil, fmt.Errorf("store: scan item row: %w", err)
	}
	if published != nil {
		item.PublishedAt = *published
	}
	if fetchTime != nil {
		item.ContentFetchTime = *fetchTime
	}
	if len(extra) > 0 {
		_ = json.Unmarshal(extra, &item.Extra)
	}
	return &item, nil
}

func marshalExtra(extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	return json.Marshal(extra)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
