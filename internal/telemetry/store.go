package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// zeroResultRetention caps the zero-result query log.
const zeroResultRetention = 100

// SQLiteMetricsStore persists search metrics in the shared metadata
// database.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore creates the metrics store and its schema.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &SQLiteMetricsStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMetricsStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_stats (
		date         TEXT PRIMARY KEY,
		searches     INTEGER NOT NULL DEFAULT 0,
		zero_results INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS search_latency_stats (
		date   TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		query     TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// RecordSearch bumps the daily counters and the latency histogram.
func (s *SQLiteMetricsStore) RecordSearch(date string, bucket LatencyBucket, zeroResult bool) error {
	zero := 0
	if zeroResult {
		zero = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO search_stats (date, searches, zero_results)
		VALUES (?, 1, ?)
		ON CONFLICT(date) DO UPDATE SET
			searches = searches + 1,
			zero_results = zero_results + excluded.zero_results
	`, date, zero)
	if err != nil {
		return fmt.Errorf("record search: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO search_latency_stats (date, bucket, count)
		VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1
	`, date, string(bucket))
	if err != nil {
		return fmt.Errorf("record latency: %w", err)
	}
	return nil
}

// AddZeroResultQuery logs a query that returned nothing, keeping the
// most recent entries only.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	if _, err := s.db.Exec(`
		INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)
	`, query, timestamp); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}

	if _, err := s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?
		)
	`, zeroResultRetention); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// DayStats holds one day's search counters.
type DayStats struct {
	Date        string
	Searches    int64
	ZeroResults int64
}

// GetDayStats returns counters for a single date. Missing dates return
// zeros.
func (s *SQLiteMetricsStore) GetDayStats(date string) (DayStats, error) {
	stats := DayStats{Date: date}
	err := s.db.QueryRow(`
		SELECT searches, zero_results FROM search_stats WHERE date = ?
	`, date).Scan(&stats.Searches, &stats.ZeroResults)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("query day stats: %w", err)
	}
	return stats, nil
}

// GetLatencyCounts returns the latency histogram over a date range,
// inclusive.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count)
		FROM search_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// GetZeroResultQueries returns the most recent zero-result queries.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}
