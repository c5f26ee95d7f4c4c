package sql

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// ScanRows reads all rows from *sql.Rows into a materialized result.
func ScanRows(rows *sql.Rows) (*domain.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	result := &domain.QueryResult{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// normalizeValue converts driver byte slices to strings; every other scanned
// value is kept as the driver produced it.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// ParseIsolation maps an engine's isolation level name to database/sql.
// Accepts "REPEATABLE-READ", "repeatable read", "REPEATABLE_READ" and so on.
func ParseIsolation(name string) (sql.IsolationLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", " ", "_", " ").Replace(normalized)

	switch normalized {
	case "read uncommitted":
		return sql.LevelReadUncommitted, nil
	case "read committed":
		return sql.LevelReadCommitted, nil
	case "repeatable read":
		return sql.LevelRepeatableRead, nil
	case "snapshot":
		return sql.LevelSnapshot, nil
	case "serializable":
		return sql.LevelSerializable, nil
	case "linearizable":
		return sql.LevelLinearizable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("unknown isolation level: %q", name)
	}
}
