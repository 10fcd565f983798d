package instrument

import (
	"context"
	"database/sql"
	"time"

	"github.com/insightflo/perfmon/pkg/types"
)

// QueryFunc is a database call. It returns the rows affected or read.
type QueryFunc func(ctx context.Context) (int64, error)

// TimeQuery runs fn and records its duration as a database point
func TimeQuery(ctx context.Context, recorder Recorder, query, table string, fn QueryFunc) (int64, error) {
	start := time.Now()
	rows, err := fn(ctx)
	duration := time.Since(start)

	recorder.RecordMetricData(ctx, types.NewDatabasePoint(query, duration, types.DatabaseDetail{
		Query: query,
		Table: table,
		Rows:  rows,
		Err:   err != nil,
	}))
	return rows, err
}

// ExecContext times db.ExecContext and records the rows affected
func ExecContext(ctx context.Context, recorder Recorder, db *sql.DB, table, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	_, err := TimeQuery(ctx, recorder, query, table, func(ctx context.Context) (int64, error) {
		var err error
		result, err = db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		n, _ := result.RowsAffected()
		return n, nil
	})
	return result, err
}
