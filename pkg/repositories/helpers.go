package repositories

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullString converts an empty string to nil for nullable columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime converts a zero time to nil for nullable timestamp columns.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// jsonbValue marshals v for a jsonb column, mapping nil to SQL NULL.
func jsonbValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// unmarshalJSONB decodes a jsonb column into out, tolerating NULL.
func unmarshalJSONB(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
