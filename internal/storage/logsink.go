package storage

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultLogReadLimit = 500

// AppendLog adds one rendered error line to the service log.
func (s *Store) AppendLog(ctx context.Context, message string) error {
	if s == nil || s.appendStmt == nil {
		return pkgerrors.New("storage: store not open")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	createdAt := time.Now().UTC().Unix()
	if _, err := s.appendStmt.ExecContext(ctx, createdAt, message); err != nil {
		log.Debug().
			Str("sql", formatSQL("INSERT INTO "+logTableName+" (created_at, message) VALUES (?, ?)", createdAt, message)).
			Msg("storage: append log statement")
		return pkgerrors.Wrap(err, "storage: append log failed")
	}
	return nil
}

// ReadAllLogs returns the most recent limit lines in append order. A
// non-positive limit falls back to the default bound.
func (s *Store) ReadAllLogs(ctx context.Context, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New("storage: store not open")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultLogReadLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT message FROM "+logTableName+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: read logs failed")
	}
	defer rows.Close()

	var reversed []string
	for rows.Next() {
		var message string
		if err := rows.Scan(&message); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan log row failed")
		}
		reversed = append(reversed, message)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "storage: iterate log rows failed")
	}

	lines := make([]string, len(reversed))
	for i, message := range reversed {
		lines[len(reversed)-1-i] = message
	}
	return lines, nil
}
