package storage

import (
	"context"
	"database/sql"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ScopedKV is a view of the kv table restricted to one scope, so independent
// collaborators cannot trample each other's keys.
type ScopedKV struct {
	store *Store
	scope string
}

// Scoped returns the key/value view for scope.
func (s *Store) Scoped(scope string) *ScopedKV {
	return &ScopedKV{store: s, scope: scope}
}

// Get returns the value for key and whether it exists.
func (kv *ScopedKV) Get(ctx context.Context, key string) (string, bool, error) {
	if kv == nil || kv.store == nil || kv.store.db == nil {
		return "", false, pkgerrors.New("storage: store not open")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var value string
	err := kv.store.db.QueryRowContext(ctx,
		"SELECT value FROM "+kvTableName+" WHERE scope = ? AND key = ?",
		kv.scope, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, pkgerrors.Wrapf(err, "storage: get %s/%s failed", kv.scope, key)
	}
	return value, true, nil
}

// Set stores value under key, overwriting any previous value.
func (kv *ScopedKV) Set(ctx context.Context, key, value string) error {
	if kv == nil || kv.store == nil || kv.store.db == nil {
		return pkgerrors.New("storage: store not open")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := kv.store.db.ExecContext(ctx,
		"INSERT INTO "+kvTableName+" (scope, key, value, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(scope, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		kv.scope, key, value, time.Now().UTC().Unix())
	if err != nil {
		return pkgerrors.Wrapf(err, "storage: set %s/%s failed", kv.scope, key)
	}
	return nil
}

// Delete removes key from the scope. Deleting an absent key is not an error.
func (kv *ScopedKV) Delete(ctx context.Context, key string) error {
	if kv == nil || kv.store == nil || kv.store.db == nil {
		return pkgerrors.New("storage: store not open")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := kv.store.db.ExecContext(ctx,
		"DELETE FROM "+kvTableName+" WHERE scope = ? AND key = ?",
		kv.scope, key); err != nil {
		return pkgerrors.Wrapf(err, "storage: delete %s/%s failed", kv.scope, key)
	}
	return nil
}
