package preferences

import (
	"context"
	"database/sql"
	"errors"
	"time"

	authgate "github.com/goliatone/go-auth-gate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Preference is the Bun model for a stored preference.
type Preference struct {
	bun.BaseModel `bun:"table:preferences,alias:pref"`

	Key       string    `bun:"pref_key,pk" json:"key"`
	Value     string    `bun:"pref_value,notnull" json:"value"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// BunStore keeps preferences in a SQL table through Bun.
type BunStore struct {
	db  bun.IDB
	now func() time.Time
}

var _ authgate.PreferenceStore = (*BunStore)(nil)

// NewBunStore wraps db. Call EnsureSchema once before use unless the
// table is managed by migrations.
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db, now: time.Now}
}

// EnsureSchema creates the preferences table when missing.
func (s *BunStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*Preference)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create preferences table")
	}
	return nil
}

func (s *BunStore) Get(ctx context.Context, key string) (string, bool, error) {
	record := &Preference{}
	err := s.db.NewSelect().
		Model(record).
		Where("pref_key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read preference").
			WithMetadata(map[string]any{"key": key})
	}
	return record.Value, true, nil
}

func (s *BunStore) Set(ctx context.Context, key, value string) error {
	record := &Preference{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now(),
	}

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (pref_key) DO UPDATE").
		Set("pref_value = EXCLUDED.pref_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write preference").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}

func (s *BunStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*Preference)(nil)).
		Where("pref_key = ?", key).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete preference").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}
