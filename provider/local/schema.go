package local

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// EnsureSchema creates the provider tables when missing.
func EnsureSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*User)(nil),
		(*PasswordReset)(nil),
		(*EmailVerification)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create provider tables")
		}
	}

	return nil
}
