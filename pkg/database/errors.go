package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
)

// PostgreSQL error codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// Classify maps a pgx error to a memerr kind. Unique violations are conflicts (the
// one-active-session indexes), foreign key violations are missing parents, the rest are
// store failures. Errors that already carry a kind and context cancellation pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if memerr.KindOf(err) != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return memerr.E(op, memerr.ErrConflict, err)
		case codeForeignKeyViolation:
			return memerr.E(op, memerr.ErrNotFound, err)
		case codeCheckViolation:
			return memerr.E(op, memerr.ErrValidation, err)
		}
	}
	return memerr.Store(op, err)
}
