package service

import (
	"errors"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/repository"
)

// storeError maps a repository error for op. ErrNotFound becomes notFound
// when given; transient errors pass through untouched so withRetry sees them.
func storeError(err error, op string, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound) && notFound != nil:
		return domain.WithOp(notFound, op)
	case errors.Is(err, repository.ErrTransient):
		return err
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Internal(err, op, "storage error")
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
