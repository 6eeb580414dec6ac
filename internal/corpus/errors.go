package corpus

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spigell/resume-matcher/internal/domain"
)

// WrapError annotates a driver error with op and maps it onto the domain taxonomy.
// isUnavailable lets a backend recognise its own connectivity errors.
func WrapError(op string, err error, isUnavailable func(error) bool) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case IsConnectivityError(err), isUnavailable != nil && isUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Unavailable marks err as a store availability failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// IsConnectivityError reports driver level failures that mean the store cannot be reached.
func IsConnectivityError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return strings.Contains(err.Error(), "database is closed")
}
