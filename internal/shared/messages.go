package shared

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserSafeMessage converts an internal error into a message that can be shown
// to the end user. Domain errors (prefixed with their package name) pass
// through verbatim; infrastructure failures collapse into a generic
// connection message so internals never leak.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return "Connection problem, please try again"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "Data could not be saved, please try again"
	}
	msg := err.Error()
	if i := strings.Index(msg, ": "); i > 0 && !strings.Contains(msg[:i], " ") {
		// "pkg: message" sentinel style used across domain packages.
		return msg[i+2:]
	}
	return msg
}
