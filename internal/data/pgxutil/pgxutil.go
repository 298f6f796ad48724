// Package pgxutil bridges database/sql connections to their underlying pgx
// connections, so callers can use pgx-native row collection against a pool
// managed by database/sql.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// WithPgxConn checks a connection out of db, unwraps the *pgx.Conn behind
// the stdlib driver, and runs fn with it. The connection returns to the
// pool when fn finishes.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("checkout connection: %w", err)
	}
	defer func() {
		// Close returns the connection to the pool; a failure here means
		// the pool already discarded it.
		_ = conn.Close()
	}()

	return conn.Raw(func(driverConn any) error {
		std, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return errors.New("driver connection is not *stdlib.Conn")
		}
		return fn(std.Conn())
	})
}
