package db

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/rs/zerolog/log"
)

// WithTx runs fn inside a transaction pinned to one connection:
// BEGIN IMMEDIATE on SQLite, plain BEGIN on Postgres. An error from fn
// rolls the transaction back.
//
// COMMIT and ROLLBACK run on a context detached from ctx's cancellation, so
// a caller that goes away mid-transaction cannot leave the connection open
// inside BEGIN. If the transaction still cannot be ended, the connection is
// discarded instead of being returned to the pool.
func WithTx(ctx context.Context, db *CompatDB, fn func(conn *CompatConn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, db.BeginTxSQL()); err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	end := context.WithoutCancel(ctx)
	if err := fn(conn); err != nil {
		rollback(end, conn, err)
		return err
	}

	if _, err := conn.ExecContext(end, "COMMIT"); err != nil {
		rollback(end, conn, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, conn *CompatConn, cause error) {
	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		log.Error().Err(err).AnErr("original", cause).Msg("rollback failed; discarding connection")
		discard(conn)
	}
}

// discard marks the underlying driver connection bad so database/sql
// closes it on release.
func discard(conn *CompatConn) {
	_ = conn.Conn.Raw(func(any) error { return driver.ErrBadConn })
}
