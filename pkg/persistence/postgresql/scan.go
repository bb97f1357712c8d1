package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
)

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers work for both.
type rowScanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, rows *sql.Rows, logger *slog.Logger) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
