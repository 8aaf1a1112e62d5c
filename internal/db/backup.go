package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// backupTables is ordered parents first so a restore can load files in order.
var backupTables = []string{
	"customers",
	"appointments",
	"thank_you_emails",
	"followup_emails",
	"email_logs",
	"script_logs",
}

// Backup copies every table into CSV files under dir/backup_<timestamp> and
// returns that directory. A partial directory is removed on failure.
func (r *Repository) Backup(ctx context.Context, dir string) (string, error) {
	target := filepath.Join(dir, "backup_"+time.Now().UTC().Format("20060102_150405"))
	if err := os.MkdirAll(target, 0o755); err != nil {
		r.logger.Error("failed to create backup directory", zap.Error(err), zap.String("path", target))
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	conn, err := r.db.Pool().Acquire(ctx)
	if err != nil {
		_ = os.RemoveAll(target)
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	for _, table := range backupTables {
		if err := copyTable(ctx, conn.Conn().PgConn(), table, filepath.Join(target, table+".csv")); err != nil {
			r.logger.Error("backup failed", zap.Error(err), zap.String("table", table))
			_ = os.RemoveAll(target)
			return "", err
		}
	}

	r.logger.Info("database backup created", zap.String("path", target))
	return target, nil
}

func copyTable(ctx context.Context, conn *pgconn.PgConn, table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	// table names come from backupTables, never from input
	sql := fmt.Sprintf("COPY %s TO STDOUT WITH (FORMAT csv, HEADER true)", table)
	if _, err := conn.CopyTo(ctx, f, sql); err != nil {
		return fmt.Errorf("copy %s: %w", table, err)
	}
	return f.Sync()
}
