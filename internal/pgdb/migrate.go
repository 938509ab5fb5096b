package pgdb

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver used by goose
	"github.com/pressly/goose/v3"
	"gitlab.com/tozd/go/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies (or tears down, for "down"/"reset") the schema migrations
// against databaseURI using goose. command is one of goose's standard verbs
// ("up", "down", "status", "redo", "reset").
func Migrate(ctx context.Context, databaseURI, command string) errors.E {
	db, err := sql.Open("pgx", databaseURI)
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil { //nolint:govet
		return errors.WithStack(err)
	}

	if err := goose.RunContext(ctx, command, db, "migrations"); err != nil { //nolint:govet,staticcheck
		return errors.WithStack(err)
	}
	return nil
}
