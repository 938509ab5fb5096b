package curator

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/daxserver/curator/internal/pgdb"
)

// Run applies (or inspects) PostgreSQL schema migrations via goose, against
// the configured database URL directly — independent of Init/Site wiring,
// since a migration run has no use for the handler registry or hub.
func (c *MigrateCommand) Run(globals *Globals) errors.E {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return pgdb.Migrate(ctx, string(globals.Postgres.URL), c.Command)
}
