package pgdb

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

const (
	idleInTransactionSessionTimeout = 30 * time.Second
	statementTimeout                = 30 * time.Second

	applicationName = "curator"
)

// InitPool opens a pgxpool.Pool against databaseURI, sizing MaxConns from the
// server's reported connection budget and wiring strict JSON (un)marshaling
// and PostgreSQL NOTICE forwarding into logger.
func InitPool(ctx context.Context, databaseURI string, logger zerolog.Logger) (*pgxpool.Pool, errors.E) {
	dbconfig, err := pgxpool.ParseConfig(strings.TrimSpace(databaseURI))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	dbconfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		logger.
			WithLevel(noticeSeverityToLogLevel[notice.SeverityUnlocalized]).
			Fields(ErrorDetails((*pgconn.PgError)(notice))).
			Bool("postgres", true).
			Send()
	}
	dbconfig.AfterConnect = func(_ context.Context, c *pgx.Conn) error {
		c.TypeMap().RegisterType(&pgtype.Type{
			Name: "json", OID: pgtype.JSONOID, Codec: &pgtype.JSONCodec{
				Marshal:   func(v any) ([]byte, error) { return x.MarshalWithoutEscapeHTML(v) },
				Unmarshal: func(data []byte, v any) error { return x.UnmarshalWithoutUnknownFields(data, v) },
			},
		})
		c.TypeMap().RegisterType(&pgtype.Type{
			Name: "jsonb", OID: pgtype.JSONBOID, Codec: &pgtype.JSONBCodec{
				Marshal:   func(v any) ([]byte, error) { return x.MarshalWithoutEscapeHTML(v) },
				Unmarshal: func(data []byte, v any) error { return x.UnmarshalWithoutUnknownFields(data, v) },
			},
		})
		return nil
	}
	dbconfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	dbconfig.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = strconv.FormatInt(idleInTransactionSessionTimeout.Milliseconds(), 10)
	dbconfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)

	conn, err := pgx.ConnectConfig(ctx, dbconfig.ConnConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer conn.Close(ctx)

	var maxConnectionsStr string
	if err := conn.QueryRow(ctx, `SHOW max_connections`).Scan(&maxConnectionsStr); err != nil { //nolint:govet
		return nil, WithPgxError(err)
	}
	maxConnections, err := strconv.Atoi(maxConnectionsStr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var reservedConnectionsStr string
	if err := conn.QueryRow(ctx, `SHOW reserved_connections`).Scan(&reservedConnectionsStr); err != nil { //nolint:govet
		return nil, WithPgxError(err)
	}
	reservedConnections, err := strconv.Atoi(reservedConnectionsStr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if n := maxConnections - reservedConnections - 5; n > 0 {
		dbconfig.MaxConns = int32(n) //nolint:gosec
	}

	logger.Info().
		Str("serverVersion", conn.PgConn().ParameterStatus("server_version")).
		Int32("maxConns", dbconfig.MaxConns).
		Msg("database connection successful")

	dbpool, err := pgxpool.NewWithConfig(ctx, dbconfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	context.AfterFunc(ctx, dbpool.Close)

	return dbpool, nil
}
