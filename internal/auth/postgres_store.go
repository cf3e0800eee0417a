package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/laborar/portal/internal/telemetry/tracing"
	"github.com/laborar/portal/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const sessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions
(
    token      VARCHAR PRIMARY KEY,
    username   VARCHAR     NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_sessions_expires_at ON sessions USING btree (expires_at);
`

// PostgresStore keeps sessions in the sessions table.
type PostgresStore struct {
	storeBase
	db *pgxpool.Pool
}

func NewPostgresStore(ttl time.Duration, db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		storeBase: newStoreBase(ttl),
		db:        db,
	}
}

// EnsureSchema creates the sessions table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, sessionsSchemaSQL); err != nil {
		return fmt.Errorf("create sessions schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, user User) (string, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postgresStore.create")
	defer span.End()

	sess := newSession(user, s.now(), s.ttl)

	// one retry in the (practically impossible) case of a token collision
	for attempt := 0; ; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}

		_, err = s.db.Exec(
			ctx,
			`INSERT INTO sessions (token, username, created_at, expires_at) VALUES ($1, $2, $3, $4);`,
			token, sess.User.Username, sess.CreatedAt, sess.ExpiresAt,
		)
		if err == nil {
			return token, nil
		}
		if pkg.IsUniqueViolationError(err) && attempt == 0 {
			log.Warnln("postgres store, session token collision, retrying")
			continue
		}
		return "", fmt.Errorf("insert session: %w", err)
	}
}

func (s *PostgresStore) Lookup(ctx context.Context, token string) (*User, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postgresStore.lookup")
	defer span.End()

	if token == "" {
		return nil, ErrSessionNotFound
	}

	var sess Session
	err := s.db.QueryRow(
		ctx,
		`SELECT username, created_at, expires_at FROM sessions WHERE token = $1;`,
		token,
	).Scan(&sess.User.Username, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}

	if sess.Expired(s.now()) {
		if err := s.Destroy(ctx, token); err != nil {
			log.Warnf("postgres store, destroy expired session: %s", err)
		}
		return nil, ErrSessionNotFound
	}

	return &sess.User, nil
}

func (s *PostgresStore) Destroy(ctx context.Context, token string) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postgresStore.destroy")
	defer span.End()

	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1;`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes every session expired at the store's current time.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "postgresStore.deleteExpired")
	defer span.End()

	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1;`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	span.SetAttributes(attribute.Int64("deleted", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ScanAndClean(ctx context.Context) {
	deleted, err := s.DeleteExpired(ctx)
	if err != nil {
		log.Errorf("postgres store, scan and clean: %s", err)
		return
	}
	log.Debugf("postgres store, scan and clean done, %d sessions removed", deleted)
}
