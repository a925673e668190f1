package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chainmail/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	owner        TEXT    NOT NULL,
	tag          TEXT    NOT NULL,
	peer         TEXT    NOT NULL,
	state        TEXT    NOT NULL,
	subject      TEXT    NOT NULL DEFAULT '',
	last_update  BIGINT  NOT NULL,
	unread_count INTEGER NOT NULL DEFAULT 0,
	is_closed    BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (owner, tag)
);
CREATE INDEX IF NOT EXISTS sessions_owner_peer ON sessions (owner, peer) WHERE NOT is_closed;

CREATE TABLE IF NOT EXISTS messages (
	owner         TEXT    NOT NULL,
	id            TEXT    NOT NULL,
	session_tag   TEXT    NOT NULL,
	type          TEXT    NOT NULL,
	ts            BIGINT  NOT NULL,
	payload       BYTEA,
	is_from_self  BOOLEAN NOT NULL,
	status        TEXT    NOT NULL,
	transport_ref TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (owner, id)
);
CREATE INDEX IF NOT EXISTS messages_session ON messages (owner, session_tag, ts);
CREATE INDEX IF NOT EXISTS messages_status ON messages (owner, status);

CREATE TABLE IF NOT EXISTS cursors (
	owner  TEXT   PRIMARY KEY,
	cursor BIGINT NOT NULL
);`

// Store is a domain.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

const sessionCols = `tag, owner, peer, state, subject, last_update, unread_count, is_closed`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.Tag, &s.Owner, &s.Peer, &s.State, &s.Subject, &s.LastUpdate, &s.UnreadCount, &s.IsClosed)
	return s, err
}

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Session, error) {
		return scanSession(r)
	})
}

const messageCols = `id, owner, session_tag, type, ts, payload, is_from_self, status, transport_ref`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.Owner, &m.SessionTag, &m.Type, &m.Timestamp, &m.Payload, &m.IsFromSelf, &m.Status, &m.TransportRef)
	return m, err
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Message, error) {
		return scanMessage(r)
	})
}

func (s *Store) GetSession(ctx context.Context, owner domain.Address, tag domain.SessionTag) (domain.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE owner = $1 AND tag = $2`, owner, tag))
	if err != nil {
		return domain.Session{}, fmt.Errorf("session %s: %w", tag, mapErr(err))
	}
	return sess, nil
}

func (s *Store) FindOpenSession(ctx context.Context, owner, peer domain.Address) (domain.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE owner = $1 AND peer = $2 AND NOT is_closed
		 ORDER BY last_update DESC LIMIT 1`, owner, peer))
	if err != nil {
		return domain.Session{}, fmt.Errorf("open session with %s: %w", peer, mapErr(err))
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, owner domain.Address) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE owner = $1 ORDER BY last_update DESC, tag`, owner)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectSessions(rows)
}

const upsertSession = `
INSERT INTO sessions (` + sessionCols + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (owner, tag) DO UPDATE SET
	peer = EXCLUDED.peer,
	state = EXCLUDED.state,
	subject = EXCLUDED.subject,
	last_update = EXCLUDED.last_update,
	unread_count = EXCLUDED.unread_count,
	is_closed = EXCLUDED.is_closed`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func putSession(ctx context.Context, db execer, sess domain.Session) error {
	_, err := db.Exec(ctx, upsertSession,
		sess.Tag, sess.Owner, sess.Peer, sess.State, sess.Subject, sess.LastUpdate, sess.UnreadCount, sess.IsClosed)
	return mapErr(err)
}

func (s *Store) PutSession(ctx context.Context, sess domain.Session) error {
	return putSession(ctx, s.pool, sess)
}

func (s *Store) DeleteSession(ctx context.Context, owner domain.Address, tag domain.SessionTag) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE owner = $1 AND tag = $2`, owner, tag)
	return mapErr(err)
}

func (s *Store) GetMessage(ctx context.Context, owner domain.Address, id domain.MessageID) (domain.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages WHERE owner = $1 AND id = $2`, owner, id))
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, mapErr(err))
	}
	return m, nil
}

func (s *Store) HasMessage(ctx context.Context, owner domain.Address, id domain.MessageID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE owner = $1 AND id = $2)`, owner, id).Scan(&ok)
	return ok, mapErr(err)
}

func (s *Store) ListMessages(ctx context.Context, owner domain.Address, tag domain.SessionTag, from, to int64) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE owner = $1 AND session_tag = $2 AND ts >= $3 AND ($4::BIGINT <= 0 OR ts <= $4::BIGINT)
		 ORDER BY ts, id`, owner, tag, from, to)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectMessages(rows)
}

func (s *Store) MessagesByStatus(ctx context.Context, owner domain.Address, status domain.MessageStatus) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE owner = $1 AND status = $2 ORDER BY ts, id`, owner, status)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectMessages(rows)
}

func (s *Store) UpdateMessageStatus(ctx context.Context, owner domain.Address, id domain.MessageID, status domain.MessageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $3 WHERE owner = $1 AND id = $2`, owner, id, status)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Commit runs in one transaction. ON CONFLICT DO NOTHING turns a replayed
// message into a zero-row insert, which aborts the session update.
func (s *Store) Commit(ctx context.Context, sess *domain.Session, msg *domain.Message) (bool, error) {
	inserted := true
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if msg != nil {
			tag, err := tx.Exec(ctx,
				`INSERT INTO messages (`+messageCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (owner, id) DO NOTHING`,
				msg.ID, msg.Owner, msg.SessionTag, msg.Type, msg.Timestamp, msg.Payload, msg.IsFromSelf, msg.Status, msg.TransportRef)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				inserted = false
				return nil
			}
		}
		if sess != nil {
			return putSession(ctx, tx, *sess)
		}
		return nil
	})
	if err != nil {
		return false, mapErr(err)
	}
	return inserted, nil
}

func (s *Store) Cursor(ctx context.Context, owner domain.Address) (domain.Cursor, error) {
	var c int64
	err := s.pool.QueryRow(ctx, `SELECT cursor FROM cursors WHERE owner = $1`, owner).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return domain.Cursor(c), nil
}

func (s *Store) SetCursor(ctx context.Context, owner domain.Address, c domain.Cursor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cursors (owner, cursor) VALUES ($1, $2)
		 ON CONFLICT (owner) DO UPDATE SET cursor = EXCLUDED.cursor`, owner, int64(c))
	return mapErr(err)
}

var _ domain.Store = (*Store)(nil)
