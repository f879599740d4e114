package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"remindly/reminder"
)

/**
DB tables:
- reminders:
	- id: text - stable identity, assigned at creation
	- title: text - required
	- description: text
	- next_fire_at: bigint - next due time in epoch ms, 0 = no scheduled time
	- repeat: text - recurrence class (none/interval/hourly/daily/weekly)
	- interval_ms: bigint - gap for repeat=interval
	- follow_ups: jsonb - ordered follow-up prompts
	- enabled: boolean - false = terminal, never rescanned
	- fired: boolean - one-shot already fired
	- completed_at: bigint - epoch ms, 0 = not completed
	- snoozed: boolean
	- created_at: bigint - epoch ms
	- version: bigint - bumped on every committed write

Indexes:
- reminders:
	- id - primary key
	- next_fire_at - due-order lookups
*/

const schema = `CREATE TABLE IF NOT EXISTS reminders (
	id           text PRIMARY KEY,
	title        text NOT NULL,
	description  text NOT NULL DEFAULT '',
	next_fire_at bigint NOT NULL DEFAULT 0,
	repeat       text NOT NULL DEFAULT 'none',
	interval_ms  bigint NOT NULL DEFAULT 0,
	follow_ups   jsonb NOT NULL DEFAULT '[]',
	enabled      boolean NOT NULL DEFAULT TRUE,
	fired        boolean NOT NULL DEFAULT FALSE,
	completed_at bigint NOT NULL DEFAULT 0,
	snoozed      boolean NOT NULL DEFAULT FALSE,
	created_at   bigint NOT NULL DEFAULT 0,
	version      bigint NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS reminders_next_fire_at_idx ON reminders(next_fire_at)`

// PgxIface is the subset of pgxpool.Pool the store uses. It matches
// pgxmock's pool interface so tests run against a mock connection.
type PgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Pg is the Postgres-backed Store. Each method is a single statement,
// atomic at record granularity.
type Pg struct {
	conn PgxIface
}

// Connect opens a pool, pings it and ensures the schema.
// The connection string looks like postgresql://localhost:5432/remindly?user=admn&password=passwd
func Connect(ctx context.Context, connStr string) (*Pg, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed opening connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "failed pinging database")
	}

	pg := NewPg(pool)
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, errors.Wrap(err, "failed ensuring schema")
	}

	return pg, nil
}

func NewPg(conn PgxIface) *Pg {
	return &Pg{conn: conn}
}

func (p *Pg) Close() {
	p.conn.Close()
}

func (p *Pg) GetAll(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := p.conn.Query(ctx, `SELECT id, title, description, next_fire_at, repeat, interval_ms, follow_ups, enabled, fired, completed_at, snoozed, created_at, version
FROM reminders
ORDER BY next_fire_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying reminders")
	}
	defer rows.Close()

	var rs []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}

	return rs, errors.Wrap(rows.Err(), "failed reading reminders")
}

func (p *Pg) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	row := p.conn.QueryRow(ctx, `SELECT id, title, description, next_fire_at, repeat, interval_ms, follow_ups, enabled, fired, completed_at, snoozed, created_at, version
FROM reminders
WHERE id=$1`, id)

	r, err := scanReminder(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}

	return &r, nil
}

func (p *Pg) Put(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	fus, err := marshalFollowUps(r.FollowUps)
	if err != nil {
		return reminder.Reminder{}, err
	}

	err = p.conn.QueryRow(ctx, `INSERT INTO reminders(id, title, description, next_fire_at, repeat, interval_ms, follow_ups, enabled, fired, completed_at, snoozed, created_at, version)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
ON CONFLICT (id) DO UPDATE SET
	title=EXCLUDED.title, description=EXCLUDED.description, next_fire_at=EXCLUDED.next_fire_at,
	repeat=EXCLUDED.repeat, interval_ms=EXCLUDED.interval_ms, follow_ups=EXCLUDED.follow_ups,
	enabled=EXCLUDED.enabled, fired=EXCLUDED.fired, completed_at=EXCLUDED.completed_at,
	snoozed=EXCLUDED.snoozed, created_at=EXCLUDED.created_at, version=reminders.version+1
RETURNING version`,
		r.ID, r.Title, r.Description, r.NextFireAt, r.Repeat, r.IntervalMs, fus,
		r.Enabled, r.Fired, r.CompletedAt, r.Snoozed, r.CreatedAt).Scan(&r.Version)
	if err != nil {
		return reminder.Reminder{}, errors.Wrap(err, "failed upserting reminder")
	}

	return r, nil
}

func (p *Pg) PutVersioned(ctx context.Context, r reminder.Reminder, expected int64) (reminder.Reminder, error) {
	fus, err := marshalFollowUps(r.FollowUps)
	if err != nil {
		return reminder.Reminder{}, err
	}

	err = p.conn.QueryRow(ctx, `UPDATE reminders SET
	title=$2, description=$3, next_fire_at=$4, repeat=$5, interval_ms=$6, follow_ups=$7,
	enabled=$8, fired=$9, completed_at=$10, snoozed=$11, created_at=$12, version=version+1
WHERE id=$1 AND version=$13
RETURNING version`,
		r.ID, r.Title, r.Description, r.NextFireAt, r.Repeat, r.IntervalMs, fus,
		r.Enabled, r.Fired, r.CompletedAt, r.Snoozed, r.CreatedAt, expected).Scan(&r.Version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return reminder.Reminder{}, ErrVersionConflict
	case err != nil:
		return reminder.Reminder{}, errors.Wrap(err, "failed updating reminder")
	}

	return r, nil
}

func (p *Pg) Delete(ctx context.Context, id string) error {
	tag, err := p.conn.Exec(ctx, `DELETE FROM reminders WHERE id=$1`, id)
	if err != nil {
		return errors.Wrap(err, "failed deleting reminder")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReminder(row pgx.Row) (reminder.Reminder, error) {
	var r reminder.Reminder
	var fus []byte

	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.NextFireAt, &r.Repeat, &r.IntervalMs,
		&fus, &r.Enabled, &r.Fired, &r.CompletedAt, &r.Snoozed, &r.CreatedAt, &r.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, errors.Wrap(err, "failed scanning reminder")
	}

	if len(fus) > 0 {
		if err := json.Unmarshal(fus, &r.FollowUps); err != nil {
			return r, errors.Wrap(err, "failed decoding follow-ups")
		}
	}

	return r, nil
}

func marshalFollowUps(fus []reminder.FollowUp) ([]byte, error) {
	if fus == nil {
		fus = []reminder.FollowUp{}
	}
	b, err := json.Marshal(fus)
	return b, errors.Wrap(err, "failed encoding follow-ups")
}
