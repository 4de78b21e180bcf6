package card

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cardvault/bankcards/internal/audit"
)

const cardColumns = `id, user_id, encrypted_pan, pan_fingerprint, owner_name, expiry, status,
    balance::text, version, created_at, updated_at`

// PostgresStore persists cards in PostgreSQL. Row locks are taken with
// SELECT ... FOR UPDATE in ascending id order.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed card store.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Card, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Card{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c, err := scanCard(s.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Card{}, err
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) (Result, error) {
	page := filter.Page.Normalize()
	res := Result{Cards: []Card{}, Page: page}

	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		if _, err := uuid.Parse(filter.UserID); err != nil {
			return res, nil
		}
		args = append(args, filter.UserID)
		where = append(where, "user_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM cards`+clause, args...).Scan(&res.Total); err != nil {
		return Result{}, err
	}

	args = append(args, page.Size, page.Offset())
	query := `SELECT ` + cardColumns + ` FROM cards` + clause +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return Result{}, err
		}
		res.Cards = append(res.Cards, c)
	}
	return res, rows.Err()
}

// InTx runs fn inside a database transaction with a bounded lock wait.
// Lock timeouts, deadlocks and serialization failures surface as ErrContention.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer pgtx.Rollback(ctx) // nolint:errcheck

	timeout := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := pgtx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: pgtx}); err != nil {
		return mapPgError(err)
	}
	return mapPgError(pgtx.Commit(ctx))
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001":
			return fmt.Errorf("%w: %s", ErrContention, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Lock(ctx context.Context, ids ...string) (map[string]Card, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		keys = append(keys, id)
	}

	rows, err := t.tx.Query(ctx, `SELECT `+cardColumns+` FROM cards
        WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Card, len(ids))
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	return out, nil
}

func (t *postgresTx) LockUser(ctx context.Context, userID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('cards:user:' || $1, 0))`, userID)
	return err
}

func (t *postgresTx) LockExpired(ctx context.Context, before YearMonth) ([]Card, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+cardColumns+` FROM cards
        WHERE status = $1 AND expiry < $2 ORDER BY id FOR UPDATE`, string(StatusActive), before.FirstDay())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *postgresTx) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM cards WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (t *postgresTx) FingerprintExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cards WHERE pan_fingerprint = $1)`, fingerprint).Scan(&exists)
	return exists, err
}

func (t *postgresTx) Insert(ctx context.Context, c Card) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO cards
        (id, user_id, encrypted_pan, pan_fingerprint, owner_name, expiry, status, balance, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, 0, $9, $10)`,
		c.ID, c.UserID, c.EncryptedPAN, c.PANFingerprint, c.OwnerName, c.Expiry.FirstDay(),
		string(c.Status), c.Balance.String(), c.CreatedAt.UTC(), now)
	return err
}

func (t *postgresTx) Save(ctx context.Context, cards ...Card) error {
	for _, c := range cards {
		cmd, err := t.tx.Exec(ctx, `UPDATE cards
            SET owner_name = $2, status = $3, balance = $4::numeric, version = version + 1, updated_at = $5
            WHERE id = $1 AND version = $6`,
			c.ID, c.OwnerName, string(c.Status), c.Balance.String(), time.Now().UTC(), c.Version)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("%w: card %s changed concurrently", ErrContention, c.ID)
		}
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, id string) error {
	cmd, err := t.tx.Exec(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (t *postgresTx) Append(ctx context.Context, entries ...audit.Entry) error {
	return audit.InsertEntries(ctx, t.tx, entries...)
}

func scanCard(row pgx.Row) (Card, error) {
	var (
		c              Card
		id, userID     uuid.UUID
		expiry         time.Time
		status         string
		balance        string
		createdAt, upd time.Time
	)
	if err := row.Scan(&id, &userID, &c.EncryptedPAN, &c.PANFingerprint, &c.OwnerName, &expiry,
		&status, &balance, &c.Version, &createdAt, &upd); err != nil {
		return Card{}, err
	}
	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return Card{}, fmt.Errorf("parse balance of card %s: %w", id, err)
	}
	c.ID = id.String()
	c.UserID = userID.String()
	c.Expiry = YearMonthOf(expiry)
	c.Status = Status(status)
	c.Balance = bal
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = upd.UTC()
	return c, nil
}
