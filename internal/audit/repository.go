package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads the audit trail. Entries come back oldest first.
type Repository interface {
	ListByCard(ctx context.Context, cardID string, page Page) (Result, error)
	ListByUser(ctx context.Context, userID string, page Page) (Result, error)
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEntrySQL = `INSERT INTO card_audit
    (id, card_id, user_id, action, description, old_balance, new_balance, old_status, new_status, performed_by, created_at)
    VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, NULLIF($8, ''), NULLIF($9, ''), $10, $11)`

// InsertEntries writes entries through db, which may be an open transaction.
func InsertEntries(ctx context.Context, db Execer, entries ...Entry) error {
	for _, e := range entries {
		if _, err := db.Exec(ctx, insertEntrySQL,
			e.ID, e.CardID, e.UserID, string(e.Action), e.Description,
			nullableNumeric(e.OldBalance), nullableNumeric(e.NewBalance),
			e.OldStatus, e.NewStatus, e.PerformedBy, e.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return nil
}

func nullableNumeric(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// PostgresRepository stores audit entries in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed audit repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append writes entries outside any card transaction.
func (r *PostgresRepository) Append(ctx context.Context, entries ...Entry) error {
	return InsertEntries(ctx, r.db, entries...)
}

// ListByCard returns a page of entries for one card.
func (r *PostgresRepository) ListByCard(ctx context.Context, cardID string, page Page) (Result, error) {
	return r.list(ctx, "card_id", cardID, page)
}

// ListByUser returns a page of entries for every card of one user.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, page Page) (Result, error) {
	return r.list(ctx, "user_id", userID, page)
}

func (r *PostgresRepository) list(ctx context.Context, column, value string, page Page) (Result, error) {
	page = page.Normalize()
	res := Result{Entries: []Entry{}, Page: page.Number, Size: page.Size}
	if _, err := uuid.Parse(value); err != nil {
		return res, nil
	}

	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM card_audit WHERE `+column+` = $1`, value).Scan(&res.Total); err != nil {
		return Result{}, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, card_id, user_id, action, description,
        old_balance::text, new_balance::text, COALESCE(old_status, ''), COALESCE(new_status, ''),
        performed_by, created_at
        FROM card_audit WHERE `+column+` = $1
        ORDER BY created_at, seq
        LIMIT $2 OFFSET $3`, value, page.Size, page.Number*page.Size)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Result{}, err
		}
		res.Entries = append(res.Entries, e)
	}
	return res, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e                  Entry
		id, cardID, userID uuid.UUID
		action             string
		oldBal             *string
		newBal             *string
		createdAt          time.Time
	)
	if err := row.Scan(&id, &cardID, &userID, &action, &e.Description, &oldBal, &newBal,
		&e.OldStatus, &e.NewStatus, &e.PerformedBy, &createdAt); err != nil {
		return Entry{}, err
	}
	e.ID = id.String()
	e.CardID = cardID.String()
	e.UserID = userID.String()
	e.Action = Action(action)
	e.CreatedAt = createdAt.UTC()

	var err error
	if e.OldBalance, err = parseNullable(oldBal); err != nil {
		return Entry{}, err
	}
	if e.NewBalance, err = parseNullable(newBal); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func parseNullable(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse audit balance %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}
