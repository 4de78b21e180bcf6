package audit

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newRecorder() *Recorder {
	return NewRecorderWithClock(func() time.Time { return fixedNow })
}

func subject(id string, balance string, status string) Subject {
	return Subject{CardID: id, UserID: "user-1", Status: status, Balance: decimal.RequireFromString(balance)}
}

func TestCardCreatedEntry(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, newRecorder().CardCreated(context.Background(), repo, "admin@bank.test", subject("c1", "150", "ACTIVE")))

	entries := repo.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, ActionCreate, e.Action)
	assert.Equal(t, "Card created with initial balance: 150.00", e.Description)
	assert.False(t, e.OldBalance.Valid)
	assert.True(t, e.NewBalance.Decimal.Equal(decimal.RequireFromString("150")))
	assert.Equal(t, "ACTIVE", e.NewStatus)
	assert.Equal(t, "admin@bank.test", e.PerformedBy)
	assert.Equal(t, fixedNow, e.CreatedAt)
	assert.NotEmpty(t, e.ID)
}

func TestStatusAndBlockEntries(t *testing.T) {
	repo := NewMemoryRepository()
	rec := newRecorder()
	ctx := context.Background()

	require.NoError(t, rec.StatusChanged(ctx, repo, "admin@bank.test", subject("c1", "0", "BLOCKED"), "ACTIVE"))
	require.NoError(t, rec.BlockRequested(ctx, repo, "holder@bank.test", subject("c2", "0", "BLOCKED"), "ACTIVE"))

	entries := repo.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Status changed from ACTIVE to BLOCKED", entries[0].Description)
	assert.Equal(t, "ACTIVE", entries[0].OldStatus)
	assert.Equal(t, "BLOCKED", entries[0].NewStatus)
	assert.Equal(t, ActionBlockRequest, entries[1].Action)
	assert.Equal(t, "User requested card block", entries[1].Description)
}

func TestTransferWritesPairedEntries(t *testing.T) {
	repo := NewMemoryRepository()
	rec := newRecorder()
	ctx := context.Background()
	from := subject("from", "70", "ACTIVE")
	to := subject("to", "80", "ACTIVE")

	require.NoError(t, rec.Transfer(ctx, repo, "holder@bank.test", from, to, decimal.RequireFromString("30")))
	require.NoError(t, rec.BalanceChanged(ctx, repo, "holder@bank.test", from, decimal.RequireFromString("100")))

	entries := repo.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "Transfer to card to: -30.00", entries[0].Description)
	assert.Equal(t, "from", entries[0].CardID)
	assert.Equal(t, "Transfer from card from: +30.00", entries[1].Description)
	assert.Equal(t, "to", entries[1].CardID)
	assert.False(t, entries[0].OldBalance.Valid)
	assert.False(t, entries[1].NewBalance.Valid)
	assert.Equal(t, "Balance changed from 100.00 to 70.00", entries[2].Description)
	assert.True(t, entries[2].OldBalance.Decimal.Equal(decimal.RequireFromString("100")))
}

func TestMemoryRepositoryPaging(t *testing.T) {
	repo := NewMemoryRepository()
	rec := newRecorder()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, rec.CardCreated(ctx, repo, "admin", subject("c1", "1", "ACTIVE")))
	}
	require.NoError(t, rec.CardCreated(ctx, repo, "admin", Subject{CardID: "c2", UserID: "user-2", Status: "ACTIVE"}))

	res, err := repo.ListByCard(ctx, "c1", Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Len(t, res.Entries, 2)

	res, err = repo.ListByCard(ctx, "c1", Page{Number: 2, Size: 2})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 1)

	res, err = repo.ListByUser(ctx, "user-2", Page{Size: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 100, res.Size)
}
