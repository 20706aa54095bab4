package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/sawpanic/stratum/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestSignalsRepoInsertGeneratesID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignalsRepo(db)

	mock.ExpectExec("INSERT INTO signals").WillReturnResult(sqlmock.NewResult(0, 1))

	s := domain.Signal{
		EventID:       "evt-1",
		Market:        domain.MarketSpreads,
		SignalType:    domain.SignalTypeMove,
		Direction:     domain.SignalDirectionUp,
		WindowMinutes: 10,
		TimeBucket:    domain.TimeBucketMid,
		StrengthScore: 42,
		Metadata:      domain.Metadata{"outcome_name": "HOME"},
	}
	err := repo.Insert(context.Background(), s)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalsRepoDeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignalsRepo(db)

	mock.ExpectExec("DELETE FROM signals").WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.DeleteOlderThan(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(12), n)
}
