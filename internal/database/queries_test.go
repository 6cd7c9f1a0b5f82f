package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/oreon-chat/oreon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPgRepository(t *testing.T) (*PgRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "sqlmock.New")
	t.Cleanup(func() {
		db.Close()
	})

	return &PgRepository{conn: db}, mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

var roomRowColumns = []string{"id", "external_id", "name", "description", "owner_id", "seq_id", "created_at", "updated_at", "deleted_at"}

func TestPgRepository_AppendMessage(t *testing.T) {
	ts := time.Now().UTC()
	params := AppendMessageParams{RoomId: 1, UserId: 2, Content: "hi", CreatedAt: ts}

	t.Run("allocates sequence and inserts in one transaction", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("UPDATE rooms SET seq_id = seq_id + 1")).
			WithArgs(1, ts).
			WillReturnRows(sqlmock.NewRows([]string{"seq_id"}).AddRow(5))
		mock.ExpectQuery(q("INSERT INTO messages")).
			WithArgs(1, 2, 5, "hi", ts).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
		mock.ExpectCommit()

		msg, err := repo.AppendMessage(context.Background(), params)
		assert.NoError(t, err, "expected no error appending message")
		assert.Equal(t, 5, msg.SeqId, "expected sequence id from the room counter")
		assert.Equal(t, 42, msg.Id, "expected id returned by the insert")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deleted or unknown room", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("UPDATE rooms SET seq_id = seq_id + 1")).
			WithArgs(1, ts).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.AppendMessage(context.Background(), params)
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("connection failure is transient", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006"})

		_, err := repo.AppendMessage(context.Background(), params)
		assert.ErrorIs(t, err, types.ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRepository_CreateRoom(t *testing.T) {
	repo, mock := newTestPgRepository(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO rooms")).
		WithArgs("abc123", "general", "", 7, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(roomRowColumns).AddRow(1, "abc123", "general", "", 7, 0, now, now, nil))
	mock.ExpectExec(q("INSERT INTO members")).
		WithArgs(1, 7, "owner", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	room, err := repo.CreateRoom(context.Background(), CreateRoomParams{
		Name:       "general",
		OwnerId:    7,
		ExternalId: "abc123",
	})
	assert.NoError(t, err, "expected no error creating room")
	assert.Equal(t, 1, room.Id)
	assert.Equal(t, 7, room.OwnerId)
	assert.Nil(t, room.DeletedAt, "expected new room not to be deleted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_DeleteRoom(t *testing.T) {
	t.Run("marks deleted and moves memberships", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(q("UPDATE rooms SET deleted_at")).
			WithArgs(3, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO former_members")).
			WithArgs(3, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(q("DELETE FROM members WHERE room_id = $1")).
			WithArgs(3).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		assert.NoError(t, repo.DeleteRoom(context.Background(), 3))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown room", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(q("UPDATE rooms SET deleted_at")).
			WithArgs(3, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.DeleteRoom(context.Background(), 3), types.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRepository_CreateMember(t *testing.T) {
	t.Run("duplicate membership", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectQuery(q("INSERT INTO members")).
			WithArgs(1, 2, "member", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})

		_, err := repo.CreateMember(context.Background(), 1, 2)
		assert.ErrorIs(t, err, types.ErrAlreadyMember)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("room missing", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectQuery(q("INSERT INTO members")).
			WithArgs(1, 2, "member", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"room_id", "account_id", "role", "last_read_seq_id", "joined_at"}))

		_, err := repo.CreateMember(context.Background(), 1, 2)
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRepository_DeleteMember(t *testing.T) {
	t.Run("refuses to remove the owner", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT role FROM members")).
			WithArgs(1, 2).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))
		mock.ExpectRollback()

		err := repo.DeleteMember(context.Background(), 1, 2)
		assert.ErrorIs(t, err, types.ErrInvariantViolation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("removes and records former membership", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT role FROM members")).
			WithArgs(1, 2).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("member"))
		mock.ExpectExec(q("DELETE FROM members WHERE room_id = $1 AND account_id = $2")).
			WithArgs(1, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO former_members")).
			WithArgs(1, 2, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.DeleteMember(context.Background(), 1, 2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRepository_TransferOwnership(t *testing.T) {
	t.Run("swaps roles", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT owner_id FROM rooms")).
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(1))
		mock.ExpectExec(q("UPDATE members SET role = $3")).
			WithArgs(10, 1, "member").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("UPDATE members SET role = $3")).
			WithArgs(10, 2, "owner").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("UPDATE rooms SET owner_id = $2")).
			WithArgs(10, 2, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.TransferOwnership(context.Background(), 10, 1, 2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("new owner is not a member", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT owner_id FROM rooms")).
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(1))
		mock.ExpectExec(q("UPDATE members SET role = $3")).
			WithArgs(10, 1, "member").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("UPDATE members SET role = $3")).
			WithArgs(10, 3, "owner").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.TransferOwnership(context.Background(), 10, 1, 3), types.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale owner", func(t *testing.T) {
		repo, mock := newTestPgRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("SELECT owner_id FROM rooms")).
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(5))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.TransferOwnership(context.Background(), 10, 1, 2), types.ErrInvariantViolation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRepository_GetMessages(t *testing.T) {
	repo, mock := newTestPgRepository(t)
	now := time.Now().UTC()

	mock.ExpectQuery(q("SELECT id, seq_id, room_id, account_id, content, created_at FROM messages")).
		WithArgs(1, 0, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq_id", "room_id", "account_id", "content", "created_at"}).
			AddRow(11, 1, 1, 1, "hi", now).
			AddRow(12, 2, 1, 2, "hello", now))

	msgs, err := repo.GetMessages(context.Background(), 1, 0, 10)
	assert.NoError(t, err)
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, 1, msgs[0].SeqId)
		assert.Equal(t, "hello", msgs[1].Content)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetUserById_errors(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected error
	}{
		{name: "no rows", err: sql.ErrNoRows, expected: types.ErrNotFound},
		{name: "lib/pq connection failure", err: &pq.Error{Code: "08006"}, expected: types.ErrStorageUnavailable},
		{name: "pgx serialization failure", err: &pgconn.PgError{Code: "40001"}, expected: types.ErrStorageUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, expected: types.ErrStorageUnavailable},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newTestPgRepository(t)
			mock.ExpectQuery(q("SELECT id, username")).WithArgs(9).WillReturnError(tc.err)

			_, err := repo.GetUserById(context.Background(), 9)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}
