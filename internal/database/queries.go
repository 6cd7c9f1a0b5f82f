package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oreon-chat/oreon/internal/types"
)

const (
	userColumns = "id, username, password_hash, role, active, created_at, updated_at"
	roomColumns = "id, external_id, name, description, owner_id, seq_id, created_at, updated_at, deleted_at"

	createMemberQuery = "INSERT INTO members (room_id, account_id, role, joined_at) VALUES ($1, $2, $3, $4)"
	formerMemberQuery = "INSERT INTO former_members (room_id, account_id, left_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (room_id, account_id) DO UPDATE SET left_at = EXCLUDED.left_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.PasswordHash,
		&u.Role,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func scanRoom(row rowScanner) (Room, error) {
	var (
		r         Room
		deletedAt sql.NullTime
	)
	err := row.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Name,
		&r.Description,
		&r.OwnerId,
		&r.SeqId,
		&r.CreatedAt,
		&r.UpdatedAt,
		&deletedAt,
	)
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return r, err
}

func (db *PgRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, password_hash, role, active, created_at, updated_at) "+
			"VALUES ($1, $2, $3, TRUE, $4, $4) RETURNING "+userColumns,
		params.Username,
		params.PasswordHash,
		params.Role,
		now,
	)

	u, err := scanUser(row)
	return u, classify(err, types.ErrAlreadyExists)
}

func (db *PgRepository) UpdateUser(ctx context.Context, params UpdateUserParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING "+userColumns,
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	u, err := scanUser(row)
	return u, classify(err, types.ErrAlreadyExists)
}

func (db *PgRepository) SetUserRole(ctx context.Context, userId int, role string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE accounts SET role = $2, updated_at = $3 WHERE id = $1 RETURNING "+userColumns,
		userId,
		role,
		time.Now().UTC(),
	)

	u, err := scanUser(row)
	return u, classify(err, nil)
}

func (db *PgRepository) SetUserActive(ctx context.Context, userId int, active bool) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE accounts SET active = $2, updated_at = $3 WHERE id = $1 RETURNING "+userColumns,
		userId,
		active,
		time.Now().UTC(),
	)

	u, err := scanUser(row)
	return u, classify(err, nil)
}

func (db *PgRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		userId,
	)

	u, err := scanUser(row)
	return u, classify(err, nil)
}

func (db *PgRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM accounts WHERE username = $1 LIMIT 1",
		username,
	)

	u, err := scanUser(row)
	return u, classify(err, nil)
}

func (db *PgRepository) CountSuperusers(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT count(*) FROM accounts WHERE role = $1 AND active",
		string(types.RoleSuperuser),
	).Scan(&n)

	return n, classify(err, nil)
}

// CreateRoom inserts the room and its owner membership in one transaction.
func (db *PgRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	var room Room
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx,
			"INSERT INTO rooms (external_id, name, description, owner_id, seq_id, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, 0, $5, $5) RETURNING "+roomColumns,
			params.ExternalId,
			params.Name,
			params.Description,
			params.OwnerId,
			now,
		)

		var err error
		room, err = scanRoom(row)
		if err != nil {
			return classify(err, types.ErrAlreadyExists)
		}

		_, err = tx.ExecContext(ctx, createMemberQuery, room.Id, params.OwnerId, string(types.MemberRoleOwner), now)
		return classify(err, types.ErrAlreadyMember)
	})
	if err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1",
		roomId,
	)

	r, err := scanRoom(row)
	return r, classify(err, nil)
}

func (db *PgRepository) GetRoomByExternalId(ctx context.Context, externalId string) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	r, err := scanRoom(row)
	return r, classify(err, nil)
}

// DeleteRoom marks the room deleted and moves its memberships to
// former_members. Messages are kept.
func (db *PgRepository) DeleteRoom(ctx context.Context, roomId int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			"UPDATE rooms SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL",
			roomId,
			now,
		)
		if err != nil {
			return classify(err, nil)
		}
		if n, err := res.RowsAffected(); err != nil {
			return classify(err, nil)
		} else if n == 0 {
			return types.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO former_members (room_id, account_id, left_at) "+
				"SELECT room_id, account_id, $2 FROM members WHERE room_id = $1 "+
				"ON CONFLICT (room_id, account_id) DO UPDATE SET left_at = EXCLUDED.left_at",
			roomId,
			now,
		); err != nil {
			return classify(err, nil)
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM members WHERE room_id = $1", roomId)
		return classify(err, nil)
	})
}

func (db *PgRepository) ListRoomsForUser(ctx context.Context, userId int) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT r.id, r.external_id, r.name, r.description, r.owner_id, r.seq_id, r.created_at, r.updated_at, r.deleted_at "+
			"FROM members m JOIN rooms r ON r.id = m.room_id "+
			"WHERE m.account_id = $1 AND r.deleted_at IS NULL ORDER BY r.id",
		userId,
	)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}

	return rooms, classify(rows.Err(), nil)
}

// CreateMember adds an ordinary membership to a live room.
func (db *PgRepository) CreateMember(ctx context.Context, roomId, userId int) (Member, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO members (room_id, account_id, role, joined_at) "+
			"SELECT id, $2, $3, $4 FROM rooms WHERE id = $1 AND deleted_at IS NULL "+
			"RETURNING room_id, account_id, role, last_read_seq_id, joined_at",
		roomId,
		userId,
		string(types.MemberRoleMember),
		now,
	)

	var m Member
	err := row.Scan(&m.RoomId, &m.AccountId, &m.Role, &m.LastReadSeqId, &m.JoinedAt)
	return m, classify(err, types.ErrAlreadyMember)
}

func (db *PgRepository) GetMember(ctx context.Context, roomId, userId int) (Member, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT m.room_id, m.account_id, a.username, m.role, m.last_read_seq_id, m.joined_at "+
			"FROM members m JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.room_id = $1 AND m.account_id = $2",
		roomId,
		userId,
	)

	var m Member
	err := row.Scan(&m.RoomId, &m.AccountId, &m.Username, &m.Role, &m.LastReadSeqId, &m.JoinedAt)
	return m, classify(err, nil)
}

func (db *PgRepository) ListMembers(ctx context.Context, roomId int) ([]Member, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.room_id, m.account_id, a.username, m.role, m.last_read_seq_id, m.joined_at "+
			"FROM members m JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.room_id = $1 ORDER BY m.joined_at, m.account_id",
		roomId,
	)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.RoomId, &m.AccountId, &m.Username, &m.Role, &m.LastReadSeqId, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}

	return members, classify(rows.Err(), nil)
}

// DeleteMember removes a non-owner membership and records it as a former
// membership. Removing the owner row fails with ErrInvariantViolation.
func (db *PgRepository) DeleteMember(ctx context.Context, roomId, userId int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var role string
		err := tx.QueryRowContext(ctx,
			"SELECT role FROM members WHERE room_id = $1 AND account_id = $2 FOR UPDATE",
			roomId,
			userId,
		).Scan(&role)
		if err != nil {
			return classify(err, nil)
		}

		if role == string(types.MemberRoleOwner) {
			return fmt.Errorf("%w: room %d would be left without an owner", types.ErrInvariantViolation, roomId)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM members WHERE room_id = $1 AND account_id = $2",
			roomId,
			userId,
		); err != nil {
			return classify(err, nil)
		}

		_, err = tx.ExecContext(ctx, formerMemberQuery, roomId, userId, time.Now().UTC())
		return classify(err, nil)
	})
}

func (db *PgRepository) WasMember(ctx context.Context, roomId, userId int) (bool, error) {
	var ok bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM members WHERE room_id = $1 AND account_id = $2) "+
			"OR EXISTS (SELECT 1 FROM former_members WHERE room_id = $1 AND account_id = $2)",
		roomId,
		userId,
	).Scan(&ok)

	return ok, classify(err, nil)
}

// TransferOwnership swaps the owner role between two membership rows and
// updates rooms.owner_id, all under a row lock on the room.
func (db *PgRepository) TransferOwnership(ctx context.Context, roomId, fromUserId, toUserId int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var ownerId int
		err := tx.QueryRowContext(ctx,
			"SELECT owner_id FROM rooms WHERE id = $1 AND deleted_at IS NULL FOR UPDATE",
			roomId,
		).Scan(&ownerId)
		if err != nil {
			return classify(err, nil)
		}
		if ownerId != fromUserId {
			return fmt.Errorf("%w: user %d does not own room %d", types.ErrInvariantViolation, fromUserId, roomId)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE members SET role = $3 WHERE room_id = $1 AND account_id = $2",
			roomId,
			fromUserId,
			string(types.MemberRoleMember),
		)
		if err != nil {
			return classify(err, nil)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("%w: owner membership missing for room %d", types.ErrInvariantViolation, roomId)
		}

		res, err = tx.ExecContext(ctx,
			"UPDATE members SET role = $3 WHERE room_id = $1 AND account_id = $2",
			roomId,
			toUserId,
			string(types.MemberRoleOwner),
		)
		if err != nil {
			return classify(err, nil)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return types.ErrNotFound
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE rooms SET owner_id = $2, updated_at = $3 WHERE id = $1",
			roomId,
			toUserId,
			time.Now().UTC(),
		)
		return classify(err, nil)
	})
}

func (db *PgRepository) UpdateLastReadSeqId(ctx context.Context, roomId, userId, seqId int) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE members SET last_read_seq_id = $3 WHERE room_id = $1 AND account_id = $2",
		roomId,
		userId,
		seqId,
	)
	if err != nil {
		return classify(err, nil)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}

	return nil
}

// AppendMessage allocates the room's next sequence number and inserts the
// message in the same transaction. The UPDATE takes the room row lock, so
// concurrent appends to one room serialize and a rollback never leaves a gap.
func (db *PgRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (Message, error) {
	msg := Message{
		RoomId:    params.RoomId,
		UserId:    params.UserId,
		Content:   params.Content,
		CreatedAt: params.CreatedAt,
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"UPDATE rooms SET seq_id = seq_id + 1, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL RETURNING seq_id",
			params.RoomId,
			params.CreatedAt,
		).Scan(&msg.SeqId)
		if err != nil {
			return classify(err, nil)
		}

		err = tx.QueryRowContext(ctx,
			"INSERT INTO messages (room_id, account_id, seq_id, content, created_at) "+
				"VALUES ($1, $2, $3, $4, $5) RETURNING id",
			params.RoomId,
			params.UserId,
			msg.SeqId,
			params.Content,
			params.CreatedAt,
		).Scan(&msg.Id)
		return classify(err, types.ErrInvariantViolation)
	})
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

// GetMessages returns up to limit messages with seq_id > since in ascending
// order.
func (db *PgRepository) GetMessages(ctx context.Context, roomId, since, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, seq_id, room_id, account_id, content, created_at FROM messages "+
			"WHERE room_id = $1 AND seq_id > $2 ORDER BY seq_id ASC LIMIT $3",
		roomId,
		since,
		limit,
	)
	if err != nil {
		return nil, classify(err, nil)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.SeqId, &msg.RoomId, &msg.UserId, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, classify(rows.Err(), nil)
}
