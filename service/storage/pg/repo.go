package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatwave/module/unread/model"
	"chatwave/tools/errs"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the data access the pipeline needs, nothing more. Table names
// are qualified with schema.
type Repo struct {
	pool   *pgxpool.Pool
	schema string
}

func NewRepo(pool *pgxpool.Pool, schema string) *Repo {
	return &Repo{pool: pool, schema: schema}
}

func (r *Repo) table(name string) string {
	if r.schema == "" {
		return pgx.Identifier{name}.Sanitize()
	}
	return pgx.Identifier{r.schema, name}.Sanitize()
}

func (r *Repo) UserExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, r.table("users")), id,
	).Scan(&ok)
	return ok, err
}

func (r *Repo) MissingUsers(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT q.id FROM unnest($1::bigint[]) AS q(id)
		WHERE NOT EXISTS (SELECT 1 FROM %s u WHERE u.id = q.id)
		ORDER BY q.id`, r.table("users")), ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *Repo) Conversations(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT conversation_id FROM %s WHERE user_id = $1 ORDER BY conversation_id`,
		r.table("conversations_members")), userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// Recipients: everyone sharing at least one conversation with userID.
func (r *Repo) Recipients(ctx context.Context, userID int64) ([]int64, error) {
	members := r.table("conversations_members")
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT other.user_id
		FROM %[1]s mine JOIN %[1]s other ON other.conversation_id = mine.conversation_id
		WHERE mine.user_id = $1 AND other.user_id <> $1
		ORDER BY other.user_id`, members), userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *Repo) ConversationMembers(ctx context.Context, conversationID int64) ([]int64, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, r.table("conversations")), conversationID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.ErrRecordNotFound.WrapMsg("conversation")
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT user_id FROM %s WHERE conversation_id = $1 ORDER BY user_id`,
		r.table("conversations_members")), conversationID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *Repo) MessageOwner(ctx context.Context, messageID int64) (int64, error) {
	var sender int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT sender_id FROM %s WHERE id = $1`, r.table("messages")), messageID).Scan(&sender)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.ErrRecordNotFound.WrapMsg("message")
	}
	return sender, err
}

func (r *Repo) LastOnline(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, last_online FROM %s WHERE id = ANY($1) AND last_online IS NOT NULL`,
		r.table("users")), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]time.Time, len(ids))
	for rows.Next() {
		var (
			id int64
			t  time.Time
		)
		if err := rows.Scan(&id, &t); err != nil {
			return nil, err
		}
		out[id] = t.UTC()
	}
	return out, rows.Err()
}

// SaveLastOnline writes all pairs with one UPDATE ... FROM unnest inside a
// transaction. Unknown ids are ignored.
func (r *Repo) SaveLastOnline(ctx context.Context, seen map[int64]time.Time) error {
	ids := make([]int64, 0, len(seen))
	ts := make([]time.Time, 0, len(seen))
	for id, t := range seen {
		ids = append(ids, id)
		ts = append(ts, t.UTC())
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s AS u SET last_online = s.ts
			FROM unnest($1::bigint[], $2::timestamptz[]) AS s(id, ts)
			WHERE u.id = s.id`, r.table("users")), ids, ts)
		return err
	})
}

func (r *Repo) InsertUnread(ctx context.Context, entries []model.Entry) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		q := fmt.Sprintf(
			`INSERT INTO %s (user_id, conversation_id, message_id, call_id) VALUES ($1, $2, $3, $4)`,
			r.table("unread_messages"))
		for _, e := range entries {
			batch.Queue(q, e.UserID, e.ConversationID, e.MessageID, e.CallID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return errs.ErrorRecordIsExist.WrapMsg("unread entry")
	}
	return err
}

func (r *Repo) ListUnread(ctx context.Context, userID int64) ([]model.Entry, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, conversation_id, message_id, call_id, delivered_at
		FROM %s WHERE user_id = $1 ORDER BY id`, r.table("unread_messages")), userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Entry, error) {
		var e model.Entry
		err := row.Scan(&e.ID, &e.UserID, &e.ConversationID, &e.MessageID, &e.CallID, &e.DeliveredAt)
		return e, err
	})
}

func (r *Repo) MarkDelivered(ctx context.Context, ids []int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET delivered_at = $2 WHERE id = ANY($1) AND delivered_at IS NULL`,
		r.table("unread_messages")), ids, at.UTC())
	return err
}

func (r *Repo) DeleteUnread(ctx context.Context, userID, conversationID int64, ref model.Ref) (int64, error) {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE user_id = $1 AND conversation_id = $2
		  AND message_id IS NOT DISTINCT FROM $3 AND call_id IS NOT DISTINCT FROM $4`,
		r.table("unread_messages")), userID, conversationID, ref.MessageID, ref.CallID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
