package store

import (
	"context"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/model"
)

type threadUserStore struct {
	db db.DBTX
}

func newThreadUserStore(conn db.DBTX) ThreadUserStore {
	return &threadUserStore{db: conn}
}

func (s *threadUserStore) Get(ctx context.Context, userID, threadID string) (*model.ThreadUser, error) {
	var read []int32
	err := s.db.QueryRow(ctx, `
		SELECT message_ids_read FROM feedback_thread_users
		WHERE user_id = $1 AND thread_id = $2`,
		userID, threadID,
	).Scan(&read)
	if err != nil {
		return nil, mapErr(err)
	}
	return &model.ThreadUser{UserID: userID, ThreadID: threadID, MessageIDsRead: ints(read)}, nil
}

func (s *threadUserStore) GetMulti(ctx context.Context, userID string, threadIDs []string) (map[string]*model.ThreadUser, error) {
	rows, err := s.db.Query(ctx, `
		SELECT thread_id, message_ids_read FROM feedback_thread_users
		WHERE user_id = $1 AND thread_id = ANY($2)`,
		userID, threadIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*model.ThreadUser)
	for rows.Next() {
		var (
			threadID string
			read     []int32
		)
		if err := rows.Scan(&threadID, &read); err != nil {
			return nil, err
		}
		out[threadID] = &model.ThreadUser{UserID: userID, ThreadID: threadID, MessageIDsRead: ints(read)}
	}
	return out, rows.Err()
}

func (s *threadUserStore) Upsert(ctx context.Context, tu *model.ThreadUser) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback_thread_users (user_id, thread_id, message_ids_read)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, thread_id) DO UPDATE SET message_ids_read = EXCLUDED.message_ids_read`,
		tu.UserID, tu.ThreadID, int32s(tu.MessageIDsRead),
	)
	return mapErr(err)
}

func (s *threadUserStore) MarkRead(ctx context.Context, userID, threadID string, messageIDs []int) error {
	tu := model.ThreadUser{UserID: userID, ThreadID: threadID}
	tu.MarkRead(messageIDs...)
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback_thread_users (user_id, thread_id, message_ids_read)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, thread_id) DO UPDATE SET message_ids_read = ARRAY(
			SELECT u.id
			FROM unnest(feedback_thread_users.message_ids_read || EXCLUDED.message_ids_read)
				WITH ORDINALITY AS u(id, ord)
			GROUP BY u.id
			ORDER BY min(u.ord)
		)`,
		userID, threadID, int32s(tu.MessageIDsRead),
	)
	return mapErr(err)
}
