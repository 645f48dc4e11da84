package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/model"
)

type messageRow struct {
	ThreadID       string    `db:"thread_id"`
	MessageID      int32     `db:"message_id"`
	AuthorID       *string   `db:"author_id"`
	UpdatedStatus  *string   `db:"updated_status"`
	UpdatedSubject *string   `db:"updated_subject"`
	Text           string    `db:"text"`
	CreatedOn      time.Time `db:"created_on"`
}

const messageColumns = `thread_id, message_id, author_id, updated_status, updated_subject, text, created_on`

type messageStore struct {
	db db.DBTX
}

func newMessageStore(conn db.DBTX) MessageStore {
	return &messageStore{db: conn}
}

func (s *messageStore) Create(ctx context.Context, m *model.Message) error {
	var status *string
	if m.UpdatedStatus != nil {
		v := string(*m.UpdatedStatus)
		status = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ThreadID, m.MessageID, m.AuthorID, status, m.UpdatedSubject, m.Text, m.CreatedOn,
	)
	return mapErr(err)
}

func (s *messageStore) Get(ctx context.Context, threadID string, messageID int) (*model.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM feedback_messages
		WHERE thread_id = $1 AND message_id = $2`,
		threadID, messageID,
	)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		return nil, mapErr(err)
	}
	return toMessageModel(row), nil
}

func (s *messageStore) ListByThread(ctx context.Context, threadID string) ([]model.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM feedback_messages
		WHERE thread_id = $1 ORDER BY message_id`,
		threadID,
	)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, len(list))
	for i, row := range list {
		out[i] = *toMessageModel(row)
	}
	return out, nil
}

func (s *messageStore) GetMulti(ctx context.Context, refs []model.MessageReference) (map[string]model.Message, error) {
	threadIDs := make([]string, len(refs))
	messageIDs := make([]int32, len(refs))
	for i, ref := range refs {
		threadIDs[i], messageIDs[i] = ref.ThreadID, int32(ref.MessageID)
	}
	rows, err := s.db.Query(ctx, `
		SELECT m.thread_id, m.message_id, m.author_id, m.updated_status, m.updated_subject, m.text, m.created_on
		FROM feedback_messages m
		JOIN unnest($1::text[], $2::int[]) AS r(thread_id, message_id)
		  ON m.thread_id = r.thread_id AND m.message_id = r.message_id`,
		threadIDs, messageIDs,
	)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Message, len(list))
	for _, row := range list {
		m := toMessageModel(row)
		out[m.FullID()] = *m
	}
	return out, nil
}

func (s *messageStore) Stats(ctx context.Context, threadIDs []string) (map[string]MessageStat, error) {
	rows, err := s.db.Query(ctx, `
		SELECT thread_id, COUNT(*), MAX(message_id)
		FROM feedback_messages WHERE thread_id = ANY($1)
		GROUP BY thread_id`,
		threadIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]MessageStat, len(threadIDs))
	for _, id := range threadIDs {
		out[id] = MessageStat{ThreadID: id, MaxMessageID: -1}
	}
	for rows.Next() {
		var (
			stat  MessageStat
			count int64
			max   int32
		)
		if err := rows.Scan(&stat.ThreadID, &count, &max); err != nil {
			return nil, err
		}
		stat.Count, stat.MaxMessageID = int(count), int(max)
		out[stat.ThreadID] = stat
	}
	return out, rows.Err()
}

func (s *messageStore) Delete(ctx context.Context, threadID string, messageID int) error {
	return expectOne(s.db.Exec(ctx,
		`DELETE FROM feedback_messages WHERE thread_id = $1 AND message_id = $2`, threadID, messageID))
}

func toMessageModel(row messageRow) *model.Message {
	m := &model.Message{
		ThreadID:       row.ThreadID,
		MessageID:      int(row.MessageID),
		AuthorID:       row.AuthorID,
		UpdatedSubject: row.UpdatedSubject,
		Text:           row.Text,
		CreatedOn:      row.CreatedOn,
	}
	if row.UpdatedStatus != nil {
		st := model.ThreadStatus(*row.UpdatedStatus)
		m.UpdatedStatus = &st
	}
	return m
}
