package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"threadline.app/feedback/core/db"
	"threadline.app/feedback/internal/model"
)

type userRow struct {
	ID                             string    `db:"id"`
	Username                       string    `db:"username"`
	Email                          string    `db:"email"`
	CanReceiveFeedbackMessageEmail bool      `db:"can_receive_feedback_message_email"`
	CreatedAt                      time.Time `db:"created_at"`
}

const userColumns = `id, username, email, can_receive_feedback_message_email, created_at`

type userStore struct {
	db db.DBTX
}

func newUserStore(conn db.DBTX) UserStore {
	return &userStore{db: conn}
}

func (s *userStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[userRow])
	if err != nil {
		return nil, mapErr(err)
	}
	return toUserModel(row), nil
}

func (s *userStore) GetByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[userRow])
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.User, len(list))
	for _, row := range list {
		out[row.ID] = toUserModel(row)
	}
	return out, nil
}

func (s *userStore) Upsert(ctx context.Context, u *model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, username, email, can_receive_feedback_message_email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			can_receive_feedback_message_email = EXCLUDED.can_receive_feedback_message_email`,
		u.ID, u.Username, u.Email, u.CanReceiveFeedbackMessageEmail,
	)
	return mapErr(err)
}

func (s *userStore) GetEntityPreference(ctx context.Context, userID, entityType, entityID string) (*model.EntityPreference, error) {
	pref := &model.EntityPreference{UserID: userID, EntityType: entityType, EntityID: entityID}
	err := s.db.QueryRow(ctx, `
		SELECT mute_feedback_notifications FROM user_entity_preferences
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3`,
		userID, entityType, entityID,
	).Scan(&pref.MuteFeedbackNotifications)
	if err != nil {
		return nil, mapErr(err)
	}
	return pref, nil
}

func (s *userStore) SetEntityPreference(ctx context.Context, p *model.EntityPreference) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_entity_preferences (user_id, entity_type, entity_id, mute_feedback_notifications)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, entity_type, entity_id)
		DO UPDATE SET mute_feedback_notifications = EXCLUDED.mute_feedback_notifications`,
		p.UserID, p.EntityType, p.EntityID, p.MuteFeedbackNotifications,
	)
	return mapErr(err)
}

func toUserModel(row userRow) *model.User {
	return &model.User{
		ID:                             row.ID,
		Username:                       row.Username,
		Email:                          row.Email,
		CanReceiveFeedbackMessageEmail: row.CanReceiveFeedbackMessageEmail,
		CreatedAt:                      row.CreatedAt,
	}
}
