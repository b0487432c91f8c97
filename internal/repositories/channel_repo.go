package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/channelads/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) Create(ctx context.Context, ch *models.Channel) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO channels (username, title, added_by_user_id, bot_status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, ch.Username, ch.Title, ch.AddedByUserID, ch.BotStatus).Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
}

func (r *ChannelRepo) UpsertByUsername(ctx context.Context, ch *models.Channel) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO channels (username, telegram_chat_id, title, added_by_user_id, bot_status, bot_added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO UPDATE SET
			telegram_chat_id = COALESCE(EXCLUDED.telegram_chat_id, channels.telegram_chat_id),
			title = COALESCE(EXCLUDED.title, channels.title),
			added_by_user_id = COALESCE(EXCLUDED.added_by_user_id, channels.added_by_user_id),
			bot_status = EXCLUDED.bot_status,
			bot_added_at = COALESCE(EXCLUDED.bot_added_at, channels.bot_added_at),
			updated_at = now()
		RETURNING id, created_at, updated_at
	`, ch.Username, ch.TelegramChatID, ch.Title, ch.AddedByUserID, ch.BotStatus, ch.BotAddedAt).Scan(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	var ch models.Channel
	err := r.pool.QueryRow(ctx, `
		SELECT id, telegram_chat_id, username, title, added_by_user_id, bot_status, userbot_status,
		       bot_added_at, bot_removed_at, created_at, updated_at
		FROM channels WHERE id = $1
	`, id).Scan(&ch.ID, &ch.TelegramChatID, &ch.Username, &ch.Title, &ch.AddedByUserID,
		&ch.BotStatus, &ch.UserbotStatus, &ch.BotAddedAt, &ch.BotRemovedAt, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepo) GetByUsername(ctx context.Context, username string) (*models.Channel, error) {
	var ch models.Channel
	err := r.pool.QueryRow(ctx, `
		SELECT id, telegram_chat_id, username, title, added_by_user_id, bot_status, userbot_status,
		       bot_added_at, bot_removed_at, created_at, updated_at
		FROM channels WHERE username = $1
	`, username).Scan(&ch.ID, &ch.TelegramChatID, &ch.Username, &ch.Title, &ch.AddedByUserID,
		&ch.BotStatus, &ch.UserbotStatus, &ch.BotAddedAt, &ch.BotRemovedAt, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepo) UpdateBotStatus(ctx context.Context, id uuid.UUID, status string) error {
	if status == "removed" {
		_, err := r.pool.Exec(ctx, `UPDATE channels SET bot_status = $1, bot_removed_at = now(), updated_at = now() WHERE id = $2`, status, id)
		return err
	}
	_, err := r.pool.Exec(ctx, `UPDATE channels SET bot_status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

func (r *ChannelRepo) UpdateUserbotStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE channels SET userbot_status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

type ChannelFilter struct {
	Query     string
	BotStatus *string
	Limit     int
	Offset    int
}

func (r *ChannelRepo) Search(ctx context.Context, f ChannelFilter) ([]models.Channel, error) {
	query := `
		SELECT id, telegram_chat_id, username, title, added_by_user_id, bot_status, userbot_status,
		       bot_added_at, bot_removed_at, created_at, updated_at
		FROM channels
		WHERE 1=1
	`
	args := []any{}
	argIdx := 1

	if f.Query != "" {
		query += fmt.Sprintf(" AND (username ILIKE $%d OR title ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+f.Query+"%")
		argIdx++
	}
	if f.BotStatus != nil {
		query += fmt.Sprintf(" AND bot_status = $%d", argIdx)
		args = append(args, *f.BotStatus)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *ChannelRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]models.Channel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT c.id, c.telegram_chat_id, c.username, c.title, c.added_by_user_id, c.bot_status, c.userbot_status,
		       c.bot_added_at, c.bot_removed_at, c.created_at, c.updated_at
		FROM channels c
		LEFT JOIN channel_members cm ON cm.channel_id = c.id
		WHERE c.added_by_user_id = $1 OR cm.user_id = $1
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannels(rows)
}

func scanChannels(rows pgx.Rows) ([]models.Channel, error) {
	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.TelegramChatID, &ch.Username, &ch.Title, &ch.AddedByUserID,
			&ch.BotStatus, &ch.UserbotStatus, &ch.BotAddedAt, &ch.BotRemovedAt, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// ---- Channel Members ----

func (r *ChannelRepo) AddMember(ctx context.Context, m *models.ChannelMember) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO channel_members (channel_id, user_id, role, can_post, last_admin_check_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (channel_id, user_id) DO UPDATE SET
			role = EXCLUDED.role, can_post = EXCLUDED.can_post, last_admin_check_at = now()
		RETURNING id
	`, m.ChannelID, m.UserID, m.Role, m.CanPost).Scan(&m.ID)
}

func (r *ChannelRepo) GetMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, channel_id, user_id, role, can_post, last_admin_check_at
		FROM channel_members WHERE channel_id = $1
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.ChannelMember
	for rows.Next() {
		var m models.ChannelMember
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Role, &m.CanPost, &m.LastAdminCheckAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func (r *ChannelRepo) CountMembers(ctx context.Context, channelID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channel_members WHERE channel_id = $1`, channelID).Scan(&count)
	return count, err
}

func (r *ChannelRepo) GetMemberByUserAndChannel(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error) {
	var m models.ChannelMember
	err := r.pool.QueryRow(ctx, `
		SELECT id, channel_id, user_id, role, can_post, last_admin_check_at
		FROM channel_members WHERE channel_id = $1 AND user_id = $2
	`, channelID, userID).Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Role, &m.CanPost, &m.LastAdminCheckAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- helper to normalise username ---
func NormalizeUsername(u string) string {
	u = strings.TrimPrefix(u, "@")
	u = strings.TrimPrefix(u, "https://t.me/")
	u = strings.TrimPrefix(u, "http://t.me/")
	return strings.ToLower(strings.TrimSpace(u))
}
