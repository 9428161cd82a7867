package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/phone"

	"go.uber.org/zap"
)

// TrustedRepository 可信发送者仓库（Responder 角色）
type TrustedRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTrustedRepository 创建可信发送者仓库
func NewTrustedRepository(db *sql.DB, logger *zap.Logger) *TrustedRepository {
	return &TrustedRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertTrustedSender 新增或更新可信发送者（按归一化号码唯一）
func (r *TrustedRepository) UpsertTrustedSender(ctx context.Context, t *models.TrustedSender) error {
	if t.PhoneNumber == "" || t.Keyword == "" {
		return fmt.Errorf("phone_number and keyword are required")
	}
	normalized := phone.Normalize(t.PhoneNumber)
	if normalized == "" {
		return fmt.Errorf("phone_number has no digits: %s", t.PhoneNumber)
	}

	query := `
		INSERT INTO trusted_senders (phone_number, normalized_phone, keyword, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (normalized_phone)
		DO UPDATE SET phone_number = EXCLUDED.phone_number, keyword = EXCLUDED.keyword`

	_, err := r.db.ExecContext(ctx, query, t.PhoneNumber, normalized, t.Keyword, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert trusted sender: %w", err)
	}

	r.logger.Info("Trusted sender saved",
		zap.String("normalized_phone", normalized),
	)
	return nil
}

// ListTrustedSenders 列出所有可信发送者
func (r *TrustedRepository) ListTrustedSenders(ctx context.Context) ([]*models.TrustedSender, error) {
	query := `
		SELECT phone_number, keyword, created_at
		FROM trusted_senders
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted senders: %w", err)
	}
	defer rows.Close()

	var senders []*models.TrustedSender
	for rows.Next() {
		var t models.TrustedSender
		if err := rows.Scan(&t.PhoneNumber, &t.Keyword, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trusted sender: %w", err)
		}
		senders = append(senders, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trusted senders: %w", err)
	}
	return senders, nil
}

// DeleteTrustedSender 按号码删除可信发送者
func (r *TrustedRepository) DeleteTrustedSender(ctx context.Context, phoneNumber string) error {
	normalized := phone.Normalize(phoneNumber)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM trusted_senders WHERE normalized_phone = $1`, normalized)
	if err != nil {
		return fmt.Errorf("failed to delete trusted sender: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("trusted sender not found: %s", phoneNumber)
	}
	return nil
}
