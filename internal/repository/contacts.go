package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/phone"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContactsRepository 联系人仓库（Controller 角色）
// 唯一性约束建立在归一化号码上，避免同一号码以不同格式重复登记
type ContactsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewContactsRepository 创建联系人仓库
func NewContactsRepository(db *sql.DB, logger *zap.Logger) *ContactsRepository {
	return &ContactsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateContact 创建联系人，返回生成的 contact_id
func (r *ContactsRepository) CreateContact(ctx context.Context, c *models.Contact) (string, error) {
	if c.PhoneNumber == "" {
		return "", fmt.Errorf("phone_number is required")
	}
	normalized := phone.Normalize(c.PhoneNumber)
	if normalized == "" {
		return "", fmt.Errorf("phone_number has no digits: %s", c.PhoneNumber)
	}

	contactID := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO contacts (contact_id, display_name, phone_number, normalized_phone, secret_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		contactID, c.DisplayName, c.PhoneNumber, normalized, c.SecretCode, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create contact: %w", err)
	}

	r.logger.Info("Contact created",
		zap.String("contact_id", contactID),
		zap.String("normalized_phone", normalized),
	)
	return contactID, nil
}

// GetContact 根据 contact_id 获取联系人
func (r *ContactsRepository) GetContact(ctx context.Context, contactID string) (*models.Contact, error) {
	query := `
		SELECT contact_id, display_name, phone_number, secret_code, created_at, updated_at
		FROM contacts
		WHERE contact_id = $1`

	var c models.Contact
	var secretCode sql.NullString
	err := r.db.QueryRowContext(ctx, query, contactID).Scan(
		&c.ID, &c.DisplayName, &c.PhoneNumber, &secretCode, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("contact not found: %s", contactID)
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	c.SecretCode = secretCode.String
	return &c, nil
}

// ListContacts 列出所有联系人
func (r *ContactsRepository) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	query := `
		SELECT contact_id, display_name, phone_number, secret_code, created_at, updated_at
		FROM contacts
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		var c models.Contact
		var secretCode sql.NullString
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.PhoneNumber, &secretCode, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		c.SecretCode = secretCode.String
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}

// UpdateContact 更新联系人信息
func (r *ContactsRepository) UpdateContact(ctx context.Context, c *models.Contact) error {
	if c.ID == "" {
		return fmt.Errorf("contact_id is required")
	}
	normalized := phone.Normalize(c.PhoneNumber)
	if normalized == "" {
		return fmt.Errorf("phone_number has no digits: %s", c.PhoneNumber)
	}

	query := `
		UPDATE contacts
		SET display_name = $2, phone_number = $3, normalized_phone = $4, secret_code = $5, updated_at = $6
		WHERE contact_id = $1`

	result, err := r.db.ExecContext(ctx, query,
		c.ID, c.DisplayName, c.PhoneNumber, normalized, c.SecretCode, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("contact not found: %s", c.ID)
	}
	return nil
}

// DeleteContact 删除联系人
func (r *ContactsRepository) DeleteContact(ctx context.Context, contactID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE contact_id = $1`, contactID)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("contact not found: %s", contactID)
	}
	return nil
}

// FindByPhone 按号码匹配联系人（宽松匹配，归一化后比较）
// 返回第一个匹配项，无匹配时返回 nil（不视为错误）
func (r *ContactsRepository) FindByPhone(ctx context.Context, phoneNumber string) (*models.Contact, error) {
	contacts, err := r.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if phone.Matches(c.PhoneNumber, phoneNumber) {
			return c, nil
		}
	}
	return nil, nil
}
