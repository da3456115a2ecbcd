package model

import (
	"database/sql"
	"errors"
	"time"

	"github.com/williams2w4/tradej/src/models"
)

// GetUserSetting returns the singleton settings row, or nil when none has
// been saved yet.
func GetUserSetting(q Querier) (*models.UserSetting, error) {
	row := q.QueryRow(`
	SELECT id, timezone, currency, created_at, updated_at
	FROM user_settings
	ORDER BY id
	LIMIT 1`)

	var (
		setting            models.UserSetting
		createdAt, updated string
	)
	err := row.Scan(&setting.ID, &setting.Timezone, &setting.Currency, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if setting.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if setting.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &setting, nil
}

// SaveUserSetting inserts the settings row on first save, updates it after.
func SaveUserSetting(q Querier, setting *models.UserSetting) error {
	now := time.Now().UTC()
	setting.UpdatedAt = now

	if setting.ID == 0 {
		setting.CreatedAt = now
		res, err := q.Exec(`
		INSERT INTO user_settings (timezone, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
			setting.Timezone, setting.Currency, encodeTime(setting.CreatedAt), encodeTime(setting.UpdatedAt))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		setting.ID = id
		return nil
	}

	_, err := q.Exec(`
	UPDATE user_settings SET timezone = ?, currency = ?, updated_at = ?
	WHERE id = ?`,
		setting.Timezone, setting.Currency, encodeTime(setting.UpdatedAt), setting.ID)
	return err
}
