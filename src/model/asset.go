package model

import (
	"database/sql"
	"errors"
	"time"

	"github.com/williams2w4/tradej/src/models"
)

// GetAssetByCode returns the asset with the given code, or nil when no such
// asset exists yet.
func GetAssetByCode(q Querier, code string) (*models.Asset, error) {
	row := q.QueryRow(`
	SELECT id, code, name, asset_type, exchange, timezone, created_at, updated_at
	FROM assets
	WHERE code = ?`, code)

	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return asset, err
}

// CreateAsset inserts a new asset and sets its ID.
func CreateAsset(q Querier, asset *models.Asset) error {
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	res, err := q.Exec(`
	INSERT INTO assets (code, name, asset_type, exchange, timezone, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		asset.Code, asset.Name, string(asset.AssetType), asset.Exchange, asset.Timezone,
		encodeTime(asset.CreatedAt), encodeTime(asset.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	asset.ID = id
	return nil
}

// UpdateAssetMetadata backfills exchange/timezone observed on a later import.
func UpdateAssetMetadata(q Querier, asset *models.Asset) error {
	asset.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(`
	UPDATE assets SET exchange = ?, timezone = ?, updated_at = ?
	WHERE id = ?`,
		asset.Exchange, asset.Timezone, encodeTime(asset.UpdatedAt), asset.ID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*models.Asset, error) {
	var (
		asset              models.Asset
		name, exchange     sql.NullString
		assetType          string
		createdAt, updated string
	)
	if err := row.Scan(&asset.ID, &asset.Code, &name, &assetType, &exchange,
		&asset.Timezone, &createdAt, &updated); err != nil {
		return nil, err
	}
	asset.Name = name.String
	asset.Exchange = exchange.String
	asset.AssetType = models.AssetType(assetType)

	var err error
	if asset.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if asset.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &asset, nil
}
