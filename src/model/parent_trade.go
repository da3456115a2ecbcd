package model

import (
	"database/sql"
	"time"

	"github.com/williams2w4/tradej/src/models"
)

// TradeWithAsset pairs a parent trade with its asset row, which query
// filters and presentation both need.
type TradeWithAsset struct {
	Trade models.ParentTrade
	Asset models.Asset
}

// TradeFilter narrows trade queries. Zero values mean "no constraint".
type TradeFilter struct {
	AssetCode string
	AssetType models.AssetType
	Direction models.TradeDirection
	Start     *time.Time // open_time >= Start
	End       *time.Time // open_time <= End
}

const tradeSelectColumns = `
	pt.id, pt.asset_id, pt.direction, pt.quantity, pt.open_time, pt.close_time,
	pt.open_price, pt.close_price, pt.total_commission, pt.profit_loss, pt.currency,
	pt.created_at, pt.updated_at,
	a.id, a.code, a.name, a.asset_type, a.exchange, a.timezone, a.created_at, a.updated_at`

// ListParentTrades returns trades matching the filter, newest open_time first.
func ListParentTrades(q Querier, filter TradeFilter) ([]TradeWithAsset, error) {
	query := `
	SELECT` + tradeSelectColumns + `
	FROM parent_trades pt
	JOIN assets a ON a.id = pt.asset_id
	WHERE 1=1`
	var args []any

	if filter.AssetCode != "" {
		query += " AND a.code = ?"
		args = append(args, filter.AssetCode)
	}
	if filter.AssetType != "" {
		query += " AND a.asset_type = ?"
		args = append(args, string(filter.AssetType))
	}
	if filter.Direction != "" {
		query += " AND pt.direction = ?"
		args = append(args, string(filter.Direction))
	}
	if filter.Start != nil {
		query += " AND pt.open_time >= ?"
		args = append(args, encodeTime(*filter.Start))
	}
	if filter.End != nil {
		query += " AND pt.open_time <= ?"
		args = append(args, encodeTime(*filter.End))
	}
	query += " ORDER BY pt.open_time DESC, pt.id DESC"

	return queryTrades(q, query, args...)
}

// GetOpenParentTradesByAssetCodes returns every still-open trade for the
// given instrument codes, with fills to be fetched separately. The import
// service merges these into the new batch so aggregation spans batches.
func GetOpenParentTradesByAssetCodes(q Querier, codes []string) ([]TradeWithAsset, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	query := `
	SELECT` + tradeSelectColumns + `
	FROM parent_trades pt
	JOIN assets a ON a.id = pt.asset_id
	WHERE pt.close_time IS NULL AND a.code IN (` + placeholders(len(codes)) + `)
	ORDER BY pt.id`
	args := make([]any, len(codes))
	for i, code := range codes {
		args[i] = code
	}
	return queryTrades(q, query, args...)
}

// GetParentTradeIDsOwningFills returns the distinct ids of parent trades,
// open or closed, owning any fill that matches one of the given
// (source, trade_time) pairs. Used by override-mode imports to decide which
// persisted trades to replace wholesale.
func GetParentTradeIDsOwningFills(q Querier, keys []FillKey) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query := `
	SELECT DISTINCT parent_trade_id
	FROM trade_fills
	WHERE (source, trade_time) IN (VALUES `
	var args []any
	for i, key := range keys {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?)"
		args = append(args, key.Source, encodeTime(key.TradeTime))
	}
	query += ")"

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateParentTrade inserts a new parent trade and sets its ID.
func CreateParentTrade(q Querier, trade *models.ParentTrade) error {
	now := time.Now().UTC()
	trade.CreatedAt = now
	trade.UpdatedAt = now

	res, err := q.Exec(`
	INSERT INTO parent_trades (asset_id, direction, quantity, open_time, close_time,
		open_price, close_price, total_commission, profit_loss, currency, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.AssetID, string(trade.Direction), encodeDecimal(trade.Quantity),
		encodeTime(trade.OpenTime), encodeNullTime(trade.CloseTime),
		encodeNullDecimal(trade.OpenPrice), encodeNullDecimal(trade.ClosePrice),
		encodeDecimal(trade.TotalCommission), encodeDecimal(trade.ProfitLoss),
		trade.Currency, encodeTime(trade.CreatedAt), encodeTime(trade.UpdatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	trade.ID = id
	return nil
}

// UpdateParentTrade rewrites the aggregated columns of an existing trade.
func UpdateParentTrade(q Querier, trade *models.ParentTrade) error {
	trade.UpdatedAt = time.Now().UTC()
	_, err := q.Exec(`
	UPDATE parent_trades
	SET direction = ?, quantity = ?, open_time = ?, close_time = ?,
		open_price = ?, close_price = ?, total_commission = ?, profit_loss = ?,
		currency = ?, updated_at = ?
	WHERE id = ?`,
		string(trade.Direction), encodeDecimal(trade.Quantity),
		encodeTime(trade.OpenTime), encodeNullTime(trade.CloseTime),
		encodeNullDecimal(trade.OpenPrice), encodeNullDecimal(trade.ClosePrice),
		encodeDecimal(trade.TotalCommission), encodeDecimal(trade.ProfitLoss),
		trade.Currency, encodeTime(trade.UpdatedAt), trade.ID)
	return err
}

// DeleteParentTrade removes one parent trade together with its fills. A
// position once closed is an atomic fact; partial fill deletion would
// desynchronize the weighted prices.
func DeleteParentTrade(q Querier, tradeID int64) error {
	if _, err := q.Exec("DELETE FROM trade_fills WHERE parent_trade_id = ?", tradeID); err != nil {
		return err
	}
	_, err := q.Exec("DELETE FROM parent_trades WHERE id = ?", tradeID)
	return err
}

// DeleteAllTrades wipes every fill and parent trade.
func DeleteAllTrades(q Querier) error {
	if _, err := q.Exec("DELETE FROM trade_fills"); err != nil {
		return err
	}
	_, err := q.Exec("DELETE FROM parent_trades")
	return err
}

func queryTrades(q Querier, query string, args ...any) ([]TradeWithAsset, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeWithAsset
	for rows.Next() {
		var (
			item                      TradeWithAsset
			direction, assetType      string
			quantity, commission, pnl string
			openTime                  string
			closeTime                 sql.NullString
			openPrice, closePrice     sql.NullString
			tCreated, tUpdated        string
			name, exchange            sql.NullString
			aCreated, aUpdated        string
		)
		if err := rows.Scan(
			&item.Trade.ID, &item.Trade.AssetID, &direction, &quantity, &openTime, &closeTime,
			&openPrice, &closePrice, &commission, &pnl, &item.Trade.Currency,
			&tCreated, &tUpdated,
			&item.Asset.ID, &item.Asset.Code, &name, &assetType, &exchange,
			&item.Asset.Timezone, &aCreated, &aUpdated,
		); err != nil {
			return nil, err
		}

		item.Trade.Direction = models.TradeDirection(direction)
		item.Asset.AssetType = models.AssetType(assetType)
		item.Asset.Name = name.String
		item.Asset.Exchange = exchange.String

		if item.Trade.Quantity, err = parseDecimal(quantity); err != nil {
			return nil, err
		}
		if item.Trade.TotalCommission, err = parseDecimal(commission); err != nil {
			return nil, err
		}
		if item.Trade.ProfitLoss, err = parseDecimal(pnl); err != nil {
			return nil, err
		}
		if item.Trade.OpenTime, err = parseTime(openTime); err != nil {
			return nil, err
		}
		if item.Trade.CloseTime, err = parseNullTime(closeTime); err != nil {
			return nil, err
		}
		if item.Trade.OpenPrice, err = parseNullDecimal(openPrice); err != nil {
			return nil, err
		}
		if item.Trade.ClosePrice, err = parseNullDecimal(closePrice); err != nil {
			return nil, err
		}
		if item.Trade.CreatedAt, err = parseTime(tCreated); err != nil {
			return nil, err
		}
		if item.Trade.UpdatedAt, err = parseTime(tUpdated); err != nil {
			return nil, err
		}
		if item.Asset.CreatedAt, err = parseTime(aCreated); err != nil {
			return nil, err
		}
		if item.Asset.UpdatedAt, err = parseTime(aUpdated); err != nil {
			return nil, err
		}

		trades = append(trades, item)
	}
	return trades, rows.Err()
}
