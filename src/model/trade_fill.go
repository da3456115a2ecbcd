package model

import (
	"database/sql"
	"time"

	"github.com/williams2w4/tradej/src/models"
)

// FillKey identifies one real-world execution: broker trade id plus exact
// execution timestamp. Identifier alone is not enough, brokers reuse ids
// across distinct records over time.
type FillKey struct {
	Source    string
	TradeTime time.Time
}

// CreateTradeFill inserts one fill and sets its ID.
func CreateTradeFill(q Querier, fill *models.TradeFill) error {
	fill.CreatedAt = time.Now().UTC()

	res, err := q.Exec(`
	INSERT INTO trade_fills (parent_trade_id, asset_id, side, quantity, price, commission,
		multiplier, proceeds, net_cash, currency, trade_time, source, order_id,
		import_batch_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.ParentTradeID, fill.AssetID, string(fill.Side),
		encodeDecimal(fill.Quantity), encodeDecimal(fill.Price), encodeDecimal(fill.Commission),
		encodeDecimal(fill.Multiplier), encodeNullDecimal(fill.Proceeds), encodeNullDecimal(fill.NetCash),
		fill.Currency, encodeTime(fill.TradeTime), nullString(fill.Source), nullString(fill.OrderID),
		fill.ImportBatchID, encodeTime(fill.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	fill.ID = id
	return nil
}

// GetFillsByParentTradeIDs returns the fills of the given parent trades in
// execution order.
func GetFillsByParentTradeIDs(q Querier, tradeIDs []int64) ([]models.TradeFill, error) {
	if len(tradeIDs) == 0 {
		return nil, nil
	}
	query := `
	SELECT id, parent_trade_id, asset_id, side, quantity, price, commission, multiplier,
		proceeds, net_cash, currency, trade_time, source, order_id, import_batch_id, created_at
	FROM trade_fills
	WHERE parent_trade_id IN (` + placeholders(len(tradeIDs)) + `)
	ORDER BY trade_time, id`
	args := make([]any, len(tradeIDs))
	for i, id := range tradeIDs {
		args[i] = id
	}
	return queryFills(q, query, args...)
}

// LookupFillTimes issues the single batched duplicate-detection query:
// given candidate source ids, it returns every (source, trade_time) pair
// already on record, grouped by source.
func LookupFillTimes(q Querier, sources []string) (map[string][]time.Time, error) {
	known := make(map[string][]time.Time)
	if len(sources) == 0 {
		return known, nil
	}
	query := `
	SELECT source, trade_time
	FROM trade_fills
	WHERE source IN (` + placeholders(len(sources)) + `)`
	args := make([]any, len(sources))
	for i, source := range sources {
		args[i] = source
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source, tradeTime string
		if err := rows.Scan(&source, &tradeTime); err != nil {
			return nil, err
		}
		t, err := parseTime(tradeTime)
		if err != nil {
			return nil, err
		}
		known[source] = append(known[source], t)
	}
	return known, rows.Err()
}

// FillWithAsset pairs a fill with its asset code for export listings.
type FillWithAsset struct {
	Fill      models.TradeFill
	AssetCode string
}

// ListFills returns fills in execution order, optionally narrowed by
// instrument code and open-time window.
func ListFills(q Querier, assetCode string, start, end *time.Time) ([]FillWithAsset, error) {
	query := `
	SELECT f.id, f.parent_trade_id, f.asset_id, f.side, f.quantity, f.price, f.commission,
		f.multiplier, f.proceeds, f.net_cash, f.currency, f.trade_time, f.source, f.order_id,
		f.import_batch_id, f.created_at, a.code
	FROM trade_fills f
	JOIN assets a ON a.id = f.asset_id
	WHERE 1=1`
	var args []any
	if assetCode != "" {
		query += " AND a.code = ?"
		args = append(args, assetCode)
	}
	if start != nil {
		query += " AND f.trade_time >= ?"
		args = append(args, encodeTime(*start))
	}
	if end != nil {
		query += " AND f.trade_time <= ?"
		args = append(args, encodeTime(*end))
	}
	query += " ORDER BY f.trade_time, f.id"

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillWithAsset
	for rows.Next() {
		fill, code, err := scanFill(rows, true)
		if err != nil {
			return nil, err
		}
		fills = append(fills, FillWithAsset{Fill: *fill, AssetCode: code})
	}
	return fills, rows.Err()
}

func queryFills(q Querier, query string, args ...any) ([]models.TradeFill, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []models.TradeFill
	for rows.Next() {
		fill, _, err := scanFill(rows, false)
		if err != nil {
			return nil, err
		}
		fills = append(fills, *fill)
	}
	return fills, rows.Err()
}

func scanFill(rows *sql.Rows, withAssetCode bool) (*models.TradeFill, string, error) {
	var (
		fill                        models.TradeFill
		side                        string
		quantity, price, commission string
		multiplier                  string
		proceeds, netCash           sql.NullString
		tradeTime, createdAt        string
		source, orderID             sql.NullString
		assetCode                   string
	)
	dest := []any{
		&fill.ID, &fill.ParentTradeID, &fill.AssetID, &side, &quantity, &price, &commission,
		&multiplier, &proceeds, &netCash, &fill.Currency, &tradeTime, &source, &orderID,
		&fill.ImportBatchID, &createdAt,
	}
	if withAssetCode {
		dest = append(dest, &assetCode)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, "", err
	}

	fill.Side = models.FillSide(side)
	fill.Source = source.String
	fill.OrderID = orderID.String

	var err error
	if fill.Quantity, err = parseDecimal(quantity); err != nil {
		return nil, "", err
	}
	if fill.Price, err = parseDecimal(price); err != nil {
		return nil, "", err
	}
	if fill.Commission, err = parseDecimal(commission); err != nil {
		return nil, "", err
	}
	if fill.Multiplier, err = parseDecimal(multiplier); err != nil {
		return nil, "", err
	}
	if fill.Proceeds, err = parseNullDecimal(proceeds); err != nil {
		return nil, "", err
	}
	if fill.NetCash, err = parseNullDecimal(netCash); err != nil {
		return nil, "", err
	}
	if fill.TradeTime, err = parseTime(tradeTime); err != nil {
		return nil, "", err
	}
	if fill.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, "", err
	}
	return &fill, assetCode, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
