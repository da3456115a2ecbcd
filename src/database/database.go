package database

import (
	"database/sql"
	stdlog "log"

	"github.com/williams2w4/tradej/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if _, err := DB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		stdlog.Fatalf("failed to enable foreign keys: %v", err)
	}

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateTradeFills()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT,
		asset_type TEXT NOT NULL,
		exchange TEXT,
		timezone TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS import_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		broker TEXT NOT NULL,
		filename TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		total_records INTEGER NOT NULL DEFAULT 0,
		skipped_records INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS parent_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		quantity TEXT NOT NULL,
		open_time TEXT NOT NULL,
		close_time TEXT,
		open_price TEXT,
		close_price TEXT,
		total_commission TEXT NOT NULL DEFAULT '0',
		profit_loss TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY(asset_id) REFERENCES assets(id)
	);

	CREATE TABLE IF NOT EXISTS trade_fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_trade_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		commission TEXT NOT NULL DEFAULT '0',
		multiplier TEXT NOT NULL DEFAULT '1',
		proceeds TEXT,
		net_cash TEXT,
		currency TEXT NOT NULL,
		trade_time TEXT NOT NULL,
		source TEXT,
		order_id TEXT,
		import_batch_id INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY(parent_trade_id) REFERENCES parent_trades(id) ON DELETE CASCADE,
		FOREIGN KEY(asset_id) REFERENCES assets(id),
		FOREIGN KEY(import_batch_id) REFERENCES import_batches(id)
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timezone TEXT NOT NULL,
		currency TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_parent_trades_asset_open ON parent_trades (asset_id, close_time);
	CREATE INDEX IF NOT EXISTS idx_trade_fills_parent ON trade_fills (parent_trade_id);
	CREATE INDEX IF NOT EXISTS idx_trade_fills_source ON trade_fills (source);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateTradeFills backfills columns added after the first release so
// databases created by older builds keep working. Runs before table
// creation; a missing table means there is nothing to migrate.
func migrateTradeFills() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='trade_fills'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for trade_fills table", "error", err)
		} else {
			stdlog.Printf("Error checking for trade_fills table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(trade_fills)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for trade_fills", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for trade_fills: %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for trade_fills", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for trade_fills: %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for trade_fills", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for trade_fills: %v", err)
		}
		return
	}

	addColumn := func(name, definition string) {
		if columnExists[name] {
			return
		}
		_, err := DB.Exec("ALTER TABLE trade_fills ADD COLUMN " + name + " " + definition)
		if err != nil {
			if logger.L != nil {
				logger.L.Error("Error adding column to trade_fills", "column", name, "error", err)
			} else {
				stdlog.Printf("Error adding '%s' column to trade_fills: %v", name, err)
			}
			return
		}
		if logger.L != nil {
			logger.L.Info("Added column to trade_fills table", "column", name)
		} else {
			stdlog.Printf("Added '%s' column to trade_fills table", name)
		}
	}

	// net_cash stores broker-reported NetCash so re-imports keep the
	// authoritative P&L contribution. multiplier and proceeds arrived with
	// futures support.
	addColumn("net_cash", "TEXT")
	addColumn("proceeds", "TEXT")
	addColumn("multiplier", "TEXT NOT NULL DEFAULT '1'")
}
