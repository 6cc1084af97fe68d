package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/username/taxfolio/importer/src/logger"
	"github.com/username/taxfolio/importer/src/models"
	_ "modernc.org/sqlite"
)

// Store persists parse results. Transactions are keyed by (external_id,
// platform), so importing the same file twice adds nothing the second time.
type Store struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS imports (
		id TEXT PRIMARY KEY,
		filename TEXT,
		format TEXT NOT NULL,
		metal TEXT,
		success BOOLEAN NOT NULL,
		total_rows INTEGER,
		skipped_rows INTEGER,
		closed_position_count INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		import_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		symbol TEXT NOT NULL,
		name TEXT,
		isin TEXT,
		type TEXT NOT NULL,
		quantity REAL,
		price REAL,
		currency TEXT,
		date TEXT NOT NULL,
		raw_date TEXT,
		venue TEXT,
		fee REAL,
		description TEXT,
		FOREIGN KEY(import_id) REFERENCES imports(id),
		UNIQUE(external_id, platform)
	);

	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT NOT NULL,
		platform TEXT NOT NULL,
		name TEXT,
		isin TEXT,
		asset_type TEXT,
		quantity REAL,
		avg_buy_price REAL,
		currency TEXT,
		confidence INTEGER,
		warnings TEXT,
		import_id TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(symbol, platform)
	);
	`

// Open opens (or creates) the sqlite database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	// sqlite allows one writer; batch imports queue on the pool instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	logger.L.Info("Checking database schema", "databasePath", path)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logger.L.Info("Database tables ensured/created.")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate adds columns introduced after the first schema version.
func (s *Store) migrate() error {
	rows, err := s.db.Query("PRAGMA table_info(transactions)")
	if err != nil {
		return fmt.Errorf("error querying table schema for transactions: %w", err)
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, notnull, pk int
		var name, dataType string
		var dflt any
		if err := rows.Scan(&cid, &name, &dataType, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("error scanning column info: %w", err)
		}
		columnExists[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating over column info: %w", err)
	}
	rows.Close()

	if !columnExists["needs_cost_input"] {
		if _, err := s.db.Exec("ALTER TABLE transactions ADD COLUMN needs_cost_input BOOLEAN DEFAULT FALSE"); err != nil {
			return fmt.Errorf("error adding needs_cost_input column: %w", err)
		}
		logger.L.Info("Added needs_cost_input column to transactions table")
	}
	return nil
}

// SaveResult stores one parse result in a single database transaction and
// returns how many ledger entries were new.
func (s *Store) SaveResult(ctx context.Context, res *models.ParseResult, filename string) (int, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx, `INSERT INTO imports (id, filename, format, metal, success, total_rows, skipped_rows, closed_position_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ImportID, filename, string(res.Format), string(res.Metal), res.Success, res.TotalRows, res.SkippedRows, res.ClosedPositionCount)
	if err != nil {
		return 0, fmt.Errorf("error inserting import %s: %w", res.ImportID, err)
	}

	txStmt, err := dbTx.PrepareContext(ctx, `INSERT OR IGNORE INTO transactions (import_id, external_id, platform, symbol, name, isin, type, quantity, price, currency, date, raw_date, venue, fee, description, needs_cost_input) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("error preparing transaction insert: %w", err)
	}
	defer txStmt.Close()

	inserted := 0
	for _, tx := range res.Transactions {
		r, err := txStmt.ExecContext(ctx, res.ImportID, tx.ExternalID, tx.Platform, tx.Symbol, tx.Name, tx.ISIN, string(tx.Kind),
			tx.Quantity, tx.Price, tx.Currency, tx.Date.UTC().Format(time.RFC3339), tx.RawDate, tx.Venue, tx.Fee, tx.Description, tx.NeedsCostInput)
		if err != nil {
			return 0, fmt.Errorf("error inserting transaction %s: %w", tx.ExternalID, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			logger.L.Debug("Skipping duplicate transaction", "external_id", tx.ExternalID, "platform", tx.Platform)
			continue
		}
		inserted++
	}

	// Closures first: a row in the same result for the same key wins.
	closeStmt, err := dbTx.PrepareContext(ctx, `UPDATE positions SET quantity = 0, import_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE symbol = ? AND platform = ?`)
	if err != nil {
		return 0, fmt.Errorf("error preparing position close: %w", err)
	}
	defer closeStmt.Close()

	closed := 0
	for _, key := range res.ClosedPositions {
		r, err := closeStmt.ExecContext(ctx, res.ImportID, key.Symbol, key.Platform)
		if err != nil {
			return 0, fmt.Errorf("error closing position %s: %w", key.Symbol, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			closed++
		}
	}

	posStmt, err := dbTx.PrepareContext(ctx, `INSERT INTO positions (symbol, platform, name, isin, asset_type, quantity, avg_buy_price, currency, confidence, warnings, import_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol, platform) DO UPDATE SET
			name = excluded.name, isin = excluded.isin, asset_type = excluded.asset_type,
			quantity = excluded.quantity, avg_buy_price = excluded.avg_buy_price, currency = excluded.currency,
			confidence = excluded.confidence, warnings = excluded.warnings, import_id = excluded.import_id,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("error preparing position upsert: %w", err)
	}
	defer posStmt.Close()

	for _, row := range res.Rows {
		warnings, err := json.Marshal(row.Warnings)
		if err != nil {
			return 0, fmt.Errorf("error encoding warnings for %s: %w", row.Symbol, err)
		}
		_, err = posStmt.ExecContext(ctx, row.Symbol, row.Platform, row.Name, row.ISIN, string(row.AssetType),
			row.Quantity, row.AvgBuyPrice, row.Currency, row.Confidence, string(warnings), res.ImportID)
		if err != nil {
			return 0, fmt.Errorf("error upserting position %s: %w", row.Symbol, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing import %s: %w", res.ImportID, err)
	}
	logger.L.Info("Import stored", "importID", res.ImportID, "transactions", len(res.Transactions), "inserted", inserted, "positions", len(res.Rows), "closed", closed)
	return inserted, nil
}

// Transactions returns the whole ledger in date order.
func (s *Store) Transactions(ctx context.Context) ([]models.ParsedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, platform, symbol, name, isin, type, quantity, price, currency,
		date, raw_date, venue, fee, description, needs_cost_input
		FROM transactions
		ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions: %w", err)
	}
	defer rows.Close()

	out := []models.ParsedTransaction{}
	for rows.Next() {
		var tx models.ParsedTransaction
		var kind, date string
		var name, isin, rawDate, venue, desc sql.NullString
		if err := rows.Scan(&tx.ExternalID, &tx.Platform, &tx.Symbol, &name, &isin, &kind, &tx.Quantity, &tx.Price, &tx.Currency,
			&date, &rawDate, &venue, &tx.Fee, &desc, &tx.NeedsCostInput); err != nil {
			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}
		tx.Kind = models.TransactionKind(kind)
		tx.Name, tx.ISIN, tx.RawDate, tx.Venue, tx.Description = name.String, isin.String, rawDate.String, venue.String, desc.String
		if tx.Date, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, fmt.Errorf("error parsing stored date %q: %w", date, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transactions: %w", err)
	}
	return out, nil
}

// Positions returns the latest snapshot per (symbol, platform).
func (s *Store) Positions(ctx context.Context) ([]models.ParsedRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, platform, name, isin, asset_type, quantity, avg_buy_price, currency, confidence, warnings
		FROM positions
		ORDER BY platform, symbol`)
	if err != nil {
		return nil, fmt.Errorf("error querying positions: %w", err)
	}
	defer rows.Close()

	out := []models.ParsedRow{}
	for rows.Next() {
		var row models.ParsedRow
		var assetType, warnings string
		var name, isin sql.NullString
		if err := rows.Scan(&row.Symbol, &row.Platform, &name, &isin, &assetType, &row.Quantity, &row.AvgBuyPrice,
			&row.Currency, &row.Confidence, &warnings); err != nil {
			return nil, fmt.Errorf("error scanning position: %w", err)
		}
		row.Name, row.ISIN = name.String, isin.String
		row.AssetType = models.AssetType(assetType)
		row.Closed = row.Quantity <= models.QuantityEpsilon
		if err := json.Unmarshal([]byte(warnings), &row.Warnings); err != nil {
			return nil, fmt.Errorf("error decoding warnings for %s: %w", row.Symbol, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over positions: %w", err)
	}
	return out, nil
}
