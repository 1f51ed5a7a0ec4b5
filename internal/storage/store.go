package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Identification is a cached identification result.
type Identification struct {
	ItemName    string
	Category    string
	Condition   string
	Description string
	Provider    string
	Identifiers map[string]string
	CreatedAt   time.Time
}

// Valuation is one finished appraisal as written to the valuation log.
type Valuation struct {
	RequestID       string
	ItemName        string
	Decision        string
	EstimatedValue  float64
	FinalPrice      float64
	Confidence      int
	Quality         string
	Method          string
	PrimaryProvider string
	VoteCount       int
	CostUSD         float64
	// Report is the full appraisal as JSON.
	Report    json.RawMessage
	CreatedAt time.Time
}

// Store defines the persistence used by the appraiser.
type Store interface {
	GetIdentification(fingerprint string) (*Identification, error)
	SetIdentification(fingerprint string, entry *Identification) error
	SaveValuation(v *Valuation) error
	RecentValuations(limit int) ([]Valuation, error)
	Close() error
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions once the file exists
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", dbPath).Msg("failed to restrict database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	identificationQuery := `
	CREATE TABLE IF NOT EXISTS identification_cache (
		fingerprint TEXT PRIMARY KEY,
		item_name TEXT NOT NULL,
		category TEXT,
		condition TEXT,
		description TEXT,
		provider TEXT NOT NULL,
		identifiers TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(identificationQuery); err != nil {
		return fmt.Errorf("failed to create identification_cache table: %w", err)
	}

	valuationsQuery := `
	CREATE TABLE IF NOT EXISTS valuations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL UNIQUE,
		item_name TEXT NOT NULL,
		decision TEXT NOT NULL,
		estimated_value REAL NOT NULL,
		final_price REAL NOT NULL,
		confidence INTEGER NOT NULL,
		quality TEXT NOT NULL,
		method TEXT,
		primary_provider TEXT,
		vote_count INTEGER NOT NULL,
		cost_usd REAL NOT NULL DEFAULT 0,
		report TEXT,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(valuationsQuery); err != nil {
		return fmt.Errorf("failed to create valuations table: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetIdentification retrieves a cached identification by fingerprint.
// Returns nil, nil if there is no entry.
func (s *SQLiteStore) GetIdentification(fingerprint string) (*Identification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entry Identification
	var category, condition, description, identifiers sql.NullString
	err := s.db.QueryRow(
		"SELECT item_name, category, condition, description, provider, identifiers, created_at FROM identification_cache WHERE fingerprint = ?",
		fingerprint,
	).Scan(&entry.ItemName, &category, &condition, &description, &entry.Provider, &identifiers, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query identification cache: %w", err)
	}

	entry.Category = category.String
	entry.Condition = condition.String
	entry.Description = description.String
	if identifiers.Valid && identifiers.String != "" {
		if err := json.Unmarshal([]byte(identifiers.String), &entry.Identifiers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal identifiers: %w", err)
		}
	}

	return &entry, nil
}

// SetIdentification stores an identification in the cache.
func (s *SQLiteStore) SetIdentification(fingerprint string, entry *Identification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identifiers, err := json.Marshal(entry.Identifiers)
	if err != nil {
		return fmt.Errorf("failed to marshal identifiers: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO identification_cache (fingerprint, item_name, category, condition, description, provider, identifiers)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			item_name = excluded.item_name,
			category = excluded.category,
			condition = excluded.condition,
			description = excluded.description,
			provider = excluded.provider,
			identifiers = excluded.identifiers,
			created_at = CURRENT_TIMESTAMP
	`, fingerprint, entry.ItemName, entry.Category, entry.Condition, entry.Description, entry.Provider, string(identifiers))

	if err != nil {
		return fmt.Errorf("failed to cache identification: %w", err)
	}
	return nil
}

// SaveValuation appends a finished appraisal to the valuation log.
func (s *SQLiteStore) SaveValuation(v *Valuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO valuations (request_id, item_name, decision, estimated_value, final_price, confidence,
			quality, method, primary_provider, vote_count, cost_usd, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.RequestID, v.ItemName, v.Decision, v.EstimatedValue, v.FinalPrice, v.Confidence,
		v.Quality, v.Method, v.PrimaryProvider, v.VoteCount, v.CostUSD, string(v.Report), v.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save valuation: %w", err)
	}
	return nil
}

// RecentValuations returns up to limit valuations, newest first.
func (s *SQLiteStore) RecentValuations(limit int) ([]Valuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT request_id, item_name, decision, estimated_value, final_price, confidence,
			quality, method, primary_provider, vote_count, cost_usd, report, created_at
		FROM valuations ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuations: %w", err)
	}
	defer rows.Close()

	var out []Valuation
	for rows.Next() {
		var v Valuation
		var method, provider, report sql.NullString
		if err := rows.Scan(&v.RequestID, &v.ItemName, &v.Decision, &v.EstimatedValue, &v.FinalPrice, &v.Confidence,
			&v.Quality, &method, &provider, &v.VoteCount, &v.CostUSD, &report, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		v.Method = method.String
		v.PrimaryProvider = provider.String
		if report.String != "" {
			v.Report = json.RawMessage(report.String)
		}
		out = append(out, v)
	}

	return out, rows.Err()
}
