// Package store persists the gateway's high-volume operational data: user
// API keys, their per-request usage logs, and interaction records. This is
// deliberately split from internal/config, which owns the rarely-changed,
// operator-edited configuration (platforms, models, routing, legacy
// servers): keys/usage/records are append-heavy and need real transactions,
// where config is small enough to snapshot wholesale on every reload.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// KeyPrefix is prepended to every generated user API key.
const KeyPrefix = "lxs_"

// KeyPattern validates the external shape of a user API key.
var KeyPattern = regexp.MustCompile(`^lxs_[A-Za-z0-9_\-]{24,}$`)

// ErrKeyNotAdmissible is returned when a key fails authentication, is
// disabled, has expired, or has exhausted its token budget.
var ErrKeyNotAdmissible = fmt.Errorf("key not admissible")

// Store wraps a single sqlite database file holding every operational
// table. All access goes through database/sql; there is no ORM layer,
// matching the rest of the gateway's preference for direct, explicit APIs
// over generated or reflective ones.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single-file sqlite database serializes writes regardless; capping
	// open connections avoids SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite database: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS user_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key_name TEXT NOT NULL,
	api_key TEXT UNIQUE NOT NULL,
	max_tokens INTEGER NOT NULL DEFAULT 0,
	used_tokens INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_keys_api_key ON user_keys(api_key);

CREATE TABLE IF NOT EXISTS key_usage_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_key_id INTEGER NOT NULL,
	interaction_record_id TEXT,
	model_name TEXT,
	platform_type TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_key_usage_logs_user_key_id ON key_usage_logs(user_key_id);

CREATE TABLE IF NOT EXISTS interaction_records (
	id TEXT PRIMARY KEY,
	method TEXT,
	path TEXT,
	headers TEXT,
	body TEXT,
	response_status INTEGER,
	response_headers TEXT,
	response_body TEXT,
	timestamp DATETIME NOT NULL,
	duration_ms INTEGER,
	target_platform TEXT,
	target_model TEXT,
	platform_base_url TEXT,
	processed_prompt TEXT,
	processed_headers TEXT,
	model_raw_headers TEXT,
	model_raw_response TEXT,
	routing_scene TEXT,
	user_key_id INTEGER,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_interaction_records_target_platform ON interaction_records(target_platform);
CREATE INDEX IF NOT EXISTS idx_interaction_records_user_key_id ON interaction_records(user_key_id);
`

	_, err := s.db.Exec(schema)
	return err
}

// UserKey is one issued gateway API key.
type UserKey struct {
	ID         int64
	Name       string
	APIKey     string
	MaxTokens  int64
	UsedTokens int64
	ExpiresAt  *time.Time
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GenerateAPIKey produces a fresh lxs_-prefixed key. No example repo in the
// corpus carries a key-generation helper for this narrow a format, so this
// uses crypto/rand + base64 URL-safe encoding directly, matching the
// original's secrets.token_urlsafe(24) byte length.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}

	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateKey inserts a new user key and returns it with its assigned ID.
func (s *Store) CreateKey(ctx context.Context, name string, maxTokens int64, expiresAt *time.Time) (*UserKey, error) {
	apiKey, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO user_keys (key_name, api_key, max_tokens, used_tokens, expires_at, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, 1, ?, ?)`,
		name, apiKey, maxTokens, expiresAt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted key id: %w", err)
	}

	return &UserKey{
		ID: id, Name: name, APIKey: apiKey, MaxTokens: maxTokens,
		ExpiresAt: expiresAt, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Admit validates an incoming API key: well-formed, known, active, not
// expired, and under its token budget (a budget of 0 means unlimited).
// estimatedTokens is a cheap pre-estimate of the incoming request's size
// (see transcode.PreEstimateCl100k), checked against the key's remaining
// budget before a model has even been selected, so a request that would
// obviously blow the budget is rejected without an upstream call.
// Returns ErrKeyNotAdmissible wrapped with the specific reason on failure.
func (s *Store) Admit(ctx context.Context, apiKey string, estimatedTokens int) (*UserKey, error) {
	if !KeyPattern.MatchString(apiKey) {
		return nil, fmt.Errorf("%w: malformed key", ErrKeyNotAdmissible)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_name, api_key, max_tokens, used_tokens, expires_at, is_active, created_at, updated_at
		 FROM user_keys WHERE api_key = ?`, apiKey)

	key, err := scanUserKey(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: unknown key", ErrKeyNotAdmissible)
		}

		return nil, fmt.Errorf("admit key: %w", err)
	}

	if !key.IsActive {
		return nil, fmt.Errorf("%w: key disabled", ErrKeyNotAdmissible)
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: key expired", ErrKeyNotAdmissible)
	}

	if key.MaxTokens > 0 && key.UsedTokens >= key.MaxTokens {
		return nil, fmt.Errorf("%w: token budget exhausted", ErrKeyNotAdmissible)
	}

	if key.MaxTokens > 0 && estimatedTokens > 0 && key.UsedTokens+estimatedTokens > key.MaxTokens {
		return nil, fmt.Errorf("%w: estimated request size exceeds remaining token budget", ErrKeyNotAdmissible)
	}

	return key, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserKey(row rowScanner) (*UserKey, error) {
	var key UserKey

	if err := row.Scan(
		&key.ID, &key.Name, &key.APIKey, &key.MaxTokens, &key.UsedTokens,
		&key.ExpiresAt, &key.IsActive, &key.CreatedAt, &key.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &key, nil
}

// RecordUsage logs one request's token usage against a key and atomically
// increments the key's used_tokens counter in the same transaction, so the
// invariant used_tokens == sum(key_usage_logs.total_tokens) always holds
// even under concurrent requests against the same key.
func (s *Store) RecordUsage(ctx context.Context, keyID int64, interactionRecordID *string, platformType, modelName string, inputTokens, outputTokens int) error {
	total := inputTokens + outputTokens

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO key_usage_logs (user_key_id, interaction_record_id, model_name, platform_type, input_tokens, output_tokens, total_tokens, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		keyID, interactionRecordID, modelName, platformType, inputTokens, outputTokens, total, now,
	); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_keys SET used_tokens = used_tokens + ?, updated_at = ? WHERE id = ?`,
		total, now, keyID,
	); err != nil {
		return fmt.Errorf("increment used tokens: %w", err)
	}

	return tx.Commit()
}

// InteractionRecord is one full request/response audit entry. ID is a
// client-generated UUID rather than a database auto-increment value, so it
// can be assigned before the row is ever written (e.g. to correlate with a
// broadcast envelope or a client-visible trace id) and remains stable
// across export/import.
type InteractionRecord struct {
	ID                string
	Method            string
	Path              string
	Headers           string
	Body              string
	ResponseStatus    int
	ResponseHeaders   string
	ResponseBody      string
	Timestamp         time.Time
	DurationMS        int64
	TargetPlatform    string
	TargetModel       string
	PlatformBaseURL   string
	ProcessedPrompt   string
	ProcessedHeaders  string
	ModelRawHeaders   string
	ModelRawResponse  string
	RoutingScene      string
	UserKeyID         *int64
	InputTokens       int
	OutputTokens      int
	TotalTokens       int
}

// SaveRecord persists an interaction record and returns its assigned ID. A
// UUID is generated for the record up front (rather than relying on a
// database auto-increment) if rec.ID isn't already set, so the id is
// available to the caller even if the insert fails partway through a
// best-effort write path.
// Callers on the request hot path must treat a failure here as
// best-effort: record-writing must never block or fail the client
// response.
func (s *Store) SaveRecord(ctx context.Context, rec *InteractionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interaction_records (
			id, method, path, headers, body, response_status, response_headers, response_body,
			timestamp, duration_ms, target_platform, target_model, platform_base_url,
			processed_prompt, processed_headers, model_raw_headers, model_raw_response,
			routing_scene, user_key_id, input_tokens, output_tokens, total_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Method, rec.Path, rec.Headers, rec.Body, rec.ResponseStatus, rec.ResponseHeaders, rec.ResponseBody,
		rec.Timestamp, rec.DurationMS, rec.TargetPlatform, rec.TargetModel, rec.PlatformBaseURL,
		rec.ProcessedPrompt, rec.ProcessedHeaders, rec.ModelRawHeaders, rec.ModelRawResponse,
		rec.RoutingScene, rec.UserKeyID, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
	)
	if err != nil {
		return "", fmt.Errorf("insert interaction record: %w", err)
	}

	return rec.ID, nil
}
