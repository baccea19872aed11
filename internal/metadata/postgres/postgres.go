// Package postgres provides a PostgreSQL-backed contract store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/contract"
	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
)

const (
	uniqueViolation   = "23505"
	hashKeyConstraint = "idx_contract_versions_hash_key"
)

// Store is a PostgreSQL contract store.
type Store struct {
	db *sql.DB
}

var _ contract.Store = (*Store)(nil)

// New creates a new PostgreSQL contract store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files in name order. The files are idempotent.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations found in %s", migrationsDir)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

const contractColumns = `id, contract_number, contract_name, party_a_id, party_b_id, amount,
	start_date, end_date, category, department, remark, status, creator_id,
	version_seq, created_at, updated_at`

const versionColumns = `id, contract_id, version_number, content_hash, hash_key, storage_path,
	file_name, file_type, file_size, creator_id, remark, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanContract(row scanner) (*contract.Contract, error) {
	var c contract.Contract
	var start, end sql.NullTime
	if err := row.Scan(&c.ID, &c.Number, &c.Name, &c.PartyAID, &c.PartyBID, &c.Amount,
		&start, &end, &c.Category, &c.Department, &c.Remark, &c.Status, &c.CreatorID,
		&c.VersionSeq, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if start.Valid {
		c.StartDate = &start.Time
	}
	if end.Valid {
		c.EndDate = &end.Time
	}
	return &c, nil
}

func scanVersion(row scanner) (*contract.Version, error) {
	var v contract.Version
	if err := row.Scan(&v.ID, &v.ContractID, &v.Number, &v.ContentHash, &v.HashKey, &v.Location,
		&v.FileName, &v.MIMEType, &v.Size, &v.CreatorID, &v.Remark, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return contract.ErrNotFound
	}
	return err
}

// CreateContract implements contract.Store.
func (s *Store) CreateContract(ctx context.Context, c *contract.Contract) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_contract", time.Since(start)) }()

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO contracts (contract_number, contract_name, party_a_id, party_b_id, amount,
		   start_date, end_date, category, department, remark, status, creator_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, version_seq, created_at, updated_at`,
		c.Number, c.Name, c.PartyAID, c.PartyBID, c.Amount,
		nullTime(c.StartDate), nullTime(c.EndDate), c.Category, c.Department, c.Remark,
		c.Status, c.CreatorID,
	).Scan(&c.ID, &c.VersionSeq, &c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err, "") {
		return fmt.Errorf("%w: %s", contract.ErrDuplicateNumber, c.Number)
	}
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

// GetContract implements contract.Store.
func (s *Store) GetContract(ctx context.Context, id int64) (*contract.Contract, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_contract", time.Since(start)) }()

	c, err := scanContract(s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// GetContractByNumber implements contract.Store.
func (s *Store) GetContractByNumber(ctx context.Context, number string) (*contract.Contract, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_contract_by_number", time.Since(start)) }()

	c, err := scanContract(s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE contract_number = $1`, number))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// UpdateContract implements contract.Store.
func (s *Store) UpdateContract(ctx context.Context, c *contract.Contract) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_contract", time.Since(start)) }()

	err := s.db.QueryRowContext(ctx,
		`UPDATE contracts SET contract_name = $1, party_a_id = $2, party_b_id = $3, amount = $4,
		   start_date = $5, end_date = $6, category = $7, department = $8, remark = $9,
		   status = $10, updated_at = NOW()
		 WHERE id = $11
		 RETURNING updated_at`,
		c.Name, c.PartyAID, c.PartyBID, c.Amount,
		nullTime(c.StartDate), nullTime(c.EndDate), c.Category, c.Department, c.Remark,
		c.Status, c.ID,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	return nil
}

// ListContracts implements contract.Store.
func (s *Store) ListContracts(ctx context.Context, f contract.ListFilter) ([]*contract.Contract, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_contracts", time.Since(start)) }()

	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Keyword != "" {
		p := arg("%" + escapeLike(f.Keyword) + "%")
		where = append(where, fmt.Sprintf("(contract_name LIKE %s OR contract_number LIKE %s)", p, p))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(*f.Status))
	}
	if f.CreatorID != "" {
		where = append(where, "creator_id = "+arg(f.CreatorID))
	}
	if f.PartyID != 0 {
		p := arg(f.PartyID)
		where = append(where, fmt.Sprintf("(party_a_id = %s OR party_b_id = %s)", p, p))
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(f.Category))
	}
	if f.Department != "" {
		where = append(where, "department = "+arg(f.Department))
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	out := []*contract.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HashExists implements contract.Store.
func (s *Store) HashExists(ctx context.Context, hashKey string) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("hash_exists", time.Since(start)) }()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM contract_versions WHERE hash_key = $1)`, hashKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query hash: %w", err)
	}
	return exists, nil
}

// InsertVersion implements contract.Store. The counter update takes a row
// lock on the contract, serializing creates for the same contract.
func (s *Store) InsertVersion(ctx context.Context, v *contract.Version, content *contract.Content) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_version", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`UPDATE contracts SET version_seq = version_seq + 1, updated_at = NOW()
		 WHERE id = $1 RETURNING version_seq`, v.ContractID,
	).Scan(&v.Number)
	if err != nil {
		return notFound(err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO contract_versions (contract_id, version_number, content_hash, hash_key,
		   storage_path, file_name, file_type, file_size, creator_id, remark, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		v.ContractID, v.Number, v.ContentHash, v.HashKey, v.Location,
		v.FileName, v.MIMEType, v.Size, v.CreatorID, v.Remark, v.CreatedAt,
	).Scan(&v.ID)
	if isUniqueViolation(err, hashKeyConstraint) {
		return fmt.Errorf("%w: hash %s", contract.ErrDuplicateContent, v.ContentHash)
	}
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	content.ContractID = v.ContractID
	content.VersionID = v.ID
	_, err = tx.ExecContext(ctx,
		`INSERT INTO contract_contents (version_id, contract_id, plain_text, html, raw_content,
		   creator_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		content.VersionID, content.ContractID, content.PlainText, content.HTML, content.Raw,
		content.CreatorID, content.CreatedAt, content.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version: %w", err)
	}
	return nil
}

// GetVersion implements contract.Store.
func (s *Store) GetVersion(ctx context.Context, contractID int64, number int) (*contract.Version, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_version", time.Since(start)) }()

	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM contract_versions
		 WHERE contract_id = $1 AND version_number = $2`, contractID, number))
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

// GetLatestVersion implements contract.Store.
func (s *Store) GetLatestVersion(ctx context.Context, contractID int64) (*contract.Version, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_latest_version", time.Since(start)) }()

	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM contract_versions
		 WHERE contract_id = $1 ORDER BY version_number DESC LIMIT 1`, contractID))
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

// ListVersions implements contract.Store.
func (s *Store) ListVersions(ctx context.Context, contractID int64) ([]*contract.Version, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_versions", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM contract_versions
		 WHERE contract_id = $1 ORDER BY version_number`, contractID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	out := []*contract.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetContent implements contract.Store.
func (s *Store) GetContent(ctx context.Context, contractID, versionID int64) (*contract.Content, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_content", time.Since(start)) }()

	var c contract.Content
	err := s.db.QueryRowContext(ctx,
		`SELECT contract_id, version_id, plain_text, html, raw_content, creator_id, created_at, updated_at
		 FROM contract_contents WHERE contract_id = $1 AND version_id = $2`, contractID, versionID,
	).Scan(&c.ContractID, &c.VersionID, &c.PlainText, &c.HTML, &c.Raw, &c.CreatorID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// DeleteContract implements contract.Store. Content rows go first, then
// versions, then the contract, all in one transaction.
func (s *Store) DeleteContract(ctx context.Context, id int64) ([]*contract.Version, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_contract", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM contracts WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return nil, notFound(err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM contract_versions WHERE contract_id = $1 ORDER BY version_number`, id)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	versions := []*contract.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM contract_contents WHERE contract_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete contents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contract_versions WHERE contract_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete contract: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return versions, nil
}

// LiveLocations implements contract.Store.
func (s *Store) LiveLocations(ctx context.Context) (map[string]struct{}, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("live_locations", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `SELECT storage_path FROM contract_versions`)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out[loc] = struct{}{}
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a unique violation, optionally
// restricted to one constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
