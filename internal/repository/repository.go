// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-audit/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a statement line with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, client_id, bank_id, account_id,
			booking_date, value_date, amount, balance,
			description, category, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.ClientID, tx.BankID, tx.AccountID,
		tx.Date, tx.ValueDate, tx.Amount, tx.Balance,
		tx.Description, tx.Category, tx.Reference, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, client_id, bank_id, account_id,
			   booking_date, value_date, amount, balance,
			   description, category, reference, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.ClientID, &tx.BankID, &tx.AccountID,
		&tx.Date, &tx.ValueDate, &tx.Amount, &tx.Balance,
		&tx.Description, &tx.Category, &tx.Reference, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// ListTransactions retrieves the statement lines of one account in a date
// range, oldest first. A zero `to` means no upper bound.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID, accountID string, from, to time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	if to.IsZero() {
		to = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}

	query := `
		SELECT id, tenant_id, client_id, bank_id, account_id,
			   booking_date, value_date, amount, balance,
			   description, category, reference, created_at
		FROM transactions
		WHERE tenant_id = ? AND account_id = ?
		  AND booking_date >= ? AND booking_date <= ?
		ORDER BY booking_date, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.ClientID, &tx.BankID, &tx.AccountID,
			&tx.Date, &tx.ValueDate, &tx.Amount, &tx.Balance,
			&tx.Description, &tx.Category, &tx.Reference, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveConditions stores a bank condition grid with tenant isolation.
func (r *SQLRepository) SaveConditions(ctx context.Context, tenantID string, cond *domain.BankConditions) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	fees, _ := json.Marshal(cond.Fees)
	rates, _ := json.Marshal(cond.Rates)

	now := time.Now().UTC()

	query := `
		INSERT INTO bank_conditions (
			id, tenant_id, bank_id, version, effective_date, expiration_date,
			fees, rates, authorized_limit, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			bank_id = excluded.bank_id,
			version = excluded.version,
			effective_date = excluded.effective_date,
			expiration_date = excluded.expiration_date,
			fees = excluded.fees,
			rates = excluded.rates,
			authorized_limit = excluded.authorized_limit,
			enabled = 1,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cond.ID, tenantID, cond.BankID, cond.Version,
		cond.EffectiveDate, cond.ExpirationDate,
		string(fees), string(rates), cond.AuthorizedLimit,
		now, now,
	)
	return err
}

// GetConditions retrieves a condition grid by ID with tenant isolation.
func (r *SQLRepository) GetConditions(ctx context.Context, tenantID string, condID string) (*domain.BankConditions, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, bank_id, version, effective_date, expiration_date,
			   fees, rates, authorized_limit, created_at, updated_at
		FROM bank_conditions
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	cond, err := scanConditions(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, condID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cond, err
}

// ListConditions retrieves the active condition grids of one bank. An empty
// bankID lists every grid of the tenant.
func (r *SQLRepository) ListConditions(ctx context.Context, tenantID string, bankID string) ([]*domain.BankConditions, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, bank_id, version, effective_date, expiration_date,
			   fees, rates, authorized_limit, created_at, updated_at
		FROM bank_conditions
		WHERE tenant_id = ? AND enabled = 1
	`
	args := []any{tenantID}
	if bankID != "" {
		query += ` AND bank_id = ?`
		args = append(args, bankID)
	}
	query += ` ORDER BY effective_date, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grids []*domain.BankConditions
	for rows.Next() {
		cond, err := scanConditions(rows)
		if err != nil {
			return nil, err
		}
		grids = append(grids, cond)
	}

	return grids, rows.Err()
}

// DeleteConditions soft-deletes a condition grid by setting enabled = 0.
func (r *SQLRepository) DeleteConditions(ctx context.Context, tenantID string, condID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE bank_conditions
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, condID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveClassificationRule stores a custom fee classification rule.
func (r *SQLRepository) SaveClassificationRule(ctx context.Context, tenantID string, rule *domain.ClassificationRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO classification_rules (
			id, tenant_id, name, expression, fee_code, priority, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			expression = excluded.expression,
			fee_code = excluded.fee_code,
			priority = excluded.priority,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Expression,
		rule.FeeCode, rule.Priority, enabled,
		now, now,
	)
	return err
}

// ListClassificationRules retrieves all active custom rules for a tenant.
func (r *SQLRepository) ListClassificationRules(ctx context.Context, tenantID string) ([]*domain.ClassificationRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, expression, fee_code, priority, enabled, created_at, updated_at
		FROM classification_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY priority, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ClassificationRule
	for rows.Next() {
		var rule domain.ClassificationRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Expression,
			&rule.FeeCode, &rule.Priority, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveAnalysis stores a completed run and its findings. The anomaly rows
// keep their merge order in seq so reads reproduce it.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, result *domain.AnalysisResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	stats, _ := json.Marshal(result.Stats)
	warnings, _ := json.Marshal(result.Warnings)

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	query := `
		INSERT INTO analyses (
			id, tenant_id, client_id, bank_id, state, stats, warnings, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := dbtx.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.ClientID, result.BankID,
		result.State, string(stats), string(warnings),
		result.StartedAt, result.CompletedAt,
	); err != nil {
		return err
	}

	anomalyQuery := `
		INSERT INTO anomalies (
			id, tenant_id, analysis_id, seq, anomaly_type, severity, status, amount, payload, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, a := range result.Anomalies {
		payload, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err := dbtx.ExecContext(ctx, r.rebind(anomalyQuery),
			a.ID, tenantID, result.ID, i,
			a.Type, a.Severity, a.Status, a.Amount,
			string(payload), a.DetectedAt,
		); err != nil {
			return err
		}
	}

	return dbtx.Commit()
}

// GetAnalysis retrieves a run and its findings with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.AnalysisResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, client_id, bank_id, state, stats, warnings, started_at, completed_at
		FROM analyses
		WHERE tenant_id = ? AND id = ?
	`

	var result domain.AnalysisResult
	var stats, warnings string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(
		&result.ID, &result.TenantID, &result.ClientID, &result.BankID,
		&result.State, &stats, &warnings,
		&result.StartedAt, &result.CompletedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(stats), &result.Stats)
	if warnings != "" {
		json.Unmarshal([]byte(warnings), &result.Warnings)
	}

	anomalyQuery := `
		SELECT payload, status
		FROM anomalies
		WHERE tenant_id = ? AND analysis_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(anomalyQuery), tenantID, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		var status domain.AnomalyStatus
		if err := rows.Scan(&payload, &status); err != nil {
			return nil, err
		}

		var a domain.Anomaly
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("failed to parse anomaly payload: %w", err)
		}
		// The status column is authoritative; the payload keeps the
		// detection-time facts.
		a.Status = status
		result.Anomalies = append(result.Anomalies, a)
	}

	return &result, rows.Err()
}

// UpdateAnomalyStatus records a review decision. Only the status column
// changes; the finding itself stays as detected.
func (r *SQLRepository) UpdateAnomalyStatus(ctx context.Context, tenantID string, analysisID, anomalyID string, status domain.AnomalyStatus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE anomalies
		SET status = ?
		WHERE tenant_id = ? AND analysis_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, tenantID, analysisID, anomalyID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConditions(row rowScanner) (*domain.BankConditions, error) {
	var cond domain.BankConditions
	var fees, rates string

	if err := row.Scan(
		&cond.ID, &cond.TenantID, &cond.BankID, &cond.Version,
		&cond.EffectiveDate, &cond.ExpirationDate,
		&fees, &rates, &cond.AuthorizedLimit,
		&cond.CreatedAt, &cond.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fees), &cond.Fees); err != nil {
		return nil, fmt.Errorf("failed to parse fee schedule for %s: %w", cond.ID, err)
	}
	if err := json.Unmarshal([]byte(rates), &cond.Rates); err != nil {
		return nil, fmt.Errorf("failed to parse rate grid for %s: %w", cond.ID, err)
	}

	return &cond, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
