// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation; one
// tenant is one accounting firm.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, tenantID, accountID string, from, to time.Time) ([]*Transaction, error)

	// Bank condition grids
	SaveConditions(ctx context.Context, tenantID string, cond *BankConditions) error
	GetConditions(ctx context.Context, tenantID string, condID string) (*BankConditions, error)
	ListConditions(ctx context.Context, tenantID string, bankID string) ([]*BankConditions, error)
	DeleteConditions(ctx context.Context, tenantID string, condID string) error

	// Custom classification rules for the tariff resolver
	SaveClassificationRule(ctx context.Context, tenantID string, rule *ClassificationRule) error
	ListClassificationRules(ctx context.Context, tenantID string) ([]*ClassificationRule, error)

	// Analysis results
	SaveAnalysis(ctx context.Context, tenantID string, result *AnalysisResult) error
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*AnalysisResult, error)

	// Review lifecycle: only status transitions, findings stay immutable.
	UpdateAnomalyStatus(ctx context.Context, tenantID string, analysisID, anomalyID string, status AnomalyStatus) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ClassificationRule is an operator-defined CEL rule extending the builtin
// fee classification patterns. Evaluated after the builtins, in Priority
// order; an expression returning true classifies the transaction as a fee
// with the rule's FeeCode.
type ClassificationRule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	// Expression is a CEL expression over description, amount, category.
	Expression string `json:"expression"`

	FeeCode  string `json:"feeCode"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
