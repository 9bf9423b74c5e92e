package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    bank_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    booking_date TIMESTAMP NOT NULL,
    value_date TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    balance REAL NOT NULL,
    description TEXT NOT NULL,
    category TEXT,
    reference TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(tenant_id, account_id, booking_date);
CREATE INDEX IF NOT EXISTS idx_transactions_client ON transactions(tenant_id, client_id);
`

const schemaBankConditions = `
CREATE TABLE IF NOT EXISTS bank_conditions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    bank_id TEXT NOT NULL,
    version TEXT NOT NULL,
    effective_date TIMESTAMP NOT NULL,
    expiration_date TIMESTAMP,
    fees TEXT NOT NULL,
    rates TEXT NOT NULL,
    authorized_limit REAL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_bank_conditions_tenant ON bank_conditions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_bank_conditions_bank ON bank_conditions(tenant_id, bank_id, enabled);
`

const schemaClassificationRules = `
CREATE TABLE IF NOT EXISTS classification_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    expression TEXT NOT NULL,
    fee_code TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_classification_rules_tenant ON classification_rules(tenant_id, enabled);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    bank_id TEXT NOT NULL,
    state TEXT NOT NULL,
    stats TEXT NOT NULL,
    warnings TEXT,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_client ON analyses(tenant_id, client_id);
`

// schemaAnomalies keeps one row per finding. The review status lives in its
// own column so status transitions never rewrite the detection payload.
const schemaAnomalies = `
CREATE TABLE IF NOT EXISTS anomalies (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    analysis_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    anomaly_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    amount REAL NOT NULL,
    payload TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_anomalies_analysis ON anomalies(tenant_id, analysis_id, seq);
CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(tenant_id, status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaBankConditions,
		schemaClassificationRules,
		schemaAnalyses,
		schemaAnomalies,
	}
}
