package sqlstore

import (
	"context"
	"strings"
)

// auditIDColumn is the only column whose type differs between dialects.
func (d Dialect) auditIDColumn() string {
	if d == DialectPostgres {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Migrate creates the schema. Statements are idempotent. For production,
// use a proper migration tool with versioned migrations.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.d) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func schema(d Dialect) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS employees (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			hire_date TEXT NOT NULL,
			status TEXT NOT NULL,
			department_id TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			updated_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_employees_status ON employees(status)`,

		`CREATE TABLE IF NOT EXISTS leave_types (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			accrual_rate TEXT NOT NULL,
			max_balance TEXT,
			requires_medical_certificate BOOLEAN NOT NULL DEFAULT FALSE,
			monetizable BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		// Written only by the balance engine.
		`CREATE TABLE IF NOT EXISTS leave_balances (
			employee_id TEXT NOT NULL,
			leave_type_id TEXT NOT NULL,
			balance TEXT NOT NULL DEFAULT '0',
			last_accrued_through TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (employee_id, leave_type_id)
		)`,

		`CREATE TABLE IF NOT EXISTS leave_requests (
			id TEXT PRIMARY KEY,
			reference TEXT NOT NULL UNIQUE,
			employee_id TEXT NOT NULL,
			leave_type_id TEXT NOT NULL,
			date_from TEXT NOT NULL,
			date_to TEXT NOT NULL,
			is_half_day BOOLEAN NOT NULL DEFAULT FALSE,
			period TEXT NOT NULL DEFAULT '',
			days TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			medical_certificate TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			approver_id TEXT,
			comment TEXT NOT NULL DEFAULT '',
			decided_at TEXT,
			cancelled_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		// Overlap check on approval (hot path)
		`CREATE INDEX IF NOT EXISTS idx_leave_requests_employee_status
			ON leave_requests(employee_id, status, date_from, date_to)`,

		`CREATE TABLE IF NOT EXISTS pass_slips (
			id TEXT PRIMARY KEY,
			reference TEXT NOT NULL UNIQUE,
			employee_id TEXT NOT NULL,
			slip_type TEXT NOT NULL,
			slip_date TEXT NOT NULL,
			time_out TEXT NOT NULL,
			expected_time_in TEXT NOT NULL,
			actual_time_in TEXT,
			destination TEXT NOT NULL DEFAULT '',
			purpose TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			approver_id TEXT,
			comment TEXT NOT NULL DEFAULT '',
			decided_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pass_slips_employee ON pass_slips(employee_id, slip_date)`,

		// Write-once; corrections are new rows pointing at supersedes.
		`CREATE TABLE IF NOT EXISTS monetizations (
			id TEXT PRIMARY KEY,
			employee_id TEXT NOT NULL,
			retirement_date TEXT NOT NULL,
			vl_balance TEXT NOT NULL,
			sl_balance TEXT NOT NULL,
			total_days TEXT NOT NULL,
			daily_rate TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			supersedes TEXT,
			generated_by TEXT,
			generated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monetizations_employee ON monetizations(employee_id, generated_at)`,

		`CREATE TABLE IF NOT EXISTS sequences (
			scope TEXT NOT NULL,
			year INTEGER NOT NULL,
			value INTEGER NOT NULL,
			PRIMARY KEY (scope, year)
		)`,

		// Append-only. No UPDATE or DELETE is ever issued against it.
		`CREATE TABLE IF NOT EXISTS audit_log (
			` + d.auditIDColumn() + `,
			actor_id TEXT,
			action TEXT NOT NULL,
			module TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			before_json TEXT,
			after_json TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id, id)`,
	}
	for i, stmt := range stmts {
		stmts[i] = strings.TrimSpace(stmt)
	}
	return stmts
}
