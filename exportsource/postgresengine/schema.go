package postgresengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	logMsgSchemaEnsured      = "schema ensured"
	logMsgCreateSchemaFailed = "failed to create schema"
	logAttrStatementCount    = "statement_count"
)

// CreateSchemaSQL returns the DDL statements for the three pricing tables and their indexes,
// in the order they have to be executed.
func (s Sources) CreateSchemaSQL() []string {
	pricelists := pgx.Identifier{s.tableNames.Pricelists}.Sanitize()
	assignments := pgx.Identifier{s.tableNames.Assignments}.Sanitize()
	prices := pgx.Identifier{s.tableNames.Prices}.Sanitize()
	assignmentsIndex := pgx.Identifier{s.tableNames.Assignments + "_pricelist_id_idx"}.Sanitize()
	pricesIndex := pgx.Identifier{s.tableNames.Prices + "_pricelist_id_idx"}.Sanitize()

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	currency CHAR(3) NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	modified_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
)`, pricelists),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	pricelist_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	catalog_id TEXT NOT NULL,
	store_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	start_date TIMESTAMP WITH TIME ZONE,
	end_date TIMESTAMP WITH TIME ZONE
)`, assignments, pricelists),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (pricelist_id)`, assignmentsIndex, assignments),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	pricelist_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	product_id TEXT NOT NULL,
	list NUMERIC(19, 4) NOT NULL,
	sale NUMERIC(19, 4),
	min_quantity INTEGER NOT NULL DEFAULT 1,
	start_date TIMESTAMP WITH TIME ZONE,
	end_date TIMESTAMP WITH TIME ZONE
)`, prices, pricelists),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (pricelist_id)`, pricesIndex, prices),
	}
}

// EnsureSchema creates the pricing tables if they do not exist yet.
func (s Sources) EnsureSchema(ctx context.Context) error {
	statements := s.CreateSchemaSQL()

	for _, statement := range statements {
		if err := s.db.Exec(ctx, statement); err != nil {
			s.logErrorContext(ctx, logMsgCreateSchemaFailed, logAttrError, err.Error(), logAttrQuery, statement)

			return errors.Join(exportsource.ErrCreatingSchemaFailed, err)
		}
	}

	s.logOperationContext(ctx, logMsgSchemaEnsured, logAttrStatementCount, len(statements))

	return nil
}

// logOperationContext logs schema operations at info level to every configured logger.
func (s Sources) logOperationContext(ctx context.Context, action string, args ...any) {
	if s.logger != nil {
		s.logger.Info(logMsgOperation+action, args...)
	}

	if s.contextualLogger != nil {
		s.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logErrorContext logs schema failures at error level to every configured logger.
func (s Sources) logErrorContext(ctx context.Context, message string, args ...any) {
	if s.logger != nil {
		s.logger.Error(message, args...)
	}

	if s.contextualLogger != nil {
		s.contextualLogger.ErrorContext(ctx, message, args...)
	}
}
