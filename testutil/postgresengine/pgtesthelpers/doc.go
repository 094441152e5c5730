// Package pgtesthelpers provides database test helpers for the PostgreSQL pricing export sources.
//
// A Wrapper hides which adapter (pgx.Pool, sql.DB, sqlx.DB) the sources run on.
// The adapter is chosen with the ADAPTER_TYPE environment variable, so the same
// integration tests run against each of them.
package pgtesthelpers
