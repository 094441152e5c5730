// Package config provides PostgreSQL connection configuration for testing the pricing export sources.
//
// It creates connections for the three supported adapters (pgx.Pool, sql.DB, sqlx.DB).
// The DSNs default to the docker-compose test database and can be overridden with
// TEST_PRIMARY_DSN and TEST_REPLICA_DSN.
package config
