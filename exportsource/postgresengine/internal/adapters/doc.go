// Package adapters lets the PostgreSQL export sources run on pgx.Pool, sql.DB or sqlx.DB.
//
// Only the pgx adapter supports a replica: reads go there when the context asks for
// eventual consistency, DDL always goes to the primary.
package adapters
