// Package postgresengine provides PostgreSQL implementations of the exportsource.PagedSource interface
// for the pricing export: pricelists, pricelist assignments and prices.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX), optional read replica for eventual consistency
//   - COUNT(*) and LIMIT/OFFSET queries built with goqu, object ids filtering by pricelist
//   - Whitelisted sort columns with a stable "id ASC" tiebreaker
//   - Rows serialized to JSON payloads with json-iterator
//   - Configurable table names, dual-logger, metrics and tracing support
//
// Usage examples:
//
//	db, _ := pgxpool.New(context.Background(), dsn)
//	sources, _ := postgresengine.NewPricingSourcesFromPGXPool(
//		db,
//		postgresengine.WithTableNames(postgresengine.TableNames{
//			Pricelists:  "pl",
//			Assignments: "pl_assignments",
//			Prices:      "pl_prices",
//		}),
//		postgresengine.WithLogger(logger),
//	)
//
//	_ = sources.EnsureSchema(ctx)
//	export, _ := composite.NewComposite(sources.All())
package postgresengine
