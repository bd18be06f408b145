// Package pg bootstraps the PostgreSQL layer: a pgx/v5 connection pool
// with retrying Connect, goose schema migrations routed through the
// application logger, a readiness probe, and error classification
// helpers for unique and foreign key violations.
//
// The subscription and seat-change-history stores run on the pool this
// package produces; Migrate applies the SQL files under migrations/
// before the service starts serving.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		log.Fatal(err)
//	}
//
//	subs := subscription.NewPostgresSubscriptionStore(pool)
package pg
