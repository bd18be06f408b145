// Package redis connects the application to a Redis server.
//
// It wraps the go-redis client with a retrying Connect helper driven by
// env-based configuration, plus a health-check probe for readiness
// endpoints. The webhook transport uses the resulting client for its
// durable event dedupe store.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	deduper := webhookin.NewRedisDeduper(client, 24*time.Hour)
//
// Sentinel errors (ErrRedisNotReady and friends) wrap the underlying
// go-redis errors with errors.Join for easy classification.
package redis
