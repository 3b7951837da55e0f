// Package postgres wires gatehouse to its backing services: the PostgreSQL
// pool (lib/pq), the schema migrations, and the optional Redis client with
// the token liveness cache.
//
//	cm, err := postgres.NewConnectionManager(ctx, cfg, logger)
//	if err := postgres.Migrate(ctx, cm.DB(), logger); err != nil { ... }
//
//	rdb, err := postgres.NewRedisClient(ctx, redisCfg)
//	tokens, err := auth.NewTokenManager(tokenCfg, store, store,
//		auth.WithLivenessCache(postgres.NewRedisLivenessCache(rdb, time.Minute, metrics)))
package postgres
