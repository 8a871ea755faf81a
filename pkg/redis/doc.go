// Package redis establishes verified connections to the Redis server that
// backs the shared variable store.
//
// Connection parameters come from an env-driven Config; Connect parses the
// connection URL, pings the server with retries, and returns a ready client:
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("redis: %v", err)
//	}
//	defer client.Close()
//
// Errors can be compared with errors.Is against ErrFailedToParseConnString
// and ErrNotReady.
package redis
