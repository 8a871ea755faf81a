// Package config loads application configuration from environment variables
// into tagged Go structs.
//
// It wraps `github.com/joho/godotenv` and `github.com/caarlos0/env/v11`:
// the default `.env` file (if present) is loaded once per process, then
// `env.Parse` fills any struct annotated with `env` field tags.
//
// # Usage
//
//	type RedisConfig struct {
//	    URL string `env:"REDIS_URL,required"`
//	}
//
//	var cfg RedisConfig
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatalf("parsing env: %v", err)
//	}
//
// MustLoad panics instead of returning an error, for configuration the
// process cannot run without.
//
// # Error Handling
//
// Errors can be compared with errors.Is:
//
//   - ErrParsingConfig – failed to parse env vars into the struct.
//   - ErrNilPointer – nil pointer passed to Load/MustLoad.
package config
