// Package logger provides a small factory over log/slog with env-driven
// defaults.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithLevel(slog.LevelDebug),
//	    logger.WithFormat(logger.FormatText),
//	)
//	log.Info("remote provider started", slog.String("base_url", url))
//
// Or from environment variables (LOG_LEVEL, LOG_FORMAT):
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//	log := logger.NewFromConfig(cfg)
//
// The factory panics on an invalid format option: logging misconfiguration
// should prevent startup rather than surface later.
package logger
