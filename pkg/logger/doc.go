// Package logger provides slog.Logger construction with environment-driven
// configuration and broker-domain attribute helpers.
//
// Attribute helpers use the empty Attr pattern for nil safety, so call sites
// can write log.Info("msg", logger.Error(err)) without explicit nil checks.
// Key secrets must never reach a log record unmasked; use apikey.Mask before
// logger.APIKey.
package logger
