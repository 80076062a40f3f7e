// Package logger provides the structured logging interface used across wxharvest.
//
// It wraps zerolog behind a small Logger interface:
//
//	logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("component", "harvest")
//	log.InfoWithFields("page fetched", map[string]interface{}{"page": 2})
//
// Credentials must never be logged in clear; pass them through Mask first.
//
// Tests use NewTestLogger to capture messages or NewNopLogger to discard them.
package logger
