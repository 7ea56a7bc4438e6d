// Package logger provides the broker's singleton Zap logger with context-based scoping.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada request o intento de conexión puede llevar su propio
//     logger "scoped" (request_id, platform, attempt_id) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Levels: debug, info, warn, error (configurable via LOG_LEVEL).
//
// # Usage
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En services/broker (con contexto):
//
//	log := logger.From(ctx).With(logger.Component("broker.bridge"), logger.Platform(p))
//	log.Debug("outcome received", logger.State(state))
package logger
