// Package logger provee el logger Zap del servicio: un singleton global
// más propagación por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Scoping por contexto: un middleware puede inyectar con ToContext un
//     logger con campos del request (request_id, client_ip) y cualquier
//     capa lo recupera con From(ctx) sin crear un nuevo core.
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON.
//   - Niveles: debug, info, warn, error.
//
// # Uso
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{
//	    Env:   cfg.App.Env,   // "dev" o "prod"
//	    Level: cfg.Log.Level, // "debug", "info", "warn", "error"
//	})
//	defer logger.Sync()
//
// En el pipeline (con contexto):
//
//	log := logger.From(ctx)
//	log.Info("dispositivo confiado", logger.UserID(userID), logger.DeviceID(devID))
//
// Sin contexto (fallback al singleton):
//
//	logger.L().Info("authcore iniciado")
package logger
