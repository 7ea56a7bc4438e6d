package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - BROKER
// =================================================================================

// Platform identifica la red social / plataforma de ads del intento.
func Platform(v string) zap.Field { return zap.String("platform", v) }

// AttemptID identifica un ConnectionAttempt.
func AttemptID(v string) zap.Field { return zap.String("attempt_id", v) }

// State loguea solo un prefijo del correlation token; el valor completo es un secreto.
func State(v string) zap.Field {
	if len(v) > 6 {
		v = v[:6] + "…"
	}
	return zap.String("state", v)
}

// AttemptStatus crea un campo para el estado de la máquina.
func AttemptStatus(v string) zap.Field { return zap.String("attempt_status", v) }

// Candidate identifica un endpoint candidato del resolver.
func Candidate(v string) zap.Field { return zap.String("candidate", v) }

// Outcome crea un campo para el resultado terminal (connected/failed/cancelled).
func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// ErrorCode crea un campo para un código de la taxonomía de errores.
func ErrorCode(v string) zap.Field { return zap.String("error_code", v) }

// Elapsed crea un campo para el tiempo transcurrido desde el inicio del intento.
func Elapsed(v time.Duration) zap.Field { return zap.Duration("elapsed", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

func String(key, v string) zap.Field { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
