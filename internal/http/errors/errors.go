package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/linkbroker/internal/broker"
)

// errorResponse estructura interna para la serialización JSON.
type errorResponse struct {
	Code     string                    `json:"code"`
	Message  string                    `json:"message"`
	Detail   string                    `json:"detail,omitempty"`
	Platform string                    `json:"platform,omitempty"`
	Attempts []broker.CandidateFailure `json:"attempts,omitempty"`
}

// WriteError escribe una respuesta HTTP basada en el error proporcionado.
// Maneja *AppError, *broker.Error y errores genéricos.
func WriteError(w http.ResponseWriter, err error) {
	resp := errorResponse{}
	var be *broker.Error
	if stderrors.As(err, &be) {
		resp.Platform = be.Platform
		resp.Attempts = be.Attempts
	}
	appErr := FromError(err)
	resp.Code = appErr.Code
	resp.Message = appErr.Message
	resp.Detail = appErr.Detail

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// FromError convierte un error genérico en un AppError.
// Si no es AppError ni *broker.Error, devuelve un error interno conservando la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var be *broker.Error
	if stderrors.As(err, &be) {
		return FromBrokerError(be)
	}
	return ErrInternalServerError.WithCause(err)
}

// FromBrokerError mapea la taxonomía del broker a status HTTP y a un mensaje
// que distingue "cancelaste", "el provider rechazó" y "no pudimos llegar al
// servicio de autorización".
func FromBrokerError(be *broker.Error) *AppError {
	status := http.StatusInternalServerError
	switch be.Code {
	case broker.CodeUnsupportedPlatform:
		status = http.StatusNotFound
	case broker.CodeCancelled:
		status = http.StatusConflict
	case broker.CodePopupBlocked:
		status = http.StatusUnprocessableEntity
	case broker.CodeProviderError:
		status = http.StatusForbidden
	case broker.CodeExpiredOrInvalidState:
		status = http.StatusGone
	case broker.CodeEndpointResolutionFailed, broker.CodeCodeExchangeFailed:
		status = http.StatusBadGateway
	}
	return &AppError{
		Code:       string(be.Code),
		Message:    Guidance(be.Code, be.Platform),
		Detail:     be.Message,
		HTTPStatus: status,
		Err:        be,
	}
}

// Guidance retorna el texto para el usuario final según el código.
func Guidance(code broker.Code, platform string) string {
	name := platform
	if name == "" {
		name = "the platform"
	}
	switch code {
	case broker.CodeCancelled:
		return "You closed the " + name + " window before finishing. Start the connection again when you're ready."
	case broker.CodePopupBlocked:
		return "Your browser blocked the " + name + " sign-in window. Allow pop-ups for this site and try again."
	case broker.CodeProviderError:
		return name + " rejected the connection. Check that your account has the required permissions and try again."
	case broker.CodeEndpointResolutionFailed:
		return "We couldn't reach the authorization service for " + name + ". Try again in a few minutes."
	case broker.CodeCodeExchangeFailed:
		return "We couldn't finish connecting " + name + ". Try again; if it keeps failing, reconnect from scratch."
	case broker.CodeExpiredOrInvalidState:
		return "The " + name + " authorization expired. Start the connection again."
	case broker.CodeUnsupportedPlatform:
		return name + " is not a supported platform."
	}
	return "Something went wrong while connecting " + name + "."
}
