package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"solasola/internal/api"
	"solasola/internal/logging"
	"solasola/internal/services"
)

// response is a handler result with an explicit status code.
type response struct {
	code int
	body any
}

func ok(body any) response       { return response{code: http.StatusOK, body: body} }
func accepted(body any) response { return response{code: http.StatusAccepted, body: body} }
func noContent() response        { return response{code: http.StatusNoContent} }

type codedError struct {
	err    error
	code   int
	fields map[string]string
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

// badRequest reports a malformed request as a validation failure.
func badRequest(operation, message string, fields map[string]string) error {
	return &codedError{
		err:    services.Wrap(services.ErrValidation, "api", operation, message, nil),
		code:   http.StatusBadRequest,
		fields: fields,
	}
}

// statusFor maps an error onto an HTTP status. Coded errors keep their code.
func statusFor(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func restHandler(logger *slog.Logger, handler func(r *http.Request) (response, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			writeError(w, logging.WithContext(r.Context(), logger), err)
			return
		}
		if res.code == http.StatusNoContent {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if res.body == nil {
			res.body = struct{}{}
		}
		writeJSON(w, logger, res.code, res.body)
	}
}

func parseRequest[T any](r *http.Request, validate *validator.Validate) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		return data, badRequest("parse", "unable to parse request body", nil)
	}
	if validate == nil {
		return data, nil
	}
	if err := validate.Struct(&data); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return data, badRequest("validate", "request validation failed", formatValidationErrors(verrs))
		}
		return data, badRequest("validate", fmt.Sprintf("request validation failed: %v", err), nil)
	}
	return data, nil
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Namespace()] = e.Tag()
	}
	return out
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	details := services.Details(err)
	body := api.ErrorResponse{Error: details.Message, Kind: details.Kind}
	var cerr *codedError
	if errors.As(err, &cerr) {
		body.Fields = cerr.fields
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "api_request_failed", logging.Error(err))
	} else {
		logger.Debug("request rejected", logging.Int("status", status), logging.Error(err))
	}
	writeJSON(w, logger, status, body)
}
