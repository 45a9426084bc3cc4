package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"go.uber.org/zap"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	code := string(ragerr.CodeOf(err))
	if code == "" {
		code = string(ragerr.CodeServerInternalFailure)
	}
	writeJSON(w, ragerr.HTTPStatus(err), errorBody{Error: err.Error(), Code: code})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

// respondError writes err with the status its code maps to. Server-side
// failures are logged at error level, client mistakes at debug.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := ragerr.HTTPStatus(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	writeError(w, err)
}

func (s *Server) decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return ragerr.Wrap(err, ragerr.CodeServerRequestInvalid, "invalid request body")
	}
	return nil
}
