package api

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeCodedProblem(w, status, title, detail, instance, "")
}

func writeCodedProblem(w http.ResponseWriter, status int, title, detail, instance, code string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
		Code:     code,
	})
}

// writeError renders an error envelope as a problem. Internal failures are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		s.log.Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "", r.URL.Path)
		return
	}
	status := rich.Code
	if status == 0 {
		status = categoryStatus(rich.Category)
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", rich.TextCode), zap.Error(err))
		writeCodedProblem(w, status, http.StatusText(status), "", r.URL.Path, rich.TextCode)
		return
	}
	writeCodedProblem(w, status, http.StatusText(status), rich.Message, r.URL.Path, rich.TextCode)
}

func categoryStatus(c goerrors.Category) int {
	switch c {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
