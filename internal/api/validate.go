package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	goerrors "github.com/goliatone/go-errors"

	"shopassist/internal/webhooks"
)

const maxBodyBytes = 1 << 20

type createWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type updateWebhookRequest struct {
	URL    *string  `json:"url"`
	Events []string `json:"events"`
}

type triggerEventRequest struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

type verifyRequest struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	Secret    string          `json:"secret"`
}

// decode reads a JSON body into v, writing a 400 problem and returning false
// when the body is not a single well-formed object.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, invalidJSON(err))
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		s.writeError(w, r, invalidJSON(errors.New("unexpected data after JSON body")))
		return false
	}
	return true
}

func invalidJSON(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid JSON body: "+err.Error()).
		WithCode(http.StatusBadRequest).
		WithTextCode("INVALID_JSON")
}

// parsePaging reads limit and offset query parameters; absent values are 0.
func parsePaging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, goerrors.New(name+" must be a non-negative integer", goerrors.CategoryValidation).
			WithCode(http.StatusBadRequest).
			WithTextCode(webhooks.TextCodeValidation)
	}
	return n, nil
}
