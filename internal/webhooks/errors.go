package webhooks

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"shopassist/internal/store"
)

// Text codes carried by the error envelopes returned from this package.
const (
	TextCodeValidation         = "WEBHOOK_VALIDATION"
	TextCodeWebhookNotFound    = "WEBHOOK_NOT_FOUND"
	TextCodeDeliveryNotFound   = "DELIVERY_NOT_FOUND"
	TextCodeMalformedSignature = "SIGNATURE_MALFORMED"
	TextCodeInvalidPayload     = "PAYLOAD_INVALID"
	TextCodeNotRedeliverable   = "DELIVERY_NOT_TERMINAL"
	TextCodeStorage            = "STORAGE_FAILURE"
)

func validationError(message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeValidation)
}

func notFoundError(message, textCode string) error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(textCode)
}

func badInputError(source error, message, textCode string) error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(textCode)
	}
	return goerrors.Wrap(source, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(textCode)
}

func conflictError(message, textCode string) error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(textCode)
}

// storeError maps store sentinels onto envelopes; notFound is the text code for ErrNotFound.
func storeError(err error, message, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError(message+": not found", notFound)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeStorage)
}
