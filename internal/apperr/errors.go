package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports missing or malformed client input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UnknownProductError reports a store product with no active mapping.
// This is a configuration problem, never resolved by guessing a default effect.
type UnknownProductError struct {
	Platform  string
	Provider  string
	ProductID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("no active product mapping for %s/%s product %q", e.Platform, e.Provider, e.ProductID)
}

// ProviderError reports a non-2xx answer from the store verification API.
// StatusCode carries the store's own status and is mirrored to the client.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s verification failed with status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// DecodeError reports a payload from the store that could not be decoded.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NotImplementedError reports a provider without a working verifier.
type NotImplementedError struct {
	Provider string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("provider %q verification is not implemented", e.Provider)
}

// PersistenceError reports a failed durable-store operation.
// Unique-constraint violations on transaction insert are never wrapped in
// this type; they are the idempotency signal, not an error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DataIntegrityError reports broken reference data, e.g. a coin pack
// configured with a non-positive quantity. Not retryable by the client.
type DataIntegrityError struct {
	Message string
}

func (e *DataIntegrityError) Error() string {
	return e.Message
}

// NotFoundError reports a missing record for an operation that requires one.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// StatusOf maps an error to the HTTP status mirrored to the client.
// ProviderError carries the store's status; everything else is fixed
// per taxonomy; unknown errors default to 500.
func StatusOf(err error) int {
	var (
		validation     *ValidationError
		unknownProduct *UnknownProductError
		provider       *ProviderError
		decode         *DecodeError
		notFound       *NotFoundError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &unknownProduct):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &provider):
		if provider.StatusCode >= 400 && provider.StatusCode < 600 {
			return provider.StatusCode
		}
		return http.StatusBadGateway
	case errors.As(err, &decode):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
