package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery signals a query that cannot be routed (empty or too long).
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidFeedback signals a malformed feedback submission.
	ErrInvalidFeedback = errors.New("invalid feedback")

	// ErrGuardrailRejected signals a query refused by the content guardrail.
	// The router turns it into a blocked decision; knowledge base search returns it
	// wrapped with ErrInvalidQuery.
	ErrGuardrailRejected = errors.New("guardrail rejected")

	// ErrProviderTimeout signals an external tier that did not answer in time.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderUnavailable signals an external tier that failed or returned nothing usable.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationQuotaExceeded signals an exhausted generation token budget.
	ErrGenerationQuotaExceeded = errors.New("generation quota exceeded")

	// ErrTraceNotFound signals an unknown or expired trace id.
	ErrTraceNotFound = errors.New("trace not found")
	// ErrTraceExists signals a second write of the same trace id.
	ErrTraceExists = errors.New("trace already exists")

	// ErrStoreUnavailable signals that the knowledge base or ledger backend is down.
	ErrStoreUnavailable = errors.New("store unavailable")
)
