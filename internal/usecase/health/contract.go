package health

import "context"

// Pinger checks a storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker checks an external provider.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}
