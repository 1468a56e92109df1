package handler

import "context"

// Worker is the business logic behind an HTTP route.
// Implementations receive a Request that has already been through the
// middleware chain and return either a Response or a classified error.
type Worker interface {
	// Name identifies the worker in logs and metric labels.
	Name() string

	// Process handles a single request. A returned error is translated
	// into a JSON error response by the HTTP adapter.
	Process(ctx context.Context, req Request) (Response, error)

	// Health reports whether the worker can serve requests.
	Health(ctx context.Context) error
}
