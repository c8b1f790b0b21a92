// Package delivery defines the contract every transport entry point implements.
package delivery

import "context"

// Delivery is a serving surface (HTTP server, worker, ...) started by the composition root.
type Delivery interface {
	Serve(ctx context.Context) error
}
