package core

import "context"

// Starter is implemented by components that run background work
// (listeners, schedulers, probes). Start must not block.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by components that release resources. Stop is
// called in reverse start order.
type Stopper interface {
	Stop(ctx context.Context) error
}
