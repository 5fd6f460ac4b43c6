package snapshotter

import "context"

// Provider creates the underlying storage snapshot for an attempt. The
// coordinator calls Create on its own goroutine and treats the return as
// the attempt's resolution: nil is success, anything else is failure.
// The context is canceled when the attempt's deadline elapses or when
// the coordinator shuts down; providers that cannot abort mid-flight may
// run to completion, the coordinator discards the late result.
//
// Failure causes are not interpreted. Disk exhaustion, a storage fault
// and cancellation all resolve the attempt the same way.
type Provider interface {
	Create(ctx context.Context, name SnapshotName) error
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, name SnapshotName) error

func (f ProviderFunc) Create(ctx context.Context, name SnapshotName) error {
	return f(ctx, name)
}
