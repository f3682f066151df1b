package mgmtbridge

// IsolateID identifies a guest isolate within the host process.
//
// The zero value is reserved and never identifies a live isolate.
type IsolateID uint64

// ShutdownHooks registers functions to run when the guest isolate is torn
// down. Hooks must be registered at most once per concern; callers are
// responsible for their own idempotence.
type ShutdownHooks interface {
	AddShutdownHook(hook func())
}

// ShutdownHookFunc adapts a plain function to the ShutdownHooks interface.
type ShutdownHookFunc func(hook func())

func (f ShutdownHookFunc) AddShutdownHook(hook func()) { f(hook) }
