package controller

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
)

// Ref identifies a watched object. Refs are immutable and comparable,
// and are used directly as work queue keys, so pending reconciliations
// for the same object collapse into one.
type Ref struct {
	Namespace string
	Name      string
	Kind      string
}

// String returns the cache-style namespace/name key, prefixed with the
// kind when set.
func (r Ref) String() string {
	key := r.Name
	if r.Namespace != "" {
		key = r.Namespace + "/" + r.Name
	}
	if r.Kind != "" {
		return r.Kind + " " + key
	}
	return key
}

// Result directs what the controller does after a successful
// reconciliation. The zero value means no further reconciliation is
// scheduled; the object is only revisited on a new watch event.
type Result struct {
	// RequeueAfter schedules another reconciliation of the same object
	// no earlier than this duration from now.
	RequeueAfter time.Duration
}

// Reconciler reconciles a single object of type T.
//
// Reconcile is given the freshest state of the object, fetched at
// dequeue time. It must be idempotent: invoked twice with the same
// observed state it returns the same Result and performs no duplicate
// side effects. Returning an error requeues the object according to
// the controller's retry policy; wrap with PermanentError to opt out
// of retries.
type Reconciler[T runtime.Object] interface {
	Reconcile(ctx context.Context, obj T) (Result, error)
}

// ReconcilerFunc is an adapter to allow ordinary functions to be used
// as Reconcilers.
type ReconcilerFunc[T runtime.Object] func(ctx context.Context, obj T) (Result, error)

// Reconcile calls f(ctx, obj).
func (f ReconcilerFunc[T]) Reconcile(ctx context.Context, obj T) (Result, error) {
	return f(ctx, obj)
}

// DeletionReconciler is optionally implemented by Reconcilers that
// want to observe deletions. It is invoked when the object is gone by
// the time its queue entry is processed. Reconcilers that do not
// implement it treat deletion as a no-op: the entry is dropped and
// not requeued.
type DeletionReconciler interface {
	ReconcileDeletion(ctx context.Context, ref Ref) error
}
