package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/podwatch/podwatch/kube"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"
)

const defaultMaxRetries = 10

// Options configures a Controller.
type Options struct {
	// Namespace limits the controller to a specific namespace.
	// If empty, the controller watches all namespaces.
	Namespace string

	// Concurrency is the number of concurrent reconcilers.
	// Defaults to 1 if not set.
	Concurrency int

	// ErrorRetryDelay, when positive, requeues every failed item after
	// this fixed delay instead of the rate limiter's backoff.
	ErrorRetryDelay time.Duration

	// MaxRetries caps rate-limited retries per item before it is
	// dropped. Ignored when ErrorRetryDelay is set. Defaults to 10.
	MaxRetries int

	// ReconcileTimeout, when positive, bounds each Reconcile call with
	// a deadline.
	ReconcileTimeout time.Duration

	// Queue is a custom workqueue for the controller.
	// If not provided, a default rate-limiting queue is used.
	Queue workqueue.TypedRateLimitingInterface[Ref]
}

// Controller runs the reconciliation loop for resources of type T:
// watch events enqueue object references, a bounded pool of workers
// dequeues them, fetches the latest state and invokes the Reconciler.
//
// The queue guarantees at most one in-flight reconciliation per Ref;
// adds arriving while a Ref is being processed are redelivered after
// its Done.
type Controller[T runtime.Object] struct {
	client     kube.Client[T]
	reconciler Reconciler[T]
	queue      workqueue.TypedRateLimitingInterface[Ref]
	kind       string

	namespace        string
	concurrency      int
	errorRetryDelay  time.Duration
	maxRetries       int
	reconcileTimeout time.Duration
}

// New creates a Controller with the given client, reconciler, and
// options. opts may be nil.
func New[T runtime.Object](client kube.Client[T], reconciler Reconciler[T], opts *Options) *Controller[T] {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Queue == nil {
		opts.Queue = workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[Ref]())
	}

	return &Controller[T]{
		client:           client,
		reconciler:       reconciler,
		queue:            opts.Queue,
		kind:             client.Kind(),
		namespace:        opts.Namespace,
		concurrency:      opts.Concurrency,
		errorRetryDelay:  opts.ErrorRetryDelay,
		maxRetries:       opts.MaxRetries,
		reconcileTimeout: opts.ReconcileTimeout,
	}
}

// Run starts the informer and worker pool and blocks until ctx is
// canceled. Startup failures are returned before any worker runs.
func (c *Controller[T]) Run(ctx context.Context) error {
	defer c.queue.ShutDown()

	clog.InfoContext(ctx, "starting controller", "kind", c.kind, "concurrency", c.concurrency)

	handler := kube.InformerHandler[T]{
		OnAdd: func(key string, obj T) {
			c.enqueueKey(ctx, key)
		},
		OnUpdate: func(key string, oldObj, newObj T) {
			c.enqueueKey(ctx, key)
		},
		OnDelete: func(key string, obj T) {
			c.enqueueKey(ctx, key)
		},
		OnError: func(obj any, err error) {
			clog.ErrorContext(ctx, "informer error", "error", err, "object", obj)
		},
	}

	inf, err := c.client.Inform(ctx, handler, &kube.InformOptions{
		Namespace: c.namespace,
	})
	if err != nil {
		return fmt.Errorf("starting informer: %w", err)
	}

	clog.InfoContext(ctx, "waiting for cache sync", "kind", c.kind)
	if !cache.WaitForCacheSync(ctx.Done(), inf.HasSynced) {
		return fmt.Errorf("cache sync for %s canceled", c.kind)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runWorker(ctx)
		}()
	}

	<-ctx.Done()
	clog.InfoContext(ctx, "shutting down controller", "kind", c.kind)
	c.queue.ShutDown()
	wg.Wait()
	return nil
}

// enqueueKey turns a namespace/name cache key into a Ref and adds it
// to the queue.
func (c *Controller[T]) enqueueKey(ctx context.Context, key string) {
	namespace, name, err := cache.SplitMetaNamespaceKey(key)
	if err != nil {
		clog.ErrorContext(ctx, "invalid event key", "key", key, "error", err)
		return
	}
	c.queue.Add(Ref{Namespace: namespace, Name: name, Kind: c.kind})
}

// runWorker processes items from the queue until it shuts down.
func (c *Controller[T]) runWorker(ctx context.Context) {
	for c.processNextItem(ctx) {
	}
}

// processNextItem processes one item from the queue. It returns false
// when the queue has shut down.
func (c *Controller[T]) processNextItem(ctx context.Context) bool {
	ref, quit := c.queue.Get()
	if quit {
		return false
	}
	defer c.queue.Done(ref)

	res, err := c.reconcile(ctx, ref)
	if err != nil {
		c.handleError(ctx, ref, err)
		return true
	}

	c.queue.Forget(ref)
	if res.RequeueAfter > 0 {
		clog.DebugContext(ctx, "requeueing", "ref", ref, "after", res.RequeueAfter)
		c.queue.AddAfter(ref, res.RequeueAfter)
	}
	return true
}

// reconcile fetches the latest object state and invokes the
// Reconciler. An object missing at dequeue time takes the deletion
// path instead and is not requeued.
func (c *Controller[T]) reconcile(ctx context.Context, ref Ref) (Result, error) {
	if c.reconcileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reconcileTimeout)
		defer cancel()
	}

	obj, err := c.client.Get(ctx, ref.Namespace, ref.Name)
	if apierrors.IsNotFound(err) {
		if d, ok := c.reconciler.(DeletionReconciler); ok {
			if derr := d.ReconcileDeletion(ctx, ref); derr != nil {
				return Result{}, &ReconcileError{Ref: ref, Err: derr}
			}
		}
		clog.InfoContext(ctx, "object deleted", "ref", ref)
		return Result{}, nil
	}
	if err != nil {
		return Result{}, &ReconcileError{Ref: ref, Err: fmt.Errorf("fetching object: %w", err)}
	}

	res, err := c.reconciler.Reconcile(ctx, obj)
	if err != nil {
		return Result{}, &ReconcileError{Ref: ref, Err: err}
	}
	clog.InfoContext(ctx, "reconciled", "ref", ref)
	return res, nil
}

// handleError applies the retry policy to a failed item. The error is
// always a *ReconcileError carrying the failing Ref.
func (c *Controller[T]) handleError(ctx context.Context, ref Ref, err error) {
	if IsPermanentError(err) {
		clog.ErrorContext(ctx, "permanent error, not retrying", "ref", ref, "error", err)
		c.queue.Forget(ref)
		return
	}

	if c.errorRetryDelay > 0 {
		clog.ErrorContext(ctx, "reconcile failed, retrying", "ref", ref, "error", err, "delay", c.errorRetryDelay)
		c.queue.Forget(ref)
		c.queue.AddAfter(ref, c.errorRetryDelay)
		return
	}

	if c.queue.NumRequeues(ref) < c.maxRetries {
		clog.ErrorContext(ctx, "reconcile failed, retrying with backoff", "ref", ref, "error", err)
		c.queue.AddRateLimited(ref)
		return
	}
	clog.ErrorContext(ctx, "max retries exceeded, dropping item", "ref", ref, "error", err)
	c.queue.Forget(ref)
}
