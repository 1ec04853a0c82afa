// Package controller provides a generic level-triggered reconciliation
// loop over the typed client from github.com/podwatch/podwatch/kube.
//
// Watch events for the client's resource are collapsed into a
// deduplicating work queue keyed by object identity. A bounded pool of
// workers dequeues references, fetches the freshest object state and
// hands it to a Reconciler.
//
// # Basic Usage
//
//	client, _ := kube.NewClient[*corev1.Pod](config)
//
//	ctrl := controller.New(client, controller.ReconcilerFunc[*corev1.Pod](
//	    func(ctx context.Context, pod *corev1.Pod) (controller.Result, error) {
//	        clog.InfoContext(ctx, "observed pod", "phase", pod.Status.Phase)
//	        return controller.Result{RequeueAfter: 10 * time.Second}, nil
//	    }), nil)
//
//	ctrl.Run(ctx)
//
// # Requeue Directives
//
// A successful Reconcile returns a Result: a zero Result drops the
// item until the next watch event, a positive RequeueAfter schedules a
// periodic re-verification. Errors are retried per the controller's
// policy: a fixed delay when Options.ErrorRetryDelay is set, otherwise
// rate-limited backoff capped at Options.MaxRetries. Wrap an error in
// PermanentError to drop the item instead of retrying.
//
// # Deletion
//
// The loop fetches fresh state at dequeue time. If the object is gone,
// the Reconciler's normal path is skipped; Reconcilers that implement
// DeletionReconciler are told about the disappearance, everyone else
// has the item dropped silently.
package controller
