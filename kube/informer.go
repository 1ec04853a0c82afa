package kube

import (
	"context"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/tools/cache"
)

const defaultResyncPeriod = time.Hour

// InformerHandler receives typed watch events. Any handler func may be
// nil, in which case that event kind is ignored. The key is the
// object's namespace/name cache key. OnUpdate's oldObj may be the zero
// value if the previous state could not be decoded; OnError is told
// first.
type InformerHandler[T runtime.Object] struct {
	OnAdd    func(key string, obj T)
	OnUpdate func(key string, oldObj, newObj T)
	OnDelete func(key string, obj T)
	OnError  func(obj any, err error)
}

// InformOptions configures an informer started by Inform.
type InformOptions struct {
	// Namespace limits the watch to one namespace. Empty means all
	// namespaces.
	Namespace string

	// ListOptions filters the watch by label and field selectors.
	ListOptions metav1.ListOptions

	// ResyncPeriod overrides the default resync period of one hour.
	ResyncPeriod *time.Duration
}

// Inform starts an informer for the client's resource and delivers
// events to handler until ctx is canceled. It returns the underlying
// informer so callers can wait for the initial cache sync.
func (c Client[T]) Inform(ctx context.Context, handler InformerHandler[T], opts *InformOptions) (cache.SharedIndexInformer, error) {
	if opts == nil {
		opts = &InformOptions{}
	}
	resync := defaultResyncPeriod
	if opts.ResyncPeriod != nil {
		resync = *opts.ResyncPeriod
	}

	tweak := func(lo *metav1.ListOptions) {
		lo.LabelSelector = opts.ListOptions.LabelSelector
		lo.FieldSelector = opts.ListOptions.FieldSelector
	}

	inf := dynamicinformer.NewFilteredDynamicInformer(
		c.dyn, c.gvr, opts.Namespace, resync, cache.Indexers{cache.NamespaceIndex: cache.MetaNamespaceIndexFunc}, tweak,
	).Informer()

	if _, err := inf.AddEventHandler(c.eventHandler(handler)); err != nil {
		return nil, fmt.Errorf("adding event handler: %w", err)
	}

	go inf.Run(ctx.Done())
	return inf, nil
}

// eventHandler converts raw informer events into typed handler calls.
func (c Client[T]) eventHandler(handler InformerHandler[T]) cache.ResourceEventHandlerFuncs {
	return cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			key, t, err := c.decodeEvent(obj)
			if err != nil {
				handler.error(obj, err)
				return
			}
			if handler.OnAdd != nil {
				handler.OnAdd(key, t)
			}
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			key, newT, err := c.decodeEvent(newObj)
			if err != nil {
				handler.error(newObj, err)
				return
			}
			// Only the new state matters for a level-triggered
			// consumer; a bad old object is reported but does not
			// swallow the event.
			_, oldT, err := c.decodeEvent(oldObj)
			if err != nil {
				handler.error(oldObj, err)
			}
			if handler.OnUpdate != nil {
				handler.OnUpdate(key, oldT, newT)
			}
		},
		DeleteFunc: func(obj interface{}) {
			// Deletes may arrive as tombstones after a watch gap.
			if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = tombstone.Obj
			}
			key, t, err := c.decodeEvent(obj)
			if err != nil {
				handler.error(obj, err)
				return
			}
			if handler.OnDelete != nil {
				handler.OnDelete(key, t)
			}
		},
	}
}

func (c Client[T]) decodeEvent(obj any) (string, T, error) {
	var zero T
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return "", zero, fmt.Errorf("unexpected event object type %T", obj)
	}
	key, err := cache.MetaNamespaceKeyFunc(u)
	if err != nil {
		return "", zero, err
	}
	t, err := fromUnstructured[T](u)
	if err != nil {
		return key, zero, err
	}
	return key, t, nil
}

func (h InformerHandler[T]) error(obj any, err error) {
	if h.OnError != nil {
		h.OnError(obj, err)
	}
}
