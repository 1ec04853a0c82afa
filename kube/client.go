package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
)

// Client is a typed client for a single resource kind, backed by the
// dynamic client. The zero value is not usable; construct one with
// NewClient or NewClientGVR.
//
// A Client is an immutable value and is safe for concurrent use; the
// underlying connection pool is shared by all copies.
type Client[T runtime.Object] struct {
	gvr  schema.GroupVersionResource
	kind string
	dyn  dynamic.Interface
}

// NewClient creates a client for type T, inferring the
// GroupVersionResource from the global scheme and API discovery.
//
// T must be a pointer type (e.g. *corev1.Pod), as required by
// runtime.Object.
func NewClient[T runtime.Object](config *rest.Config) (Client[T], error) {
	gvr, gvk, err := inferGVR[T](config)
	if err != nil {
		return Client[T]{}, err
	}
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return Client[T]{}, fmt.Errorf("creating dynamic client: %w", err)
	}
	return Client[T]{gvr: gvr, kind: gvk.Kind, dyn: dyn}, nil
}

// NewClientGVR creates a client with an explicit GroupVersionResource.
// Useful for types not registered in the global scheme. Most callers
// should prefer NewClient.
func NewClientGVR[T runtime.Object](gvr schema.GroupVersionResource, config *rest.Config) (Client[T], error) {
	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return Client[T]{}, fmt.Errorf("creating dynamic client: %w", err)
	}
	return Client[T]{gvr: gvr, kind: gvr.Resource, dyn: dyn}, nil
}

// NewClientDynamic creates a client over an existing dynamic
// interface. This is how tests inject fake clients.
func NewClientDynamic[T runtime.Object](gvr schema.GroupVersionResource, kind string, dyn dynamic.Interface) Client[T] {
	return Client[T]{gvr: gvr, kind: kind, dyn: dyn}
}

// GVR returns the GroupVersionResource this client operates on.
func (c Client[T]) GVR() schema.GroupVersionResource { return c.gvr }

// Kind returns the kind name for logging and request identity. For
// clients built with NewClientGVR it is the resource name instead.
func (c Client[T]) Kind() string { return c.kind }

// inferGVR determines the GroupVersionResource for T from the scheme
// and the cluster's discovery endpoint.
func inferGVR[T runtime.Object](config *rest.Config) (schema.GroupVersionResource, schema.GroupVersionKind, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return schema.GroupVersionResource{}, schema.GroupVersionKind{}, fmt.Errorf("type %T must be a pointer type (e.g., *corev1.Pod)", zero)
	}

	obj, ok := reflect.New(typ.Elem()).Interface().(runtime.Object)
	if !ok {
		return schema.GroupVersionResource{}, schema.GroupVersionKind{}, fmt.Errorf("type %T does not implement runtime.Object", zero)
	}

	gvks, _, err := scheme.Scheme.ObjectKinds(obj)
	if err != nil {
		return schema.GroupVersionResource{}, schema.GroupVersionKind{}, fmt.Errorf("failed to get GVK for type %T: %w", zero, err)
	}
	if len(gvks) == 0 {
		return schema.GroupVersionResource{}, schema.GroupVersionKind{}, fmt.Errorf("no GVK registered for type %T", zero)
	}
	if len(gvks) > 1 {
		return schema.GroupVersionResource{}, schema.GroupVersionKind{}, fmt.Errorf("multiple GVKs registered for type %T: %v", zero, gvks)
	}
	gvk := gvks[0]

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(config)
	if err != nil {
		return schema.GroupVersionResource{}, gvk, fmt.Errorf("failed to create discovery client: %w", err)
	}
	groupResources, err := restmapper.GetAPIGroupResources(discoveryClient)
	if err != nil {
		return schema.GroupVersionResource{}, gvk, fmt.Errorf("failed to get API group resources: %w", err)
	}
	mapping, err := restmapper.NewDiscoveryRESTMapper(groupResources).RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return schema.GroupVersionResource{}, gvk, fmt.Errorf("failed to get REST mapping for %v: %w", gvk, err)
	}
	return mapping.Resource, gvk, nil
}

// Get fetches the object by namespace and name, fresh from the API
// server.
func (c Client[T]) Get(ctx context.Context, namespace, name string) (T, error) {
	var t T
	u, err := c.dyn.Resource(c.gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return t, err
	}
	return fromUnstructured[T](u)
}

// List returns all objects in the namespace (all namespaces if empty)
// matching opts, which may be nil.
func (c Client[T]) List(ctx context.Context, namespace string, opts *metav1.ListOptions) ([]T, error) {
	lo := metav1.ListOptions{}
	if opts != nil {
		lo = *opts
	}
	ul, err := c.dyn.Resource(c.gvr).Namespace(namespace).List(ctx, lo)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ul.Items))
	for i := range ul.Items {
		t, err := fromUnstructured[T](&ul.Items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Create creates the object in the namespace and returns the created
// form.
func (c Client[T]) Create(ctx context.Context, namespace string, t T) (T, error) {
	var zero T
	u, err := toUnstructured(t)
	if err != nil {
		return zero, err
	}
	created, err := c.dyn.Resource(c.gvr).Namespace(namespace).Create(ctx, u, metav1.CreateOptions{})
	if err != nil {
		return zero, err
	}
	return fromUnstructured[T](created)
}

// Update replaces the object and returns the updated form.
func (c Client[T]) Update(ctx context.Context, namespace string, t T) (T, error) {
	var zero T
	u, err := toUnstructured(t)
	if err != nil {
		return zero, err
	}
	updated, err := c.dyn.Resource(c.gvr).Namespace(namespace).Update(ctx, u, metav1.UpdateOptions{})
	if err != nil {
		return zero, err
	}
	return fromUnstructured[T](updated)
}

// UpdateStatus replaces the object's status subresource and returns
// the updated form.
func (c Client[T]) UpdateStatus(ctx context.Context, namespace string, t T) (T, error) {
	var zero T
	u, err := toUnstructured(t)
	if err != nil {
		return zero, err
	}
	updated, err := c.dyn.Resource(c.gvr).Namespace(namespace).UpdateStatus(ctx, u, metav1.UpdateOptions{})
	if err != nil {
		return zero, err
	}
	return fromUnstructured[T](updated)
}

// Delete deletes the object by namespace and name.
func (c Client[T]) Delete(ctx context.Context, namespace, name string) error {
	return c.dyn.Resource(c.gvr).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

// Patch applies a patch of the given type to the named object.
func (c Client[T]) Patch(ctx context.Context, namespace, name string, pt types.PatchType, data []byte) (T, error) {
	var zero T
	patched, err := c.dyn.Resource(c.gvr).Namespace(namespace).Patch(ctx, name, pt, data, metav1.PatchOptions{})
	if err != nil {
		return zero, err
	}
	return fromUnstructured[T](patched)
}

// fromUnstructured converts an unstructured object to T via a JSON
// round-trip.
func fromUnstructured[T runtime.Object](u *unstructured.Unstructured) (T, error) {
	var t T
	b, err := json.Marshal(u.Object)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return t, err
	}
	return t, nil
}

// toUnstructured converts T to an unstructured object via a JSON
// round-trip.
func toUnstructured[T runtime.Object](t T) (*unstructured.Unstructured, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &unstructured.Unstructured{Object: m}, nil
}
