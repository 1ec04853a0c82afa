// Command podwatch watches Pods cluster-wide and logs their status,
// re-verifying each pod every 10 seconds and retrying failures after
// a fixed 5 seconds.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/podwatch/podwatch/controller"
	"github.com/podwatch/podwatch/kube"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	requeueInterval = 10 * time.Second
	errorRetryDelay = 5 * time.Second
)

func main() {
	var (
		namespace = flag.String("namespace", "", "namespace to watch (empty for all)")
		workers   = flag.Int("workers", 1, "number of concurrent workers")
	)
	flag.Parse()

	logger := clog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := clog.WithLogger(context.Background(), logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Resolve cluster credentials from the ambient environment; there
	// is nothing useful to do without them.
	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		log.Fatalf("resolving cluster config: %v", err)
	}

	podClient, err := kube.NewClient[*corev1.Pod](config)
	if err != nil {
		log.Fatalf("creating pod client: %v", err)
	}

	ctrl := controller.New(podClient, controller.ReconcilerFunc[*corev1.Pod](logPodStatus), &controller.Options{
		Namespace:       *namespace,
		Concurrency:     *workers,
		ErrorRetryDelay: errorRetryDelay,
	})

	if err := ctrl.Run(ctx); err != nil {
		log.Fatalf("controller: %v", err)
	}
}

// logPodStatus records the pod's observed status and schedules the
// next periodic re-verification.
func logPodStatus(ctx context.Context, pod *corev1.Pod) (controller.Result, error) {
	clog.InfoContext(ctx, "observed pod",
		"namespace", pod.Namespace,
		"name", pod.Name,
		"phase", pod.Status.Phase,
		"node", pod.Spec.NodeName)
	return controller.Result{RequeueAfter: requeueInterval}, nil
}
