package autoscale

import (
	"context"
	"fmt"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// DeploymentExecutor scales a Kubernetes Deployment through the scale
// subresource.
type DeploymentExecutor struct {
	Client     kubernetes.Interface
	Namespace  string
	Deployment string
}

// CurrentReplicas reads the deployment's scale.
func (e *DeploymentExecutor) CurrentReplicas(ctx context.Context) (int32, error) {
	scale, err := e.Client.AppsV1().Deployments(e.Namespace).
		GetScale(ctx, e.Deployment, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("get scale %s/%s: %w", e.Namespace, e.Deployment, err)
	}
	return scale.Spec.Replicas, nil
}

// Scale sets the deployment's replica count.
func (e *DeploymentExecutor) Scale(ctx context.Context, replicas int32) error {
	scale, err := e.Client.AppsV1().Deployments(e.Namespace).
		GetScale(ctx, e.Deployment, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get scale %s/%s: %w", e.Namespace, e.Deployment, err)
	}
	scale.Spec.Replicas = replicas
	if _, err := e.Client.AppsV1().Deployments(e.Namespace).
		UpdateScale(ctx, e.Deployment, scale, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update scale %s/%s: %w", e.Namespace, e.Deployment, err)
	}
	return nil
}

// StaticExecutor tracks replicas in memory for single-node deployments with
// no orchestrator behind them. The count still feeds capacity planning and
// admission even though nothing physically scales.
type StaticExecutor struct {
	mu       sync.Mutex
	replicas int32
}

// NewStaticExecutor starts at the given size.
func NewStaticExecutor(replicas int32) *StaticExecutor {
	if replicas < 1 {
		replicas = 1
	}
	return &StaticExecutor{replicas: replicas}
}

func (e *StaticExecutor) CurrentReplicas(ctx context.Context) (int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replicas, nil
}

func (e *StaticExecutor) Scale(ctx context.Context, replicas int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replicas = replicas
	return nil
}
