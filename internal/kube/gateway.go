package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
)

const (
	// DefaultReadyTimeout matches the pod readiness wait used after
	// applying manifests.
	DefaultReadyTimeout = 90 * time.Second

	pollInterval = 2 * time.Second
)

// Interface is the cluster surface the orchestrator needs.
type Interface interface {
	CreateNamespace(ctx context.Context, name string) error
	CreateSecret(ctx context.Context, name, namespace string, data map[string]string, labels map[string]string) error
	GetSecret(ctx context.Context, name, namespace string) (*corev1.Secret, error)
	UpdateSecretKey(ctx context.Context, name, namespace, key, value string) error
	RestartDeployment(ctx context.Context, name, namespace string) error
	WaitForDeployment(ctx context.Context, name, namespace string, timeout time.Duration) error
	WaitForPodsReady(ctx context.Context, namespace, selector string, timeout time.Duration) error
}

// Gateway implements Interface on top of a client-go clientset.
type Gateway struct {
	client kubernetes.Interface
}

var _ Interface = (*Gateway)(nil)

// NewGateway wraps an existing clientset.
func NewGateway(client kubernetes.Interface) *Gateway {
	return &Gateway{client: client}
}

// NewGatewayFromKubeconfig builds a Gateway from the usual kubeconfig
// resolution (in-cluster config first, then $KUBECONFIG / default path).
func NewGatewayFromKubeconfig(kubeconfig string) (*Gateway, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			loadingRules.ExplicitPath = kubeconfig
		}
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, errors.NewAuthenticationError("cannot load kubeconfig", err)
		}
	}

	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errors.NewInternalError("cannot build kubernetes client", err)
	}
	return &Gateway{client: client}, nil
}

// CreateNamespace creates a namespace, treating AlreadyExists as success.
func (g *Gateway) CreateNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	_, err := g.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		logging.WithField("namespace", name).Debug("Namespace already exists")
		return nil
	}
	if err != nil {
		return errors.NewCLIError("cannot create namespace", err, map[string]interface{}{"namespace": name})
	}
	logging.WithField("namespace", name).Info("Created namespace")
	return nil
}

// CreateSecret creates an opaque secret. An existing secret with the same
// name is left untouched so credentials are only ever written once.
func (g *Gateway) CreateSecret(ctx context.Context, name, namespace string, data map[string]string, labels map[string]string) error {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Type:       corev1.SecretTypeOpaque,
		StringData: data,
	}

	_, err := g.client.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		logging.WithFields(map[string]interface{}{"secret": name, "namespace": namespace}).
			Debug("Secret already exists, leaving it untouched")
		return nil
	}
	if err != nil {
		return errors.NewCLIError("cannot create secret", err, map[string]interface{}{
			"secret": name, "namespace": namespace,
		})
	}
	return nil
}

// GetSecret fetches a secret. Callers distinguish absence with
// k8s.io/apimachinery apierrors.IsNotFound.
func (g *Gateway) GetSecret(ctx context.Context, name, namespace string) (*corev1.Secret, error) {
	return g.client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
}

// UpdateSecretKey upserts a single key in an existing secret.
func (g *Gateway) UpdateSecretKey(ctx context.Context, name, namespace, key, value string) error {
	secret, err := g.client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return errors.NewCLIError("cannot read secret for update", err, map[string]interface{}{
			"secret": name, "namespace": namespace,
		})
	}

	if secret.Data == nil {
		secret.Data = map[string][]byte{}
	}
	secret.Data[key] = []byte(value)

	if _, err := g.client.CoreV1().Secrets(namespace).Update(ctx, secret, metav1.UpdateOptions{}); err != nil {
		return errors.NewCLIError("cannot update secret", err, map[string]interface{}{
			"secret": name, "namespace": namespace, "key": key,
		})
	}
	return nil
}

// RestartDeployment triggers a rolling restart by stamping the pod template,
// the same mechanism kubectl rollout restart uses.
func (g *Gateway) RestartDeployment(ctx context.Context, name, namespace string) error {
	patch := fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`,
		time.Now().Format(time.RFC3339),
	)

	_, err := g.client.AppsV1().Deployments(namespace).Patch(
		ctx, name, types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	if err != nil {
		return errors.NewCLIError("cannot restart deployment", err, map[string]interface{}{
			"deployment": name, "namespace": namespace,
		})
	}

	logging.WithFields(map[string]interface{}{"deployment": name, "namespace": namespace}).
		Info("Restarted deployment")
	return nil
}

// WaitForDeployment blocks until the deployment's replicas are available.
func (g *Gateway) WaitForDeployment(ctx context.Context, name, namespace string, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		dep, err := g.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		var want int32 = 1
		if dep.Spec.Replicas != nil {
			want = *dep.Spec.Replicas
		}
		return dep.Status.AvailableReplicas >= want, nil
	})
	if err != nil {
		return errors.NewTimeoutError("deployment did not become available", err)
	}
	return nil
}

// WaitForPodsReady blocks until every pod matching selector reports Ready.
func (g *Gateway) WaitForPodsReady(ctx context.Context, namespace, selector string, timeout time.Duration) error {
	err := wait.PollUntilContextTimeout(ctx, pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		pods, err := g.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return false, err
		}
		if len(pods.Items) == 0 {
			return false, nil
		}
		for _, pod := range pods.Items {
			if !podReady(&pod) {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return errors.NewTimeoutError("pods did not become ready", err)
	}
	return nil
}

func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
