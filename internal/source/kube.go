package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// ClientMode represents the mode for creating Kubernetes clients
type ClientMode string

const (
	// InClusterMode uses in-cluster configuration (ServiceAccount)
	InClusterMode ClientMode = "incluster"
	// KubeconfigMode uses kubeconfig file
	KubeconfigMode ClientMode = "kubeconfig"
)

// KubeClients bundles the core and metrics.k8s.io clientsets
type KubeClients struct {
	Config     *rest.Config
	Kubernetes kubernetes.Interface
	Metrics    metricsclientset.Interface
}

// NewKubeClients builds clients from the in-cluster ServiceAccount or a kubeconfig file
func NewKubeClients(logger *zap.Logger, mode ClientMode, kubeconfigPath string) (*KubeClients, error) {
	var config *rest.Config
	var err error

	switch mode {
	case InClusterMode:
		logger.Info("Creating in-cluster Kubernetes client")
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster config: %w", err)
		}
	case KubeconfigMode:
		logger.Info("Creating kubeconfig-based Kubernetes client", zap.String("kubeconfig", kubeconfigPath))
		config, err = buildKubeconfigFromPath(kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubeconfig-based config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported client mode: %s", mode)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	metricsClient, err := metricsclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics clientset: %w", err)
	}

	return &KubeClients{
		Config:     config,
		Kubernetes: clientset,
		Metrics:    metricsClient,
	}, nil
}

func buildKubeconfigFromPath(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
			kubeconfigPath = kubeconfig
		} else if home := homedir.HomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		} else {
			return nil, fmt.Errorf("no kubeconfig path provided and unable to determine default location")
		}
	}

	if _, err := os.Stat(kubeconfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("kubeconfig file does not exist: %s", kubeconfigPath)
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig %s: %w", kubeconfigPath, err)
	}
	return config, nil
}

// WorkloadRef names a replicated workload
type WorkloadRef struct {
	Kind      string
	Namespace string
	Name      string
}

// ParseWorkloadRef accepts "namespace/name" (a Deployment) or
// "kind/namespace/name" where kind is deployment, statefulset or daemonset.
func ParseWorkloadRef(entity string) (WorkloadRef, error) {
	parts := strings.Split(entity, "/")
	var ref WorkloadRef
	switch len(parts) {
	case 2:
		ref = WorkloadRef{Kind: "deployment", Namespace: parts[0], Name: parts[1]}
	case 3:
		ref = WorkloadRef{Kind: normalizeKind(parts[0]), Namespace: parts[1], Name: parts[2]}
	default:
		return WorkloadRef{}, fmt.Errorf("workload %q must be namespace/name or kind/namespace/name: %w",
			entity, timeseries.ErrInvalidArgument)
	}

	if ref.Kind == "" {
		return WorkloadRef{}, fmt.Errorf("unsupported workload kind %q: %w", parts[0], timeseries.ErrInvalidArgument)
	}
	if ref.Namespace == "" || ref.Name == "" {
		return WorkloadRef{}, fmt.Errorf("workload %q has an empty namespace or name: %w",
			entity, timeseries.ErrInvalidArgument)
	}
	return ref, nil
}

func normalizeKind(kind string) string {
	switch strings.ToLower(kind) {
	case "deployment", "deployments", "deploy":
		return "deployment"
	case "statefulset", "statefulsets", "sts":
		return "statefulset"
	case "daemonset", "daemonsets", "ds":
		return "daemonset"
	default:
		return ""
	}
}

// KubeMembership resolves a workload to the pods it currently selects.
// Members are reported as "namespace/pod", sorted.
type KubeMembership struct {
	logger *zap.Logger
	client kubernetes.Interface
}

// NewKubeMembership creates a resolver over client
func NewKubeMembership(logger *zap.Logger, client kubernetes.Interface) *KubeMembership {
	return &KubeMembership{
		logger: logger,
		client: client,
	}
}

// Members lists the running or pending pods of the workload named by entity
func (k *KubeMembership) Members(ctx context.Context, entity string) ([]string, error) {
	ref, err := ParseWorkloadRef(entity)
	if err != nil {
		return nil, err
	}

	selector, err := k.selectorFor(ctx, ref)
	if err != nil {
		return nil, err
	}

	pods, err := k.client.CoreV1().Pods(ref.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for %s: %w", entity, err)
	}

	members := make([]string, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		members = append(members, pod.Namespace+"/"+pod.Name)
	}
	sort.Strings(members)

	k.logger.Debug("Resolved workload members",
		zap.String("kind", ref.Kind),
		zap.String("namespace", ref.Namespace),
		zap.String("name", ref.Name),
		zap.Int("members", len(members)))

	return members, nil
}

func (k *KubeMembership) selectorFor(ctx context.Context, ref WorkloadRef) (string, error) {
	var sel *metav1.LabelSelector
	var err error

	switch ref.Kind {
	case "deployment":
		d, getErr := k.client.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if getErr == nil {
			sel = d.Spec.Selector
		}
		err = getErr
	case "statefulset":
		s, getErr := k.client.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if getErr == nil {
			sel = s.Spec.Selector
		}
		err = getErr
	case "daemonset":
		d, getErr := k.client.AppsV1().DaemonSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if getErr == nil {
			sel = d.Spec.Selector
		}
		err = getErr
	}

	if apierrors.IsNotFound(err) {
		return "", fmt.Errorf("%s %s/%s: %w", ref.Kind, ref.Namespace, ref.Name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s %s/%s: %w", ref.Kind, ref.Namespace, ref.Name, err)
	}
	if sel == nil {
		return "", fmt.Errorf("%s %s/%s has no selector: %w", ref.Kind, ref.Namespace, ref.Name, ErrNotFound)
	}

	selector, err := metav1.LabelSelectorAsSelector(sel)
	if err != nil {
		return "", fmt.Errorf("invalid selector on %s %s/%s: %w", ref.Kind, ref.Namespace, ref.Name, err)
	}
	return selector.String(), nil
}
