package platform

import (
	"context"

	chaosClient "github.com/litmuschaos/chaos-operator/pkg/client/clientset/versioned/typed/litmuschaos/v1alpha1"
	"github.com/pkg/errors"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
)

// ClientSets is a collection of clientSets and kubeConfig needed by the engine client
type ClientSets struct {
	KubeClient   *kubernetes.Clientset
	LitmusClient *chaosClient.LitmuschaosV1alpha1Client
	KubeConfig   *rest.Config
}

// GenerateClientSetFromKubeConfig will generate both ClientSets (k8s, and Litmus) as well as the KubeConfig.
// It uses in-cluster config, if kubeconfig path is not specified
func (clientSets *ClientSets) GenerateClientSetFromKubeConfig(kubeconfig string) error {
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return errors.Wrapf(err, "Unable to build kubeconfig, err: %v", err)
	}
	k8sClientSet, err := generateK8sClientSet(config)
	if err != nil {
		return err
	}
	litmusClientSet, err := generateLitmusClientSet(config)
	if err != nil {
		return err
	}
	clientSets.KubeClient = k8sClientSet
	clientSets.LitmusClient = litmusClientSet
	clientSets.KubeConfig = config
	return nil
}

// generateK8sClientSet will generate k8s client
func generateK8sClientSet(config *rest.Config) (*kubernetes.Clientset, error) {
	k8sClientSet, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to generate kubernetes clientSet, err: %v", err)
	}
	return k8sClientSet, nil
}

// generateLitmusClientSet will generate a LitmusClient
func generateLitmusClientSet(config *rest.Config) (*chaosClient.LitmuschaosV1alpha1Client, error) {
	litmusClientSet, err := chaosClient.NewForConfig(config)
	if err != nil {
		return nil, errors.Wrapf(err, "Unable to create LitmusClientSet, err: %v", err)
	}
	return litmusClientSet, nil
}

// NamespaceExists verifies the application namespace is present on the
// cluster before the engine starts taking runs against it
func NamespaceExists(ctx context.Context, kube kubernetes.Interface, namespace string) error {
	_, err := kube.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: namespace,
			Reason: "namespace does not exist on the cluster"}
	}
	if err != nil {
		return errors.Wrapf(err, "Unable to verify namespace %v, err: %v", namespace, err)
	}
	return nil
}
