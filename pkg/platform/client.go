package platform

import (
	"context"
	"fmt"

	"github.com/litmuschaos/chaos-operator/api/litmuschaos/v1alpha1"
	chaosClient "github.com/litmuschaos/chaos-operator/pkg/client/clientset/versioned/typed/litmuschaos/v1alpha1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientTypes "k8s.io/apimachinery/pkg/types"

	"github.com/litmuschaos/chaos-orchestrator/pkg/cerrors"
)

// ManagedByLabel tags every engine this orchestrator owns, cleanup only
// ever touches resources carrying it
const (
	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "chaos-orchestrator"
	RunIDLabel     = "chaos-orchestrator/run-id"
)

// Client is the only contract the engine has with the orchestration platform:
// create/patch the declarative fault-injection resource and read back its phase
type Client interface {
	// Apply creates the fault-injection resource, or re-activates it when one
	// with the same name already exists
	Apply(ctx context.Context, engine *v1alpha1.ChaosEngine) error
	// PatchState merge-patches the engineState of an existing resource
	PatchState(ctx context.Context, namespace, name string, state v1alpha1.EngineState) error
	// Delete removes the resource, deleting an absent resource is not an error
	Delete(ctx context.Context, namespace, name string) error
	// GetPhase reads back the injection phase string the platform reports
	GetPhase(ctx context.Context, namespace, name string) (string, error)
	// ListManaged returns the names of all resources owned by this engine in the namespace
	ListManaged(ctx context.Context, namespace string) ([]string, error)
}

// EngineClient talks to the platform through the chaos-operator typed clientset
type EngineClient struct {
	litmusClient chaosClient.LitmuschaosV1alpha1Interface
}

// NewEngineClient creates a platform client on top of the generated clientsets
func NewEngineClient(clients ClientSets) *EngineClient {
	return &EngineClient{litmusClient: clients.LitmusClient}
}

func (c *EngineClient) Apply(ctx context.Context, engine *v1alpha1.ChaosEngine) error {
	_, err := c.litmusClient.ChaosEngines(engine.Namespace).Create(ctx, engine, v1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !k8serrors.IsAlreadyExists(err) {
		return classify(err, "Apply", engine.Name)
	}

	// resource left over from an earlier run of the same experiment,
	// flip it back to active instead of failing the create
	existing, err := c.litmusClient.ChaosEngines(engine.Namespace).Get(ctx, engine.Name, v1.GetOptions{})
	if err != nil {
		return classify(err, "Apply", engine.Name)
	}
	existing.Spec = engine.Spec
	existing.Labels = engine.Labels
	if _, err := c.litmusClient.ChaosEngines(engine.Namespace).Update(ctx, existing, v1.UpdateOptions{}); err != nil {
		return classify(err, "Apply", engine.Name)
	}
	return nil
}

func (c *EngineClient) PatchState(ctx context.Context, namespace, name string, state v1alpha1.EngineState) error {
	mergePatch := []byte(fmt.Sprintf(`{"spec":{"engineState":%q}}`, state))
	_, err := c.litmusClient.ChaosEngines(namespace).Patch(ctx, name, clientTypes.MergePatchType, mergePatch, v1.PatchOptions{})
	if err != nil {
		return classify(err, "PatchState", name)
	}
	return nil
}

func (c *EngineClient) Delete(ctx context.Context, namespace, name string) error {
	err := c.litmusClient.ChaosEngines(namespace).Delete(ctx, name, v1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return classify(err, "Delete", name)
	}
	return nil
}

func (c *EngineClient) GetPhase(ctx context.Context, namespace, name string) (string, error) {
	engine, err := c.litmusClient.ChaosEngines(namespace).Get(ctx, name, v1.GetOptions{})
	if err != nil {
		return "", classify(err, "GetPhase", name)
	}
	// experiment level status is more precise than the engine wide one
	for _, exp := range engine.Status.Experiments {
		if exp.Status != "" {
			return string(exp.Status), nil
		}
	}
	return string(engine.Status.EngineStatus), nil
}

func (c *EngineClient) ListManaged(ctx context.Context, namespace string) ([]string, error) {
	engines, err := c.litmusClient.ChaosEngines(namespace).List(ctx, v1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", ManagedByLabel, ManagedByValue),
	})
	if err != nil {
		return nil, classify(err, "ListManaged", namespace)
	}
	names := make([]string, 0, len(engines.Items))
	for _, engine := range engines.Items {
		names = append(names, engine.Name)
	}
	return names, nil
}

// classify splits platform failures into the transient class, which callers
// retry with backoff, and the permanent class, which fails the run immediately
func classify(err error, phase, target string) error {
	code := cerrors.ErrorTypePlatformTransient
	switch {
	case k8serrors.IsInvalid(err), k8serrors.IsBadRequest(err), k8serrors.IsForbidden(err),
		k8serrors.IsUnauthorized(err), k8serrors.IsNotFound(err), k8serrors.IsMethodNotSupported(err):
		code = cerrors.ErrorTypePlatformPermanent
	}
	return cerrors.Error{ErrorCode: code, Phase: phase, Target: target, Reason: err.Error()}
}
