package platform

import (
	"github.com/litmuschaos/chaos-operator/api/litmuschaos/v1alpha1"
	corev1 "k8s.io/api/core/v1"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/litmuschaos/chaos-orchestrator/pkg/types"
)

// BuildEngine renders the declarative fault-injection resource for one run
// of the given experiment definition, caller overrides win over template params
func BuildEngine(def *types.ExperimentDefinition, namespace, runID string, overrides map[string]string) *v1alpha1.ChaosEngine {
	params := map[string]string{}
	for key, val := range def.Params {
		params[key] = val
	}
	for key, val := range overrides {
		params[key] = val
	}

	env := make([]corev1.EnvVar, 0, len(params))
	for key, val := range params {
		env = append(env, corev1.EnvVar{Name: key, Value: val})
	}

	appNS := def.AppNS
	if appNS == "" {
		appNS = namespace
	}

	return &v1alpha1.ChaosEngine{
		ObjectMeta: v1.ObjectMeta{
			Name:      def.Name,
			Namespace: namespace,
			Labels: map[string]string{
				ManagedByLabel: ManagedByValue,
				RunIDLabel:     runID,
			},
		},
		Spec: v1alpha1.ChaosEngineSpec{
			EngineState: v1alpha1.EngineStateActive,
			Appinfo: v1alpha1.ApplicationParams{
				Appns:    appNS,
				Applabel: def.AppLabel,
				AppKind:  def.AppKind,
			},
			Experiments: []v1alpha1.ExperimentList{
				{
					Name: def.Name,
					Spec: v1alpha1.ExperimentAttributes{
						Components: v1alpha1.ExperimentComponents{
							ENV: env,
						},
					},
				},
			},
		},
	}
}
