package k8s

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// ParseDeploymentYAML decodes a Deployment from YAML or JSON.
func ParseDeploymentYAML(data []byte) (*appsv1.Deployment, error) {
	d := &appsv1.Deployment{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, dasherrors.ValidationError(fmt.Sprintf("invalid YAML: %v", err))
	}
	return d, nil
}

// DeploymentYAML renders a Deployment for editing, without managed fields.
func DeploymentYAML(d *appsv1.Deployment) (string, error) {
	clean := d.DeepCopy()
	clean.ManagedFields = nil
	clean.APIVersion = "apps/v1"
	clean.Kind = "Deployment"
	out, err := yaml.Marshal(clean)
	if err != nil {
		return "", dasherrors.MarshalError(err)
	}
	return string(out), nil
}

// UpdateDeployment replaces a Deployment with the submitted document. The
// document's name and namespace are forced to the target so an edit can
// never write to another object.
func UpdateDeployment(ctx context.Context, cs kubernetes.Interface, namespace, name string, doc *appsv1.Deployment) (*appsv1.Deployment, error) {
	if doc == nil {
		return nil, dasherrors.ValidationError("deployment document is required")
	}
	obj := doc.DeepCopy()
	obj.Name = name
	obj.Namespace = namespace

	result, err := cs.AppsV1().Deployments(namespace).Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		return nil, apiError("update", namespace, name, err)
	}
	return result, nil
}
