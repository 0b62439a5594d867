package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// RestartedAtAnnotation is stamped on the pod template to trigger a rollout.
const RestartedAtAnnotation = "kubedash.io/restartedAt"

// Helm ownership markers on a Deployment
const (
	HelmReleaseNameAnnotation = "meta.helm.sh/release-name"
	InstanceLabel             = "app.kubernetes.io/instance"
	HelmChartLabel            = "helm.sh/chart"
	AppLabel                  = "app"
)

// GetDeployment fetches a Deployment.
func GetDeployment(ctx context.Context, cs kubernetes.Interface, namespace, name string) (*appsv1.Deployment, error) {
	d, err := cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, apiError("get", namespace, name, err)
	}
	return d, nil
}

// RestartDeployment triggers a rolling restart by stamping the pod template
// with the restart time.
func RestartDeployment(ctx context.Context, cs kubernetes.Interface, namespace, name string, now time.Time) (*appsv1.Deployment, error) {
	patch := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						RestartedAtAnnotation: now.UTC().Format(time.RFC3339),
					},
				},
			},
		},
	}
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return nil, dasherrors.MarshalError(err)
	}

	d, err := cs.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, patchBytes, metav1.PatchOptions{})
	if err != nil {
		return nil, apiError("restart", namespace, name, err)
	}
	return d, nil
}

// ScaleResult reports a replica change
type ScaleResult struct {
	OldReplicas int32 `json:"oldReplicas"`
	NewReplicas int32 `json:"newReplicas"`
}

// ScaleDeployment sets the desired replica count.
func ScaleDeployment(ctx context.Context, cs kubernetes.Interface, namespace, name string, replicas int32) (*ScaleResult, *appsv1.Deployment, error) {
	if replicas < 0 {
		return nil, nil, dasherrors.ValidationError("replicas must be >= 0")
	}

	current, err := GetDeployment(ctx, cs, namespace, name)
	if err != nil {
		return nil, nil, err
	}
	oldReplicas := int32(1)
	if current.Spec.Replicas != nil {
		oldReplicas = *current.Spec.Replicas
	}

	patchBytes := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	d, err := cs.AppsV1().Deployments(namespace).Patch(ctx, name, types.MergePatchType, patchBytes, metav1.PatchOptions{})
	if err != nil {
		return nil, nil, apiError("scale", namespace, name, err)
	}
	return &ScaleResult{OldReplicas: oldReplicas, NewReplicas: replicas}, d, nil
}

// WatchDeployment watches a single Deployment.
func WatchDeployment(ctx context.Context, cs kubernetes.Interface, namespace, name string) (watch.Interface, error) {
	w, err := cs.AppsV1().Deployments(namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("metadata.name", name).String(),
	})
	if err != nil {
		return nil, apiError("watch", namespace, name, err)
	}
	return w, nil
}

// DetectHelmRelease infers the Helm release that owns a Deployment. It
// checks, in order, the release-name annotation, the instance label, the
// chart label (release name is the text before the first "-") and the app label. When
// nothing matches it returns the deployment name with detected=false.
func DetectHelmRelease(d *appsv1.Deployment) (release string, detected bool) {
	if name := d.Annotations[HelmReleaseNameAnnotation]; name != "" {
		return name, true
	}
	if name := d.Labels[InstanceLabel]; name != "" {
		return name, true
	}
	if chart := d.Labels[HelmChartLabel]; chart != "" {
		// a chart label without "-" is taken whole
		if prefix, _, _ := strings.Cut(chart, "-"); prefix != "" {
			return prefix, true
		}
	}
	if name := d.Labels[AppLabel]; name != "" {
		return name, true
	}
	return d.Name, false
}

func apiError(op, namespace, name string, err error) error {
	if apierrors.IsNotFound(err) {
		return dasherrors.K8sResourceNotFound("Deployment", namespace, name)
	}
	return dasherrors.Wrap(dasherrors.ErrK8sAPIError, fmt.Sprintf("failed to %s deployment %s/%s", op, namespace, name), err)
}
