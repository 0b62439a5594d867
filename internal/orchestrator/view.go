package orchestrator

import (
	appsv1 "k8s.io/api/apps/v1"

	"github.com/skyhook-io/kubedash/internal/status"
)

// DeploymentView is the projection of one fetched Deployment. A view is
// never modified after creation; each fetch builds a new one. Raw must be
// treated as read-only.
type DeploymentView struct {
	Name      string
	Namespace string
	Status    status.State

	DesiredReplicas   int32
	ReadyReplicas     int32
	UpdatedReplicas   int32
	AvailableReplicas int32

	Raw *appsv1.Deployment
}

func newDeploymentView(d *appsv1.Deployment, st status.State) *DeploymentView {
	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	return &DeploymentView{
		Name:              d.Name,
		Namespace:         d.Namespace,
		Status:            st,
		DesiredReplicas:   desired,
		ReadyReplicas:     d.Status.ReadyReplicas,
		UpdatedReplicas:   d.Status.UpdatedReplicas,
		AvailableReplicas: d.Status.AvailableReplicas,
		Raw:               d,
	}
}
