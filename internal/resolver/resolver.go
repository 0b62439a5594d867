// Package resolver maps a Deployment to the Helm release that owns it.
package resolver

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/deploy"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// Detector is the detection call of a backend
type Detector interface {
	DetectHelmRelease(ctx context.Context, t deploy.Target) (*deploy.Detection, error)
}

// Binding is a resolved Deployment to release mapping
type Binding struct {
	DeploymentName      string `json:"deploymentName"`
	Namespace           string `json:"namespace"`
	ResolvedReleaseName string `json:"resolvedReleaseName"`
	WasDetected         bool   `json:"wasDetected"`
}

// Resolve asks the detector for the release behind a Deployment. When
// detection is inconclusive or the detector answers not found, the
// Deployment name is used and WasDetected is false; that is not an error.
// Any other failure is returned.
func Resolve(ctx context.Context, d Detector, t deploy.Target) (Binding, error) {
	b := Binding{
		DeploymentName:      t.Name,
		Namespace:           t.Namespace,
		ResolvedReleaseName: t.Name,
	}

	det, err := d.DetectHelmRelease(ctx, t)
	if err != nil {
		if dasherrors.IsNotFound(err) {
			klog.V(2).Infof("No helm release detected for %s, using deployment name", t)
			return b, nil
		}
		return Binding{}, err
	}

	if det != nil && det.Detected && det.ReleaseName != "" {
		b.ResolvedReleaseName = det.ReleaseName
		b.WasDetected = true
	}
	return b, nil
}
