package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/skyhook-io/kubedash/internal/deploy"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

type detectorFunc func(ctx context.Context, t deploy.Target) (*deploy.Detection, error)

func (f detectorFunc) DetectHelmRelease(ctx context.Context, t deploy.Target) (*deploy.Detection, error) {
	return f(ctx, t)
}

func answer(det *deploy.Detection, err error) detectorFunc {
	return func(context.Context, deploy.Target) (*deploy.Detection, error) { return det, err }
}

var target = deploy.Target{Cluster: "prod", Namespace: "apps", Name: "web"}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		detector     detectorFunc
		wantRelease  string
		wantDetected bool
	}{
		{
			name:         "detected",
			detector:     answer(&deploy.Detection{ReleaseName: "web-prod", Detected: true}, nil),
			wantRelease:  "web-prod",
			wantDetected: true,
		},
		{
			name:        "inconclusive",
			detector:    answer(&deploy.Detection{ReleaseName: "web", Detected: false}, nil),
			wantRelease: "web",
		},
		{
			name:        "detected but empty name",
			detector:    answer(&deploy.Detection{Detected: true}, nil),
			wantRelease: "web",
		},
		{
			name:        "coded not found",
			detector:    answer(nil, dasherrors.K8sResourceNotFound("deployment", "apps", "web")),
			wantRelease: "web",
		},
		{
			name:        "kubernetes 404",
			detector:    answer(nil, apierrors.NewNotFound(schema.GroupResource{Resource: "deployments"}, "web")),
			wantRelease: "web",
		},
		{
			name:        "wrapped not found",
			detector:    answer(nil, fmt.Errorf("detect: %w", dasherrors.New(dasherrors.ErrNotFound, "nope"))),
			wantRelease: "web",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Resolve(context.Background(), tt.detector, target)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if b.ResolvedReleaseName != tt.wantRelease {
				t.Errorf("Expected release %q, got %q", tt.wantRelease, b.ResolvedReleaseName)
			}
			if b.WasDetected != tt.wantDetected {
				t.Errorf("Expected detected=%v, got %v", tt.wantDetected, b.WasDetected)
			}
			if b.DeploymentName != "web" || b.Namespace != "apps" {
				t.Errorf("Unexpected identity %+v", b)
			}
		})
	}
}

func TestResolvePropagatesOtherErrors(t *testing.T) {
	boom := dasherrors.BackendError("detect failed", errors.New("connection refused"))

	_, err := Resolve(context.Background(), answer(nil, boom), target)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected backend error, got %v", err)
	}
}

func TestResolvePassesTarget(t *testing.T) {
	var seen deploy.Target
	d := detectorFunc(func(_ context.Context, tgt deploy.Target) (*deploy.Detection, error) {
		seen = tgt
		return &deploy.Detection{}, nil
	})

	if _, err := Resolve(context.Background(), d, target); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if seen != target {
		t.Errorf("Expected %v, got %v", target, seen)
	}
}
