package deploy

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/skyhook-io/kubedash/internal/status"
)

// Watch streams classified changes to the Deployment. The channel closes
// when ctx is done or the API server ends the watch.
func (s *Service) Watch(ctx context.Context, t Target) (<-chan WatchEvent, error) {
	w, err := s.WatchDeployment(ctx, t)
	if err != nil {
		return nil, err
	}

	out := make(chan WatchEvent)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.ResultChan():
				if !ok {
					return
				}
				select {
				case out <- NewWatchEvent(ev):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// NewWatchEvent converts a raw watch event, classifying the Deployment.
func NewWatchEvent(ev watch.Event) WatchEvent {
	out := WatchEvent{Type: string(ev.Type)}
	switch obj := ev.Object.(type) {
	case *appsv1.Deployment:
		result := status.Classify(obj)
		out.Deployment = obj
		out.Status = result.State
		out.Stable = result.Stable
	case *metav1.Status:
		out.Error = obj.Message
	}
	return out
}
