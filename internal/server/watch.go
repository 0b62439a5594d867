package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/deploy"
	"github.com/skyhook-io/kubedash/internal/metrics"
	"github.com/skyhook-io/kubedash/internal/rbac"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Origin policy is enforced by the CORS layer and the fronting proxy
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWatch streams changes to one Deployment over a websocket
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	t, r, ok := s.authorize(w, r, rbac.VerbWatch)
	if !ok {
		return
	}

	// Resolve the watch before upgrading so errors keep their HTTP status
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := s.svc.Watch(ctx, t)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	metrics.WatchStreams.Inc()
	defer metrics.WatchStreams.Dec()
	klog.V(2).Infof("Watch stream opened for %s", t)

	// the reader only exists to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			klog.V(2).Infof("Watch stream closed for %s", t)
			return

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case ev, open := <-events:
			if !open {
				if ctx.Err() == nil {
					_ = writeWatchEvent(conn, deploy.WatchEvent{Type: string(watch.Error), Error: "watch closed by server"})
				}
				return
			}
			if err := writeWatchEvent(conn, ev); err != nil {
				klog.V(2).Infof("Watch stream write failed for %s: %v", t, err)
				return
			}
		}
	}
}

func writeWatchEvent(conn *websocket.Conn, ev deploy.WatchEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
