package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/deploy"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// Watch streams changes to one Deployment. The channel closes when ctx is
// cancelled or the server ends the stream.
func (c *Client) Watch(ctx context.Context, t deploy.Target) (<-chan deploy.WatchEvent, error) {
	wsURL := c.baseURL + deploymentPath(t) + "/watch"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	c.setIdentity(ctx, header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, decodeError(resp)
			}
		}
		return nil, dasherrors.BackendError(fmt.Sprintf("watch %s failed", t), err)
	}

	events := make(chan deploy.WatchEvent)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(events)
		defer close(done)
		defer conn.Close()
		for {
			var ev deploy.WatchEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					klog.V(2).Infof("[apiclient] watch stream for %s ended: %v", t, err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
