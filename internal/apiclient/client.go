// Package apiclient talks to the kubedash HTTP API. Client implements the
// orchestrator's backend port, so the CLI can drive a remote server the same
// way it drives an in-process deploy.Service.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/deploy"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/flux"
	"github.com/skyhook-io/kubedash/internal/helm"
	"github.com/skyhook-io/kubedash/internal/history"
	"github.com/skyhook-io/kubedash/internal/k8s"
	"github.com/skyhook-io/kubedash/internal/orchestrator"
)

// Identity headers understood by the server
const (
	UserHeader   = "X-Kubedash-User"
	GroupsHeader = "X-Kubedash-Groups"
)

const defaultTimeout = 30 * time.Second

var _ orchestrator.Backend = (*Client)(nil)

// Client is an HTTP client for one kubedash server
type Client struct {
	baseURL    string
	httpClient *http.Client
	groups     []string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithGroups sends the given groups with every request.
func WithGroups(groups ...string) Option {
	return func(c *Client) { c.groups = groups }
}

// New creates a client for the server at baseURL (e.g. http://localhost:9280).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func deploymentPath(t deploy.Target) string {
	return fmt.Sprintf("/api/clusters/%s/deployments/%s/%s",
		url.PathEscape(t.Cluster), url.PathEscape(t.Namespace), url.PathEscape(t.Name))
}

// do sends one request and decodes a 2xx body into out. Error responses are
// turned back into coded errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return dasherrors.MarshalError(err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return dasherrors.InternalError("creating request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.setIdentity(ctx, req.Header)

	klog.V(4).Infof("[apiclient] %s %s", method, target)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dasherrors.BackendError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dasherrors.BackendError("decoding response", err)
	}
	return nil
}

func (c *Client) setIdentity(ctx context.Context, h http.Header) {
	h.Set(UserHeader, deploy.ActorFrom(ctx))
	if len(c.groups) > 0 {
		h.Set(GroupsHeader, strings.Join(c.groups, ","))
	}
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return dasherrors.New(dasherrors.ErrNotFound, msg)
		}
		return dasherrors.New(dasherrors.ErrBackend, fmt.Sprintf("server returned status %d: %s", resp.StatusCode, msg))
	}

	err := dasherrors.New(dasherrors.ParseCode(body.Code), body.Error)
	for k, v := range body.Details {
		err = err.WithDetail(k, v)
	}
	return err
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

// Clusters lists the clusters the server knows.
func (c *Client) Clusters(ctx context.Context) ([]k8s.ContextInfo, error) {
	var out []k8s.ContextInfo
	if err := c.do(ctx, http.MethodGet, "/api/clusters", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDeployment(ctx context.Context, t deploy.Target) (*appsv1.Deployment, error) {
	var out appsv1.Deployment
	if err := c.do(ctx, http.MethodGet, deploymentPath(t), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RestartDeployment(ctx context.Context, t deploy.Target) (*deploy.ActionResult, error) {
	return c.action(ctx, http.MethodPost, deploymentPath(t)+"/restart", nil)
}

func (c *Client) ScaleDeployment(ctx context.Context, t deploy.Target, replicas int32) (*deploy.ActionResult, error) {
	return c.action(ctx, http.MethodPost, deploymentPath(t)+"/scale", deploy.ScaleRequest{Replicas: &replicas})
}

func (c *Client) EditDeployment(ctx context.Context, t deploy.Target, d *appsv1.Deployment) (*appsv1.Deployment, error) {
	var out appsv1.Deployment
	if err := c.do(ctx, http.MethodPut, deploymentPath(t)+"/edit", nil, d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RollbackDeployment(ctx context.Context, t deploy.Target, req deploy.RollbackRequest) (*deploy.ActionResult, error) {
	return c.action(ctx, http.MethodPost, deploymentPath(t)+"/rollback", req)
}

func (c *Client) SuspendRelease(ctx context.Context, t deploy.Target, release string) (*deploy.ActionResult, error) {
	return c.action(ctx, http.MethodPost, deploymentPath(t)+"/suspend", deploy.ReleaseRequest{ReleaseName: release})
}

func (c *Client) ResumeRelease(ctx context.Context, t deploy.Target, release string) (*deploy.ActionResult, error) {
	return c.action(ctx, http.MethodPost, deploymentPath(t)+"/resume", deploy.ReleaseRequest{ReleaseName: release})
}

func (c *Client) action(ctx context.Context, method, path string, body any) (*deploy.ActionResult, error) {
	var out deploy.ActionResult
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DetectHelmRelease(ctx context.Context, t deploy.Target) (*deploy.Detection, error) {
	var out deploy.Detection
	if err := c.do(ctx, http.MethodGet, deploymentPath(t)+"/helm/detect", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) HelmHistory(ctx context.Context, t deploy.Target, release string) ([]helm.Revision, error) {
	var out []helm.Revision
	q := url.Values{"release": {release}}
	if err := c.do(ctx, http.MethodGet, deploymentPath(t)+"/helm/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) HelmValues(ctx context.Context, t deploy.Target, release string, revision int) (map[string]any, error) {
	out := map[string]any{}
	q := url.Values{"release": {release}}
	if revision > 0 {
		q.Set("revision", strconv.Itoa(revision))
	}
	if err := c.do(ctx, http.MethodGet, deploymentPath(t)+"/helm/values", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FluxStatus(ctx context.Context, t deploy.Target, release string) (*flux.Status, error) {
	var out flux.Status
	q := url.Values{"release": {release}}
	if err := c.do(ctx, http.MethodGet, deploymentPath(t)+"/flux/status", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActionHistory lists the recorded actions on a Deployment, newest first.
func (c *Client) ActionHistory(ctx context.Context, t deploy.Target, limit int) ([]history.ActionRecord, error) {
	var out []history.ActionRecord
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	if err := c.do(ctx, http.MethodGet, deploymentPath(t)+"/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
