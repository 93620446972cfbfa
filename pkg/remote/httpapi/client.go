// Package httpapi is the JSON-over-HTTP implementation of the
// control-plane client. It maps transport and HTTP-status failures onto
// the remote error taxonomy so the reconciliation core never sees a raw
// HTTP error.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/securactl/securactl/pkg/remote"
)

const defaultTimeout = 30 * time.Second

// Client talks to the control plane under /api/v1.
type Client struct {
	base   *url.URL
	httpc  *http.Client
	token  string
	logger zerolog.Logger
}

// New creates a client for the control plane at baseURL. The token, when
// non-empty, is sent as a bearer credential.
func New(baseURL, token string, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("control-plane url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("control-plane url %q: scheme and host are required", baseURL)
	}
	return &Client{
		base:   u,
		httpc:  &http.Client{Timeout: defaultTimeout},
		token:  token,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}, nil
}

// Resources implements remote.Client.
func (c *Client) Resources(kind string) remote.ResourceClient {
	return &resourceClient{c: c, kind: kind}
}

// Grants implements remote.Client.
func (c *Client) Grants() remote.GrantClient { return &grantClient{c: c} }

// Bindings implements remote.Client.
func (c *Client) Bindings() remote.BindingClient { return &bindingClient{c: c} }

// Identities implements remote.Client.
func (c *Client) Identities() remote.IdentityClient { return &identityClient{c: c} }

// apiError is the control plane's error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return remote.NewError(remote.CodeBadRequest, fmt.Sprintf("encoding request: %v", err))
		}
		payload = bytes.NewReader(encoded)
	}

	u := *c.base
	u.Path = u.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return remote.NewError(remote.CodeBadRequest, fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Network failures are transient by classification; the retry
		// core decides how often to try again.
		return remote.NewError(remote.CodeUnavailable, "control plane unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return remote.NewError(remote.CodeInternal, "decoding response").WithCause(err)
		}
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	code := codeForStatus(resp.StatusCode)
	if body.Code != "" {
		code = remote.Code(body.Code)
	}
	message := body.Message
	if message == "" {
		message = resp.Status
	}
	return remote.NewError(code, message)
}

func codeForStatus(status int) remote.Code {
	switch status {
	case http.StatusNotFound:
		return remote.CodeNotFound
	case http.StatusConflict:
		return remote.CodeAlreadyExists
	case http.StatusForbidden:
		return remote.CodePermissionDenied
	case http.StatusUnauthorized:
		return remote.CodeUnauthenticated
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return remote.CodeBadRequest
	case http.StatusTooManyRequests:
		return remote.CodeResourceExhausted
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return remote.CodeUnavailable
	default:
		return remote.CodeInternal
	}
}

type resourceClient struct {
	c    *Client
	kind string
}

type resourceBody struct {
	Name   string        `json:"name"`
	Fields remote.Fields `json:"fields"`
}

func (r *resourceClient) path(name string) string {
	p := "/api/v1/" + url.PathEscape(r.kind) + "s"
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return p
}

func (r *resourceClient) Get(ctx context.Context, name string) (*remote.ResourceState, error) {
	var body resourceBody
	if err := r.c.do(ctx, http.MethodGet, r.path(name), nil, &body); err != nil {
		return nil, err
	}
	return &remote.ResourceState{Name: body.Name, Fields: body.Fields}, nil
}

func (r *resourceClient) Create(ctx context.Context, name string, fields remote.Fields) error {
	return r.c.do(ctx, http.MethodPost, r.path(""), resourceBody{Name: name, Fields: fields}, nil)
}

func (r *resourceClient) Update(ctx context.Context, name string, fields remote.Fields) error {
	return r.c.do(ctx, http.MethodPatch, r.path(name), resourceBody{Name: name, Fields: fields}, nil)
}

func (r *resourceClient) Delete(ctx context.Context, name string) error {
	return r.c.do(ctx, http.MethodDelete, r.path(name), nil, nil)
}

func (r *resourceClient) List(ctx context.Context) ([]remote.ResourceState, error) {
	var body struct {
		Items []resourceBody `json:"items"`
	}
	if err := r.c.do(ctx, http.MethodGet, r.path(""), nil, &body); err != nil {
		return nil, err
	}
	out := make([]remote.ResourceState, 0, len(body.Items))
	for _, item := range body.Items {
		out = append(out, remote.ResourceState{Name: item.Name, Fields: item.Fields})
	}
	return out, nil
}

type grantClient struct {
	c *Client
}

func (g *grantClient) GetCurrent(ctx context.Context, address string) (remote.GrantSet, error) {
	var body struct {
		Grants remote.GrantSet `json:"grants"`
	}
	if err := g.c.do(ctx, http.MethodGet, "/api/v1/grants/"+url.PathEscape(address), nil, &body); err != nil {
		return nil, err
	}
	return body.Grants, nil
}

func (g *grantClient) Update(ctx context.Context, address string, add, remove remote.GrantSet) error {
	payload := struct {
		Add    remote.GrantSet `json:"add,omitempty"`
		Remove remote.GrantSet `json:"remove,omitempty"`
	}{Add: add, Remove: remove}
	return g.c.do(ctx, http.MethodPost, "/api/v1/grants/"+url.PathEscape(address), payload, nil)
}

type bindingClient struct {
	c *Client
}

func (b *bindingClient) GetCurrent(ctx context.Context, resource string) ([]string, error) {
	var body struct {
		AccessPoints []string `json:"access_points"`
	}
	if err := b.c.do(ctx, http.MethodGet, "/api/v1/bindings/"+url.PathEscape(resource), nil, &body); err != nil {
		return nil, err
	}
	return body.AccessPoints, nil
}

func (b *bindingClient) Update(ctx context.Context, resource string, assign, unassign []string) error {
	payload := struct {
		Assign   []string `json:"assign,omitempty"`
		Unassign []string `json:"unassign,omitempty"`
	}{Assign: assign, Unassign: unassign}
	return b.c.do(ctx, http.MethodPost, "/api/v1/bindings/"+url.PathEscape(resource), payload, nil)
}

type identityClient struct {
	c *Client
}

func (i *identityClient) GetUser(ctx context.Context, name string) (*remote.Identity, error) {
	return i.get(ctx, "/api/v1/identities/users/"+url.PathEscape(name))
}

func (i *identityClient) GetGroup(ctx context.Context, name string) (*remote.Identity, error) {
	return i.get(ctx, "/api/v1/identities/groups/"+url.PathEscape(name))
}

func (i *identityClient) FindServicePrincipal(ctx context.Context, nameOrAppID string) (*remote.Identity, error) {
	return i.get(ctx, "/api/v1/identities/service-principals/"+url.PathEscape(nameOrAppID))
}

func (i *identityClient) get(ctx context.Context, path string) (*remote.Identity, error) {
	var id remote.Identity
	if err := i.c.do(ctx, http.MethodGet, path, nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}
