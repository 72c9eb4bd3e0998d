package imds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	computeAPIVersion  = "2021-02-01"
	identityAPIVersion = "2018-02-01"
	maxResponseBytes   = 1 << 20
)

// Compute is the subset of the instance compute document the agent uses.
type Compute struct {
	SubscriptionID string
	ResourceGroup  string
	Name           string
	Location       string
	ScaleSetName   string
	VMID           string
}

// Token is an access token issued by the identity endpoint.
type Token struct {
	AccessToken string
	// ExpiresOn is zero when the response carried no usable expiry.
	ExpiresOn time.Time
}

// Client issues requests to the metadata service.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	now      func() time.Time
}

// NewClient returns a Client for endpoint (normally http://169.254.169.254)
// with the given per-request timeout. Proxies are never used: the service is
// link-local.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Transport: &http.Transport{Proxy: nil}},
		timeout:  timeout,
		now:      time.Now,
	}
}

// Compute fetches the instance compute document once.
func (c *Client) Compute(ctx context.Context) (Compute, error) {
	body, err := c.get(ctx, "/metadata/instance/compute", url.Values{"api-version": {computeAPIVersion}})
	if err != nil {
		return Compute{}, err
	}
	if !gjson.ValidBytes(body) {
		return Compute{}, fmt.Errorf("imds: compute: invalid json")
	}
	doc := gjson.ParseBytes(body)
	out := Compute{
		SubscriptionID: doc.Get("subscriptionId").String(),
		ResourceGroup:  doc.Get("resourceGroupName").String(),
		Name:           doc.Get("name").String(),
		Location:       doc.Get("location").String(),
		ScaleSetName:   doc.Get("vmScaleSetName").String(),
		VMID:           doc.Get("vmId").String(),
	}
	if out.SubscriptionID == "" || out.ResourceGroup == "" || out.Name == "" {
		return Compute{}, fmt.Errorf("imds: compute: response missing subscriptionId, resourceGroupName or name")
	}
	return out, nil
}

// Token requests an access token for resource from the managed identity
// endpoint. clientID selects a user-assigned identity and may be empty.
func (c *Client) Token(ctx context.Context, resource, clientID string) (Token, error) {
	q := url.Values{"api-version": {identityAPIVersion}, "resource": {resource}}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	body, err := c.get(ctx, "/metadata/identity/oauth2/token", q)
	if err != nil {
		return Token{}, err
	}
	doc := gjson.ParseBytes(body)
	tok := Token{AccessToken: doc.Get("access_token").String()}
	if tok.AccessToken == "" {
		return Token{}, fmt.Errorf("imds: token: response has no access_token")
	}
	tok.ExpiresOn = expiryOf(doc, c.now())
	return tok, nil
}

// expiryOf reads expires_on (unix seconds) or expires_in (seconds from now).
// Both arrive as JSON strings from the identity endpoint.
func expiryOf(doc gjson.Result, now time.Time) time.Time {
	if on := doc.Get("expires_on"); on.Exists() {
		if n, err := strconv.ParseInt(on.String(), 10, 64); err == nil && n > 0 {
			return time.Unix(n, 0)
		}
	}
	if in := doc.Get("expires_in"); in.Exists() {
		if n, err := strconv.ParseInt(in.String(), 10, 64); err == nil && n > 0 {
			return now.Add(time.Duration(n) * time.Second)
		}
	}
	return time.Time{}
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("imds: build request: %w", err)
	}
	req.Header.Set("Metadata", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imds: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("imds: GET %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error_description").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &StatusError{Path: path, Code: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// StatusError is a non-200 answer from the metadata service.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("imds: GET %s: status %d", e.Path, e.Code)
	}
	return fmt.Sprintf("imds: GET %s: status %d: %s", e.Path, e.Code, e.Message)
}
