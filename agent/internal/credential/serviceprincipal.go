package credential

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type servicePrincipal struct {
	tokenURL string
	clientID string
	secret   string
	http     *http.Client
	now      func() time.Time
}

// NewServicePrincipal returns the client credentials strategy. authority is
// the issuer host, e.g. https://login.microsoftonline.com.
func NewServicePrincipal(authority, tenantID, clientID, secret string, timeout time.Duration) Strategy {
	return &servicePrincipal{
		tokenURL: strings.TrimRight(authority, "/") + "/" + url.PathEscape(tenantID) + "/oauth2/v2.0/token",
		clientID: clientID,
		secret:   secret,
		http:     &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

func (s *servicePrincipal) Kind() Kind { return ServicePrincipal }

func (s *servicePrincipal) Acquire(ctx context.Context) (Credential, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.secret},
		"scope":         {Scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, fmt.Errorf("service principal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("service principal: POST token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, fmt.Errorf("service principal: read token response: %w", err)
	}

	doc := gjson.ParseBytes(body)
	if resp.StatusCode != http.StatusOK {
		msg := doc.Get("error_description").String()
		if msg == "" {
			msg = doc.Get("error").String()
		}
		return Credential{}, fmt.Errorf("service principal: token endpoint status %d: %s", resp.StatusCode, firstLine(msg))
	}

	token := doc.Get("access_token").String()
	if token == "" {
		return Credential{}, fmt.Errorf("service principal: response has no access_token")
	}
	now := s.now()
	var issued time.Time
	if in := doc.Get("expires_in").Int(); in > 0 {
		issued = now.Add(time.Duration(in) * time.Second)
	}
	return Credential{
		Token:     token,
		ExpiresAt: expiry(token, issued, now),
		Strategy:  ServicePrincipal,
	}, nil
}

// firstLine trims the multi-line trace the issuer appends to descriptions.
func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
