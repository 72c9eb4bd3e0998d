package imds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const standaloneDoc = `{
  "subscriptionId": "sub-1",
  "resourceGroupName": "rg-web",
  "name": "web-01",
  "location": "westeurope",
  "vmId": "0f0e",
  "vmScaleSetName": ""
}`

const scaleSetDoc = `{
  "subscriptionId": "sub-1",
  "resourceGroupName": "rg-web",
  "name": "web-vmss_3",
  "location": "northeurope",
  "vmScaleSetName": "web-vmss"
}`

// imdsServer answers the compute endpoint. failures > 0 makes the first
// requests return 500.
func imdsServer(t *testing.T, doc string, failures int32) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.Header.Get("Metadata") != "true" {
			t.Errorf("Metadata header missing")
		}
		if r.URL.Path != "/metadata/instance/compute" || r.URL.Query().Get("api-version") != "2021-02-01" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if n <= failures {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestResolver(endpoint string, static Static, attempts int) *Resolver {
	var c *Client
	if endpoint != "" {
		c = NewClient(endpoint, time.Second)
	}
	r := NewResolver(c, static, attempts)
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r
}

func TestResolve_Standalone(t *testing.T) {
	srv, _ := imdsServer(t, standaloneDoc, 0)
	r := newTestResolver(srv.URL, Static{}, 3)

	rc, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rc.Mode != Standalone {
		t.Errorf("Mode = %v, want standalone", rc.Mode)
	}
	want := "/subscriptions/sub-1/resourceGroups/rg-web/providers/Microsoft.Compute/virtualMachines/web-01"
	if rc.ResourceURI() != want {
		t.Errorf("ResourceURI = %q, want %q", rc.ResourceURI(), want)
	}
	if got := rc.IngestionURL(""); got != "https://westeurope.monitoring.azure.com"+want+"/metrics" {
		t.Errorf("IngestionURL = %q", got)
	}
	if rc.VMName() != "" {
		t.Errorf("VMName = %q, want empty for standalone", rc.VMName())
	}
}

func TestResolve_ScaleSetMember(t *testing.T) {
	srv, _ := imdsServer(t, scaleSetDoc, 0)
	r := newTestResolver(srv.URL, Static{}, 3)

	rc, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rc.Mode != ScaleSetMember {
		t.Fatalf("Mode = %v, want scale_set_member", rc.Mode)
	}
	if rc.InstanceID != "web-vmss_3" {
		t.Errorf("InstanceID = %q, want web-vmss_3", rc.InstanceID)
	}
	want := "/subscriptions/sub-1/resourceGroups/rg-web/providers/Microsoft.Compute/virtualMachineScaleSets/web-vmss"
	if rc.ResourceURI() != want {
		t.Errorf("ResourceURI = %q, want %q", rc.ResourceURI(), want)
	}
	if rc.VMName() != "web-vmss_web-vmss_3" {
		t.Errorf("VMName = %q", rc.VMName())
	}
}

func TestResolve_StaticOverrides(t *testing.T) {
	srv, _ := imdsServer(t, standaloneDoc, 0)
	r := newTestResolver(srv.URL, Static{ResourceGroup: "rg-override", Location: "eastus"}, 3)

	rc, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rc.ResourceGroup != "rg-override" {
		t.Errorf("ResourceGroup = %q, want rg-override", rc.ResourceGroup)
	}
	if rc.Location != "westeurope" {
		t.Errorf("Location = %q, reported location should win over configured region", rc.Location)
	}
}

func TestResolve_RetriesThenSucceeds(t *testing.T) {
	srv, calls := imdsServer(t, standaloneDoc, 2)
	r := newTestResolver(srv.URL, Static{}, 3)

	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestResolve_FailsWithoutStatic(t *testing.T) {
	srv, calls := imdsServer(t, standaloneDoc, 100)
	r := newTestResolver(srv.URL, Static{}, 3)

	_, err := r.Resolve(context.Background())
	var re *ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *ResolutionError", err)
	}
	if re.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", re.Attempts)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("cause = %v, want StatusError 500", err)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestResolve_FallsBackToStatic(t *testing.T) {
	srv, _ := imdsServer(t, standaloneDoc, 100)
	static := Static{SubscriptionID: "s", ResourceGroup: "g", ResourceName: "vm", Location: "northeurope"}
	r := newTestResolver(srv.URL, static, 2)

	rc, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rc.ResourceName != "vm" || rc.Mode != Standalone || rc.Location != "northeurope" {
		t.Errorf("static context = %+v", rc)
	}
}

func TestResolve_StaticOnly(t *testing.T) {
	static := Static{SubscriptionID: "s", ResourceGroup: "g", ScaleSetName: "ss", InstanceID: "2", Location: "uksouth"}
	r := newTestResolver("", static, 1)

	rc, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rc.Mode != ScaleSetMember || rc.VMName() != "ss_2" {
		t.Errorf("context = %+v, VMName %q", rc, rc.VMName())
	}
}

func TestResolve_CachesUntilInvalidate(t *testing.T) {
	srv, calls := imdsServer(t, standaloneDoc, 0)
	r := newTestResolver(srv.URL, Static{}, 3)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background()); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("requests = %d, want 1 (cached)", got)
	}

	r.Invalidate()
	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve after Invalidate: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("requests = %d, want 2 after Invalidate", got)
	}
}

func TestResolve_IncompleteDocument(t *testing.T) {
	srv, _ := imdsServer(t, `{"subscriptionId":"s"}`, 0)
	r := newTestResolver(srv.URL, Static{}, 1)
	if _, err := r.Resolve(context.Background()); err == nil {
		t.Error("expected error for incomplete compute document")
	}
}

func TestClient_Token(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/metadata/identity/oauth2/token" || q.Get("api-version") != "2018-02-01" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if q.Get("resource") != "https://monitoring.azure.com/" {
			t.Errorf("resource = %q", q.Get("resource"))
		}
		if q.Get("client_id") != "uai-1" {
			t.Errorf("client_id = %q", q.Get("client_id"))
		}
		_, _ = w.Write([]byte(`{"access_token":"eyJ.abc","expires_on":"1767225600","expires_in":"3599","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	tok, err := NewClient(srv.URL, time.Second).Token(context.Background(), "https://monitoring.azure.com/", "uai-1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "eyJ.abc" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if !tok.ExpiresOn.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("ExpiresOn = %v", tok.ExpiresOn)
	}
}

func TestClient_TokenExpiresIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"t","expires_in":"600"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	tok, err := c.Token(context.Background(), "r", "")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !tok.ExpiresOn.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("ExpiresOn = %v, want now+10m", tok.ExpiresOn)
	}
}

func TestClient_TokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request","error_description":"Identity not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Token(context.Background(), "r", "")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest || se.Message != "Identity not found" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestIngestionURL_BaseOverride(t *testing.T) {
	rc := ResourceContext{SubscriptionID: "s", ResourceGroup: "g", ResourceName: "vm", Location: "x"}
	got := rc.IngestionURL("http://127.0.0.1:8080/")
	want := "http://127.0.0.1:8080/subscriptions/s/resourceGroups/g/providers/Microsoft.Compute/virtualMachines/vm/metrics"
	if got != want {
		t.Errorf("IngestionURL = %q, want %q", got, want)
	}
}
