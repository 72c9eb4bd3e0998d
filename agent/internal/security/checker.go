package security

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"
)

// CertState summarises a TLS endpoint.
type CertState string

const (
	Valid       CertState = "valid"
	Expiring    CertState = "expiring"
	Expired     CertState = "expired"
	Unreachable CertState = "unreachable"
	// Plain is returned for non-HTTPS endpoints.
	Plain CertState = "plain"
)

// expiringWithin is the window in which a certificate counts as expiring.
const expiringWithin = 30 * 24 * time.Hour

// DialTimeout bounds one probe.
var DialTimeout = 10 * time.Second

// CertStatus describes the leaf certificate presented by an endpoint.
type CertStatus struct {
	Endpoint string
	Status   CertState
	NotAfter time.Time
	Issuer   string
	DaysLeft int
	Err      error
}

// OK reports whether the endpoint completed a handshake with a certificate
// that has not expired. Plain endpoints are OK.
func (cs CertStatus) OK() bool {
	return cs.Status == Valid || cs.Status == Expiring || cs.Status == Plain
}

func (cs CertStatus) String() string {
	switch cs.Status {
	case Plain:
		return fmt.Sprintf("%s: no TLS", cs.Endpoint)
	case Unreachable:
		return fmt.Sprintf("%s: unreachable: %v", cs.Endpoint, cs.Err)
	default:
		return fmt.Sprintf("%s: %s (issuer %q, %d days left)", cs.Endpoint, cs.Status, cs.Issuer, cs.DaysLeft)
	}
}

// Check dials the TLS endpoint and inspects the leaf certificate. Only the
// handshake is performed; no request is sent.
func Check(ctx context.Context, endpoint string, cfg *tls.Config) CertStatus {
	cs := CertStatus{Endpoint: endpoint}

	u, err := url.Parse(endpoint)
	if err != nil {
		cs.Status = Unreachable
		cs.Err = err
		return cs
	}
	if u.Scheme != "https" {
		cs.Status = Plain
		return cs
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	if cfg == nil {
		cfg = &tls.Config{}
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = Unreachable
		cs.Err = err
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = Unreachable
		cs.Err = errors.New("no peer certificate")
		return cs
	}

	leaf := peerCerts[0]
	left := time.Until(leaf.NotAfter)

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	if cs.Issuer == "" && len(leaf.Issuer.Organization) > 0 {
		cs.Issuer = leaf.Issuer.Organization[0]
	}
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = Expired
	case left <= expiringWithin:
		cs.Status = Expiring
	default:
		cs.Status = Valid
	}
	return cs
}
