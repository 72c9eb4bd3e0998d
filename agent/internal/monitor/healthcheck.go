package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/azmonbridge/azmonbridge/agent/internal/security"
)

// Check is the outcome of one health-check stage.
type Check struct {
	Stage  Stage  `json:"stage"`
	OK     bool   `json:"ok"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail"`
}

// Report is the outcome of HealthCheck.
type Report struct {
	Checks []Check `json:"checks"`
}

// OK reports whether every stage passed.
func (r Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Failed returns the first failing stage, if any.
func (r Report) Failed() (Check, bool) {
	for _, c := range r.Checks {
		if !c.OK {
			return c, true
		}
	}
	return Check{}, false
}

func (r Report) String() string {
	var sb strings.Builder
	for _, c := range r.Checks {
		mark := "ok  "
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Fprintf(&sb, "[%s] %-10s %s", mark, c.Stage, c.Detail)
		if c.Kind != "" {
			fmt.Fprintf(&sb, " (%s)", c.Kind)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// HealthCheck verifies the scrape target, instance context, credential and
// TLS reachability of the ingestion host. It sends no data and does not
// change the health state. Stages after a failure that depend on it are
// skipped.
func (o *Orchestrator) HealthCheck(ctx context.Context) Report {
	var rep Report
	add := func(stage Stage, err error, detail string) bool {
		c := Check{Stage: stage, OK: err == nil, Detail: detail}
		if err != nil {
			c.Kind = errorKind(err)
			c.Detail = err.Error()
		}
		rep.Checks = append(rep.Checks, c)
		return err == nil
	}

	res, err := o.deps.Scraper.Scrape(ctx)
	if err == nil && res.Err != nil {
		err = res.Err
	}
	if err == nil {
		add(StageScrape, nil, fmt.Sprintf("%s: %d series", res.URL, res.Snapshot.Len()))
	} else {
		add(StageScrape, err, "")
	}

	rc, err := o.deps.Resolver.Resolve(ctx)
	if !add(StageResolve, err, fmt.Sprintf("%s (%s)", rc.ResourceURI(), rc.Mode)) {
		return rep
	}

	cred, err := o.deps.Credentials.Acquire(ctx)
	add(StageCredential, err, fmt.Sprintf("%s token valid until %s", cred.Strategy, cred.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")))

	cs := o.deps.ProbeTLS(ctx, rc.IngestionURL(o.deps.IngestionBase))
	var tlsErr error
	if !cs.OK() {
		tlsErr = fmt.Errorf("%s", cs)
		if cs.Err != nil {
			tlsErr = fmt.Errorf("%s: %w", cs.Endpoint, cs.Err)
		}
	}
	add(StageTLS, tlsErr, cs.String())
	if cs.Status == security.Expiring {
		rep.Checks[len(rep.Checks)-1].Kind = "expiring"
	}
	return rep
}
