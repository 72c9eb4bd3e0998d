package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azmonbridge/azmonbridge/agent/internal/credential"
	"github.com/azmonbridge/azmonbridge/agent/internal/imds"
	"github.com/azmonbridge/azmonbridge/agent/internal/shipper"
	"github.com/azmonbridge/azmonbridge/pkg/status"
)

// State is the Orchestrator's lifecycle state.
type State int

const (
	Starting State = iota
	Running
	Degraded
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Degraded:
		return "degraded"
	case Stopped:
		return "stopped"
	default:
		return "starting"
	}
}

// MarshalText renders the state by name in JSON health responses.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Starting, Running, Degraded, Stopped} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("monitor: unknown state %q", b)
}

// Stage names the step of a cycle that failed.
type Stage string

const (
	StageScrape     Stage = "scrape"
	StageCompute    Stage = "compute"
	StageResolve    Stage = "resolve"
	StageCredential Stage = "credential"
	StageTLS        Stage = "tls"
	StageSend       Stage = "send"
)

// Status is a point-in-time copy of the Orchestrator's health.
type Status struct {
	State               State     `json:"state"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastStage           Stage     `json:"last_stage,omitempty"`
	LastErrorKind       string    `json:"last_error_kind,omitempty"`
	LastSuccess         time.Time `json:"last_success"`
	Cycles              int64     `json:"cycles"`
	Target              string    `json:"target,omitempty"`
}

// CycleError is a failed cycle: the stage it failed at and the classified
// cause.
type CycleError struct {
	Stage Stage
	Kind  string
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("monitor: %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) *CycleError {
	return &CycleError{Stage: stage, Kind: errorKind(err), Err: err}
}

// errorKind classifies err by the taxonomy of the component that raised it.
func errorKind(err error) string {
	var (
		de *shipper.DeliveryError
		ae *credential.AuthError
		re *imds.ResolutionError
		pe *status.ParseError
	)
	switch {
	case errors.As(err, &de):
		return "delivery_" + de.Kind.String()
	case errors.As(err, &ae):
		return "auth"
	case errors.As(err, &re):
		return "resolution"
	case errors.As(err, &pe):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
