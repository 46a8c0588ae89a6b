package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/quadwatch/quadwatch/internal/supervisor"
)

// SupervisorChecker reports the stream supervisor's state. The service is
// down when no sessions are running at all, and degraded when one or more
// sessions sit in a failed state while others play.
type SupervisorChecker struct {
	sup *supervisor.Supervisor
}

// NewSupervisorChecker creates a supervisor health checker.
func NewSupervisorChecker(sup *supervisor.Supervisor) *SupervisorChecker {
	return &SupervisorChecker{sup: sup}
}

// Name returns the name of the checker.
func (c *SupervisorChecker) Name() string {
	return "supervisor"
}

// Check inspects the session snapshots.
func (c *SupervisorChecker) Check(ctx context.Context) error {
	if !c.sup.Running() {
		return fmt.Errorf("supervisor not running")
	}
	var failed []string
	for _, snap := range c.sup.Snapshots() {
		if snap.State == supervisor.StateFailed {
			failed = append(failed, fmt.Sprintf("camera %d", snap.Index))
		}
	}
	if len(failed) > 0 {
		return &DegradedError{Reason: "failed sessions: " + strings.Join(failed, ", ")}
	}
	return nil
}
