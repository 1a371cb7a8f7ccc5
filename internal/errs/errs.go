// Package errs defines the error kinds surfaced by agdt commands and the
// exit codes they map to.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Exit codes returned by the agdt binary.
const (
	ExitOK          = 0
	ExitValidation  = 1
	ExitExternal    = 2
	ExitLockTimeout = 3
	ExitNotFound    = 4
	ExitTaskFailed  = 5
)

// StateLockTimeoutError is returned when the state file lock cannot be
// acquired in time.
type StateLockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *StateLockTimeoutError) Error() string {
	return fmt.Sprintf("state lock timeout: could not lock %s within %s", e.Path, e.Timeout)
}

// MissingRequiredStateError names the state keys an action needs but are unset.
type MissingRequiredStateError struct {
	Keys []string
}

func (e *MissingRequiredStateError) Error() string {
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "missing required state: %s", strings.Join(keys, ", "))
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  set it with: agdt state set %s <value>", k)
	}
	return b.String()
}

// MalformedResponseError reports an API payload missing an expected field.
type MalformedResponseError struct {
	Service   string
	Operation string
	Field     string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	if e.Field == "" && e.Err != nil {
		return fmt.Sprintf("%s %s: malformed response: %v", e.Service, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s: malformed response: missing field %q", e.Service, e.Operation, e.Field)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned for a workflow advance to a step that
// is not reachable from the current one.
type InvalidTransitionError struct {
	Workflow string
	From     string
	To       string
	Allowed  []string
}

func (e *InvalidTransitionError) Error() string {
	allowed := "none (workflow is complete)"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf("invalid transition for %s: %s -> %s (allowed: %s)", e.Workflow, e.From, e.To, allowed)
}

// ExternalServiceError wraps a failed call to Jira, Azure DevOps or GitHub.
type ExternalServiceError struct {
	Service    string
	Operation  string
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *ExternalServiceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s failed: status=%d: %v", e.Service, e.Operation, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s failed: status=%d body=%s", e.Service, e.Operation, e.StatusCode, truncate(e.Body, 512))
	case e.Err != nil:
		return fmt.Sprintf("%s %s failed: %v", e.Service, e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s %s failed", e.Service, e.Operation)
	}
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is worth retrying: transport
// errors, rate limiting and 5xx. 4xx application errors never are.
func (e *ExternalServiceError) Temporary() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TaskNotFoundError is returned when no record exists for a task id.
type TaskNotFoundError struct {
	ID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// TaskFailedError is returned by waiting commands whose task ended failed.
type TaskFailedError struct {
	ID     string
	Reason string
}

func (e *TaskFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("task %s failed", e.ID)
	}
	return fmt.Sprintf("task %s failed: %s", e.ID, e.Reason)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		lockErr     *StateLockTimeoutError
		missingErr  *MissingRequiredStateError
		transErr    *InvalidTransitionError
		extErr      *ExternalServiceError
		malformed   *MalformedResponseError
		notFoundErr *TaskNotFoundError
		failedErr   *TaskFailedError
	)
	switch {
	case errors.As(err, &lockErr):
		return ExitLockTimeout
	case errors.As(err, &missingErr), errors.As(err, &transErr):
		return ExitValidation
	case errors.As(err, &malformed), errors.As(err, &extErr):
		return ExitExternal
	case errors.As(err, &notFoundErr):
		return ExitNotFound
	case errors.As(err, &failedErr):
		return ExitTaskFailed
	default:
		return ExitValidation
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
