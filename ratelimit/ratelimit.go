// Package ratelimit is the top-level façade: it composes a policy.Set and a
// slidingwindow.Evaluator into the single acquire(resource, caller) call the
// rest of this service exposes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arcflow/ratelimitd/policy"
	"github.com/arcflow/ratelimitd/slidingwindow"
	"github.com/arcflow/ratelimitd/store"
)

// Code classifies why a call did not result in a plain allow, per §7.
type Code int

const (
	// CodeOK means the call produced a decision with no error.
	CodeOK Code = iota
	// CodeInvalidArgument means resource or caller was empty.
	CodeInvalidArgument
	// CodeUnavailable means the backing store could not be reached.
	CodeUnavailable
	// CodeDeadlineExceeded means the store call exceeded its deadline.
	CodeDeadlineExceeded
	// CodeInternal means an invariant the engine depends on was violated.
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeUnavailable:
		return "unavailable"
	case CodeDeadlineExceeded:
		return "deadline_exceeded"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Decision is the public result of an Acquire call.
type Decision struct {
	Allowed      bool
	Remaining    int64
	RetryAfterMS int64
	Code         Code
}

// ErrInvalidArgument is returned, alongside a deny decision, when resource
// or caller is empty.
var ErrInvalidArgument = errors.New("ratelimit: resource and caller must be non-empty")

// PolicySource resolves a resource name to the policy governing it.
// *policy.Set satisfies this directly; main wraps the process-wide atomic
// pointer in global so a policy reload is visible to the engine without
// reconstructing it.
type PolicySource interface {
	Resolve(resource string) policy.Policy
}

// Engine composes policy resolution with sliding-window evaluation to
// answer acquire(resource, caller) calls.
type Engine struct {
	policies  PolicySource
	evaluator *slidingwindow.Evaluator
	timeout   time.Duration
}

// New builds an Engine over the given policy source and evaluator. timeout
// is the configured redis_timeout_ms (§4.E step 4: "deadline = now +
// redis_timeout_ms"); every Acquire call is bounded by it regardless of
// whatever deadline the caller's ctx already carries. Zero leaves ctx
// untouched.
func New(policies PolicySource, evaluator *slidingwindow.Evaluator, timeout time.Duration) *Engine {
	return &Engine{policies: policies, evaluator: evaluator, timeout: timeout}
}

// Acquire runs one admission decision for (resource, caller), per §4.E.
// Store failures never become a silent allow: they come back as a deny
// decision paired with the error and a Code the transport layer maps to a
// non-OK status. A store call that outlives the configured timeout fails
// closed with CodeDeadlineExceeded rather than blocking indefinitely.
func (e *Engine) Acquire(ctx context.Context, resource, caller string) (Decision, error) {
	if resource == "" || caller == "" {
		return Decision{Allowed: false, Remaining: 0, RetryAfterMS: 0, Code: CodeInvalidArgument}, ErrInvalidArgument
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	p := e.policies.Resolve(resource)
	key := composeKey(resource, caller)

	d, err := e.evaluator.Evaluate(ctx, key, p.MaxTokens, p.WindowMS())
	if err != nil {
		code := codeForStoreErr(err)
		return Decision{
			Allowed:      false,
			Remaining:    0,
			RetryAfterMS: p.WindowMS(),
			Code:         code,
		}, err
	}

	return Decision{
		Allowed:      d.Allowed,
		Remaining:    d.Remaining,
		RetryAfterMS: d.RetryAfterMS,
		Code:         CodeOK,
	}, nil
}

func codeForStoreErr(err error) Code {
	switch {
	case errors.Is(err, store.ErrTimeout):
		return CodeDeadlineExceeded
	case errors.Is(err, store.ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// composeKey builds the KV-store key for (resource, caller), escaping
// colons in either field so a resource containing ":" cannot collide with a
// caller boundary (`rl:{resource}:{caller}`).
func composeKey(resource, caller string) string {
	return fmt.Sprintf("rl:%s:%s", escapeColon(resource), escapeColon(caller))
}

// escapeColon makes ":" unambiguous as the field separator by first
// escaping the escape character itself. Escaping "\" before ":" is what
// keeps the encoding injective: without it, a trailing "\" in one field and
// a leading ":" in the next can produce the same escaped bytes as a
// differently split pair, colliding two distinct (resource, caller) keys.
func escapeColon(s string) string {
	if !strings.ContainsAny(s, `\:`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ":", `\:`)
}
