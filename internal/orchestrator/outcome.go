package orchestrator

import "github.com/MrWong99/talkinghead/pkg/types"

// Outcome is the result of asking the Responder for a plan: either a plan
// ([Ok]) or the reason there is none ([Err]). Exactly one arm is set.
type Outcome struct {
	plan types.ReplyPlan
	err  error
}

// Ok wraps a successful plan.
func Ok(plan types.ReplyPlan) Outcome { return Outcome{plan: plan} }

// Err wraps a Responder failure. A nil err is not a valid failure and is
// treated as an empty plan.
func Err(err error) Outcome { return Outcome{err: err} }

// IsOk reports whether the outcome carries a plan.
func (o Outcome) IsOk() bool { return o.err == nil }

// Plan returns the plan of an [Ok] outcome. It is the zero plan for [Err].
func (o Outcome) Plan() types.ReplyPlan { return o.plan }

// Reason returns the failure of an [Err] outcome, or nil.
func (o Outcome) Reason() error { return o.err }
