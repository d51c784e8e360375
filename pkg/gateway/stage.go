package gateway

import (
	"net/http"

	"github.com/platinummonkey/appgate/pkg/policy"
)

// DefaultTag is the error tag attached to every rejection. It is the same
// for every reason so callers cannot tell which check failed.
const DefaultTag = "unauthorized"

// Stage is one step of the request pipeline. Authenticate must not write
// to the response; it either lets the request continue, possibly with an
// enriched context, or rejects it.
type Stage interface {
	Name() string
	Authenticate(r *http.Request) Outcome
}

// Outcome is a stage's verdict on one request
type Outcome struct {
	Continue bool
	// Request replaces the inbound request for later stages when non-nil
	Request *http.Request
	Status  int
	Tag     string
	Reason  policy.Reason
	// Fields are diagnostic log fields. They must never include secrets.
	Fields map[string]interface{}
}

// Next continues the pipeline with r
func Next(r *http.Request) Outcome {
	return Outcome{Continue: true, Request: r}
}

// Reject stops the pipeline with a uniform 401
func Reject(reason policy.Reason, fields map[string]interface{}) Outcome {
	return Outcome{
		Status: http.StatusUnauthorized,
		Tag:    DefaultTag,
		Reason: reason,
		Fields: fields,
	}
}

// Ordered binds a stage to its position. Lower orders run first; equal
// orders keep registration order.
type Ordered struct {
	Order int
	Stage Stage
}

// StageFunc adapts a function to a named Stage
type StageFunc struct {
	StageName string
	Fn        func(r *http.Request) Outcome
}

// Name returns the stage name
func (s StageFunc) Name() string { return s.StageName }

// Authenticate calls Fn
func (s StageFunc) Authenticate(r *http.Request) Outcome { return s.Fn(r) }
