package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/appgate/pkg/contextkeys"
	"github.com/platinummonkey/appgate/pkg/gateway"
)

// RequestIDStageName names the request id stage
const RequestIDStageName = "request_id"

// DefaultRequestIDOrder runs before every authentication stage
const DefaultRequestIDOrder = 0

// RequestIDHeader carries the request id to upstreams and callers
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestIDStage assigns every request an id. A caller-supplied id is kept
// when it is short enough; otherwise a new UUID is generated.
type RequestIDStage struct{}

// NewRequestIDStage creates the stage
func NewRequestIDStage() *RequestIDStage {
	return &RequestIDStage{}
}

// Name returns the stage name
func (s *RequestIDStage) Name() string {
	return RequestIDStageName
}

// Authenticate never rejects
func (s *RequestIDStage) Authenticate(r *http.Request) gateway.Outcome {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLength {
		id = uuid.NewString()
	}
	r.Header.Set(RequestIDHeader, id)
	return gateway.Next(r.WithContext(contextkeys.WithRequestID(r.Context(), id)))
}
