package gateway

import (
	"net/http"
	"sort"
	"time"

	"github.com/platinummonkey/appgate/pkg/contextkeys"
	"github.com/platinummonkey/appgate/pkg/httputil"
	"github.com/platinummonkey/appgate/pkg/observability"
	"github.com/platinummonkey/appgate/pkg/policy"
)

// Pipeline runs stages in order in front of a handler and turns the first
// rejection into a terminal response.
type Pipeline struct {
	stages    []Ordered
	tagHeader string
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithTagHeader sets the response header carrying the rejection tag.
// Empty disables the header.
func WithTagHeader(name string) Option {
	return func(p *Pipeline) { p.tagHeader = name }
}

// WithLogger sets the rejection logger
func WithLogger(l *observability.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records per-stage decisions
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline sorts stages by order and builds the pipeline
func NewPipeline(stages []Ordered, opts ...Option) *Pipeline {
	sorted := make([]Ordered, 0, len(stages))
	for _, s := range stages {
		if s.Stage != nil {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	p := &Pipeline{
		stages: sorted,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns stage names in execution order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Stage.Name()
	}
	return names
}

// Run executes the stages against r. It returns the final request and,
// on rejection, the failing stage name and its outcome.
func (p *Pipeline) Run(r *http.Request) (*http.Request, string, Outcome) {
	for _, s := range p.stages {
		name := s.Stage.Name()
		start := time.Now()
		out := s.Stage.Authenticate(r)
		elapsed := time.Since(start)

		if !out.Continue {
			if out.Status == 0 {
				out.Status = http.StatusUnauthorized
			}
			if out.Tag == "" {
				out.Tag = DefaultTag
			}
			p.metrics.RecordDecision(name, "reject", string(out.Reason), elapsed)
			return r, name, out
		}

		p.metrics.RecordDecision(name, "continue", string(policy.ReasonNone), elapsed)
		if out.Request != nil {
			r = out.Request
		}
	}
	return r, "", Next(r)
}

// Handler wraps next with the pipeline
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, stage, out := p.Run(r)
		if out.Continue {
			next.ServeHTTP(w, r.WithContext(contextkeys.WithLogger(r.Context(), p.logger)))
			return
		}

		fields := make(map[string]interface{}, len(out.Fields)+4)
		for k, v := range out.Fields {
			fields[k] = v
		}
		fields["stage"] = stage
		fields["reason"] = string(out.Reason)
		fields["method"] = r.Method
		fields["path"] = r.URL.Path
		observability.WithRequestID(r.Context(), p.logger).WithFields(fields).Warn("Request rejected")

		httputil.WriteRejection(w, out.Status, p.tagHeader, out.Tag)
	})
}
