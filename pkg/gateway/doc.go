// Package gateway composes the request pipeline: an explicitly ordered list
// of stages that each inspect a request and either let it continue or
// reject it.
//
// Stages never write responses. The pipeline owns the terminal response, a
// uniform status with an empty body, and logs every rejection at warning
// level with the stage and reason code.
//
//	p := gateway.NewPipeline([]gateway.Ordered{
//	    {Order: 0, Stage: middleware.NewRequestIDStage()},
//	    {Order: 10, Stage: appAuth},
//	}, gateway.WithTagHeader("X-Gateway-Error"), gateway.WithLogger(logger))
//	handler := p.Handler(proxy)
package gateway
