package main

import (
	"context"

	"github.com/WessleyAI/wessley-valuation/engine/domain"
	"github.com/WessleyAI/wessley-valuation/engine/pricing"
	"github.com/WessleyAI/wessley-valuation/pkg/config"
	"github.com/WessleyAI/wessley-valuation/pkg/fn"
	"github.com/WessleyAI/wessley-valuation/pkg/natsutil"
	"github.com/WessleyAI/wessley-valuation/pkg/resilience"
	"github.com/nats-io/nats.go"
)

// serveNATS registers the estimate request/reply handler (queue group,
// rate limited) and the reload handler (every instance reloads).
func serveNATS(nc *nats.Conn, s *server, cfg config.Config) ([]*nats.Subscription, error) {
	estimate := resilience.LimiterStage(
		resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.NATSRate, Burst: cfg.RateBurst}),
		s.estimateStage(),
	)

	estSub, err := natsutil.Reply(nc, pricing.SubjectEstimate, cfg.NATSQueue,
		func(ctx context.Context, rec domain.Record) (pricing.Response, error) {
			return estimate(ctx, rec).Unwrap()
		}, kindOf)
	if err != nil {
		return nil, err
	}

	reloadSub, err := natsutil.Reply(nc, pricing.SubjectArtifactsReload, "",
		func(ctx context.Context, req pricing.ReloadRequest) (pricing.ReloadResult, error) {
			res, err := s.reload(ctx)
			if err != nil {
				s.logger.Warn("nats reload failed, previous generation kept", "reason", req.Reason, "err", err)
			} else {
				s.logger.Info("artifacts reloaded via nats", "reason", req.Reason, "generation", res.Generation)
			}
			return res, nil
		}, nil)
	if err != nil {
		estSub.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{estSub, reloadSub}, nil
}

// estimateStage validates a record and evaluates it.
func (s *server) estimateStage() fn.Stage[domain.Record, pricing.Response] {
	return func(ctx context.Context, rec domain.Record) fn.Result[pricing.Response] {
		if err := s.validate(rec); err != nil {
			return fn.Err[pricing.Response](err)
		}
		tr, err := s.est.Evaluate(ctx, rec)
		if err != nil {
			return fn.Err[pricing.Response](err)
		}
		return fn.Ok(pricing.NewResponse(tr))
	}
}
