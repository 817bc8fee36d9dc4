package job

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/app/service/statistics"
	"github.com/sparklehome/membership/pkg/config"
)

func newScheduler(lc fx.Lifecycle, cfg *config.Config, svc *membership.Service, stats *statistics.Service, log *zap.SugaredLogger) (*Scheduler, error) {
	s := NewScheduler(cfg.Jobs, svc, stats, log)
	if err := s.Register(); err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
	return s, nil
}

// Module starts the cron scheduler with the application.
var Module = fx.Options(
	fx.Provide(newScheduler),
	fx.Invoke(func(*Scheduler) {}),
)
