package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/sparklehome/membership/internal/app/api/server"
	"github.com/sparklehome/membership/internal/app/job"
	"github.com/sparklehome/membership/internal/app/service/billing"
	"github.com/sparklehome/membership/internal/app/service/catalog"
	"github.com/sparklehome/membership/internal/app/service/entitlement"
	"github.com/sparklehome/membership/internal/app/service/events"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/app/service/pricing"
	"github.com/sparklehome/membership/internal/app/service/savings"
	"github.com/sparklehome/membership/internal/app/service/statistics"
	"github.com/sparklehome/membership/internal/platform/db"
	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/logger"
	"github.com/sparklehome/membership/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule wires the domain services without the HTTP server or the
// scheduler. The CLI runs on it.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	metrics.Module,
	catalog.Module,
	entitlement.Module,
	events.Module,
	membership.Module,
	savings.Module,
	statistics.Module,
	pricing.Module,
	billing.Module,
)

var Module = fx.Options(
	CoreModule,
	server.Module,
	job.Module,
)
