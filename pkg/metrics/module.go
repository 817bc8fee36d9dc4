package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

func newDefaultBusiness() *Business {
	return NewBusiness(prometheus.DefaultRegisterer)
}

var Module = fx.Options(
	fx.Provide(newDefaultBusiness),
)
