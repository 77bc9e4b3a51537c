package metrics

import (
	"github.com/danribes/mystic-ecom-sub013/types"
)

var customMetricsCreators = make(map[string]types.MetricsManagerCreator)

func RegisterMetricsManager(metricsName string, creator types.MetricsManagerCreator) {
	customMetricsCreators[metricsName] = creator
}

func New(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return NewMemoryMetrics(), nil
	}

	switch config.Type {
	case "memory", "":
		return NewMemoryMetrics(), nil
	case "prometheus":
		return NewPrometheusMetrics(logger, config)
	default:
		if creator, exists := customMetricsCreators[config.Type]; exists {
			return creator(config.Config)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
	}
}
