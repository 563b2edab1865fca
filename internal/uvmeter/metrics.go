package uvmeter

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics to expose to Prometheus
var (
	gaugeLux       = newGauge("uvmeter_illuminance_lux", "Ambient light (units: lux)")
	gaugeUVI       = newGauge("uvmeter_uv_index", "UV index")
	gaugeALS       = newGauge("uvmeter_als_counts", "Raw ambient light sensor counts")
	gaugeUVS       = newGauge("uvmeter_uvs_counts", "Raw ultraviolet sensor counts")
	luxUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uvmeter_lux_unavailable_total",
		Help: "Readings recorded without lux because the value was not finite",
	})
)

func newGauge(name string, help string) prometheus.Gauge {
	return prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
	)
}

// RegisterMetrics adds the reading gauges to reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{gaugeLux, gaugeUVI, gaugeALS, gaugeUVS, luxUnavailable} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func observe(result Results, luxValid bool) {
	if luxValid {
		gaugeLux.Set(result.Lux)
	}
	gaugeUVI.Set(result.UVI)
	gaugeALS.Set(float64(result.ALS))
	gaugeUVS.Set(float64(result.UVS))
}
