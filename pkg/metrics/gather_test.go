package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
)

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// findSeries returns the first series of name whose labels include every pair in want.
func findSeries(mfs []*dto.MetricFamily, name string, want map[string]string) (*dto.Metric, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return nil, fmt.Errorf("metric %q not found", name)
	}
	for _, series := range mf.GetMetric() {
		have := make(map[string]string, len(series.GetLabel()))
		for _, pair := range series.GetLabel() {
			have[pair.GetName()] = pair.GetValue()
		}
		matched := true
		for k, v := range want {
			if have[k] != v {
				matched = false
				break
			}
		}
		if matched {
			return series, nil
		}
	}
	return nil, fmt.Errorf("metric %q has no series with %v", name, want)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	series, err := findSeries(mfs, name, map[string]string{label: value})
	if err != nil {
		return 0, err
	}
	return series.GetCounter().GetValue(), nil
}
