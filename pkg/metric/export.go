// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	dto "github.com/prometheus/client_model/go"
)

// PrometheusName converts a metric name of the form "/vm/faults" into a
// Prometheus name under the given namespace, e.g. "vmsim_vm_faults".
func PrometheusName(namespace, name string) string {
	n := strings.ReplaceAll(strings.Trim(name, "/"), "/", "_")
	if namespace == "" {
		return n
	}
	return namespace + "_" + n
}

func labelPairs(m fieldMapper, key int) []*dto.LabelPair {
	values := m.keyToMultiField(key)
	if len(values) == 0 {
		return nil
	}
	pairs := make([]*dto.LabelPair, len(values))
	for i, v := range values {
		pairs[i] = &dto.LabelPair{
			Name:  proto.String(m.fields[i].name),
			Value: proto.String(v),
		}
	}
	return pairs
}

func (m *Uint64Metric) family(namespace string) *dto.MetricFamily {
	typ := dto.MetricType_COUNTER
	if !m.cumulative {
		typ = dto.MetricType_GAUGE
	}
	f := &dto.MetricFamily{
		Name: proto.String(PrometheusName(namespace, m.name)),
		Help: proto.String(m.description),
		Type: typ.Enum(),
	}
	for key := range m.values {
		v := float64(m.values[key].Load())
		metric := &dto.Metric{Label: labelPairs(m.fields, key)}
		if m.cumulative {
			metric.Counter = &dto.Counter{Value: proto.Float64(v)}
		} else {
			metric.Gauge = &dto.Gauge{Value: proto.Float64(v)}
		}
		f.Metric = append(f.Metric, metric)
	}
	return f
}

func (d *DistributionMetric) family(namespace string) *dto.MetricFamily {
	f := &dto.MetricFamily{
		Name: proto.String(PrometheusName(namespace, d.name)),
		Help: proto.String(d.description),
		Type: dto.MetricType_HISTOGRAM.Enum(),
	}
	n := d.bucketer.NumFiniteBuckets()
	for key := range d.samples {
		h := &dto.Histogram{SampleSum: proto.Float64(float64(d.sums[key].Load()))}
		// Underflow samples are folded into the first bucket since
		// Prometheus buckets are cumulative from -Inf.
		cumulative := d.samples[key][0].Load()
		for i := 0; i < n; i++ {
			cumulative += d.samples[key][i+1].Load()
			h.Bucket = append(h.Bucket, &dto.Bucket{
				CumulativeCount: proto.Uint64(cumulative),
				UpperBound:      proto.Float64(float64(d.bucketer.LowerBound(i + 1))),
			})
		}
		cumulative += d.samples[key][n+1].Load()
		h.Bucket = append(h.Bucket, &dto.Bucket{
			CumulativeCount: proto.Uint64(cumulative),
			UpperBound:      proto.Float64(math.Inf(1)),
		})
		h.SampleCount = proto.Uint64(cumulative)
		f.Metric = append(f.Metric, &dto.Metric{
			Label:     labelPairs(d.fields, key),
			Histogram: h,
		})
	}
	return f
}

// Families returns a snapshot of every registered metric as Prometheus metric
// families, sorted by name.
func (r *Registry) Families(namespace string) []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()
	families := make([]*dto.MetricFamily, 0, len(r.uint64Metrics)+len(r.distributions))
	for _, m := range r.uint64Metrics {
		families = append(families, m.family(namespace))
	}
	for _, d := range r.distributions {
		families = append(families, d.family(namespace))
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	return families
}

// WriteText writes every registered metric to w in the Prometheus text
// exposition format. It returns the number of bytes written.
func (r *Registry) WriteText(w io.Writer, namespace string) (int, error) {
	written := 0
	for _, f := range r.Families(namespace) {
		n, err := expfmt.MetricFamilyToText(w, f)
		written += n
		if err != nil {
			return written, fmt.Errorf("writing metric %q: %w", f.GetName(), err)
		}
	}
	return written, nil
}
