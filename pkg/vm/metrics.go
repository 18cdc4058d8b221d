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

package vm

import (
	"io"

	"gvisor.dev/vmsim/pkg/metric"
)

// MetricsNamespace prefixes every exported metric name.
const MetricsNamespace = "vmsim"

// Metrics counts VM events. Each System owns its own registry so that several
// systems can coexist in one process.
type Metrics struct {
	registry *metric.Registry

	Faults          *metric.Uint64Metric
	Fills           *metric.Uint64Metric
	SwapOuts        *metric.Uint64Metric
	Evictions       *metric.Uint64Metric
	Forks           *metric.Uint64Metric
	ContextSwitches *metric.Uint64Metric
	OutOfMemory     *metric.Uint64Metric
	ForkPages       *metric.DistributionMetric

	// Gauges, refreshed on export.
	FreeFrames *metric.Uint64Metric
	SwapUsed   *metric.Uint64Metric
	TLBEvents  *metric.Uint64Metric
}

func newMetrics() *Metrics {
	r := metric.NewRegistry()
	return &Metrics{
		registry: r,
		Faults: r.MustCreateNewUint64Metric("/vm/faults", "Number of TLB faults resolved, by access kind.",
			metric.NewField("kind", []string{FaultRead.String(), FaultWrite.String()})),
		Fills: r.MustCreateNewUint64Metric("/vm/fills", "Number of pages brought into memory, by source.",
			metric.NewField("source", []string{"zero", "swap"})),
		SwapOuts: r.MustCreateNewUint64Metric("/vm/swap_outs", "Number of pages written to swap."),
		Evictions: r.MustCreateNewUint64Metric("/vm/evictions", "Number of frames taken from their owner, by frame state.",
			metric.NewField("state", []string{"clean", "dirty"})),
		Forks:           r.MustCreateNewUint64Metric("/vm/forks", "Number of address spaces copied."),
		ContextSwitches: r.MustCreateNewUint64Metric("/vm/context_switches", "Number of address space activations."),
		OutOfMemory:     r.MustCreateNewUint64Metric("/vm/out_of_memory", "Number of faults failed for lack of a frame and of swap space."),
		ForkPages: r.MustCreateNewDistributionMetric("/vm/fork_pages",
			metric.NewExponentialBucketer(8, 1, 1, 2), "Number of pages copied per address space copy."),
		FreeFrames: r.MustCreateNewUint64Gauge("/vm/free_frames", "Number of free physical frames."),
		SwapUsed:   r.MustCreateNewUint64Gauge("/vm/swap_used", "Number of swap slots holding a page."),
		TLBEvents: r.MustCreateNewUint64Gauge("/vm/tlb", "TLB events since boot.",
			metric.NewField("event", []string{"hit", "miss", "flush", "replacement"})),
	}
}

// WriteMetrics writes the metrics of s to w in the Prometheus text format.
func (s *System) WriteMetrics(w io.Writer) error {
	st := s.Stats()
	m := s.metrics
	m.FreeFrames.Set(uint64(st.Frames.Free))
	m.SwapUsed.Set(uint64(st.SwapUsed))
	m.TLBEvents.Set(st.TLB.Hits, "hit")
	m.TLBEvents.Set(st.TLB.Misses, "miss")
	m.TLBEvents.Set(st.TLB.Flushes, "flush")
	m.TLBEvents.Set(st.TLB.Replacements, "replacement")
	_, err := m.registry.WriteText(w, MetricsNamespace)
	return err
}

// Metrics returns the event counters of s.
func (s *System) Metrics() *Metrics {
	return s.metrics
}
