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
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
)

const (
	faultsDescription = "Faults!"
	forksDescription  = "Forks"
)

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if _, err := r.NewUint64Metric("/vm/faults", true, faultsDescription); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := r.NewUint64Metric("/vm/faults", true, faultsDescription); err != ErrNameInUse {
		t.Errorf("NewUint64Metric got err %v want %v", err, ErrNameInUse)
	}
	if _, err := r.NewUint64Metric("/vm/empty", true, "", NewField("kind", nil)); err != ErrFieldHasNoAllowedValues {
		t.Errorf("NewUint64Metric got err %v want %v", err, ErrFieldHasNoAllowedValues)
	}
}

func TestFieldMapper(t *testing.T) {
	m, err := newFieldMapper(
		NewField("kind", []string{"read", "write"}),
		NewField("source", []string{"zero", "swap", "resident"}),
	)
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	seen := make(map[int]bool)
	for _, kind := range []string{"read", "write"} {
		for _, source := range []string{"zero", "swap", "resident"} {
			key := m.lookup(kind, source)
			if seen[key] {
				t.Errorf("duplicate key %d for %s/%s", key, kind, source)
			}
			seen[key] = true
			if diff := cmp.Diff([]string{kind, source}, m.keyToMultiField(key)); diff != "" {
				t.Errorf("keyToMultiField(%d) mismatch (-want +got):\n%s", key, diff)
			}
		}
	}
}

func TestCounters(t *testing.T) {
	r := NewRegistry()
	faults := r.MustCreateNewUint64Metric("/vm/faults", faultsDescription, NewField("kind", []string{"read", "write"}))
	faults.Increment("read")
	faults.IncrementBy(3, "write")
	faults.Increment("write")
	if got := faults.Value("read"); got != 1 {
		t.Errorf("read faults got %d want 1", got)
	}
	if got := faults.Value("write"); got != 4 {
		t.Errorf("write faults got %d want 4", got)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Increment with a disallowed value should panic")
		}
	}()
	faults.Increment("exec")
}

func TestBucketer(t *testing.T) {
	b := NewExponentialBucketer(4, 1, 0, 2)
	for _, tc := range []struct {
		sample int64
		want   int
	}{
		{-1, -1},
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 3},
		{4, 4},
		{1000, 4},
	} {
		if got := b.BucketIndex(tc.sample); got != tc.want {
			t.Errorf("BucketIndex(%d) got %d want %d", tc.sample, got, tc.want)
		}
	}
}

func TestWriteText(t *testing.T) {
	r := NewRegistry()
	faults := r.MustCreateNewUint64Metric("/vm/faults", faultsDescription, NewField("kind", []string{"read", "write"}))
	frames := r.MustCreateNewUint64Gauge("/vm/free_frames", "Free frames")
	forks := r.MustCreateNewDistributionMetric("/vm/fork_pages", NewExponentialBucketer(3, 4, 0, 2), forksDescription)
	faults.IncrementBy(2, "read")
	frames.Set(7)
	forks.AddSample(1)
	forks.AddSample(100)

	var buf bytes.Buffer
	if _, err := r.WriteText(&buf, "vmsim"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parsing exported text: %v", err)
	}

	f, ok := parsed["vmsim_vm_faults"]
	if !ok {
		t.Fatalf("vmsim_vm_faults missing from %v", parsed)
	}
	values := make(map[string]float64)
	for _, m := range f.GetMetric() {
		values[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	if diff := cmp.Diff(map[string]float64{"read": 2, "write": 0}, values); diff != "" {
		t.Errorf("fault counters mismatch (-want +got):\n%s", diff)
	}
	if got := parsed["vmsim_vm_free_frames"].GetMetric()[0].GetGauge().GetValue(); got != 7 {
		t.Errorf("free frames got %v want 7", got)
	}
	h := parsed["vmsim_vm_fork_pages"].GetMetric()[0].GetHistogram()
	if got := h.GetSampleCount(); got != 2 {
		t.Errorf("fork histogram count got %d want 2", got)
	}
	if got := h.GetSampleSum(); got != 101 {
		t.Errorf("fork histogram sum got %v want 101", got)
	}
	if got := forks.Count(); got != 2 {
		t.Errorf("Count got %d want 2", got)
	}
}
