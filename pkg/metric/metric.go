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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define
	// some allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFieldCombinations indicates that the number of unique
	// combinations of fields is too large to support.
	ErrTooManyFieldCombinations = errors.New("metric has too many combinations of allowed field values")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper maps multi-dimensional field values to a single unique integer
// key, and back.
type fieldMapper struct {
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint32 || numFieldCombinations < 0 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup returns the key for the given field values. This *must* be called
// with the correct number of fields, or it will panic.
func (m fieldMapper) lookup(fieldValues ...string) int {
	if len(fieldValues) != len(m.fields) {
		panic("invalid field lookup depth")
	}
	idx := 0
	remaining := m.numFieldCombinations
Lookup:
	for i, val := range fieldValues {
		for valIdx, allowedVal := range m.fields[i].allowedValues {
			if val == allowedVal {
				remaining /= len(m.fields[i].allowedValues)
				idx += remaining * valIdx
				continue Lookup
			}
		}
		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}
	return idx
}

// keyToMultiField is the reverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	if len(m.fields) == 0 {
		return nil
	}
	fields := make([]string, len(m.fields))
	remaining := m.numFieldCombinations
	for i := range m.fields {
		remaining /= len(m.fields[i].allowedValues)
		fields[i] = m.fields[i].allowedValues[key/remaining]
		key = key % remaining
	}
	return fields
}

// metadata describes a registered metric.
type metadata struct {
	name        string
	description string
	cumulative  bool
	fields      fieldMapper
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
type Uint64Metric struct {
	metadata

	// values is indexed by fieldMapper keys.
	values []atomic.Uint64
}

// Value returns the current value of the metric for the given set of fields.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.fields.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.fields.lookup(fieldValues...)].Add(1)
}

// IncrementBy increments the metric by v.
// This must be called with the correct number of field values or it will panic.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.fields.lookup(fieldValues...)].Add(v)
}

// Set sets a gauge metric. It panics on cumulative metrics.
func (m *Uint64Metric) Set(v uint64, fieldValues ...string) {
	if m.cumulative {
		panic(fmt.Sprintf("Set called on cumulative metric %q", m.name))
	}
	m.values[m.fields.lookup(fieldValues...)].Store(v)
}

// Registry holds a set of uniquely named metrics.
type Registry struct {
	mu            sync.Mutex
	uint64Metrics map[string]*Uint64Metric
	distributions map[string]*DistributionMetric
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		uint64Metrics: make(map[string]*Uint64Metric),
		distributions: make(map[string]*DistributionMetric),
	}
}

// defaultRegistry backs the package-level constructors.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) checkNameLocked(name string) error {
	if _, ok := r.uint64Metrics[name]; ok {
		return ErrNameInUse
	}
	if _, ok := r.distributions[name]; ok {
		return ErrNameInUse
	}
	return nil
}

// NewUint64Metric creates and registers a new metric with the given name.
func (r *Registry) NewUint64Metric(name string, cumulative bool, description string, fields ...Field) (*Uint64Metric, error) {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNameLocked(name); err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		metadata: metadata{
			name:        name,
			description: description,
			cumulative:  cumulative,
			fields:      f,
		},
		values: make([]atomic.Uint64, f.numFieldCombinations),
	}
	r.uint64Metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric creates a cumulative metric and panics if it
// cannot be registered.
func (r *Registry) MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	m, err := r.NewUint64Metric(name, true /* cumulative */, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// MustCreateNewUint64Gauge creates a non-cumulative metric and panics if it
// cannot be registered.
func (r *Registry) MustCreateNewUint64Gauge(name string, description string, fields ...Field) *Uint64Metric {
	m, err := r.NewUint64Metric(name, false /* cumulative */, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// MustCreateNewUint64Metric registers a cumulative metric in the default
// registry.
func MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	return defaultRegistry.MustCreateNewUint64Metric(name, description, fields...)
}

// Names returns the sorted names of all registered metrics.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.uint64Metrics)+len(r.distributions))
	for n := range r.uint64Metrics {
		names = append(names, n)
	}
	for n := range r.distributions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
