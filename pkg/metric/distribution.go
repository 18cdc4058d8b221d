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
	"math"
	"sync/atomic"
)

// Bucketer is an interface to bucket values into finite, distinct buckets.
type Bucketer interface {
	// NumFiniteBuckets is the number of finite buckets in the distribution.
	NumFiniteBuckets() int

	// LowerBound takes the index of a bucket (within [0, NumBuckets()]) and
	// returns the inclusive lower bound of that bucket. The upper bound of a
	// bucket is the lower bound of the next bucket; the last bucket is
	// infinite.
	LowerBound(bucketIndex int) int64

	// BucketIndex returns the index of the bucket that the sample falls
	// into: within [0, NumFiniteBuckets()-1] for a finite bucket,
	// NumFiniteBuckets() for the overflow bucket, -1 for underflow.
	BucketIndex(sample int64) int
}

// ExponentialBucketer implements Bucketer, with the first bucket starting
// with 0 as lowest bound with `width` width, and each subsequent bucket being
// wider by a scaled exponentially-growing series.
type ExponentialBucketer struct {
	numFiniteBuckets int

	// lowerBounds[numFiniteBuckets] is the lower bound of the overflow
	// bucket.
	lowerBounds []int64
}

// Minimum/maximum finite buckets for exponential bucketers.
const (
	exponentialMinBuckets = 1
	exponentialMaxBuckets = 100
)

// NewExponentialBucketer returns a new Bucketer with exponential buckets.
func NewExponentialBucketer(numFiniteBuckets int, width uint64, scale, growth float64) *ExponentialBucketer {
	if numFiniteBuckets < exponentialMinBuckets || numFiniteBuckets > exponentialMaxBuckets {
		panic(fmt.Sprintf("number of finite buckets must be in [%d, %d]", exponentialMinBuckets, exponentialMaxBuckets))
	}
	if scale < 0 || growth < 0 {
		panic(fmt.Sprintf("scale and growth for exponential buckets must be >0, got scale=%f and growth=%f", scale, growth))
	}
	b := &ExponentialBucketer{
		numFiniteBuckets: numFiniteBuckets,
		lowerBounds:      make([]int64, numFiniteBuckets+1),
	}
	for i := 1; i <= numFiniteBuckets; i++ {
		b.lowerBounds[i] = int64(float64(width)*float64(i) + scale*math.Pow(growth, float64(i-1)))
		if b.lowerBounds[i] < 0 {
			panic(fmt.Sprintf("encountered bucket width overflow at bucket %d", i))
		}
	}
	return b
}

// NumFiniteBuckets implements Bucketer.NumFiniteBuckets.
func (b *ExponentialBucketer) NumFiniteBuckets() int {
	return b.numFiniteBuckets
}

// LowerBound implements Bucketer.LowerBound.
func (b *ExponentialBucketer) LowerBound(bucketIndex int) int64 {
	return b.lowerBounds[bucketIndex]
}

// BucketIndex implements Bucketer.BucketIndex.
func (b *ExponentialBucketer) BucketIndex(sample int64) int {
	if sample < 0 {
		return -1
	}
	if sample >= b.lowerBounds[b.numFiniteBuckets] {
		return b.numFiniteBuckets
	}
	lo, hi := 0, b.numFiniteBuckets
	for lo+1 < hi {
		mid := (lo + hi) / 2
		if sample < b.lowerBounds[mid] {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo
}

// Verify that ExponentialBucketer implements Bucketer.
var _ = (Bucketer)((*ExponentialBucketer)(nil))

// DistributionMetric represents a distribution of values in finite buckets.
type DistributionMetric struct {
	metadata
	bucketer Bucketer

	// samples holds, per field combination, the underflow bucket, the
	// finite buckets and the overflow bucket in that order.
	samples [][]atomic.Uint64
	sums    []atomic.Int64
}

// NewDistributionMetric creates and registers a distribution metric.
func (r *Registry) NewDistributionMetric(name string, bucketer Bucketer, description string, fields ...Field) (*DistributionMetric, error) {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNameLocked(name); err != nil {
		return nil, err
	}
	d := &DistributionMetric{
		metadata: metadata{
			name:        name,
			description: description,
			cumulative:  true,
			fields:      f,
		},
		bucketer: bucketer,
		samples:  make([][]atomic.Uint64, f.numFieldCombinations),
		sums:     make([]atomic.Int64, f.numFieldCombinations),
	}
	for i := range d.samples {
		d.samples[i] = make([]atomic.Uint64, bucketer.NumFiniteBuckets()+2)
	}
	r.distributions[name] = d
	return d, nil
}

// MustCreateNewDistributionMetric creates a distribution metric and panics if
// it cannot be registered.
func (r *Registry) MustCreateNewDistributionMetric(name string, bucketer Bucketer, description string, fields ...Field) *DistributionMetric {
	d, err := r.NewDistributionMetric(name, bucketer, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create distribution metric %q: %s", name, err))
	}
	return d
}

// AddSample adds a sample to the distribution.
func (d *DistributionMetric) AddSample(sample int64, fieldValues ...string) {
	key := d.fields.lookup(fieldValues...)
	d.samples[key][d.bucketer.BucketIndex(sample)+1].Add(1)
	d.sums[key].Add(sample)
}

// Count returns the number of samples recorded for the given field values.
func (d *DistributionMetric) Count(fieldValues ...string) uint64 {
	var n uint64
	buckets := d.samples[d.fields.lookup(fieldValues...)]
	for i := range buckets {
		n += buckets[i].Load()
	}
	return n
}
