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

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCleanup(t *testing.T) {
	for _, tc := range []struct {
		name    string
		release bool
		want    []string
	}{
		{
			name: "failure unwinds in reverse",
			want: []string{"destroy", "close"},
		},
		{
			name:    "success keeps resources",
			release: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			func() {
				cu := Make(func() { got = append(got, "close") })
				cu.Add(func() { got = append(got, "destroy") })
				defer cu.Clean()
				if tc.release {
					cu.Release()
				}
			}()
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("cleaners mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReleaseReturnsCleaners(t *testing.T) {
	var got []string
	cu := Make(func() { got = append(got, "swap") })
	cu.Add(func() { got = append(got, "frames") })
	undo := cu.Release()
	cu.Clean()
	if len(got) != 0 {
		t.Fatalf("Clean after Release ran %v", got)
	}
	undo()
	if diff := cmp.Diff([]string{"frames", "swap"}, got); diff != "" {
		t.Errorf("cleaners mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTwice(t *testing.T) {
	calls := 0
	cu := Make(func() { calls++ })
	cu.Clean()
	cu.Clean()
	if calls != 1 {
		t.Errorf("cleaner ran %d times want 1", calls)
	}
}
