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

package workload

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/mm"
	"gvisor.dev/vmsim/pkg/vm"
)

const forkWorkload = `
processes:
  - name: parent
    regions:
      - {base: 0x400000, pages: 4, perms: rw-}
    steps:
      - {op: write, addr: 0x400000, byte: 0x42}
      - {op: write, addr: 0x401000, byte: 0x11}
      - {op: write, addr: 0x402000, byte: 0x22}
      - {op: fork, child: child}
      - {op: verify, addr: 0x400000, byte: 0x42}
      - {op: sbrk, pages: 2}
      - {op: write, addr: 0x405000, byte: 0x33}
      - {op: verify, addr: 0x401000, byte: 0x11}
      - {op: exit}
  - name: child
    fork_of: parent
    steps:
      - {op: verify, addr: 0x400000, byte: 0x42}
      - {op: write, addr: 0x400000, byte: 0x7f}
      - {op: verify, addr: 0x400000, byte: 0x7f}
      - {op: verify, addr: 0x402000, byte: 0x22}
      - {op: read, addr: 0x403000, len: 16}
  - name: other
    regions:
      - {base: 0x10000000, pages: 6, perms: rwx}
    steps:
      - {op: write, addr: 0x10000000, len: 24576, byte: 0xee}
      - {op: verify, addr: 0x10000000, len: 24576, byte: 0xee}
`

func newSystem(t *testing.T) *vm.System {
	t.Helper()
	s, err := vm.Bootstrap(vm.Config{
		MemoryFrames: 8,
		SwapFile:     filepath.Join(t.TempDir(), "swap"),
		SwapSize:     64 * hostarch.PageSize,
		TLBEntries:   4,
		Layout:       mm.Layout{UserStack: hostarch.UserStack, StackPages: 2},
		Seed:         1,
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestParse(t *testing.T) {
	w, err := Parse([]byte(forkWorkload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := len(w.Processes), 3; got != want {
		t.Fatalf("got %d processes want %d", got, want)
	}
	want := Region{Base: 0x400000, Pages: 4, Perms: "rw-"}
	if diff := cmp.Diff(want, w.Processes[0].Regions[0]); diff != "" {
		t.Errorf("region mismatch (-want +got):\n%s", diff)
	}
	if got := w.Processes[1].Steps[4].length(); got != 16 {
		t.Errorf("got length %d want 16", got)
	}
	if got := w.Processes[0].Steps[0].length(); got != hostarch.PageSize {
		t.Errorf("got default length %d want %d", got, hostarch.PageSize)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty",
			yaml: "processes: []",
			want: "no processes",
		},
		{
			name: "unknown field",
			yaml: "processes:\n  - name: a\n    colour: red\n",
			want: "colour",
		},
		{
			name: "duplicate",
			yaml: "processes:\n  - {name: a, regions: [{base: 0x1000, pages: 1, perms: r}]}\n  - {name: a, regions: [{base: 0x1000, pages: 1, perms: r}]}\n",
			want: "duplicate",
		},
		{
			name: "no regions",
			yaml: "processes:\n  - {name: a}\n",
			want: "no regions",
		},
		{
			name: "bad perms",
			yaml: "processes:\n  - {name: a, regions: [{base: 0x1000, pages: 1, perms: rq}]}\n",
			want: "invalid permissions",
		},
		{
			name: "bad op",
			yaml: "processes:\n  - name: a\n    regions: [{base: 0x1000, pages: 1, perms: r}]\n    steps: [{op: jump}]\n",
			want: "unknown op",
		},
		{
			name: "unknown child",
			yaml: "processes:\n  - name: a\n    regions: [{base: 0x1000, pages: 1, perms: r}]\n    steps: [{op: fork, child: b}]\n",
			want: "unknown child",
		},
		{
			name: "never forked",
			yaml: "processes:\n  - {name: a, regions: [{base: 0x1000, pages: 1, perms: r}]}\n  - {name: b, fork_of: a}\n",
			want: "never forked",
		},
		{
			name: "cycle",
			yaml: "processes:\n  - {name: a, fork_of: b, steps: [{op: fork, child: b}]}\n  - {name: b, fork_of: a, steps: [{op: fork, child: a}]}\n",
			want: "cyclic",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Parse: got error %v want one containing %q", err, tc.want)
			}
		})
	}
}

func TestRun(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(map[bool]string{false: "sequential", true: "parallel"}[parallel], func(t *testing.T) {
			w, err := Parse([]byte(forkWorkload))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			s := newSystem(t)
			rep, err := Run(context.Background(), s, w, Options{Parallel: parallel})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			want := []ProcessReport{
				{Name: "child", Steps: 5, Exited: true, Stack: hostarch.UserStack},
				{Name: "other", Steps: 2, Exited: true, Stack: hostarch.UserStack},
				{Name: "parent", Steps: 9, Exited: true, Stack: hostarch.UserStack},
			}
			if diff := cmp.Diff(want, rep.Processes, cmpopts.IgnoreFields(ProcessReport{}, "Owner", "Usage")); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
			st := s.Stats()
			if st.AddressSpaces != 0 || st.Frames.User != 0 || st.SwapUsed != 0 {
				t.Errorf("got stats %+v after the run, want everything released", st)
			}
		})
	}
}

func TestRunVerifyMismatch(t *testing.T) {
	w, err := Parse([]byte(`
processes:
  - name: a
    regions: [{base: 0x400000, pages: 1, perms: rw-}]
    steps:
      - {op: write, addr: 0x400000, byte: 1}
      - {op: verify, addr: 0x400000, byte: 2}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := newSystem(t)
	_, err = Run(context.Background(), s, w, Options{})
	if err == nil || !strings.Contains(err.Error(), "want 0x2") {
		t.Errorf("Run: got %v want a verify mismatch", err)
	}
}

func TestRunFault(t *testing.T) {
	w, err := Parse([]byte(`
processes:
  - name: a
    regions: [{base: 0x400000, pages: 1, perms: rw-}]
    steps:
      - {op: write, addr: 0x900000, byte: 1}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := newSystem(t)
	if _, err := Run(context.Background(), s, w, Options{}); err == nil {
		t.Errorf("Run with a write outside every segment succeeded")
	}
}
