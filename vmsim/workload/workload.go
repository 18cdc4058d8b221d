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

// Package workload describes simulated user programs and drives a VM system
// through them. A workload stands in for the loader, the fork and exit system
// calls, and the user code touching memory.
package workload

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"gvisor.dev/vmsim/pkg/hostarch"
)

// Op is the kind of a step.
type Op string

// Step kinds.
const (
	OpWrite  Op = "write"
	OpRead   Op = "read"
	OpVerify Op = "verify"
	OpSbrk   Op = "sbrk"
	OpFork   Op = "fork"
	OpExit   Op = "exit"
)

// Workload is a set of processes.
type Workload struct {
	Processes []Process `yaml:"processes"`
}

// Process is a program. Processes without ForkOf are loaded at start; the
// others are created by a fork step of their parent.
type Process struct {
	Name    string   `yaml:"name"`
	ForkOf  string   `yaml:"fork_of,omitempty"`
	Regions []Region `yaml:"regions,omitempty"`
	Steps   []Step   `yaml:"steps"`
}

// Region is a loadable segment of a process.
type Region struct {
	Base  uint64 `yaml:"base"`
	Pages int    `yaml:"pages"`
	Perms string `yaml:"perms"`
}

// Step is one action of a process.
type Step struct {
	Op Op `yaml:"op"`

	// Addr is the first byte accessed by write, read and verify.
	Addr uint64 `yaml:"addr,omitempty"`

	// Len is the number of bytes accessed. Zero means one page.
	Len int `yaml:"len,omitempty"`

	// Byte is the value written or expected.
	Byte uint8 `yaml:"byte,omitempty"`

	// Pages is the heap change of sbrk, in pages.
	Pages int `yaml:"pages,omitempty"`

	// Child names the process created by fork.
	Child string `yaml:"child,omitempty"`
}

func (s *Step) length() int {
	if s.Len == 0 {
		return hostarch.PageSize
	}
	return s.Len
}

// Load reads a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload: %w", err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workload %q: %w", path, err)
	}
	return w, nil
}

// Parse decodes and validates a workload.
func Parse(data []byte) (*Workload, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var w Workload
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate checks that every process is reachable and every step is
// well-formed.
func (w *Workload) Validate() error {
	if len(w.Processes) == 0 {
		return fmt.Errorf("no processes")
	}
	byName := make(map[string]*Process, len(w.Processes))
	for i := range w.Processes {
		p := &w.Processes[i]
		if p.Name == "" {
			return fmt.Errorf("process %d has no name", i)
		}
		if _, ok := byName[p.Name]; ok {
			return fmt.Errorf("duplicate process %q", p.Name)
		}
		byName[p.Name] = p
	}

	forked := make(map[string]string)
	for i := range w.Processes {
		p := &w.Processes[i]
		if p.ForkOf == "" && len(p.Regions) == 0 {
			return fmt.Errorf("process %q has no regions", p.Name)
		}
		if p.ForkOf != "" && len(p.Regions) > 0 {
			return fmt.Errorf("process %q is forked and cannot define regions", p.Name)
		}
		for j, r := range p.Regions {
			if _, ok := hostarch.ParseAccessType(r.Perms); !ok {
				return fmt.Errorf("process %q region %d: invalid permissions %q", p.Name, j, r.Perms)
			}
			if r.Pages <= 0 {
				return fmt.Errorf("process %q region %d: invalid size of %d pages", p.Name, j, r.Pages)
			}
		}
		for j, s := range p.Steps {
			if err := s.validate(); err != nil {
				return fmt.Errorf("process %q step %d: %w", p.Name, j, err)
			}
			if s.Op != OpFork {
				continue
			}
			child, ok := byName[s.Child]
			if !ok {
				return fmt.Errorf("process %q step %d: unknown child %q", p.Name, j, s.Child)
			}
			if child.ForkOf != p.Name {
				return fmt.Errorf("process %q step %d: child %q is not declared with fork_of: %s", p.Name, j, s.Child, p.Name)
			}
			if parent, ok := forked[s.Child]; ok {
				return fmt.Errorf("process %q is forked twice, by %q and %q", s.Child, parent, p.Name)
			}
			forked[s.Child] = p.Name
		}
	}
	for _, p := range w.Processes {
		if p.ForkOf != "" && forked[p.Name] == "" {
			return fmt.Errorf("process %q is never forked by %q", p.Name, p.ForkOf)
		}
		// Every chain of parents must end at a loaded process.
		q, hops := &p, 0
		for ; q.ForkOf != ""; hops++ {
			if hops == len(w.Processes) {
				return fmt.Errorf("process %q has cyclic ancestry", p.Name)
			}
			q = byName[q.ForkOf]
		}
	}
	return nil
}

func (s *Step) validate() error {
	switch s.Op {
	case OpWrite, OpRead, OpVerify:
		if s.Len < 0 {
			return fmt.Errorf("negative length %d", s.Len)
		}
	case OpSbrk:
		if s.Pages == 0 {
			return fmt.Errorf("sbrk of zero pages")
		}
	case OpFork:
		if s.Child == "" {
			return fmt.Errorf("fork without a child")
		}
	case OpExit:
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}
