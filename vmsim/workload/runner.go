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
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohae/deepcopy"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/pkg/memmap"
	"gvisor.dev/vmsim/pkg/mm"
	"gvisor.dev/vmsim/pkg/vm"
)

// Options control a run.
type Options struct {
	// Parallel runs processes concurrently. Otherwise processes run one after
	// another and a forked child runs to completion before its parent
	// resumes.
	Parallel bool
}

// ProcessReport summarizes the run of one process.
type ProcessReport struct {
	Name   string
	Owner  memmap.OwnerID
	Steps  int
	Exited bool
	Usage  mm.Usage

	// Stack is the initial stack pointer handed to the process.
	Stack hostarch.Addr
}

// Report summarizes a run.
type Report struct {
	Processes []ProcessReport
}

type runner struct {
	sys    *vm.System
	byName map[string]*Process
	opts   Options
	g      *errgroup.Group
	ctx    context.Context

	mu      sync.Mutex
	reports []ProcessReport
}

// Run loads every root process of w into sys and runs all processes.
func Run(ctx context.Context, sys *vm.System, w *Workload, opts Options) (*Report, error) {
	// Processes read their steps from a private copy of w.
	w = deepcopy.Copy(w).(*Workload)
	g, ctx := errgroup.WithContext(ctx)
	r := &runner{
		sys:    sys,
		byName: make(map[string]*Process, len(w.Processes)),
		opts:   opts,
		g:      g,
		ctx:    ctx,
	}
	for i := range w.Processes {
		r.byName[w.Processes[i].Name] = &w.Processes[i]
	}
	for i := range w.Processes {
		p := &w.Processes[i]
		if p.ForkOf != "" {
			continue
		}
		as, sp, err := r.load(p)
		if err != nil {
			g.Wait()
			return nil, err
		}
		if err := r.start(p, as, sp); err != nil {
			g.Wait()
			return nil, err
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(r.reports, func(i, j int) bool {
		return r.reports[i].Name < r.reports[j].Name
	})
	return &Report{Processes: r.reports}, nil
}

// load plays the part of the program loader and returns the address space
// of p along with its initial stack pointer.
func (r *runner) load(p *Process) (*mm.AddressSpace, hostarch.Addr, error) {
	as, err := r.sys.CreateAddressSpace()
	if err != nil {
		return nil, 0, fmt.Errorf("creating address space of %q: %w", p.Name, err)
	}
	fail := func(what string, err error) (*mm.AddressSpace, hostarch.Addr, error) {
		r.sys.DestroyAddressSpace(as)
		return nil, 0, fmt.Errorf("%s %q: %w", what, p.Name, err)
	}
	for i, reg := range p.Regions {
		perms, _ := hostarch.ParseAccessType(reg.Perms)
		size := uint64(reg.Pages) * hostarch.PageSize
		if err := r.sys.DefineRegion(as, hostarch.Addr(reg.Base), size, perms.Read, perms.Write, perms.Execute); err != nil {
			return fail(fmt.Sprintf("defining region %d of", i), err)
		}
	}
	if err := r.sys.PrepareLoad(as); err != nil {
		return fail("preparing", err)
	}
	if err := r.sys.CompleteLoad(as); err != nil {
		return fail("loading", err)
	}
	sp, err := r.sys.DefineStack(as)
	if err != nil {
		return fail("defining the stack of", err)
	}
	log.Infof("Loaded %q as %v, stack pointer %v", p.Name, as.Owner(), sp)
	return as, sp, nil
}

func (r *runner) start(p *Process, as *mm.AddressSpace, sp hostarch.Addr) error {
	if !r.opts.Parallel {
		return r.exec(p, as, sp)
	}
	r.g.Go(func() error { return r.exec(p, as, sp) })
	return nil
}

// exec runs the steps of p. A process that does not exit explicitly exits
// after its last step.
func (r *runner) exec(p *Process, as *mm.AddressSpace, sp hostarch.Addr) error {
	rep := ProcessReport{Name: p.Name, Owner: as.Owner(), Stack: sp}
	defer func() {
		r.mu.Lock()
		r.reports = append(r.reports, rep)
		r.mu.Unlock()
	}()
	for i := range p.Steps {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		s := &p.Steps[i]
		if rep.Exited {
			return fmt.Errorf("%q step %d: %s after exit", p.Name, i, s.Op)
		}
		if err := r.step(p, as, s, &rep); err != nil {
			return fmt.Errorf("%q step %d (%s): %w", p.Name, i, s.Op, err)
		}
		rep.Steps++
	}
	if !rep.Exited {
		return r.exit(as, &rep)
	}
	return nil
}

func (r *runner) step(p *Process, as *mm.AddressSpace, s *Step, rep *ProcessReport) error {
	addr := hostarch.Addr(s.Addr)
	switch s.Op {
	case OpWrite:
		buf := bytes.Repeat([]byte{s.Byte}, s.length())
		_, err := r.sys.CopyOut(as, addr, buf)
		return err
	case OpRead:
		_, err := r.sys.CopyIn(as, addr, make([]byte, s.length()))
		return err
	case OpVerify:
		buf := make([]byte, s.length())
		if _, err := r.sys.CopyIn(as, addr, buf); err != nil {
			return err
		}
		for i, c := range buf {
			if c != s.Byte {
				return fmt.Errorf("byte at %v is %#x, want %#x", addr+hostarch.Addr(i), c, s.Byte)
			}
		}
		return nil
	case OpSbrk:
		_, err := r.sys.Sbrk(as, int64(s.Pages)*hostarch.PageSize)
		return err
	case OpFork:
		child, err := r.sys.Copy(as)
		if err != nil {
			return err
		}
		// The child resumes on the same stack as its parent.
		sp, err := r.sys.DefineStack(child)
		if err != nil {
			r.sys.DestroyAddressSpace(child)
			return err
		}
		log.Infof("%q forked %q as %v", p.Name, s.Child, child.Owner())
		return r.start(r.byName[s.Child], child, sp)
	case OpExit:
		return r.exit(as, rep)
	}
	panic(fmt.Sprintf("unknown op %q", s.Op))
}

func (r *runner) exit(as *mm.AddressSpace, rep *ProcessReport) error {
	_, rep.Usage = r.sys.Maps(as)
	rep.Exited = true
	return r.sys.DestroyAddressSpace(as)
}
