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

// Package cmd holds implementations of the vmsim commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/pkg/vm"
	"gvisor.dev/vmsim/vmsim/config"
	"gvisor.dev/vmsim/vmsim/workload"
)

// simulate boots a VM system from conf, runs the workload at path and shuts
// the system down. report is called before shutdown.
func simulate(ctx context.Context, conf *config.Config, path string, opts workload.Options, report func(*vm.System, *workload.Report) error) error {
	w, err := workload.Load(path)
	if err != nil {
		return err
	}
	vc, err := conf.VMConfig()
	if err != nil {
		return err
	}
	sys, err := vm.Bootstrap(vc)
	if err != nil {
		return fmt.Errorf("booting VM: %w", err)
	}
	defer func() {
		if err := sys.Shutdown(); err != nil {
			log.Warningf("Shutting down VM: %v", err)
		}
	}()
	rep, err := workload.Run(ctx, sys, w, opts)
	if err != nil {
		return err
	}
	return report(sys, rep)
}

func printStats(w io.Writer, st vm.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	f := st.Frames
	fmt.Fprintf(tw, "frames:\t%d total\t%d free\t%d fixed\t%d user\t%d kernel\t%d dirty\t%d clean\n",
		f.Total, f.Free, f.Fixed, f.User, f.Kernel, f.Dirty, f.Clean)
	fmt.Fprintf(tw, "swap:\t%d slots\t%d used\n", st.SwapSlots, st.SwapUsed)
	fmt.Fprintf(tw, "tlb:\t%d hits\t%d misses\t%d flushes\t%d replacements\n",
		st.TLB.Hits, st.TLB.Misses, st.TLB.Flushes, st.TLB.Replacements)
	fmt.Fprintf(tw, "address spaces:\t%d\n", st.AddressSpaces)
	return tw.Flush()
}

func printReport(w io.Writer, rep *workload.Report) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "PROCESS\tOWNER\tSTACK\tSTEPS\tPAGES\tRESIDENT\tSWAPPED\n")
	for _, p := range rep.Processes {
		fmt.Fprintf(tw, "%s\t%v\t%v\t%d\t%d\t%d\t%d\n", p.Name, p.Owner, p.Stack, p.Steps, p.Usage.Pages, p.Usage.Resident, p.Usage.Swapped)
	}
	return tw.Flush()
}
