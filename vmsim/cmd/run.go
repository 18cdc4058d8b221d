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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/vmsim/pkg/vm"
	"gvisor.dev/vmsim/vmsim/cmd/util"
	"gvisor.dev/vmsim/vmsim/config"
	"gvisor.dev/vmsim/vmsim/workload"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// metrics prints the metrics after the run.
	metrics bool

	// parallel runs the processes of the workload concurrently.
	parallel bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run a workload on a fresh VM system"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <workload.yaml> - boot the VM, run every process of the workload, print statistics.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.metrics, "metrics", false, "print metrics in the Prometheus text format after the run.")
	f.BoolVar(&r.parallel, "parallel", false, "run independent processes concurrently.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	err := simulate(ctx, conf, f.Arg(0), workload.Options{Parallel: r.parallel}, func(sys *vm.System, rep *workload.Report) error {
		if err := printReport(os.Stdout, rep); err != nil {
			return err
		}
		if err := printStats(os.Stdout, sys.Stats()); err != nil {
			return err
		}
		if r.metrics {
			return sys.WriteMetrics(os.Stdout)
		}
		return nil
	})
	if err != nil {
		return util.Errorf("run failed: %v", err)
	}
	return subcommands.ExitSuccess
}
