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
	"encoding/json"
	"flag"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/vmsim/pkg/vm"
	"gvisor.dev/vmsim/vmsim/cmd/util"
	"gvisor.dev/vmsim/vmsim/config"
	"gvisor.dev/vmsim/vmsim/workload"
)

// Stats implements subcommands.Command for the "stats" command.
type Stats struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Stats) Name() string {
	return "stats"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stats) Synopsis() string {
	return "run a workload and print only the frame and swap summary"
}

// Usage implements subcommands.Command.Usage.
func (*Stats) Usage() string {
	return `stats [flags] <workload.yaml> - run the workload and print frame, swap and TLB counters.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stats) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.format, "format", "text", "output format: text (default) or json.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stats) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if s.format != "text" && s.format != "json" {
		return util.Errorf("invalid format %q, must be 'text' or 'json'", s.format)
	}
	conf := args[0].(*config.Config)

	err := simulate(ctx, conf, f.Arg(0), workload.Options{}, func(sys *vm.System, _ *workload.Report) error {
		st := sys.Stats()
		if s.format == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		return printStats(os.Stdout, st)
	})
	if err != nil {
		return util.Errorf("stats failed: %v", err)
	}
	return subcommands.ExitSuccess
}
