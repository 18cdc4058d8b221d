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
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/vmsim/cmd/util"
)

// Mkswap implements subcommands.Command for the "mkswap" command.
type Mkswap struct {
	force bool
}

// Name implements subcommands.Command.Name.
func (*Mkswap) Name() string {
	return "mkswap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkswap) Synopsis() string {
	return "create and preallocate a swap file"
}

// Usage implements subcommands.Command.Usage.
func (*Mkswap) Usage() string {
	return `mkswap [flags] <path> <size> - create a swap file of size bytes. size must be a multiple of the page size.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkswap) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.force, "force", false, "overwrite an existing file.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkswap) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	size, err := strconv.ParseInt(f.Arg(1), 0, 64)
	if err != nil || size <= 0 || size%hostarch.PageSize != 0 {
		return util.Errorf("invalid swap size %q: must be a positive multiple of %d", f.Arg(1), hostarch.PageSize)
	}
	if err := makeSwap(f.Arg(0), size, m.force); err != nil {
		return util.Errorf("mkswap failed: %v", err)
	}
	util.Infof("Created %q with %d slots", f.Arg(0), size/hostarch.PageSize)
	return subcommands.ExitSuccess
}

func makeSwap(path string, size int64, force bool) error {
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		if !errors.Is(err, unix.EOPNOTSUPP) {
			return fmt.Errorf("fallocate(%d): %w", size, err)
		}
		log.Infof("Filesystem of %q does not support fallocate, truncating instead", path)
		if err := unix.Ftruncate(int(f.Fd()), size); err != nil {
			return fmt.Errorf("ftruncate(%d): %w", size, err)
		}
	}
	return nil
}
