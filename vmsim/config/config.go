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

// Package config provides basic infrastructure to set configuration settings
// for vmsim. Each setting is a flag that can also be read from a TOML file.
package config

import (
	"fmt"

	"gvisor.dev/vmsim/pkg/coremap"
	"gvisor.dev/vmsim/pkg/hostarch"
	"gvisor.dev/vmsim/pkg/log"
	"gvisor.dev/vmsim/pkg/mm"
	"gvisor.dev/vmsim/pkg/vm"
)

// Config holds configuration that is not part of the workload.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and a toml tag with the file key.
//  3. Register a new flag in flags.go, with the same name and add a
//     description.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is the TOML file read before the command line is applied.
	ConfigFile string `flag:"config" toml:"-"`

	// MemoryFrames is the amount of RAM in frames.
	MemoryFrames int `flag:"memory-frames" toml:"memory_frames"`

	// SwapFile is the path of the swap backing file.
	SwapFile string `flag:"swap-file" toml:"swap_file"`

	// SwapSize is the size of the swap file in bytes. Zero keeps the size of
	// an existing file.
	SwapSize int64 `flag:"swap-size" toml:"swap_size"`

	// TLBEntries is the number of TLB entries.
	TLBEntries int `flag:"tlb-entries" toml:"tlb_entries"`

	// StackPages is the size of every user stack in pages.
	StackPages int `flag:"stack-pages" toml:"stack_pages"`

	// UserStack is the top of every user stack.
	UserStack uint64 `flag:"user-stack" toml:"user_stack"`

	// Evictor names the eviction policy: lru or fifo.
	Evictor string `flag:"evictor" toml:"evictor"`

	// Seed seeds TLB replacement.
	Seed int64 `flag:"seed" toml:"seed"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// DebugLog is an additional log location. %TIMESTAMP% and %COMMAND% are
	// replaced.
	DebugLog string `flag:"debug-log" toml:"debug_log"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`
}

func (c *Config) validate() error {
	if c.MemoryFrames <= 0 {
		return fmt.Errorf("memory-frames must be positive, got %d", c.MemoryFrames)
	}
	if c.SwapSize < 0 || c.SwapSize%hostarch.PageSize != 0 {
		return fmt.Errorf("swap-size must be a non-negative multiple of %d, got %d", hostarch.PageSize, c.SwapSize)
	}
	if c.TLBEntries <= 0 {
		return fmt.Errorf("tlb-entries must be positive, got %d", c.TLBEntries)
	}
	if _, err := coremap.NewEvictor(c.Evictor); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log-format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	return c.layout().Validate()
}

func (c *Config) layout() mm.Layout {
	return mm.Layout{
		UserStack:  hostarch.Addr(c.UserStack),
		StackPages: c.StackPages,
	}
}

// VMConfig returns the configuration of the VM system.
func (c *Config) VMConfig() (vm.Config, error) {
	ev, err := coremap.NewEvictor(c.Evictor)
	if err != nil {
		return vm.Config{}, err
	}
	return vm.Config{
		MemoryFrames: c.MemoryFrames,
		SwapFile:     c.SwapFile,
		SwapSize:     c.SwapSize,
		TLBEntries:   c.TLBEntries,
		Layout:       c.layout(),
		Evictor:      ev,
		Seed:         c.Seed,
	}, nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("  %s", f)
	}
}
