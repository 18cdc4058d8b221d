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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileOpts expands a log file pattern into a path.
type FileOpts interface {
	Build(pattern string) string
}

// PatternOpts expands %TIMESTAMP%, %COMMAND% and %PID% in a debug log
// pattern, so that each vmsim invocation can write its own file.
type PatternOpts struct {
	Command string
	Now     time.Time
}

// Build implements FileOpts.Build.
func (o PatternOpts) Build(pattern string) string {
	return strings.NewReplacer(
		"%TIMESTAMP%", strconv.FormatInt(o.Now.UnixNano(), 10),
		"%COMMAND%", o.Command,
		"%PID%", strconv.Itoa(os.Getpid()),
	).Replace(pattern)
}

// OpenFile opens the file named by expanding pattern with opts, creating
// missing parent directories. An empty pattern yields a nil file and no
// error.
func OpenFile(pattern string, flags int, opts FileOpts) (*os.File, error) {
	if pattern == "" {
		return nil, nil
	}
	path := opts.Build(pattern)
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return nil, fmt.Errorf("creating log directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, flags, 0664)
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", path, err)
	}
	return f, nil
}
