// Copyright 2025 Kadir Pekel
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

// Command olav runs the network-operations orchestration server.
//
// Usage:
//
//	olav serve --config olav.yaml
//	olav validate --config olav.yaml
//	olav schema > config-schema.json
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/olav-network/olav/pkg/config"
	"github.com/olav-network/olav/pkg/logger"
)

// Exit codes: 0 success, 1 startup misconfiguration, 2 fatal runtime
// error, 99 already initialized.
const (
	exitOK             = 0
	exitMisconfigured  = 1
	exitRuntimeFailure = 2
	exitAlreadyInit    = 99
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the orchestration server."`
	Init     InitCmd     `cmd:"" help:"Write a starter config file."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the config file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("olav version %s\n", version)
	return nil
}

// exitError carries a specific process exit code up to main.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func exitWith(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("olav"),
		kong.Description("Network-operations ChatOps orchestration server."),
		kong.UsageOnError(),
	)

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "olav: %v\n", err)
		os.Exit(exitMisconfigured)
	}

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		f, closeLog, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "olav: %v\n", err)
			os.Exit(exitMisconfigured)
		}
		defer closeLog()
		output = f
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "olav: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitRuntimeFailure)
	}
}
