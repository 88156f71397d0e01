/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package main is the switchyard command: run a bot from a route
// spec, check filter queries, and render route docs.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what every subcommand shares.
type app struct {
	v          *viper.Viper
	configFile string
	config     *Config

	// stdin is where a route spec named "-" comes from.
	stdin io.Reader
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:   "switchyard",
		Short: "Route bot updates through filter queries and middleware",
		Long: `switchyard runs a bot whose behavior is given by a route spec.

Commands:
  run     - Process updates from stdio, MQTT, websockets, or long polling
  check   - Expand and validate filter queries, or analyze a route spec
  doc     - Render a route spec as HTML
  dot     - Render a route spec as a Graphviz graph
  mermaid - Render a route spec as a Mermaid graph
  expect  - Run an expectation session against a route spec

Examples:
  switchyard check ':text' 'edit:media'
  switchyard run --routes greeter.yaml --source stdio
  SWITCHYARD_TOKEN=... switchyard run --routes greeter.yaml --source poll`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.config = c
			a.stdin = cmd.InOrStdin()
			return util.InitLogging(c.Log.JSON, c.Log.Debug)
		},
	}

	fs := root.PersistentFlags()
	fs.StringVarP(&a.configFile, "config", "c", "", "config file (TOML, YAML, or JSON)")
	fs.Bool("log-json", false, "log JSON")
	fs.Bool("debug", false, "log at debug level")
	fs.String("routes", "", `route spec filename, or "-" for stdin`)
	a.v.BindPFlag("log.json", fs.Lookup("log-json"))
	a.v.BindPFlag("log.debug", fs.Lookup("debug"))
	a.v.BindPFlag("routes", fs.Lookup("routes"))

	root.AddCommand(
		a.runCmd(),
		a.checkCmd(),
		a.docCmd(),
		a.dotCmd(),
		a.mermaidCmd(),
		a.expectCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}
