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

package main

import (
	"fmt"
	"os"

	"github.com/Comcast/switchyard/tools"
	"github.com/Comcast/switchyard/tools/expect"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// nopCloser lets Dot and Mermaid, which close their writers, write
// to stdout.
type nopCloser struct {
	*cobra.Command
}

func (w nopCloser) Write(p []byte) (int, error) {
	return w.OutOrStdout().Write(p)
}

func (w nopCloser) Close() error {
	return nil
}

func (a *app) docCmd() *cobra.Command {
	var css []string
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Render the route spec as an HTML page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tools.ReadAndRenderRoutesPage(cmd.Context(), a.config.Routes, a.stdin, css,
				cmd.OutOrStdout(), a.routeOptions(nil))
		},
	}
	cmd.Flags().StringSliceVar(&css, "css", nil, "stylesheet URLs")
	return cmd
}

func (a *app) dotCmd() *cobra.Command {
	var png string
	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Render the route spec as a Graphviz graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := a.readRoutes()
			if err != nil {
				return err
			}
			if png != "" {
				_, err = tools.PNG(spec, png)
				return err
			}
			return tools.Dot(spec, nopCloser{cmd})
		},
	}
	cmd.Flags().StringVar(&png, "png", "", "write BASENAME.dot and BASENAME.png instead (needs Graphviz)")
	return cmd
}

func (a *app) mermaidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mermaid",
		Short: "Render the route spec as a Mermaid graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := a.readRoutes()
			if err != nil {
				return err
			}
			return tools.Mermaid(spec, nopCloser{cmd}, nil)
		},
	}
}

func (a *app) expectCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "expect SESSION...",
		Short: "Check that the routes produce the expected API calls",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cm, err := a.compileRoutes(ctx, nil)
			if err != nil {
				return err
			}
			for _, filename := range args {
				bs, err := os.ReadFile(filename)
				if err != nil {
					return err
				}
				s, err := expect.Parse(bs)
				if err != nil {
					return errors.Wrapf(err, "in %s", filename)
				}
				s.Verbose = s.Verbose || verbose
				if err := s.Run(ctx, cm); err != nil {
					return errors.Wrapf(err, "session %s", filename)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d IOs)\n", filename, len(s.IOs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log inputs and outputs")
	return cmd
}
