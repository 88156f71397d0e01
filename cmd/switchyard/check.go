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
	"io"
	"strings"

	"github.com/Comcast/switchyard/filter"
	"github.com/Comcast/switchyard/tools"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [QUERY...]",
		Short: "Expand and validate filter queries, or analyze the route spec",
		Long: `Given filter queries, check prints each query's expansion and the
predicate for all of them together.  Without queries, check analyzes
the route spec.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return a.analyze(out)
			}
			return checkQueries(out, args)
		},
	}
}

func checkQueries(out io.Writer, queries []string) error {
	for _, q := range queries {
		paths, err := filter.Paths(q)
		if err != nil {
			return err
		}
		ss := make([]string, len(paths))
		for i, p := range paths {
			ss[i] = p.String()
		}
		fmt.Fprintf(out, "%q -> %s\n", q, strings.Join(ss, " | "))
	}

	f, err := filter.Compile(queries...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "predicate: %s\n", f.Root)
	return nil
}

func (a *app) analyze(out io.Writer) error {
	spec, err := a.readRoutes()
	if err != nil {
		return err
	}
	an, err := tools.Analyze(spec)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "routes: %d (scripts: %d, replies: %d)\n", an.RouteCount, an.Scripts, an.Replies)
	if len(an.Commands) > 0 {
		fmt.Fprintf(out, "commands: %s\n", strings.Join(an.Commands, ", "))
	}
	if len(an.UpdateTypes) > 0 {
		fmt.Fprintf(out, "update types: %s\n", strings.Join(an.UpdateTypes, ", "))
	}
	if s := an.Summary(); s != "" {
		fmt.Fprintln(out, s)
	}
	if len(an.Errors) > 0 {
		return errors.Newf("%d problems in %s", len(an.Errors), a.config.Routes)
	}
	return nil
}
