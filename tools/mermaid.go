/* Copyright 2018 Comcast Cable Communications Management, LLC
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

package tools

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Comcast/switchyard/routes"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
)

type MermaidOpts struct {
	// ShowConditions will result in an edge label that's the JSON
	// representation of the route's conditions.
	ShowConditions bool `json:"showConditions"`

	// HandlerFill is the fill color of for handler nodes.
	HandlerFill string `json:"handlerFill,omitempty"`

	PrettyConditions bool `json:"prettyConditions,omitempty"`
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) input file
// for the given spec.
func Mermaid(spec *routes.Spec, w io.WriteCloser, opts *MermaidOpts) error {
	if spec == nil {
		return errors.New("no spec")
	}
	if opts == nil {
		opts = &MermaidOpts{
			ShowConditions:   true,
			HandlerFill:      "#bcf2db",
			PrettyConditions: true,
		}
	}

	util.Logger.Debugw("mermaid", "spec", spec.Name, "routes", len(spec.Routes))

	fmt.Fprintf(w, "graph TB\n")
	fmt.Fprintf(w, "  start((\"update\"))\n")

	prev := "start"
	for i, r := range spec.Routes {
		if r == nil {
			return errors.Newf("route %d is empty", i)
		}
		nid := fmt.Sprintf("n%d", i)
		fmt.Fprintf(w, "  %s(\"%s\")\n", nid, strings.Replace(routeName(i, r), `"`, `'`, -1))
		fmt.Fprintf(w, "  %s_do[\"%s\"]\n", nid, handlerLabel(r))
		if opts.HandlerFill != "" {
			fmt.Fprintf(w, "  style %s_do fill:%s\n", nid, opts.HandlerFill)
		}

		label := ""
		if cs := Conditions(r); opts.ShowConditions && len(cs) > 0 {
			m := make(map[string]interface{}, len(cs))
			for _, item := range cs {
				m[item.Key.(string)] = item.Value
			}
			bs, err := json.Marshal(m)
			if opts.PrettyConditions && 40 < len(bs) {
				bs, err = json.MarshalIndent(m, "", "  ")
			}
			if err != nil {
				return err
			}
			js := strings.Replace(string(bs), `"`, `'`, -1)
			label = fmt.Sprintf(`-- "<pre>%s</pre>"`, js)
		}

		fmt.Fprintf(w, "  %s --> %s\n", prev, nid)
		fmt.Fprintf(w, "  %s %s --> %s_do\n", nid, label, nid)
		prev = nid
	}

	fmt.Fprintf(w, "  %s -.-> done((\"unhandled\"))\n", prev)
	fmt.Fprintf(w, "\n")

	return w.Close()
}

func handlerLabel(r *routes.Route) string {
	var acc []string
	if r.Reply != "" {
		acc = append(acc, "reply")
	}
	if r.Code != nil {
		acc = append(acc, "code")
	}
	return strings.Join(acc, " + ")
}
