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

// Package tools renders and checks route specs.
package tools

// dot -Tpng g.dot > g.png

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Comcast/switchyard/routes"
	"github.com/Comcast/switchyard/util"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"
)

// Conditions gathers a route's conditions, keyed by their spec
// names, for labels and docs.
func Conditions(r *routes.Route) yaml.MapSlice {
	var acc yaml.MapSlice
	add := func(k string, v interface{}) {
		acc = append(acc, yaml.MapItem{Key: k, Value: v})
	}
	if len(r.On) > 0 {
		add("on", []string(r.On))
	}
	if len(r.ChatType) > 0 {
		add("chat_type", []string(r.ChatType))
	}
	if len(r.Command) > 0 {
		add("command", []string(r.Command))
	}
	if len(r.Hears) > 0 {
		add("hears", []interface{}(r.Hears))
	}
	if len(r.CallbackQuery) > 0 {
		add("callback_query", []interface{}(r.CallbackQuery))
	}
	if r.When != nil {
		k := "when"
		if r.Drop {
			k = "unless"
		}
		add(k, Source(r.When))
	}
	return acc
}

// Source renders script source, which might be a string or a map
// with "code" and "requires".
func Source(x interface{}) string {
	switch vv := x.(type) {
	case nil:
		return ""
	case string:
		return vv
	case map[string]interface{}:
		if code, is := vv["code"].(string); is {
			return code
		}
	}
	return fmt.Sprintf("%#v", x)
}

func routeName(i int, r *routes.Route) string {
	if r.Name != "" {
		return r.Name
	}
	return "#" + strconv.Itoa(i)
}

func htmlEscape(s string) string {
	s = strings.Replace(s, "&", `&amp;`, -1)
	s = strings.Replace(s, "<", `&lt;`, -1)
	s = strings.Replace(s, ">", `&gt;`, -1)
	return s
}

func lines(s string) string {
	return strings.Replace(htmlEscape(s)+"\n", "\n", `<BR ALIGN="LEFT"/>`, -1)
}

// Dot makes a Graphviz dot file for the given spec.
//
// Each route is a node, drawn in order from the start node.  An
// edge from a route's conditions leads to its handler, and a dashed
// edge to the next route is the path an update takes when the
// conditions don't hold (or when the handler passes it on).
func Dot(spec *routes.Spec, w io.WriteCloser) error {
	log := util.Logger

	if spec == nil {
		return errors.New("no spec")
	}

	log.Debugw("dot", "spec", spec.Name, "routes", len(spec.Routes))

	fmt.Fprintf(w, "digraph G {\n")
	fmt.Fprintf(w, `  graph [ordering=out,rankdir=TB,nodesep=0.3,ranksep=0.6]
  node [shape="record" style="rounded,filled"]
  edge [fontsize = "12"]
`)

	label := htmlEscape(spec.Name)
	if label == "" {
		label = "update"
	}
	if spec.Doc != "" {
		label += "<BR/><FONT POINT-SIZE='8'>" + htmlEscape(firstSentence(spec.Doc)) + "</FONT>"
	}
	fmt.Fprintf(w, "  start [shape=\"oval\", style=\"filled,bold\", fillcolor=\"#2d93ad\", label=<%s> ]\n", label)
	if spec.Session {
		fmt.Fprintf(w, "  session [shape=\"cylinder\", style=\"filled\", fillcolor=\"#99ddc8\", label=\"session\" ]\n")
		fmt.Fprintf(w, "  start -> session [ style=\"dotted\" ]\n")
	}

	prev := "start"
	for i, r := range spec.Routes {
		if r == nil {
			return errors.Newf("route %d is empty", i)
		}
		name := routeName(i, r)
		id := fmt.Sprintf("r%d", i)

		conds := "always"
		if cs := Conditions(r); len(cs) > 0 {
			bs, err := yaml.Marshal(cs)
			if err != nil {
				conds = err.Error()
			} else {
				conds = string(bs)
			}
		}
		label := htmlEscape(name)
		if r.Doc != "" {
			label += "<BR/><FONT POINT-SIZE='8'>" + htmlEscape(firstSentence(r.Doc)) + "</FONT>"
		}
		label += `<FONT POINT-SIZE="8"><BR/>` + lines(conds) + `</FONT>`
		fillcolor := "#52aa5e"
		if r.When != nil {
			fillcolor = "#99ddc8"
		}
		fmt.Fprintf(w, "  %s [shape=\"record\", style=\"filled\", color=\"black\", fillcolor=\"%s\", label=<%s> ]\n",
			id, fillcolor, label)

		var action string
		if r.Reply != "" {
			action += "reply: " + r.Reply + "\n"
		}
		if r.Code != nil {
			action += Source(r.Code)
		}
		fmt.Fprintf(w, "  %s_do [shape=\"note\", style=\"filled\", fillcolor=\"#bcf2db\", label=<<FONT POINT-SIZE=\"6\">%s</FONT>> ]\n",
			id, lines(action))

		fmt.Fprintf(w, "  %s -> %s [ color=\"black\" label = <%d/%d> ]\n", prev, id, i+1, len(spec.Routes))
		fmt.Fprintf(w, "  %s -> %s_do [ color=\"#2d93ad\" label = \"match\" ]\n", id, id)
		prev = id
	}

	fmt.Fprintf(w, "  done [shape=\"oval\", style=\"filled,dashed\", fillcolor=\"#f98b8b\", label=\"unhandled\" ]\n")
	fmt.Fprintf(w, "  %s -> done [ style=\"dashed\" ]\n", prev)

	fmt.Fprintf(w, "}\n")
	return w.Close()
}

func firstSentence(doc string) string {
	if 40 < len(doc) {
		period := strings.Index(doc, ". ")
		if 0 < period {
			doc = doc[0 : period+1]
		}
	}
	return doc
}

// PNG generates a PNG image based on output from Dot.
//
// This function with write two files: basename.dot and basename.png,
// where the basename is the given string.  Requires Graphviz's dot.
func PNG(spec *routes.Spec, basename string) (string, error) {
	dotname := basename + ".dot"
	pngname := basename + ".png"

	dotfile, err := os.Create(dotname)
	if err != nil {
		return pngname, err
	}
	if err := Dot(spec, dotfile); err != nil {
		return pngname, err
	}
	out, err := os.Create(pngname)
	if err != nil {
		return pngname, err
	}
	defer out.Close()

	cmd := exec.Command("dot", "-Tpng", "-Gstart=1", dotname)
	cmd.Stdout = out
	if err := cmd.Run(); err != nil {
		return pngname, errors.Wrap(err, "running dot")
	}
	return pngname, nil
}
