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

package tools

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/Comcast/switchyard/filter"
	"github.com/Comcast/switchyard/routes"
	. "github.com/Comcast/switchyard/util/testutil"
	md "github.com/russross/blackfriday/v2"
)

// RenderRoutesHTML writes an HTML fragment documenting the spec.
// Docs are Markdown.  Filter queries are shown with their
// expansions.
func RenderRoutesHTML(s *routes.Spec, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f(`<div class="specDoc doc">%s</div>`, md.Run([]byte(s.Doc)))
	if s.Session {
		f(`<div class="session">Sessions are enabled.</div>`)
	}

	f(`<div class="routes"><table>`)
	for i, r := range s.Routes {
		if r == nil {
			continue
		}
		id := routeName(i, r)
		f(`<tr class="route"><td><div class="routeNum">%d</div></td><td><span id="%s" class="routeName">%s</span></td><td>`,
			i+1, html.EscapeString(id), html.EscapeString(id))

		if r.Doc != "" {
			f(`<div class="routeDoc doc">%s</div>`, md.Run([]byte(r.Doc)))
		}

		f(`<table class="conditions">`)
		for _, q := range r.On {
			f(`<tr><td>on</td><td><code>%s</code></td>`, html.EscapeString(q))
			if paths, err := filter.Paths(q); err != nil {
				f(`<td><span class="error">%s</span></td></tr>`, html.EscapeString(err.Error()))
			} else {
				ss := make([]string, len(paths))
				for j, p := range paths {
					ss[j] = p.String()
				}
				f(`<td><code>%s</code></td></tr>`, html.EscapeString(strings.Join(ss, " | ")))
			}
		}
		for _, item := range Conditions(r) {
			if item.Key == "on" {
				continue
			}
			v := item.Value
			if src, is := v.(string); is {
				f(`<tr><td>%s</td><td colspan="2"><div class="code"><pre>%s</pre></div></td></tr>`,
					item.Key, html.EscapeString(src))
				continue
			}
			f(`<tr><td>%s</td><td colspan="2"><code>%s</code></td></tr>`,
				item.Key, html.EscapeString(JS(v)))
		}
		f(`</table>`)

		if r.Reply != "" {
			f(`<div class="reply">reply: <q>%s</q></div>`, html.EscapeString(r.Reply))
		}
		if r.Code != nil {
			f(`<div class="code"><pre>%s</pre></div>`, html.EscapeString(Source(r.Code)))
		}
		f(`</td></tr>`)
	}
	f(`</table></div>`)

	return nil
}

// RenderRoutesPage writes a complete HTML page for the spec.
func RenderRoutesPage(s *routes.Spec, out io.Writer, cssFiles []string) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/routes-html.css"}
	}

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, html.EscapeString(s.Name))

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, html.EscapeString(s.Name))

	if err := RenderRoutesHTML(s, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)

	return nil
}

// ReadAndRenderRoutesPage reads a spec (see ReadSpec), checks that it
// compiles, and renders it.  Scripts are only parsed, never run.
func ReadAndRenderRoutesPage(ctx context.Context, filename string, in io.Reader, cssFiles []string, out io.Writer, opts routes.Options) error {
	src, err := ReadSpec(filename, in)
	if err != nil {
		return err
	}
	spec, err := routes.Parse(src)
	if err != nil {
		return err
	}
	if _, err = routes.Compile(ctx, spec, opts); err != nil {
		return err
	}
	return RenderRoutesPage(spec, out, cssFiles)
}
