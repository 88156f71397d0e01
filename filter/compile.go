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

package filter

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
)

// Self identifies the bot on whose behalf a predicate is evaluated.
type Self struct {
	ID int64
}

// Node is a compiled predicate.  Values are generic JSON values as
// produced by encoding/json: map[string]interface{}, []interface{},
// string, float64, bool, nil.
type Node interface {
	Eval(v interface{}, self Self) bool
	String() string
}

// Exists holds if the value is an object with a non-null Key.
type Exists struct {
	Key string
}

// KeyThen holds if the value at Key is truthy and Then holds for it.
type KeyThen struct {
	Key  string
	Then Node
}

// AnyOf holds if any of its nodes holds.
type AnyOf struct {
	Nodes []Node
}

// Literal holds if the value, or any element of it if it is an
// array, is an object with a truthy field Name or with a "type"
// equal to Name.
type Literal struct {
	Name string
}

// SelfReference holds if the value, or any element of it if it is an
// array, is an object whose "id" is the bot's own id.
type SelfReference struct{}

func (n Exists) Eval(v interface{}, self Self) bool {
	x, have := lookupField(v, n.Key)
	return have && x != nil
}

func (n KeyThen) Eval(v interface{}, self Self) bool {
	x, _ := lookupField(v, n.Key)
	return truthy(x) && n.Then.Eval(x, self)
}

func (n AnyOf) Eval(v interface{}, self Self) bool {
	for _, c := range n.Nodes {
		if c.Eval(v, self) {
			return true
		}
	}
	return false
}

func (n Literal) Eval(v interface{}, self Self) bool {
	return anyElement(v, func(e interface{}) bool {
		x, _ := lookupField(e, n.Name)
		if truthy(x) {
			return true
		}
		t, _ := lookupField(e, "type")
		s, is := t.(string)
		return is && s == n.Name
	})
}

func (n SelfReference) Eval(v interface{}, self Self) bool {
	return anyElement(v, func(e interface{}) bool {
		id, _ := lookupField(e, "id")
		return sameID(id, self.ID)
	})
}

func (n Exists) String() string {
	return n.Key
}

func (n KeyThen) String() string {
	return n.Key + "." + n.Then.String()
}

func (n AnyOf) String() string {
	parts := make([]string, len(n.Nodes))
	for i, c := range n.Nodes {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

func (n Literal) String() string {
	return "[" + n.Name + "]"
}

func (n SelfReference) String() string {
	return "[" + Me + "]"
}

// Build lowers a Tree into a Node.
//
// An empty tree cannot be lowered.  Validation should make that
// impossible, so an empty tree is reported as an assertion failure.
func Build(t *Tree) (Node, error) {
	if t.Empty() {
		return nil, errors.AssertionFailedf("Cannot create filter function for empty query")
	}

	l1s := make([]Node, 0, len(t.L1s))
	for _, b1 := range t.L1s {
		if b1.Decides() {
			l1s = append(l1s, Exists{b1.Key})
			continue
		}
		l2s := make([]Node, 0, len(b1.L2s))
		for _, b2 := range b1.L2s {
			if b2.Decides() {
				l2s = append(l2s, Exists{b2.Key})
				continue
			}
			l3s := make([]Node, 0, len(b2.L3s))
			for _, l3 := range b2.L3s {
				if l3 == Me {
					l3s = append(l3s, SelfReference{})
				} else {
					l3s = append(l3s, Literal{l3})
				}
			}
			l2s = append(l2s, KeyThen{b2.Key, anyOf(l3s)})
		}
		l1s = append(l1s, KeyThen{b1.Key, anyOf(l2s)})
	}
	return anyOf(l1s), nil
}

func anyOf(ns []Node) Node {
	if len(ns) == 1 {
		return ns[0]
	}
	return AnyOf{ns}
}

func lookupField(v interface{}, key string) (interface{}, bool) {
	m, is := v.(map[string]interface{})
	if !is {
		return nil, false
	}
	x, have := m[key]
	return x, have
}

func anyElement(v interface{}, pred func(interface{}) bool) bool {
	p := func(x interface{}) bool {
		return x != nil && pred(x)
	}
	if xs, is := v.([]interface{}); is {
		for _, x := range xs {
			if p(x) {
				return true
			}
		}
		return false
	}
	return p(v)
}

// truthy follows ECMAScript truthiness, which is what the platform's
// optional fields are designed around.
func truthy(x interface{}) bool {
	switch vv := x.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != ""
	case float64:
		return vv != 0 && !math.IsNaN(vv)
	case float32:
		return vv != 0 && !math.IsNaN(float64(vv))
	case int:
		return vv != 0
	case int64:
		return vv != 0
	case json.Number:
		f, err := vv.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	default:
		return true
	}
}

func sameID(x interface{}, id int64) bool {
	switch vv := x.(type) {
	case float64:
		return vv == float64(id)
	case int64:
		return vv == id
	case int:
		return int64(vv) == id
	case json.Number:
		n, err := vv.Int64()
		return err == nil && n == id
	default:
		return false
	}
}
