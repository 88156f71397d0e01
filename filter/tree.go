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

// Tree merges validated paths into one OR structure: l1 -> l2 ->
// set of l3.  Segments within a path are conjunctive; separate paths
// are disjunctive.
//
// A branch without children means that its key alone decides.  A
// branch that was also given as a shorter path is marked Bare: the
// shorter path subsumes the longer ones.
type Tree struct {
	L1s []*L1Branch
}

type L1Branch struct {
	Key  string
	Bare bool
	L2s  []*L2Branch
}

type L2Branch struct {
	Key  string
	Bare bool
	L3s  []string
}

// Decides reports whether the presence of the key alone decides.
func (b *L1Branch) Decides() bool {
	return b.Bare || len(b.L2s) == 0
}

// Decides reports whether the presence of the key alone decides.
func (b *L2Branch) Decides() bool {
	return b.Bare || len(b.L3s) == 0
}

// Treeify folds the given paths into a Tree.
func Treeify(paths []Path) *Tree {
	t := &Tree{}
	for _, p := range paths {
		l1, have := p.at(0)
		if !have {
			continue
		}
		b1 := t.l1(l1)
		l2, have := p.at(1)
		if !have {
			b1.Bare = true
			continue
		}
		b2 := b1.l2(l2)
		if l3, have := p.at(2); have {
			b2.add(l3)
		} else {
			b2.Bare = true
		}
	}
	return t
}

// Empty reports whether the tree has no branches at all.
func (t *Tree) Empty() bool {
	return t == nil || len(t.L1s) == 0
}

func (t *Tree) l1(key string) *L1Branch {
	for _, b := range t.L1s {
		if b.Key == key {
			return b
		}
	}
	b := &L1Branch{Key: key}
	t.L1s = append(t.L1s, b)
	return b
}

func (b *L1Branch) l2(key string) *L2Branch {
	for _, x := range b.L2s {
		if x.Key == key {
			return x
		}
	}
	x := &L2Branch{Key: key}
	b.L2s = append(b.L2s, x)
	return x
}

func (b *L2Branch) add(l3 string) {
	for _, x := range b.L3s {
		if x == l3 {
			return
		}
	}
	b.L3s = append(b.L3s, l3)
}
