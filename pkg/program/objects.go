package program

import (
	"cmp"
	"maps"
	"slices"
)

// Object is an abstract heap object identified by its allocation site and
// its runtime class.
type Object struct {
	Site  string
	Class *Class
}

// ObjectSet is a points-to set. The zero value is an empty set.
type ObjectSet map[Object]struct{}

// NewObjectSet returns a set holding objs.
func NewObjectSet(objs ...Object) ObjectSet {
	s := make(ObjectSet, len(objs))
	for _, o := range objs {
		s[o] = struct{}{}
	}
	return s
}

// Add inserts o.
func (s ObjectSet) Add(o Object) { s[o] = struct{}{} }

// Intersects reports whether s and other share an object.
func (s ObjectSet) Intersects(other ObjectSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for o := range small {
		if _, ok := large[o]; ok {
			return true
		}
	}
	return false
}

// Union returns a new set holding the objects of s and every other set.
func (s ObjectSet) Union(others ...ObjectSet) ObjectSet {
	out := make(ObjectSet, len(s))
	maps.Copy(out, s)
	for _, o := range others {
		maps.Copy(out, o)
	}
	return out
}

// PossibleTypes returns the distinct non-interface classes of the objects,
// ordered by class ID.
func (s ObjectSet) PossibleTypes() []*Class {
	seen := make(map[*Class]struct{}, len(s))
	var out []*Class
	for o := range s {
		if o.Class == nil || o.Class.Interface {
			continue
		}
		if _, ok := seen[o.Class]; ok {
			continue
		}
		seen[o.Class] = struct{}{}
		out = append(out, o.Class)
	}
	slices.SortFunc(out, func(a, b *Class) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
