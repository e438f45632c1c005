package program

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectSet(t *testing.T) {
	p := NewMemory()
	iface := p.AddInterface("Runnable")
	a := p.AddClass("A", iface)
	b := p.AddClass("B", iface)

	s1 := NewObjectSet(Object{Site: "new A#1", Class: a}, Object{Site: "new A#2", Class: a})
	s2 := NewObjectSet(Object{Site: "new B#1", Class: b})
	s3 := NewObjectSet(Object{Site: "new A#2", Class: a}, Object{Site: "iface", Class: iface})

	require.False(t, s1.Intersects(s2))
	require.True(t, s1.Intersects(s3))
	require.True(t, s3.Intersects(s1))
	require.False(t, ObjectSet{}.Intersects(s1))

	u := s1.Union(s2, s3)
	require.Len(t, u, 4)
	require.Len(t, s1, 2, "union must not modify its receiver")

	// Interface classes are not possible runtime types.
	require.Equal(t, []*Class{a, b}, u.PossibleTypes())
	require.Empty(t, ObjectSet{}.PossibleTypes())
}

func TestMemoryDispatch(t *testing.T) {
	p := NewMemory()
	iface := p.AddInterface("Runnable")
	worker := p.AddClass("Worker", iface)
	other := p.AddClass("Other", iface)
	run := p.AddMethod(worker, "run", true)
	fn := p.AddFunc("callback", true)
	fc := p.AddFuncClass(fn)

	m, err := p.Dispatch(worker, "run")
	require.NoError(t, err)
	require.Same(t, run, m)
	require.Equal(t, "Worker.run", m.Name)

	_, err = p.Dispatch(other, "run")
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	require.Same(t, other, de.Class)

	m, err = p.Dispatch(fc, "")
	require.NoError(t, err)
	require.Same(t, fn, m)

	require.Equal(t, []*Class{worker, other}, p.Implementers(iface))
	require.Equal(t, []*Method{run}, p.ResolveAbstractDispatch(p.Implementers(iface), "run"))

	got, ok := p.LookupMethod("Worker.run")
	require.True(t, ok)
	require.Same(t, run, got)
}

func TestMemoryEdges(t *testing.T) {
	p := NewMemory()
	a := p.AddFunc("a", true)
	b := p.AddFunc("b", true)
	e1 := p.AddEdge(a, 0, b)
	e2 := p.AddStaticEdge(b, 0, a)

	require.Equal(t, []*Edge{e1}, p.EdgesOutOf(a))
	require.Equal(t, []*Edge{e1}, p.EdgesInto(b))
	require.Equal(t, []*Edge{e2}, p.EdgesInto(a))
	require.True(t, e2.Static)
	require.Nil(t, p.Body(a))
	require.Empty(t, p.ReachingObjects(e1, 0))
	require.Equal(t, 2, p.NumMethods())
}
