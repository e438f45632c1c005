package program

// Memory is an in-memory Program assembled by hand. It backs unit tests of
// the engine and small synthetic models; real programs come from the Go
// front end.
type Memory struct {
	methods     []*Method
	methodNames map[string]*Method
	classes     []*Class
	classNames  map[string]*Class
	implements  map[*Class][]*Class
	dispatch    map[*Class]map[string]*Method
	out         map[int][]*Edge
	in          map[int][]*Edge
	bodies      map[int]*Body
	objects     map[argKey]ObjectSet
}

type argKey struct {
	edge *Edge
	arg  int
}

var _ Program = (*Memory)(nil)

// NewMemory returns an empty model.
func NewMemory() *Memory {
	return &Memory{
		methodNames: make(map[string]*Method),
		classNames:  make(map[string]*Class),
		implements:  make(map[*Class][]*Class),
		dispatch:    make(map[*Class]map[string]*Method),
		out:         make(map[int][]*Edge),
		in:          make(map[int][]*Edge),
		bodies:      make(map[int]*Body),
		objects:     make(map[argKey]ObjectSet),
	}
}

// AddInterface declares an interface class.
func (p *Memory) AddInterface(name string) *Class {
	c := p.addClass(name)
	c.Interface = true
	return c
}

// AddClass declares a concrete class implementing the given interfaces.
func (p *Memory) AddClass(name string, ifaces ...*Class) *Class {
	c := p.addClass(name)
	for _, i := range ifaces {
		p.implements[i] = append(p.implements[i], c)
	}
	return c
}

// AddFuncClass declares the class of a function value whose only behavior is
// calling m.
func (p *Memory) AddFuncClass(m *Method) *Class {
	c := p.addClass("func " + m.Name)
	c.Func = m
	return c
}

func (p *Memory) addClass(name string) *Class {
	c := &Class{ID: len(p.classes), Name: name}
	p.classes = append(p.classes, c)
	p.classNames[name] = c
	return c
}

// AddFunc declares a package-level function.
func (p *Memory) AddFunc(name string, application bool) *Method {
	return p.addMethod(nil, name, name, application)
}

// AddMethod declares method name on class c. Its canonical name is
// "Class.name".
func (p *Memory) AddMethod(c *Class, name string, application bool) *Method {
	m := p.addMethod(c, c.Name+"."+name, name, application)
	if p.dispatch[c] == nil {
		p.dispatch[c] = make(map[string]*Method)
	}
	p.dispatch[c][name] = m
	return m
}

func (p *Memory) addMethod(c *Class, full, short string, application bool) *Method {
	m := &Method{
		ID:          len(p.methods),
		Name:        full,
		Short:       short,
		Class:       c,
		Application: application,
	}
	p.methods = append(p.methods, m)
	p.methodNames[full] = m
	return m
}

// AddEdge adds a call from statement site of caller to callee.
func (p *Memory) AddEdge(caller *Method, site int, callee *Method) *Edge {
	return p.addEdge(&Edge{Caller: caller, Site: site, Callee: callee})
}

// AddStaticEdge adds a static-initializer edge.
func (p *Memory) AddStaticEdge(caller *Method, site int, callee *Method) *Edge {
	return p.addEdge(&Edge{Caller: caller, Site: site, Callee: callee, Static: true})
}

func (p *Memory) addEdge(e *Edge) *Edge {
	p.out[e.Caller.ID] = append(p.out[e.Caller.ID], e)
	p.in[e.Callee.ID] = append(p.in[e.Callee.ID], e)
	return e
}

// SetBody sets the statement graph of m; statement i flows to succs[i].
func (p *Memory) SetBody(m *Method, succs ...[]int) {
	p.bodies[m.ID] = NewBody(succs)
}

// SetObjects sets the answer of ReachingObjects(e, arg).
func (p *Memory) SetObjects(e *Edge, arg int, objs ...Object) {
	p.objects[argKey{e, arg}] = NewObjectSet(objs...)
}

func (p *Memory) NumMethods() int { return len(p.methods) }

func (p *Memory) Method(id int) *Method { return p.methods[id] }

func (p *Memory) EdgesOutOf(m *Method) []*Edge { return p.out[m.ID] }

func (p *Memory) EdgesInto(m *Method) []*Edge { return p.in[m.ID] }

func (p *Memory) Body(m *Method) *Body { return p.bodies[m.ID] }

func (p *Memory) LookupClass(name string) (*Class, bool) {
	c, ok := p.classNames[name]
	return c, ok
}

func (p *Memory) LookupMethod(name string) (*Method, bool) {
	m, ok := p.methodNames[name]
	return m, ok
}

func (p *Memory) Implementers(iface *Class) []*Class { return p.implements[iface] }

func (p *Memory) ResolveAbstractDispatch(classes []*Class, name string) []*Method {
	var out []*Method
	for _, c := range classes {
		if m, err := p.Dispatch(c, name); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (p *Memory) Dispatch(c *Class, name string) (*Method, error) {
	if c.Func != nil && name == "" {
		return c.Func, nil
	}
	if m, ok := p.dispatch[c][name]; ok {
		return m, nil
	}
	return nil, &DispatchError{Class: c, Signature: name}
}

func (p *Memory) ReachingObjects(e *Edge, arg int) ObjectSet {
	if s, ok := p.objects[argKey{e, arg}]; ok {
		return s
	}
	return ObjectSet{}
}
