package weft

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
)

// NamespaceSpec declares a state module: initial state, derived values,
// event handlers, and multi-turn tasks. Registration hands ownership of the
// State tree to the engine.
type NamespaceSpec struct {
	Name    string
	State   map[string]any
	Getters map[string]GetterFunc
	Actions map[string]HandlerFunc
	Tasks   map[string]TaskFunc
}

// GetterFunc derives a value from namespace state. Getters are memoized and
// must be pure: reads are tracked, and a write to any tracked input
// invalidates the memo and re-runs the getter's consumers.
type GetterFunc func(v *View) any

// computation is one tracked unit of reactive work: a directive binding, a
// watch callback, a list controller, or a getter's invalidation relay.
type computation struct {
	id       int
	order    int
	kind     string
	label    string
	run      func() error
	reads    map[string]struct{}
	track    bool
	runs     int
	warned   bool
	disposed bool
}

// aliasEdge declares that two key subtrees describe the same underlying
// value, so invalidation crosses between them in both directions. List
// blocks use it to tie an injected context item to its state path.
type aliasEdge struct {
	a string
	b string
}

type namespace struct {
	name    string
	state   map[string]any
	getters map[string]*getter
	actions map[string]HandlerFunc
	tasks   map[string]TaskFunc
}

type getter struct {
	ns        *namespace
	name      string
	fn        GetterFunc
	memo      any
	valid     bool
	computing bool
	comp      *computation
}

func (g *getter) key() string {
	return "g:" + g.ns.name + ":" + g.name
}

// Store is the explicit namespace registry plus the dependency index
// connecting written keys to the computations that observed them. It is
// owned by the engine goroutine and holds no locks of its own.
type Store struct {
	engine     *Engine
	namespaces map[string]*namespace
	names      []string
	deps       map[string]map[*computation]struct{}
	dirty      map[*computation]struct{}
	aliases    map[*computation][]aliasEdge
	tracking   []*computation
	nextCompID int
	nextOrder  int
	flushing   bool
}

func newStore(e *Engine) *Store {
	return &Store{
		engine:     e,
		namespaces: make(map[string]*namespace),
		deps:       make(map[string]map[*computation]struct{}),
		dirty:      make(map[*computation]struct{}),
		aliases:    make(map[*computation][]aliasEdge),
	}
}

func (s *Store) register(spec NamespaceSpec) error {
	if !isIdent(spec.Name) {
		return fmt.Errorf("%w: invalid namespace name %q", ErrBadExpression, spec.Name)
	}
	if _, exists := s.namespaces[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrNamespaceExists, spec.Name)
	}

	ns := &namespace{
		name:    spec.Name,
		state:   spec.State,
		getters: make(map[string]*getter),
		actions: spec.Actions,
		tasks:   spec.Tasks,
	}
	if ns.state == nil {
		ns.state = make(map[string]any)
	}
	if ns.actions == nil {
		ns.actions = make(map[string]HandlerFunc)
	}
	if ns.tasks == nil {
		ns.tasks = make(map[string]TaskFunc)
	}

	names := make([]string, 0, len(spec.Getters))
	for name := range spec.Getters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == "state" || name == "context" {
			s.engine.logger.Warn("getter name shadows an expression root, skipping",
				"namespace", spec.Name, "getter", name)
			continue
		}
		g := &getter{ns: ns, name: name, fn: spec.Getters[name]}
		g.comp = s.newComputation("getter", spec.Name+"::"+name, false, func() error {
			g.valid = false
			s.invalidate(g.key())
			return nil
		})
		ns.getters[name] = g
	}

	for name := range ns.tasks {
		if _, dup := ns.actions[name]; dup {
			s.engine.logger.Warn("action and task share a name, action wins",
				"namespace", spec.Name, "name", name)
		}
	}

	s.namespaces[spec.Name] = ns
	s.names = append(s.names, spec.Name)
	return nil
}

func (s *Store) lookup(name string) (*namespace, bool) {
	ns, ok := s.namespaces[name]
	return ns, ok
}

func (s *Store) reset() {
	s.namespaces = make(map[string]*namespace)
	s.names = nil
	s.deps = make(map[string]map[*computation]struct{})
	s.dirty = make(map[*computation]struct{})
	s.aliases = make(map[*computation][]aliasEdge)
	s.tracking = nil
}

// Dependency keys. State keys are "s:<ns>:<seg>...", getter keys
// "g:<ns>:<name>", context keys "c:<scope id>:<seg>...". Two keys are
// related when one is a segment-boundary prefix of the other.

func stateKey(ns string, segs []string) string {
	if len(segs) == 0 {
		return "s:" + ns
	}
	return "s:" + ns + ":" + strings.Join(segs, ":")
}

func keyRelated(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+":") || strings.HasPrefix(b, a+":")
}

// translateAlias maps key across an edge from one subtree root to another.
func translateAlias(key, from, to string) (string, bool) {
	switch {
	case key == from:
		return to, true
	case strings.HasPrefix(key, from+":"):
		return to + key[len(from):], true
	case strings.HasPrefix(from, key+":"):
		return to, true
	}
	return "", false
}

func (s *Store) newComputation(kind, label string, track bool, run func() error) *computation {
	s.nextCompID++
	s.nextOrder++
	return &computation{
		id:    s.nextCompID,
		order: s.nextOrder,
		kind:  kind,
		label: label,
		track: track,
		run:   run,
		reads: make(map[string]struct{}),
	}
}

func (s *Store) begin(c *computation) {
	for key := range c.reads {
		if comps, ok := s.deps[key]; ok {
			delete(comps, c)
			if len(comps) == 0 {
				delete(s.deps, key)
			}
		}
	}
	c.reads = make(map[string]struct{})
	s.tracking = append(s.tracking, c)
}

func (s *Store) end() {
	s.tracking = s.tracking[:len(s.tracking)-1]
}

// pause suppresses read recording until the matching end. Used where an
// outer computation runs work whose reads are not its own, like key
// extraction during reconciliation.
func (s *Store) pause() {
	s.tracking = append(s.tracking, nil)
}

func (s *Store) recordRead(key string) {
	if len(s.tracking) == 0 {
		return
	}
	c := s.tracking[len(s.tracking)-1]
	if c == nil {
		return
	}
	if _, ok := c.reads[key]; ok {
		return
	}
	c.reads[key] = struct{}{}
	comps, ok := s.deps[key]
	if !ok {
		comps = make(map[*computation]struct{})
		s.deps[key] = comps
	}
	comps[c] = struct{}{}
}

func (s *Store) dispose(c *computation) {
	if c == nil || c.disposed {
		return
	}
	c.disposed = true
	for key := range c.reads {
		if comps, ok := s.deps[key]; ok {
			delete(comps, c)
			if len(comps) == 0 {
				delete(s.deps, key)
			}
		}
	}
	c.reads = nil
	delete(s.aliases, c)
	delete(s.dirty, c)
}

func (s *Store) setAliases(owner *computation, edges []aliasEdge) {
	if len(edges) == 0 {
		delete(s.aliases, owner)
		return
	}
	s.aliases[owner] = edges
}

// invalidate marks every computation related to the written key dirty,
// following alias edges in both directions.
func (s *Store) invalidate(key string) {
	seen := make(map[string]struct{})
	work := []string{key}

	for len(work) > 0 {
		k := work[len(work)-1]
		work = work[:len(work)-1]
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		for registered, comps := range s.deps {
			if !keyRelated(registered, k) {
				continue
			}
			for c := range comps {
				if !c.disposed {
					s.dirty[c] = struct{}{}
				}
			}
		}

		for _, edges := range s.aliases {
			for _, edge := range edges {
				if t, ok := translateAlias(k, edge.a, edge.b); ok {
					work = append(work, t)
				}
				if t, ok := translateAlias(k, edge.b, edge.a); ok {
					work = append(work, t)
				}
			}
		}
	}
}

func (s *Store) runComputation(c *computation) {
	defer func() {
		if r := recover(); r != nil {
			s.engine.reportError(c.kind+" "+c.label,
				fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()
	if c.track {
		s.begin(c)
		defer s.end()
	}
	c.runs++
	if err := c.run(); err != nil {
		s.engine.reportError(c.kind+" "+c.label, err)
	}
}

// flush runs dirty computations in mount order, one pass at a time, until
// the store settles or the cascade limit is hit. Writes made during a pass
// land in the next one.
func (s *Store) flush() (passes, ran int) {
	if s.flushing || len(s.dirty) == 0 {
		return 0, 0
	}
	s.flushing = true
	defer func() { s.flushing = false }()

	for len(s.dirty) > 0 {
		if passes >= s.engine.cascadeLimit {
			labels := make([]string, 0, len(s.dirty))
			for c := range s.dirty {
				labels = append(labels, c.label)
			}
			sort.Strings(labels)
			s.dirty = make(map[*computation]struct{})
			s.engine.reportError("flush",
				fmt.Errorf("%w after %d passes, still dirty: %s",
					ErrCascadeOverflow, passes, strings.Join(labels, ", ")))
			break
		}
		passes++

		batch := make([]*computation, 0, len(s.dirty))
		for c := range s.dirty {
			if !c.disposed {
				batch = append(batch, c)
			}
		}
		s.dirty = make(map[*computation]struct{})
		sort.Slice(batch, func(i, j int) bool { return batch[i].order < batch[j].order })

		for _, c := range batch {
			if c.disposed {
				continue
			}
			s.runComputation(c)
			ran++
		}
	}
	return passes, ran
}

// readState reads a path under a namespace's state root, recording the
// dependency. Missing paths read as nil and still register.
func (s *Store) readState(ns *namespace, segs []string) any {
	s.recordRead(stateKey(ns.name, segs))
	return deepGet(ns.state, segs)
}

func (s *Store) writeState(ns *namespace, segs []string, val any) error {
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot replace the whole state root", ErrBadPath)
	}
	if err := deepSet(ns.state, segs, val); err != nil {
		return fmt.Errorf("%s.%s: %w", ns.name, strings.Join(segs, "."), err)
	}
	s.invalidate(stateKey(ns.name, segs))
	return nil
}

// derived evaluates a memoized getter, recomputing when invalid. The caller
// (if tracked) depends on the getter key, not on the getter's inputs.
func (s *Store) derived(ns *namespace, name string) (any, bool) {
	g, ok := ns.getters[name]
	if !ok {
		return nil, false
	}
	s.recordRead(g.key())
	if g.valid {
		return g.memo, true
	}
	if g.computing {
		s.engine.reportError("getter "+ns.name+"::"+name,
			fmt.Errorf("self-referential getter"))
		return g.memo, true
	}
	g.computing = true
	s.begin(g.comp)
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.engine.reportError("getter "+ns.name+"::"+name,
					fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
				g.memo = nil
			}
		}()
		g.memo = g.fn(&View{store: s, ns: ns})
	}()
	s.end()
	g.computing = false
	g.valid = true
	return g.memo, true
}

// identityIndex maps live map and slice values in namespace state to their
// canonical dependency keys. Reconciliation uses it to alias injected list
// items to the state subtrees they came from, even through getters.
func (s *Store) identityIndex() map[uintptr]string {
	idx := make(map[uintptr]string)
	var walk func(v any, key string)
	walk = func(v any, key string) {
		switch c := v.(type) {
		case map[string]any:
			p := reflect.ValueOf(c).Pointer()
			if _, dup := idx[p]; dup {
				return
			}
			idx[p] = key
			for k, child := range c {
				if isIdent(k) || isIndex(k) {
					walk(child, key+":"+k)
				}
			}
		case []any:
			if len(c) == 0 {
				return
			}
			p := reflect.ValueOf(c).Pointer()
			if _, dup := idx[p]; dup {
				return
			}
			idx[p] = key
			for i, child := range c {
				walk(child, key+":"+strconv.Itoa(i))
			}
		}
	}
	for _, name := range s.names {
		ns := s.namespaces[name]
		for k, v := range ns.state {
			if isIdent(k) || isIndex(k) {
				walk(v, "s:"+name+":"+k)
			}
		}
	}
	return idx
}

// View reads and writes one namespace with dependency tracking. Paths are
// dotted and relative to the state root: "todos.0.done".
type View struct {
	store *Store
	ns    *namespace
}

// Name returns the namespace name.
func (v *View) Name() string {
	return v.ns.name
}

// Get reads a state path. Missing paths read as nil.
func (v *View) Get(path string) any {
	return v.store.readState(v.ns, splitPath(path))
}

// Set writes a state path and marks its readers dirty. Writes never re-run
// bindings synchronously.
func (v *View) Set(path string, value any) error {
	return v.store.writeState(v.ns, splitPath(path), value)
}

// Derived evaluates a getter by name.
func (v *View) Derived(name string) any {
	val, ok := v.store.derived(v.ns, name)
	if !ok {
		v.store.engine.reportError("derived", fmt.Errorf("%w: %s::%s", ErrUnknownAction, v.ns.name, name))
		return nil
	}
	return val
}

// Namespace returns a view over another registered namespace.
func (v *View) Namespace(name string) (*View, error) {
	ns, ok := v.store.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, name)
	}
	return &View{store: v.store, ns: ns}, nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// deepSet writes val at the path under root, creating intermediate maps for
// missing object segments. Slice indices must already exist.
func deepSet(root any, segs []string, val any) error {
	if len(segs) == 0 {
		return ErrBadPath
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok || next == nil {
				m := make(map[string]any)
				c[seg] = m
				cur = m
				continue
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return fmt.Errorf("%w: index %q", ErrBadPath, seg)
			}
			cur = c[i]
		default:
			next, err := reflectStep(cur, seg)
			if err != nil {
				return err
			}
			cur = next
		}
	}

	last := segs[len(segs)-1]
	switch c := cur.(type) {
	case map[string]any:
		c[last] = val
		return nil
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(c) {
			return fmt.Errorf("%w: index %q", ErrBadPath, last)
		}
		c[i] = val
		return nil
	}
	return reflectAssign(cur, last, val)
}

func reflectStep(cur any, seg string) (any, error) {
	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil at %q", ErrBadPath, seg)
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: non-string map key at %q", ErrBadPath, seg)
		}
		got := rv.MapIndex(reflect.ValueOf(seg))
		if !got.IsValid() {
			return nil, fmt.Errorf("%w: missing key %q", ErrBadPath, seg)
		}
		return got.Interface(), nil
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, fmt.Errorf("%w: index %q", ErrBadPath, seg)
		}
		return rv.Index(i).Interface(), nil
	case reflect.Struct:
		f := rv.FieldByName(seg)
		if !f.IsValid() || !f.CanInterface() {
			return nil, fmt.Errorf("%w: no field %q", ErrBadPath, seg)
		}
		return f.Interface(), nil
	}
	return nil, fmt.Errorf("%w: cannot traverse %T at %q", ErrBadPath, cur, seg)
}

func reflectAssign(cur any, seg string, val any) error {
	rv := reflect.ValueOf(cur)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return fmt.Errorf("%w: nil at %q", ErrBadPath, seg)
		}
		rv = rv.Elem()
	}

	assign := func(target reflect.Value) error {
		if val == nil {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
		vv := reflect.ValueOf(val)
		if !vv.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("%w: cannot assign %T at %q", ErrBadPath, val, seg)
		}
		target.Set(vv)
		return nil
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: non-string map key at %q", ErrBadPath, seg)
		}
		elemType := rv.Type().Elem()
		if val == nil {
			rv.SetMapIndex(reflect.ValueOf(seg), reflect.Zero(elemType))
			return nil
		}
		vv := reflect.ValueOf(val)
		if !vv.Type().AssignableTo(elemType) {
			return fmt.Errorf("%w: cannot assign %T at %q", ErrBadPath, val, seg)
		}
		rv.SetMapIndex(reflect.ValueOf(seg), vv)
		return nil
	case reflect.Slice:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return fmt.Errorf("%w: index %q", ErrBadPath, seg)
		}
		return assign(rv.Index(i))
	case reflect.Struct:
		f := rv.FieldByName(seg)
		if !f.IsValid() || !f.CanSet() {
			return fmt.Errorf("%w: no settable field %q", ErrBadPath, seg)
		}
		return assign(f)
	}
	return fmt.Errorf("%w: cannot assign into %T at %q", ErrBadPath, cur, seg)
}
