package container

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webime/internal/ime"
	"webime/internal/logging"
	"webime/internal/registry"
)

type fakeSymbols struct {
	table  map[string]any
	closed int
}

func (s *fakeSymbols) Lookup(name string) (any, error) {
	v, ok := s.table[name]
	if !ok {
		return nil, errors.New("not exported")
	}
	return v, nil
}

func (s *fakeSymbols) Close() error {
	s.closed++
	return nil
}

type fakeOpener struct {
	syms  *fakeSymbols
	err   error
	opens int
}

func (o *fakeOpener) Open(string) (Symbols, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.syms, nil
}

// queue is a Poster that runs work only when drained.
type queue struct{ fns []func() }

func (q *queue) Post(fn func()) bool {
	q.fns = append(q.fns, fn)
	return true
}

func (q *queue) drain() {
	for len(q.fns) > 0 {
		fn := q.fns[0]
		q.fns = q.fns[1:]
		fn()
	}
}

type fakeView struct {
	created   int
	destroyed int
	sizes     [][2]int
	onLoaded  func()
	pending   []func(string)
	scripts   []string
}

func (v *fakeView) symbols() *fakeSymbols {
	return &fakeSymbols{table: map[string]any{
		SymbolCreate: func(_ ime.Surface, _ registry.Descriptor, onLoaded func()) bool {
			v.created++
			v.onLoaded = onLoaded
			return true
		},
		SymbolDestroy: func() bool { v.destroyed++; return true },
		SymbolResize: func(w, h int) bool {
			v.sizes = append(v.sizes, [2]int{w, h})
			return true
		},
		SymbolJavascript: func(cmd string, onResult func(string)) bool {
			v.scripts = append(v.scripts, cmd)
			v.pending = append(v.pending, onResult)
			return true
		},
	}}
}

var testDescriptor = &registry.Descriptor{ID: "org.example.kbd", EntryURL: registry.EntryURL("/pkg")}

func TestLoaderIsIdempotent(t *testing.T) {
	view := &fakeView{}
	opener := &fakeOpener{syms: view.symbols()}
	l := NewLoader("/lib/web-container.so", opener, logging.Discard())

	m1, err := l.Load()
	require.NoError(t, err)
	m2, err := l.Load()
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Equal(t, 1, opener.opens)
	assert.True(t, m1.Complete())
}

func TestLoaderLoadError(t *testing.T) {
	l := NewLoader("/missing.so", &fakeOpener{err: errors.New("no such file")}, logging.Discard())

	m, err := l.Load()
	assert.Nil(t, m)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "/missing.so", lerr.Path)
	assert.False(t, l.Loaded())
}

func TestLoaderMissingSymbolDegrades(t *testing.T) {
	syms := (&fakeView{}).symbols()
	delete(syms.table, SymbolResize)
	syms.table[SymbolJavascript] = "not a function"
	l := NewLoader("/lib/web-container.so", &fakeOpener{syms: syms}, logging.Discard())

	m, err := l.Load()
	require.NotNil(t, m)
	require.Error(t, err)

	var serr *SymbolError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SymbolResize, serr.Symbol)
	assert.ErrorIs(t, err, ErrSymbolType)
	assert.NotNil(t, m.Create)
	assert.Nil(t, m.Resize)
	assert.Nil(t, m.Javascript)
	assert.False(t, m.Complete())
}

func TestLoaderResolveAndUnload(t *testing.T) {
	syms := (&fakeView{}).symbols()
	l := NewLoader("/lib/web-container.so", &fakeOpener{syms: syms}, logging.Discard())

	assert.False(t, l.Unload(), "unload with nothing loaded is a no-op")

	_, err := l.Resolve(SymbolCreate)
	assert.Error(t, err)

	_, err = l.Load()
	require.NoError(t, err)
	v, err := l.Resolve(SymbolDestroy)
	require.NoError(t, err)
	assert.NotNil(t, v)

	assert.True(t, l.Unload())
	assert.False(t, l.Unload())
	assert.Equal(t, 1, syms.closed, "handle is released exactly once")
}

func TestRuntimeBeforeCreate(t *testing.T) {
	view := &fakeView{}
	rt := NewRuntime(NewLoader("x", &fakeOpener{syms: view.symbols()}, logging.Discard()), &queue{}, logging.Discard())

	assert.False(t, rt.Resize(10, 10))
	assert.False(t, rt.RunScript("x();", nil))
	assert.False(t, rt.Destroy())
	assert.Empty(t, view.sizes)
	assert.Empty(t, view.scripts)
}

func TestRuntimeCreateWithoutCreateSymbol(t *testing.T) {
	syms := (&fakeView{}).symbols()
	delete(syms.table, SymbolCreate)
	rt := NewRuntime(NewLoader("x", &fakeOpener{syms: syms}, logging.Discard()), &queue{}, logging.Discard())

	assert.False(t, rt.Create(nil, testDescriptor, nil))
	assert.False(t, rt.Live())
}

func TestRuntimeLifecycle(t *testing.T) {
	view := &fakeView{}
	syms := view.symbols()
	q := &queue{}
	rt := NewRuntime(NewLoader("x", &fakeOpener{syms: syms}, logging.Discard()), q, logging.Discard())

	loaded := 0
	require.True(t, rt.Create(nil, testDescriptor, func() { loaded++ }))
	assert.True(t, rt.Live())

	view.onLoaded()
	view.onLoaded()
	assert.Equal(t, 0, loaded, "load notification is never synchronous")
	q.drain()
	assert.Equal(t, 1, loaded)

	assert.True(t, rt.Resize(720, 442))
	assert.Equal(t, [][2]int{{720, 442}}, view.sizes)

	assert.True(t, rt.Destroy())
	assert.False(t, rt.Destroy())
	assert.Equal(t, 1, view.destroyed)
	assert.Equal(t, 1, syms.closed)
	assert.False(t, rt.Resize(1, 1))
}

func TestRuntimeScriptResultDeliveredOnce(t *testing.T) {
	view := &fakeView{}
	q := &queue{}
	rt := NewRuntime(NewLoader("x", &fakeOpener{syms: view.symbols()}, logging.Discard()), q, logging.Discard())
	require.True(t, rt.Create(nil, testDescriptor, nil))

	var results []string
	require.True(t, rt.RunScript("a();", func(s string) { results = append(results, s) }))
	require.True(t, rt.RunScript("b();", func(s string) { results = append(results, s) }))

	view.pending[0]("1.11")
	view.pending[0]("again")
	view.pending[1]("2")
	assert.Empty(t, results)

	q.drain()
	assert.Equal(t, []string{"1.11", "2"}, results)
}

func TestRuntimeDropsStaleResults(t *testing.T) {
	view := &fakeView{}
	q := &queue{}
	rt := NewRuntime(NewLoader("x", &fakeOpener{syms: view.symbols()}, logging.Discard()), q, logging.Discard())
	require.True(t, rt.Create(nil, testDescriptor, nil))

	called := false
	require.True(t, rt.RunScript("a();", func(string) { called = true }))
	gen := rt.Generation()

	require.True(t, rt.Destroy())
	assert.NotEqual(t, gen, rt.Generation())

	view.pending[0]("late")
	q.drain()
	assert.False(t, called)
}
