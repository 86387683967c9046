package session

import (
	"context"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webime/internal/channel"
	"webime/internal/handshake"
	"webime/internal/ime"
	"webime/internal/logging"
	"webime/internal/registry"
)

const (
	defaultKeyboard = "d75857a5-4148-4745-89e2-1da7ddaf7999"
	userKeyboard    = "5c1f0c0e-6d8a-4b7e-9c4e-2f1a3b4c5d6e"
)

type fakeChannel struct {
	calls  []string
	result ime.KeyResult
}

func (c *fakeChannel) log(format string, args ...any) {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *fakeChannel) Kind() channel.Kind                                  { return channel.KindWebSocket }
func (c *fakeChannel) Init() bool                                          { c.log("init"); return true }
func (c *fakeChannel) Exit() bool                                          { c.log("exit"); return true }
func (c *fakeChannel) FocusIn(ic ime.InputContext)                         { c.log("focus_in %s", ic) }
func (c *fakeChannel) FocusOut(ic ime.InputContext)                        { c.log("focus_out %s", ic) }
func (c *fakeChannel) Show(ic ime.InputContext)                            { c.log("show %s", ic) }
func (c *fakeChannel) Hide(ic ime.InputContext)                            { c.log("hide %s", ic) }
func (c *fakeChannel) SetRotation(d int)                                   { c.log("rotation %d", d) }
func (c *fakeChannel) UpdateCursorPosition(_ ime.InputContext, p int)      { c.log("cursor %d", p) }
func (c *fakeChannel) UpdateSurroundingText(ime.InputContext, string, int) { c.log("surrounding") }
func (c *fakeChannel) UpdateSelection(ime.InputContext, string)            { c.log("selection") }
func (c *fakeChannel) SetLanguage(l uint32)                                { c.log("language %d", l) }
func (c *fakeChannel) SetIMData([]byte)                                    { c.log("set_imdata") }
func (c *fakeChannel) GetIMData() []byte                                   { return nil }
func (c *fakeChannel) SetReturnKeyType(t ime.ReturnKeyType)                { c.log("return_key_type %s", t) }
func (c *fakeChannel) GetReturnKeyType() ime.ReturnKeyType                 { return ime.ReturnKeySearch }
func (c *fakeChannel) SetReturnKeyDisabled(d bool)                         { c.log("return_key_disable %t", d) }
func (c *fakeChannel) GetReturnKeyDisabled() bool                          { return true }
func (c *fakeChannel) SetLayout(l ime.Layout)                              { c.log("layout %s", l) }
func (c *fakeChannel) GetLayout() ime.Layout                               { return ime.LayoutEmail }
func (c *fakeChannel) ResetInputContext(ime.InputContext)                  { c.log("reset") }
func (c *fakeChannel) ProcessKeyEvent(uint32, uint32, uint32) ime.KeyResult {
	c.log("key")
	return c.result
}
func (c *fakeChannel) Signal(s syscall.Signal) { c.log("signal %d", int(s)) }

type hostCall struct {
	op   string
	ic   ime.InputContext
	text string
	a, b int
	mask uint32
}

type recordingHost struct {
	NopHost
	calls []hostCall
}

func (h *recordingHost) CommitString(ic ime.InputContext, text string) {
	h.calls = append(h.calls, hostCall{op: "commit", ic: ic, text: text})
}

func (h *recordingHost) UpdatePreeditString(ic ime.InputContext, text string) {
	h.calls = append(h.calls, hostCall{op: "preedit", ic: ic, text: text})
}

func (h *recordingHost) HidePreeditString(ic ime.InputContext) {
	h.calls = append(h.calls, hostCall{op: "hide_preedit", ic: ic})
}

func (h *recordingHost) ForwardKeyEvent(ic ime.InputContext, code, mask uint32) {
	h.calls = append(h.calls, hostCall{op: "key", ic: ic, a: int(code), mask: mask})
}

func (h *recordingHost) SetKeyboardSizeHints(pw, ph, lw, lh int) {
	h.calls = append(h.calls, hostCall{op: "size_hints", a: pw, b: lh})
}

func (h *recordingHost) SelectKeyboard(id string) {
	h.calls = append(h.calls, hostCall{op: "select", text: id})
}

func (h *recordingHost) NotifyExit() {
	h.calls = append(h.calls, hostCall{op: "exit"})
}

func (h *recordingHost) selected() []string {
	var ids []string
	for _, c := range h.calls {
		if c.op == "select" {
			ids = append(ids, c.text)
		}
	}
	return ids
}

type fakeSurface struct {
	calls []string
}

func (s *fakeSurface) Show() error { s.calls = append(s.calls, "show"); return nil }
func (s *fakeSurface) Hide() error { s.calls = append(s.calls, "hide"); return nil }
func (s *fakeSurface) Resize(w, h int) error {
	s.calls = append(s.calls, fmt.Sprintf("resize %dx%d", w, h))
	return nil
}

type fakeView struct {
	sizes     [][2]int
	created   int
	destroyed int
	scripts   []string
	onLoaded  func()
	results   []func(string)
}

func (v *fakeView) Create(_ ime.Surface, _ *registry.Descriptor, onLoaded func()) bool {
	v.created++
	v.onLoaded = onLoaded
	return true
}

func (v *fakeView) Destroy() bool { v.destroyed++; return true }

func (v *fakeView) Resize(w, h int) bool {
	v.sizes = append(v.sizes, [2]int{w, h})
	return true
}

func (v *fakeView) RunScript(cmd string, onResult func(string)) bool {
	v.scripts = append(v.scripts, cmd)
	v.results = append(v.results, onResult)
	return true
}

func testConfig() Config {
	return Config{
		KeyboardID:        userKeyboard,
		DefaultKeyboardID: defaultKeyboard,
		PortraitWidth:     720,
		PortraitHeight:    442,
		LandscapeWidth:    1280,
		LandscapeHeight:   318,
	}
}

func newTestSession() (*Session, *recordingHost, *fakeSurface, *fakeView) {
	host := &recordingHost{}
	surface := &fakeSurface{}
	view := &fakeView{}
	return New(testConfig(), host, surface, view, logging.Discard()), host, surface, view
}

func TestAttachAdoptsFirstContext(t *testing.T) {
	s, _, _, _ := newTestSession()
	assert.Equal(t, PhaseDetached, s.State().Phase())

	s.Attach(0x10001)
	st := s.State()
	assert.Equal(t, ime.InputContext(0x10001), st.IC)
	assert.Equal(t, ime.InputContext(0x10001), st.FocusedIC)
	assert.Equal(t, PhaseFocused, st.Phase())

	// A second attach keeps the real context already tracked.
	s.Attach(0x20001)
	st = s.State()
	assert.Equal(t, ime.InputContext(0x10001), st.IC)
	assert.Equal(t, ime.InputContext(0x20001), st.FocusedIC)
}

func TestAttachTemporaryContext(t *testing.T) {
	s, host, _, _ := newTestSession()
	s.Attach(0x10000)
	st := s.State()
	assert.Equal(t, ime.InputContext(0x10000), st.IC)
	assert.True(t, st.IC.IsTemporary())
	assert.Equal(t, []string{userKeyboard}, host.selected())
}

func TestFocusInReplacesTemporaryContext(t *testing.T) {
	s, _, _, _ := newTestSession()
	s.Attach(0x30000)
	s.FocusIn(0x30005)
	assert.Equal(t, ime.InputContext(0x30005), s.State().IC)

	// A temporary focus does not displace a real tracked context.
	s.FocusIn(0x40000)
	assert.Equal(t, ime.InputContext(0x30005), s.State().IC)
	assert.Equal(t, ime.InputContext(0x40000), s.State().FocusedIC)
}

func TestFocusInSelectsKeyboardForLayout(t *testing.T) {
	for _, l := range []ime.Layout{ime.LayoutPhoneNumber, ime.LayoutIP, ime.LayoutMonth, ime.LayoutNumberOnly} {
		t.Run(l.String(), func(t *testing.T) {
			s, host, _, _ := newTestSession()
			require.True(t, s.SetLayout(l))
			s.Attach(0x10001)
			assert.Equal(t, []string{defaultKeyboard}, host.selected())
		})
	}

	for _, l := range []ime.Layout{ime.LayoutNormal, ime.LayoutNumber, ime.LayoutEmail, ime.LayoutPassword} {
		t.Run(l.String(), func(t *testing.T) {
			s, host, _, _ := newTestSession()
			require.True(t, s.SetLayout(l))
			s.Attach(0x10001)
			assert.Equal(t, []string{userKeyboard}, host.selected())
		})
	}
}

func TestFocusInOtherContextDoesNotSelect(t *testing.T) {
	s, host, _, _ := newTestSession()
	s.Attach(0x10001)
	s.FocusIn(0x20001)
	assert.Len(t, host.selected(), 1)
}

func TestUpdateKeyboardIDUsedOnNextFocus(t *testing.T) {
	s, host, _, _ := newTestSession()
	s.SetKeyboardID("11111111-2222-3333-4444-555555555555")
	s.Attach(0x10001)
	assert.Equal(t, []string{"11111111-2222-3333-4444-555555555555"}, host.selected())
}

func TestFocusOutAndDetach(t *testing.T) {
	s, _, _, _ := newTestSession()
	ch := &fakeChannel{}
	s.SetChannel(ch)

	s.Attach(0x10001)
	s.FocusOut(0x10001)
	assert.Equal(t, ime.InputContext(0), s.State().FocusedIC)
	assert.Equal(t, PhaseAttached, s.State().Phase())

	s.FocusIn(0x10001)
	s.Detach(0x10001)
	assert.Equal(t, ime.InputContext(0), s.State().FocusedIC)
	assert.Equal(t, []string{"focus_in 0x10001", "focus_out 0x10001", "focus_in 0x10001", "focus_out 0x10001"}, ch.calls)
}

func TestShowSequence(t *testing.T) {
	s, _, surface, view := newTestSession()
	ch := &fakeChannel{}
	s.SetChannel(ch)
	s.Attach(0x10001)
	ch.calls = nil

	s.Show(0x10001, 90, ime.ShowContext{
		Layout:            ime.LayoutEmail,
		ReturnKeyType:     ime.ReturnKeySend,
		ReturnKeyDisabled: true,
		CapsMode:          true,
		CursorPos:         7,
	})

	assert.Equal(t, []string{
		"layout email",
		"return_key_type send",
		"return_key_disable true",
		"cursor 7",
		"rotation 90",
		"show 0x10001",
	}, ch.calls)
	assert.Equal(t, []string{"resize 1280x318", "show"}, surface.calls)
	assert.Equal(t, [][2]int{{1280, 318}}, view.sizes)

	st := s.State()
	assert.True(t, st.Visible)
	assert.True(t, st.CapsMode)
	assert.True(t, st.ReturnKeyDisabled)
	assert.Equal(t, ime.ReturnKeySend, st.ReturnKeyType)
	assert.Equal(t, 90, st.Angle)
	assert.Equal(t, PhaseVisible, st.Phase())
}

func TestShowWhileVisibleKeepsRotation(t *testing.T) {
	s, _, _, _ := newTestSession()
	s.Attach(0x10001)
	s.Show(0x10001, 90, ime.ShowContext{})
	s.Show(0x10001, 0, ime.ShowContext{})
	assert.Equal(t, 90, s.State().Angle)

	s.Hide(0x10001)
	assert.False(t, s.State().Visible)
	s.Show(0x10001, 0, ime.ShowContext{})
	assert.Equal(t, 0, s.State().Angle)
}

func TestShowResolvesTemporaryContext(t *testing.T) {
	s, _, _, _ := newTestSession()
	ch := &fakeChannel{}
	s.SetChannel(ch)

	s.Attach(0x10001)
	ch.calls = nil
	s.ShowContext(0x50000)
	assert.Equal(t, []string{"show 0x10001"}, ch.calls)
	assert.Equal(t, ime.InputContext(0x10001), s.State().IC)

	// A real context shown while only a temporary one is focused becomes focused.
	s2, _, _, _ := newTestSession()
	s2.Attach(0x60000)
	s2.ShowContext(0x60007)
	st := s2.State()
	assert.Equal(t, ime.InputContext(0x60007), st.FocusedIC)
	assert.Equal(t, ime.InputContext(0x60007), st.IC)
}

func TestHide(t *testing.T) {
	s, _, surface, _ := newTestSession()
	ch := &fakeChannel{}
	s.SetChannel(ch)
	s.ShowContext(0x10001)
	s.Hide(0x10001)

	assert.False(t, s.State().Visible)
	assert.Equal(t, []string{"show 0x10001", "hide 0x10001"}, ch.calls)
	assert.Equal(t, []string{"show", "hide"}, surface.calls)
}

func TestRotationSelectsSizePair(t *testing.T) {
	cases := []struct {
		degree int
		want   string
	}{
		{0, "resize 720x442"},
		{90, "resize 1280x318"},
		{180, "resize 720x442"},
		{270, "resize 1280x318"},
		{45, "resize 720x442"},
	}
	for _, tc := range cases {
		s, _, surface, _ := newTestSession()
		s.SetRotation(tc.degree)
		assert.Equal(t, []string{tc.want}, surface.calls, "degree %d", tc.degree)
		assert.Equal(t, tc.degree, s.State().Angle)
	}
}

func TestSetLayout(t *testing.T) {
	s, _, _, _ := newTestSession()
	assert.False(t, s.State().NeedsReset)

	assert.True(t, s.SetLayout(ime.LayoutNormal))
	assert.False(t, s.State().NeedsReset, "same layout does not need a reset")

	assert.True(t, s.SetLayout(ime.LayoutPassword))
	assert.True(t, s.State().NeedsReset)
	assert.Equal(t, ime.LayoutPassword, s.State().Layout)

	s.ResetInputContext(0x10001)
	assert.False(t, s.State().NeedsReset)

	assert.False(t, s.SetLayout(ime.Layout(13)))
	assert.False(t, s.SetLayout(ime.Layout(100)))
	assert.Equal(t, ime.LayoutPassword, s.State().Layout)
	assert.False(t, s.State().NeedsReset)

	assert.True(t, s.SetLayout(ime.LayoutInvalid))
	assert.Equal(t, ime.LayoutInvalid, s.State().Layout)
}

func TestCallsWithoutChannelUpdateState(t *testing.T) {
	s, _, _, _ := newTestSession()
	require.Nil(t, s.Channel())

	s.Attach(0x10001)
	s.SetReturnKeyType(ime.ReturnKeyGo)
	s.SetReturnKeyDisabled(true)
	s.SetIMData([]byte("abc"))
	s.SetLanguage(3)
	s.UpdateSurroundingText(0x10001, "hello", 2)
	s.UpdateSelection(0x10001, "he")
	s.Signal(syscall.SIGTERM)
	s.ShowContext(0x10001)

	assert.Equal(t, ime.ReturnKeyGo, s.GetReturnKeyType())
	assert.True(t, s.GetReturnKeyDisabled())
	assert.Equal(t, []byte("abc"), s.GetIMData())
	assert.Equal(t, ime.LayoutNormal, s.GetLayout())
	assert.Equal(t, uint32(3), s.State().Language)
	assert.True(t, s.State().Visible)
	assert.Equal(t, ime.KeyNotConsumed, s.ProcessKeyEvent(0x41, 0, 0))
}

func TestGettersPreferChannel(t *testing.T) {
	s, _, _, _ := newTestSession()
	s.SetIMData([]byte("local"))
	s.SetChannel(&fakeChannel{result: ime.KeyConsumed})

	assert.Equal(t, ime.ReturnKeySearch, s.GetReturnKeyType())
	assert.True(t, s.GetReturnKeyDisabled())
	assert.Equal(t, ime.LayoutEmail, s.GetLayout())
	assert.Equal(t, []byte("local"), s.GetIMData(), "empty content data falls back to the host value")
	assert.Equal(t, ime.KeyConsumed, s.ProcessKeyEvent(0x41, 0, 0))
}

func TestStateSnapshotIsolated(t *testing.T) {
	s, _, _, _ := newTestSession()
	s.SetIMData([]byte("abc"))
	st := s.State()
	st.IMData[0] = 'x'
	assert.Equal(t, []byte("abc"), s.State().IMData)
}

func TestCommitTargetsNoContextWhileTemporary(t *testing.T) {
	s, host, _, _ := newTestSession()
	s.Attach(0x10000)
	host.calls = nil

	s.CommitString("hi")
	require.Len(t, host.calls, 2)
	assert.Equal(t, hostCall{op: "hide_preedit", ic: ime.NoContext}, host.calls[0])
	assert.Equal(t, hostCall{op: "commit", ic: ime.NoContext, text: "hi"}, host.calls[1])
}

func TestCommitTargetsTrackedContext(t *testing.T) {
	s, host, _, _ := newTestSession()
	s.Attach(0x10001)
	host.calls = nil

	s.CommitString("hi")
	s.UpdatePreeditString("h")
	assert.Equal(t, []hostCall{
		{op: "hide_preedit", ic: 0x10001},
		{op: "commit", ic: 0x10001, text: "hi"},
		{op: "preedit", ic: 0x10001, text: "h"},
	}, host.calls)
}

func TestKeyEventsPressThenRelease(t *testing.T) {
	s, host, _, _ := newTestSession()
	s.Attach(0x10001)
	host.calls = nil

	s.SendKeyEvent(0xff0d)
	s.ForwardKeyEvent(0xff08)
	assert.Equal(t, []hostCall{
		{op: "key", ic: 0x10001, a: 0xff0d, mask: 0},
		{op: "key", ic: 0x10001, a: 0xff0d, mask: ime.KeyReleaseMask},
		{op: "key", ic: 0x10001, a: 0xff08, mask: 0},
		{op: "key", ic: 0x10001, a: 0xff08, mask: ime.KeyReleaseMask},
	}, host.calls)
}

func TestSetKeyboardSizes(t *testing.T) {
	s, host, surface, view := newTestSession()
	s.SetRotation(270)
	surface.calls = nil
	view.sizes = nil

	s.SetKeyboardSizes(700, 400, 1200, 300)
	st := s.State()
	assert.Equal(t, 700, st.PortraitWidth)
	assert.Equal(t, 300, st.LandscapeHeight)
	assert.Contains(t, host.calls, hostCall{op: "size_hints", a: 700, b: 300})
	assert.Equal(t, []string{"resize 1200x300"}, surface.calls)
	assert.Equal(t, [][2]int{{1200, 300}}, view.sizes)
}

func TestCloseChannel(t *testing.T) {
	s, _, _, _ := newTestSession()
	ch := &fakeChannel{}
	s.SetChannel(ch)
	s.CloseChannel()
	assert.Nil(t, s.Channel())
	assert.Equal(t, []string{"exit"}, ch.calls)
	s.CloseChannel()
}

func TestLoopCall(t *testing.T) {
	loop := NewLoop(4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	n := 0
	require.True(t, loop.Call(func() { n++ }))
	loop.Call(func() { panic("boom") })
	require.True(t, loop.Call(func() { n++ }))
	assert.Equal(t, 2, n)

	cancel()
	<-loop.Done()
	assert.False(t, loop.Post(func() {}))
	assert.False(t, loop.Call(func() {}))
}

type catalog map[string]*registry.Descriptor

func (c catalog) Lookup(id string) (*registry.Descriptor, error) {
	if d, ok := c[id]; ok {
		return d, nil
	}
	return nil, registry.ErrNotFound
}

type agentHarness struct {
	agent    *Agent
	host     *recordingHost
	view     *fakeView
	channels []*fakeChannel
	stopped  chan struct{}
	cancel   context.CancelFunc
}

func newAgentHarness(t *testing.T) *agentHarness {
	t.Helper()
	loop := NewLoop(16, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	h := &agentHarness{
		host:    &recordingHost{},
		view:    &fakeView{},
		stopped: make(chan struct{}),
		cancel:  cancel,
	}
	h.agent = NewAgent(userKeyboard, testConfig(), Deps{
		Loop:    loop,
		Host:    h.host,
		Surface: &fakeSurface{},
		View:    h.view,
		Catalog: catalog{userKeyboard: {ID: userKeyboard, Language: "en_US"}},
		Keys:    handshake.NewMagicKeyManager(32, handshake.DefaultAlphabet),
		Handshake: handshake.Config{
			PrepareCommand:   "WebHelperClient.impl.prepare",
			ActivateCommand:  "WebHelperClient.impl.activate",
			MaxCommandLength: 255,
			VersionDelimiter: ".",
			VersionTokens:    2,
		},
		Channels: func(channel.Kind, channel.Sink) channel.Channel {
			ch := &fakeChannel{}
			h.channels = append(h.channels, ch)
			return ch
		},
		Shutdown: func() { close(h.stopped) },
		Logger:   logging.Discard(),
	})
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return h
}

// runLoaded completes content loading and the prepare exchange on the loop.
func (h *agentHarness) runLoaded(t *testing.T, version string) {
	t.Helper()
	require.NoError(t, h.agent.call(func() { h.view.onLoaded() }))
	require.NoError(t, h.agent.call(func() { h.view.results[0](version) }))
}

func TestAgentEndToEnd(t *testing.T) {
	h := newAgentHarness(t)
	require.NoError(t, h.agent.Init())
	assert.Equal(t, 1, h.view.created)

	h.runLoaded(t, "1.11")
	require.Len(t, h.channels, 1)
	require.Len(t, h.view.scripts, 2)
	assert.Contains(t, h.view.scripts[0], "WebHelperClient.impl.prepare('")
	assert.Equal(t, "WebHelperClient.impl.activate();", h.view.scripts[1])

	ok, err := h.agent.SetLayout(ime.LayoutPhoneNumber)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.agent.Attach(0x10001))
	assert.Equal(t, []string{defaultKeyboard}, h.host.selected())

	st, err := h.agent.State()
	require.NoError(t, err)
	assert.Equal(t, ime.InputContext(0x10001), st.IC)
	assert.Contains(t, h.channels[0].calls, "focus_in 0x10001")

	stats, version, err := h.agent.Negotiation()
	require.NoError(t, err)
	assert.Equal(t, "1.11", version)
	assert.Equal(t, 1, stats.Negotiated)

	lang, err := h.agent.GetLanguageLocale()
	require.NoError(t, err)
	assert.Equal(t, "en_US", lang)

	require.NoError(t, h.agent.Exit(0x10001))
	assert.Equal(t, 1, h.view.destroyed)
	assert.Contains(t, h.channels[0].calls, "exit")
}

func TestAgentInitUnknownKeyboard(t *testing.T) {
	h := newAgentHarness(t)
	h.agent.imeID = "missing"
	err := h.agent.Init()
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, 0, h.view.created)
}

func TestAgentKeyEventWithoutChannel(t *testing.T) {
	h := newAgentHarness(t)
	start := time.Now()
	assert.Equal(t, ime.KeyNotConsumed, h.agent.ProcessKeyEvent(0x41, 0, 0))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAgentPackageReinstallShutsDown(t *testing.T) {
	h := newAgentHarness(t)
	require.NoError(t, h.agent.Init())
	h.runLoaded(t, "1.0")

	h.agent.PackageChanged(registry.Change{Type: registry.Updated, ID: "other"})
	h.agent.PackageChanged(registry.Change{Type: registry.Removed, ID: userKeyboard})
	h.agent.PackageChanged(registry.Change{Type: registry.Updated, ID: userKeyboard})

	select {
	case <-h.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not invoked")
	}
	require.NoError(t, h.agent.call(func() {}))
	assert.Contains(t, h.channels[0].calls, "exit")
	assert.Contains(t, h.host.calls, hostCall{op: "exit"})
	assert.Equal(t, 1, h.view.destroyed)

	// A repeated notification does not run the shutdown again.
	h.agent.PackageChanged(registry.Change{Type: registry.Installed, ID: userKeyboard})
}

func TestAgentDeliverWithoutDirectChannel(t *testing.T) {
	h := newAgentHarness(t)
	assert.False(t, h.agent.Deliver("plain commit_string hi"))
}
