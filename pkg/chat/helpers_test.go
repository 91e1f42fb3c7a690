package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ndanh/guildchat/pkg/backend"
)

// fakeRows delegates to per-test hooks; unhooked methods fail.
type fakeRows struct {
	insert func(table string, record, dest any) error
	sel    func(table string, q backend.Query, dest any) error
	update func(table string, patch any, q backend.Query, dest any) error
	maybe  func(table string, q backend.Query, dest any) (bool, error)
}

var errNotHooked = errors.New("unexpected call")

func (f *fakeRows) Insert(_ context.Context, table string, record, dest any) error {
	if f.insert == nil {
		return errNotHooked
	}
	return f.insert(table, record, dest)
}

func (f *fakeRows) Select(_ context.Context, table string, q backend.Query, dest any) error {
	if f.sel == nil {
		return errNotHooked
	}
	return f.sel(table, q, dest)
}

func (f *fakeRows) Single(_ context.Context, table string, q backend.Query, dest any) error {
	return errNotHooked
}

func (f *fakeRows) MaybeSingle(_ context.Context, table string, q backend.Query, dest any) (bool, error) {
	if f.maybe == nil {
		return false, errNotHooked
	}
	return f.maybe(table, q, dest)
}

func (f *fakeRows) Update(_ context.Context, table string, patch any, q backend.Query, dest any) error {
	if f.update == nil {
		return errNotHooked
	}
	return f.update(table, patch, q, dest)
}

func (f *fakeRows) Delete(_ context.Context, table string, q backend.Query) error {
	return errNotHooked
}

func (f *fakeRows) RPC(_ context.Context, fn string, args, dest any) error {
	return errNotHooked
}

type fakeObjects struct {
	uploadErr error
	uploaded  []string
}

func (f *fakeObjects) Upload(_ context.Context, bucket, key string, r io.Reader) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploaded = append(f.uploaded, bucket+"/"+key)
	return nil
}

func (f *fakeObjects) PublicURL(bucket, key string) string {
	return "http://fake/" + bucket + "/" + key
}

type fakeSessions struct {
	mu        sync.Mutex
	session   *backend.Session
	listeners map[int]func(*backend.Session)
	next      int
}

func newFakeSessions(s *backend.Session) *fakeSessions {
	return &fakeSessions{session: s, listeners: make(map[int]func(*backend.Session))}
}

func (f *fakeSessions) Session(context.Context) (*backend.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *fakeSessions) OnAuthStateChange(fn func(*backend.Session)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeSessions) setSession(s *backend.Session) {
	f.mu.Lock()
	f.session = s
	fns := make([]func(*backend.Session), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// fakeRealtime joins channels according to joinOnAttempt: the nth created
// channel (1-based) joins immediately on Subscribe when
// joinOnAttempt(n) is true, otherwise hangs in joining.
type fakeRealtime struct {
	mu            sync.Mutex
	token         string
	setAuthCalls  int
	connectCalls  int
	channels      map[string]*fakeChannel
	created       int
	removed       int
	joinOnAttempt func(n int) bool
}

func newFakeRealtime(joinOnAttempt func(n int) bool) *fakeRealtime {
	return &fakeRealtime{channels: make(map[string]*fakeChannel), joinOnAttempt: joinOnAttempt}
}

func (f *fakeRealtime) SetAuth(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	f.setAuthCalls++
}

func (f *fakeRealtime) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeRealtime) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return nil
}

func (f *fakeRealtime) State() backend.ConnState { return backend.ConnConnected }

func (f *fakeRealtime) Channel(topic string) backend.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[topic]; ok {
		return ch
	}
	f.created++
	ch := &fakeChannel{topic: topic, state: backend.ChannelClosed, joins: f.joinOnAttempt(f.created)}
	f.channels[topic] = ch
	return ch
}

func (f *fakeRealtime) RemoveChannel(_ context.Context, ch backend.Channel) error {
	if ch == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[ch.Topic()]; ok {
		delete(f.channels, ch.Topic())
		f.removed++
	}
	return nil
}

type fakeChannel struct {
	mu       sync.Mutex
	topic    string
	state    backend.ChannelState
	joins    bool
	handlers []func(backend.Change)
}

func (ch *fakeChannel) Topic() string { return ch.topic }

func (ch *fakeChannel) State() backend.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *fakeChannel) OnChange(_ backend.ChangeFilter, fn func(backend.Change)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = append(ch.handlers, fn)
}

func (ch *fakeChannel) Subscribe(context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.joins {
		ch.state = backend.ChannelJoined
	} else {
		ch.state = backend.ChannelJoining
	}
	return nil
}

// push simulates the backend delivering a change on this channel.
func (ch *fakeChannel) push(change backend.Change) {
	ch.mu.Lock()
	handlers := make([]func(backend.Change), len(ch.handlers))
	copy(handlers, ch.handlers)
	ch.mu.Unlock()
	for _, fn := range handlers {
		fn(change)
	}
}

func validSession() *backend.Session {
	return &backend.Session{
		AccessToken: "tok",
		UserID:      "user-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

// newTestManager shortens the retry timings so failure paths finish fast.
func newTestManager(rt backend.Realtime, sessions backend.Sessions) *Manager {
	m := NewManager(rt, sessions)
	m.confirmTimeout = 40 * time.Millisecond
	m.confirmPoll = 2 * time.Millisecond
	m.retryBase = time.Millisecond
	return m
}
