// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aiku/whatsapp-gateway/pkg/gateway/webhook"
)

// sentMessage records a Session.Send call.
type sentMessage struct {
	To      string
	Content OutboundContent
}

// fakeSession is a Session recording every call.
type fakeSession struct {
	mu        sync.Mutex
	sent      []sentMessage
	presences []string
	checked   []string
	closed    int

	Existence ExistenceResult
	CheckErr  error
	SendErr   error
	CloseErr  error
}

func (f *fakeSession) CheckExists(_ context.Context, number string) (ExistenceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, number)
	return f.Existence, f.CheckErr
}

func (f *fakeSession) Send(_ context.Context, to string, content OutboundContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent = append(f.sent, sentMessage{To: to, Content: content})
	return nil
}

func (f *fakeSession) SetPresence(_ context.Context, to string, _ Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, to)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.CloseErr
}

func (f *fakeSession) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func (f *fakeSession) Checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.checked))
	copy(cp, f.checked)
	return cp
}

func (f *fakeSession) Presences() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.presences))
	copy(cp, f.presences)
	return cp
}

func (f *fakeSession) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// staticSessions always returns the same session, which may be nil.
type staticSessions struct {
	sess Session
}

func (s staticSessions) Session() Session {
	return s.sess
}

// webhookCall records a Notify or CheckState call.
type webhookCall struct {
	Kind    string
	UserID  string
	Message string
}

// fakeWebhook is a Webhook recording every call.
type fakeWebhook struct {
	mu    sync.Mutex
	calls []webhookCall

	State     webhook.ConversationState
	StateErr  error
	NotifyErr error
}

func newFakeWebhook() *fakeWebhook {
	return &fakeWebhook{State: webhook.StateNormal}
}

func (f *fakeWebhook) Notify(_ context.Context, userID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, webhookCall{Kind: "notify", UserID: userID, Message: message})
	return f.NotifyErr
}

func (f *fakeWebhook) CheckState(_ context.Context, userID string) (webhook.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, webhookCall{Kind: "check-state", UserID: userID})
	return f.State, f.StateErr
}

func (f *fakeWebhook) Calls() []webhookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]webhookCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeWebhook) Notifications() []webhookCall {
	var out []webhookCall
	for _, call := range f.Calls() {
		if call.Kind == "notify" {
			out = append(out, call)
		}
	}
	return out
}

// fakeCreds is opaque credentials with a fixed identity.
type fakeCreds string

func (c fakeCreds) Identity() string {
	return string(c)
}

// fakeStore is an in-memory SessionStore.
type fakeStore struct {
	mu      sync.Mutex
	creds   Credentials
	loads   int
	saves   int
	deletes int

	LoadErr error
}

func (f *fakeStore) Load(context.Context) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	if f.creds == nil {
		return fakeCreds(""), nil
	}
	return f.creds, nil
}

func (f *fakeStore) Save(_ context.Context, creds Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.creds = creds
	return nil
}

func (f *fakeStore) Delete(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	f.creds = nil
	return nil
}

func (f *fakeStore) Counts() (loads, saves, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.saves, f.deletes
}

// dialRecord captures one Dial call and the handlers it registered.
type dialRecord struct {
	Creds    Credentials
	Handlers Handlers
	Session  *fakeSession
}

// fakeDialer hands out a new fakeSession on every Dial.
type fakeDialer struct {
	mu    sync.Mutex
	dials []dialRecord

	// DialErr fails every Dial while set.
	DialErr error
	// OnDial runs inside Dial after the handlers are recorded, before it
	// returns.
	OnDial func(rec dialRecord)
}

func (f *fakeDialer) Dial(_ context.Context, creds Credentials, handlers Handlers) (Session, error) {
	f.mu.Lock()
	if f.DialErr != nil {
		err := f.DialErr
		f.dials = append(f.dials, dialRecord{Creds: creds, Handlers: handlers})
		f.mu.Unlock()
		return nil, err
	}
	rec := dialRecord{Creds: creds, Handlers: handlers, Session: &fakeSession{}}
	f.dials = append(f.dials, rec)
	onDial := f.OnDial
	f.mu.Unlock()
	if onDial != nil {
		onDial(rec)
	}
	return rec.Session, nil
}

func (f *fakeDialer) Dials() []dialRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]dialRecord, len(f.dials))
	copy(cp, f.dials)
	return cp
}

func (f *fakeDialer) Last(t *testing.T) dialRecord {
	t.Helper()
	dials := f.Dials()
	if len(dials) == 0 {
		t.Fatal("expected at least one dial")
	}
	return dials[len(dials)-1]
}

// scheduledCall is a call armed through a recordingScheduler.
type scheduledCall struct {
	Delay     time.Duration
	Recurring bool

	stopper Stopper
	done    atomic.Bool
}

func (c *scheduledCall) Stop() {
	c.done.Store(true)
	c.stopper.Stop()
}

// Stopped reports whether the call was cancelled, or fired if one-shot.
func (c *scheduledCall) Stopped() bool {
	return c.done.Load()
}

// recordingScheduler arms real clockwork timers on a fake clock and
// records every call it schedules.
type recordingScheduler struct {
	Clock *clockwork.FakeClock

	inner RealScheduler
	mu    sync.Mutex
	calls []*scheduledCall
}

func newRecordingScheduler() *recordingScheduler {
	clock := clockwork.NewFakeClock()
	return &recordingScheduler{Clock: clock, inner: RealScheduler{Clock: clock}}
}

func (r *recordingScheduler) AfterFunc(d time.Duration, fn func()) Stopper {
	call := &scheduledCall{Delay: d}
	call.stopper = r.inner.AfterFunc(d, func() {
		call.done.Store(true)
		fn()
	})
	return r.add(call)
}

func (r *recordingScheduler) Every(d time.Duration, fn func()) Stopper {
	call := &scheduledCall{Delay: d, Recurring: true}
	call.stopper = r.inner.Every(d, fn)
	return r.add(call)
}

func (r *recordingScheduler) add(call *scheduledCall) *scheduledCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return call
}

func (r *recordingScheduler) Calls() []*scheduledCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]*scheduledCall, len(r.calls))
	copy(cp, r.calls)
	return cp
}

// Active returns the calls that are still armed.
func (r *recordingScheduler) Active() []*scheduledCall {
	var out []*scheduledCall
	for _, call := range r.Calls() {
		if !call.Stopped() {
			out = append(out, call)
		}
	}
	return out
}

// recordingPresenter collects pairing codes.
type recordingPresenter struct {
	mu    sync.Mutex
	codes []string
}

func (p *recordingPresenter) PresentPairingCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, code)
}

func (p *recordingPresenter) Codes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(p.codes))
	copy(cp, p.codes)
	return cp
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
