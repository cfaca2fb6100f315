package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lexiqai/avatar-gateway/internal/bridge"
	"github.com/lexiqai/avatar-gateway/internal/liveavatar"
	"github.com/lexiqai/avatar-gateway/internal/relay"
	"github.com/lexiqai/avatar-gateway/internal/tts"
)

type fakeAPI struct {
	mu sync.Mutex

	tokenResult *liveavatar.TokenResult
	tokenErr    error
	startBody   json.RawMessage
	startErr    error
	stopErr     error
	keepErr     error

	tokenRequests []liveavatar.TokenRequest
	starts        int
	stops         []string
	stopTokens    []string
	keepalives    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tokenResult: &liveavatar.TokenResult{SessionToken: "tok-1", SessionID: "s1"},
		startBody:   json.RawMessage(`{"code":100,"data":{"livekit_url":"wss://lk","livekit_client_token":"ct","ws_url":"wss://control/s1"}}`),
	}
}

func (f *fakeAPI) CreateSessionToken(ctx context.Context, req liveavatar.TokenRequest) (*liveavatar.TokenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenRequests = append(f.tokenRequests, req)
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	cp := *f.tokenResult
	return &cp, nil
}

func (f *fakeAPI) StartSession(ctx context.Context, sessionToken string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startBody, nil
}

func (f *fakeAPI) StopSession(ctx context.Context, sessionID, sessionToken, reason string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, sessionID)
	f.stopTokens = append(f.stopTokens, sessionToken)
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return json.RawMessage(`{"code":100}`), nil
}

func (f *fakeAPI) KeepAlive(ctx context.Context, sessionID, sessionToken string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepalives++
	if f.keepErr != nil {
		return nil, f.keepErr
	}
	return json.RawMessage(`{"code":100}`), nil
}

func (f *fakeAPI) keepAliveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepalives
}

type sentAudio struct {
	sessionID string
	url       string
	audio     bridge.Audio
}

type fakeBridge struct {
	mu      sync.Mutex
	sent    []sentAudio
	closed  []string
	sendErr error
	onEnded func(string)
	shut    bool
}

func (f *fakeBridge) SendAudio(ctx context.Context, sessionID, url string, a bridge.Audio) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentAudio{sessionID, url, a})
	return sessionID + "-1", nil
}

func (f *fakeBridge) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeBridge) CloseConnection(sessionID string) {
	f.mu.Lock()
	f.closed = append(f.closed, sessionID)
	f.mu.Unlock()
}

func (f *fakeBridge) OnSessionEnded(fn func(sessionID string)) {
	f.mu.Lock()
	f.onEnded = fn
	f.mu.Unlock()
}

func (f *fakeBridge) Close() {
	f.mu.Lock()
	f.shut = true
	f.mu.Unlock()
}

type fakeData struct {
	mu         sync.Mutex
	published  []relay.DataMessage
	closed     []string
	publishErr error
}

func (f *fakeData) Publish(ctx context.Context, sessionID string, msg relay.DataMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	f.published = append(f.published, msg)
	return 1, nil
}

func (f *fakeData) Close(sessionID string) {
	f.mu.Lock()
	f.closed = append(f.closed, sessionID)
	f.mu.Unlock()
}

type fakeSynth struct {
	mu       sync.Mutex
	requests []tts.Request
	result   *tts.Result
	err      error

	// When release is set, Synthesize signals started and blocks until
	// release is closed.
	started chan struct{}
	release chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	started, release := f.started, f.release
	f.mu.Unlock()

	if release != nil {
		close(started)
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.result
	return &cp, nil
}

func (f *fakeSynth) Provider() string {
	return "fake"
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
