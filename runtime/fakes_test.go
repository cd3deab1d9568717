package runtime

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"mucbot/contract"
	"mucbot/domain"
)

var errFake = errors.New("transport unavailable")

// fakeTransport records every call so tests can assert on the exact
// traffic the bot produced.
type fakeTransport struct {
	mu sync.Mutex

	sent         []sentMessage
	joins        []string
	leaves       []string
	invites      []domain.JID
	affiliations [][]contract.Affiliation
	configPushes []map[string]string

	configFields map[string]string
	configErr    error
	closeErr     error
	connected    bool
	closed       bool

	// leaveHook, when set, runs at the start of LeaveRoom. Set before any
	// concurrency starts.
	leaveHook func()
}

type sentMessage struct {
	to    domain.JID
	body  string
	mtype domain.MessageType
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{configFields: map[string]string{}, connected: true}
}

func (f *fakeTransport) SendMessage(to domain.JID, body string, mtype domain.MessageType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, body: body, mtype: mtype})
	return nil
}

func (f *fakeTransport) JoinRoom(room domain.JID, nick string, historyLimit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, string(room))
	return nil
}

func (f *fakeTransport) LeaveRoom(room domain.JID, nick string) error {
	if f.leaveHook != nil {
		f.leaveHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, string(room))
	return nil
}

func (f *fakeTransport) SetRoomAffiliations(room domain.JID, items []contract.Affiliation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.affiliations = append(f.affiliations, items)
	return nil
}

func (f *fakeTransport) RoomConfigFields(room domain.JID) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configErr != nil {
		return nil, f.configErr
	}
	fields := make(map[string]string, len(f.configFields))
	for k, v := range f.configFields {
		fields[k] = v
	}
	return fields, nil
}

func (f *fakeTransport) SetRoomConfigFields(room domain.JID, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configPushes = append(f.configPushes, fields)
	return nil
}

func (f *fakeTransport) Invite(room domain.JID, user domain.JID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, user)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) sentBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, msg := range f.sent {
		out = append(out, msg.body)
	}
	return out
}

// fakeStore mirrors the real store's encode/decode round-trip in memory.
type fakeStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (s *fakeStore) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, cbor.Unmarshal(raw, out)
}

func (s *fakeStore) Set(key string, value any) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeScheduler struct {
	jobs    []contract.CronJob
	started int
	stopped int
	resets  int
}

func (s *fakeScheduler) Start() { s.started++ }
func (s *fakeScheduler) Stop()  { s.stopped++ }

func (s *fakeScheduler) Reset() {
	s.resets++
	s.jobs = nil
}

func (s *fakeScheduler) Register(job contract.CronJob) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *fakeScheduler) ListJobs() []string {
	var out []string
	for _, job := range s.jobs {
		out = append(out, job.Module+"/"+job.Name)
	}
	return out
}

type fakeWebhooks struct {
	paths   []string
	resets  int
	stopped int
}

func (w *fakeWebhooks) Run(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (w *fakeWebhooks) RegisterWebhook(module, path string, handler http.HandlerFunc) error {
	w.paths = append(w.paths, path)
	return nil
}

func (w *fakeWebhooks) ResetWebhooks() {
	w.resets++
	w.paths = nil
}

func (w *fakeWebhooks) ResetApp() {}

func (w *fakeWebhooks) ListWebhooks() []string {
	return append([]string(nil), w.paths...)
}

func (w *fakeWebhooks) Stop() error {
	w.stopped++
	return nil
}
