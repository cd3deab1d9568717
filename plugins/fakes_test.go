package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"mucbot/contract"
	"mucbot/domain"
)

// fakeBot is a hand-rolled BotContext recording everything the plugins do
// with it.
type fakeBot struct {
	nick     string
	start    time.Time
	room     domain.JID
	roles    *domain.RoleSets
	commands []domain.Command

	store contract.Store
	sched contract.Scheduler
	hooks contract.WebhookServer

	sent       []sentMessage
	broadcasts []string
	reloadErr  error
	reloads    int
	shutdowns  int
}

type sentMessage struct {
	to    domain.JID
	body  string
	mtype domain.MessageType
}

func (f *fakeBot) Logger() *slog.Logger             { return slog.New(slog.DiscardHandler) }
func (f *fakeBot) Nick() string                     { return f.nick }
func (f *fakeBot) StartTime() time.Time             { return f.start }
func (f *fakeBot) RoomJID() domain.JID              { return f.room }
func (f *fakeBot) Roles() *domain.RoleSets          { return f.roles }
func (f *fakeBot) CommandTable() []domain.Command   { return f.commands }
func (f *fakeBot) Store() contract.Store            { return f.store }
func (f *fakeBot) Scheduler() contract.Scheduler    { return f.sched }
func (f *fakeBot) Webhooks() contract.WebhookServer { return f.hooks }

func (f *fakeBot) SendMessage(to domain.JID, body string, mtype domain.MessageType) error {
	f.sent = append(f.sent, sentMessage{to: to, body: body, mtype: mtype})
	return nil
}

func (f *fakeBot) Broadcast(body string) int {
	f.broadcasts = append(f.broadcasts, body)
	if f.roles == nil {
		return 0
	}
	return len(f.roles.Users())
}

func (f *fakeBot) RequestReload() error {
	f.reloads++
	return f.reloadErr
}

func (f *fakeBot) RequestShutdown() { f.shutdowns++ }

// fakeStore keeps encoded values in memory, mirroring the real store's
// round-trip so loaded state goes through a marshal boundary.
type fakeStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
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
	if s.setErr != nil {
		return s.setErr
	}
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return nil
}

func (s *fakeStore) Close() error { return nil }

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
		out = append(out, fmt.Sprintf("%s/%s %s", job.Module, job.Name, job.Spec))
	}
	return out
}

type fakeWebhooks struct {
	handlers map[string]http.HandlerFunc
	order    []string
	stopped  int
}

func newFakeWebhooks() *fakeWebhooks {
	return &fakeWebhooks{handlers: make(map[string]http.HandlerFunc)}
}

func (w *fakeWebhooks) Run(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (w *fakeWebhooks) RegisterWebhook(module, path string, handler http.HandlerFunc) error {
	if _, ok := w.handlers[path]; !ok {
		w.order = append(w.order, path)
	}
	w.handlers[path] = handler
	return nil
}

func (w *fakeWebhooks) ResetWebhooks() {
	w.handlers = make(map[string]http.HandlerFunc)
	w.order = nil
}

func (w *fakeWebhooks) ResetApp() {}

func (w *fakeWebhooks) ListWebhooks() []string {
	return append([]string(nil), w.order...)
}

func (w *fakeWebhooks) Stop() error {
	w.stopped++
	return nil
}
