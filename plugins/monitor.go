package plugins

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"mucbot/contract"
	"mucbot/domain"
)

const (
	MonitorModule  = "monitor"
	monitorVersion = "0.6.0"

	alertsStoreKey = "monitor:alerts"

	defaultAlertsPath     = "/alerts"
	defaultPurgeSpec      = "@every 1h"
	defaultAlertRetention = 24 * time.Hour
	maxStoredAlerts       = 500
)

var _ contract.Plugin = (*Monitor)(nil)

// Alert is one notification received from the monitoring backend.
type Alert struct {
	ID       string
	Host     string
	Severity string
	Text     string
	At       time.Time
	Acked    bool
	AckBy    domain.JID
	AckNote  string
}

// Monitor bridges an external monitoring system into the chat room. The
// backend pushes notifications to a registered webhook; operators inspect
// and acknowledge them with the alerts and ack commands. A cron job purges
// acknowledged alerts past their retention.
type Monitor struct {
	mu        sync.Mutex
	bot       contract.BotContext
	log       *slog.Logger
	alerts    []Alert
	retention time.Duration
}

// MonitorSpec returns the plugin spec for the monitor plugin.
func MonitorSpec() contract.PluginSpec {
	return contract.PluginSpec{Module: MonitorModule, Section: MonitorModule, New: NewMonitor}
}

// NewMonitor constructs the monitor plugin. Known config keys: "path"
// (webhook path), "purge" (cron spec) and "retention" (Go duration). The
// alert log is persisted through the bot store, so both a process restart
// and a reinit reload carry it forward.
func NewMonitor(bot contract.BotContext, config map[string]string, reinit bool) (contract.Plugin, error) {
	m := &Monitor{bot: bot, log: bot.Logger(), retention: defaultAlertRetention}

	if raw, ok := config["retention"]; ok {
		retention, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("monitor: bad retention %q: %w", raw, err)
		}
		m.retention = retention
	}

	if store := bot.Store(); store != nil {
		// Loading on reinit too is the deliberate state carry-over:
		// the old instance persisted on every mutation.
		if _, err := store.Get(alertsStoreKey, &m.alerts); err != nil {
			return nil, fmt.Errorf("monitor: loading alert log: %w", err)
		}
	}

	path := defaultAlertsPath
	if p, ok := config["path"]; ok && p != "" {
		path = p
	}
	if hooks := bot.Webhooks(); hooks != nil {
		if err := hooks.RegisterWebhook(MonitorModule, path, m.handleAlertWebhook); err != nil {
			return nil, fmt.Errorf("monitor: registering webhook: %w", err)
		}
	}

	purge := defaultPurgeSpec
	if p, ok := config["purge"]; ok && p != "" {
		purge = p
	}
	if sched := bot.Scheduler(); sched != nil {
		if err := sched.Register(contract.CronJob{
			Module: MonitorModule,
			Name:   "purge-alerts",
			Spec:   purge,
			Fn:     m.purgeAcked,
		}); err != nil {
			return nil, fmt.Errorf("monitor: registering purge job: %w", err)
		}
	}

	return m, nil
}

func (m *Monitor) Module() string  { return MonitorModule }
func (m *Monitor) Version() string { return monitorVersion }

func (m *Monitor) Commands() []domain.Command {
	return []domain.Command{
		{
			Name: "alerts", Module: MonitorModule,
			Usage: "alerts [all]",
			Help:  "Show current monitoring alerts. Use \"all\" to include acknowledged ones.",
			Gate:  domain.GateUser, Handler: m.alertsCmd,
		},
		{
			Name: "ack", Module: MonitorModule,
			Usage: "ack <alert ID> [note]",
			Help:  "Acknowledge an alert with an optional note.",
			MinArgs: 1, Gate: domain.GateUser, Handler: m.ackCmd,
		},
	}
}

// alertPayload is the JSON body the monitoring backend posts.
type alertPayload struct {
	Host     string `json:"host"`
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

func (m *Monitor) handleAlertWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var payload alertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if payload.Text == "" {
		http.Error(w, "empty alert text", http.StatusBadRequest)
		return
	}

	alert := Alert{
		ID:       strings.Split(uuid.NewString(), "-")[0],
		Host:     payload.Host,
		Severity: payload.Severity,
		Text:     payload.Text,
		At:       time.Now().UTC(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxStoredAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxStoredAlerts:]
	}
	m.mu.Unlock()
	m.persist()

	m.announce(fmt.Sprintf("ALERT %s [%s] %s: %s", alert.ID, alert.Severity, alert.Host, alert.Text))
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, alert.ID)
}

// announce forwards an alert to the room when one is configured, and to
// every user otherwise.
func (m *Monitor) announce(body string) {
	if room := m.bot.RoomJID(); room != "" {
		if err := m.bot.SendMessage(room, body, domain.GroupchatMessage); err != nil {
			m.log.Error("Could not announce alert to room", "room", room, "error", err)
		}
		return
	}
	m.bot.Broadcast(body)
}

func (m *Monitor) alertsCmd(msg domain.Message) (*domain.Reply, error) {
	includeAcked := len(msg.Args()) > 0 && msg.Args()[0] == "all"

	m.mu.Lock()
	alerts := append([]Alert(nil), m.alerts...)
	m.mu.Unlock()

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"ID", "Severity", "Host", "Issue", "Age", "Ack"})
	table.SetAutoWrapText(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	shown := 0
	for _, alert := range alerts {
		if alert.Acked && !includeAcked {
			continue
		}
		ack := ""
		if alert.Acked {
			ack = "ACK"
		}
		age := time.Since(alert.At).Round(time.Minute)
		table.Append([]string{alert.ID, alert.Severity, alert.Host, alert.Text, age.String(), ack})
		shown++
	}
	table.Render()

	sb.WriteString(fmt.Sprintf("\n%d alerts are shown.", shown))
	return msg.Reply(sb.String()), nil
}

func (m *Monitor) ackCmd(msg domain.Message) (*domain.Reply, error) {
	args := msg.Args()
	id := args[0]

	note := "ack"
	if len(args) > 1 {
		note = strings.Join(args[1:], " ")
	}

	m.mu.Lock()
	found := false
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acked = true
			m.alerts[i].AckBy = msg.Sender
			m.alerts[i].AckNote = note
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return msg.Reply(fmt.Sprintf("Alert %q not found", id)), nil
	}

	m.persist()
	return msg.Reply(fmt.Sprintf("Alert %s acknowledged", id)), nil
}

// purgeAcked drops acknowledged alerts older than the retention window.
// Runs from the scheduler.
func (m *Monitor) purgeAcked() {
	cutoff := time.Now().UTC().Add(-m.retention)

	m.mu.Lock()
	kept := m.alerts[:0]
	for _, alert := range m.alerts {
		if alert.Acked && alert.At.Before(cutoff) {
			continue
		}
		kept = append(kept, alert)
	}
	m.alerts = kept
	m.mu.Unlock()

	m.persist()
}

func (m *Monitor) persist() {
	store := m.bot.Store()
	if store == nil {
		return
	}

	m.mu.Lock()
	alerts := append([]Alert(nil), m.alerts...)
	m.mu.Unlock()

	if err := store.Set(alertsStoreKey, alerts); err != nil {
		m.log.Error("Could not persist alert log", "error", err)
	}
}

// ParseAlertID is a helper for tests and tooling: alert ids are the first
// uuid block, always 8 hex characters.
func ParseAlertID(s string) (string, error) {
	if len(s) != 8 {
		return "", fmt.Errorf("bad alert id %q", s)
	}
	if _, err := strconv.ParseUint(s, 16, 64); err != nil {
		return "", fmt.Errorf("bad alert id %q", s)
	}
	return s, nil
}
