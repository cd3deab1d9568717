package plugins

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"mucbot/contract"
	"mucbot/domain"
)

const (
	CoreModule  = "core"
	coreVersion = "1.2.0"
)

var _ contract.Plugin = (*Core)(nil)

// Core is the built-in plugin with the operator and help commands. It is
// declared like any other plugin so the registry stays the single source
// of the command table.
type Core struct {
	bot contract.BotContext
}

// NewCore constructs the core plugin. It has no config and cannot fail.
func NewCore(bot contract.BotContext, _ map[string]string, _ bool) (contract.Plugin, error) {
	return &Core{bot: bot}, nil
}

// CoreSpec returns the plugin spec for the core plugin.
func CoreSpec() contract.PluginSpec {
	return contract.PluginSpec{Module: CoreModule, Section: CoreModule, New: NewCore}
}

func (c *Core) Module() string  { return CoreModule }
func (c *Core) Version() string { return coreVersion }

func (c *Core) Commands() []domain.Command {
	return []domain.Command{
		{
			Name: "help", Module: CoreModule,
			Usage: "help [command]",
			Help:  "Show this help or the help of one command.",
			Gate:  domain.GateAny, Handler: c.help,
		},
		{
			Name: "version", Module: CoreModule,
			Usage: "version",
			Help:  "Show the bot version.",
			Gate:  domain.GateAny, Handler: c.version,
		},
		{
			Name: "uptime", Module: CoreModule,
			Usage: "uptime",
			Help:  "Show how long the bot has been running.",
			Gate:  domain.GateUser, Handler: c.uptime,
		},
		{
			Name: "status", Module: CoreModule,
			Usage: "status",
			Help:  "Show loaded plugins, commands, cron jobs and webhooks.",
			Gate:  domain.GateAdmin, Handler: c.status,
		},
		{
			Name: "roster", Module: CoreModule,
			Usage: "roster",
			Help:  "List the configured users and admins.",
			Gate:  domain.GateAdmin, Handler: c.roster,
		},
		{
			Name: "broadcast", Module: CoreModule,
			Usage: "broadcast <message>",
			Help:  "Send a message to every configured user.",
			MinArgs: 1, Gate: domain.GateAdmin, Handler: c.broadcast,
		},
		{
			Name: "reload", Module: CoreModule,
			Usage: "reload",
			Help:  "Reload configuration and plugins, and rejoin the room.",
			Gate:  domain.GateAdmin, Handler: c.reload,
		},
		{
			Name: "shutdown", Module: CoreModule,
			Usage: "shutdown",
			Help:  "Stop the bot process.",
			Gate:  domain.GateAdmin, Handler: c.shutdown,
		},
	}
}

func (c *Core) help(msg domain.Message) (*domain.Reply, error) {
	commands := c.bot.CommandTable()

	if args := msg.Args(); len(args) > 0 {
		name := args[0]
		for _, cmd := range commands {
			if cmd.Name == name {
				return msg.Reply(fmt.Sprintf("%s\n%s", cmd.Usage, cmd.Help)), nil
			}
		}
		return msg.Reply(fmt.Sprintf("Unknown command %q", name)), nil
	}

	lines := lo.Map(commands, func(cmd domain.Command, _ int) string {
		return fmt.Sprintf("%s - %s", cmd.Usage, cmd.Help)
	})
	return msg.Reply("Available commands:\n" + strings.Join(lines, "\n")), nil
}

func (c *Core) version(msg domain.Message) (*domain.Reply, error) {
	return msg.Reply(fmt.Sprintf("%s %s", c.bot.Nick(), coreVersion)), nil
}

func (c *Core) uptime(msg domain.Message) (*domain.Reply, error) {
	return msg.Reply("up " + formatDuration(time.Since(c.bot.StartTime()))), nil
}

func (c *Core) status(msg domain.Message) (*domain.Reply, error) {
	var sb strings.Builder

	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Command", "Module", "Gate", "Min Args"})
	table.SetAutoWrapText(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, cmd := range c.bot.CommandTable() {
		table.Append([]string{cmd.Name, cmd.Module, cmd.Gate.String(), fmt.Sprintf("%d", cmd.MinArgs)})
	}
	table.Render()

	if sched := c.bot.Scheduler(); sched != nil {
		sb.WriteString("\nCron jobs:\n")
		writeListing(&sb, sched.ListJobs())
	}
	if hooks := c.bot.Webhooks(); hooks != nil {
		sb.WriteString("\nWebhooks:\n")
		writeListing(&sb, hooks.ListWebhooks())
	}

	return msg.Reply(sb.String()), nil
}

func writeListing(sb *strings.Builder, lines []string) {
	if len(lines) == 0 {
		sb.WriteString("  (none)\n")
		return
	}
	for _, line := range lines {
		sb.WriteString("  " + line + "\n")
	}
}

func (c *Core) roster(msg domain.Message) (*domain.Reply, error) {
	roles := c.bot.Roles()
	lines := lo.Map(roles.Users(), func(jid domain.JID, _ int) string {
		if roles.IsAdmin(jid) {
			return fmt.Sprintf("%s (admin)", jid)
		}
		return jid.String()
	})
	if len(lines) == 0 {
		return msg.Reply("No users configured - the bot is open to everybody."), nil
	}
	return msg.Reply("Configured users:\n" + strings.Join(lines, "\n")), nil
}

func (c *Core) broadcast(msg domain.Message) (*domain.Reply, error) {
	count := c.bot.Broadcast(msg.ArgsText())
	return msg.Reply(fmt.Sprintf("Message sent to %d users", count)), nil
}

func (c *Core) reload(msg domain.Message) (*domain.Reply, error) {
	if err := c.bot.RequestReload(); err != nil {
		return msg.Reply("Reload failed: " + err.Error()), nil
	}
	return msg.Reply("Reload finished"), nil
}

func (c *Core) shutdown(msg domain.Message) (*domain.Reply, error) {
	// Detached so the farewell reply gets out before teardown begins.
	go c.bot.RequestShutdown()
	return msg.Reply("Shutting down..."), nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := d - minutes*time.Minute

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds/time.Second)
}
