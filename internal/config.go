package internal

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config is the process configuration, read from the environment.
// Identity lists are comma-separated JIDs and may use the @users, @admins
// and @room_users keywords.
type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	// Nick, SelfJID, Room and HistoryLimit are read once at startup;
	// the reload command does not apply changes to them.
	Nick    string `env:"BOT_NICK,default=mucbot" validate:"required"`
	SelfJID string `env:"BOT_JID" validate:"required"`
	// Operator is the identity attributed to console input.
	Operator string `env:"BOT_OPERATOR,default=admin@localhost"`

	Users      string `env:"BOT_USERS"`
	Admins     string `env:"BOT_ADMINS"`
	Room       string `env:"BOT_ROOM"`
	RoomUsers  string `env:"BOT_ROOM_USERS"`
	RoomAdmins string `env:"BOT_ROOM_ADMINS"`

	RoomInvites  bool `env:"BOT_ROOM_INVITES,default=true"`
	HistoryLimit int  `env:"BOT_ROOM_HISTORY,default=4096" validate:"gte=0"`

	// Empty DBFilepath disables the persistent store; webhook port 0
	// disables the webhook server; CronEnabled=false disables the
	// scheduler. Toggling any of these requires a full restart.
	DBFilepath  string `env:"BOT_DB_FILEPATH"`
	WebhookHost string `env:"WEBHOOK_HOST,default=127.0.0.1"`
	WebhookPort int    `env:"WEBHOOK_PORT,default=0" validate:"gte=0,lte=65535"`
	CronEnabled bool   `env:"CRON_ENABLED,default=true"`

	NumberOfWorkers int    `env:"NUMBER_OF_WORKERS,default=4" validate:"gte=1"`
	BufferSize      int    `env:"BUFFER_SIZE,default=64" validate:"gte=1"`
	RestartInterval string `env:"RESTART_INTERVAL,default=200ms"`

	// MonitorRetention and MonitorPurge feed the monitor plugin section.
	MonitorRetention string `env:"MONITOR_RETENTION,default=24h"`
	MonitorPurge     string `env:"MONITOR_PURGE,default=@every 1h"`
}

func (c Config) Validate() error {
	return validate.Struct(c)
}
