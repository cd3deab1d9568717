package transport

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"mucbot/domain"
)

type recordingReceiver struct {
	console  *Console
	started  int
	messages []domain.Message
	closeAt  int // close the console after this many messages, 0 = never
}

func (r *recordingReceiver) OnSessionStart() { r.started++ }

func (r *recordingReceiver) OnMessage(msg domain.Message) {
	r.messages = append(r.messages, msg)
	if r.closeAt > 0 && len(r.messages) == r.closeAt {
		_ = r.console.Close()
	}
}

func TestConsole_Delivers_Lines_As_Operator_Messages(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	console := NewConsole(log, strings.NewReader("help\n\nversion\n"), "admin@localhost")
	receiver := &recordingReceiver{console: console}

	err := console.Run(context.Background(), receiver)

	// Then the session was announced and blank lines skipped
	req.NoError(err)
	req.Equal(1, receiver.started)
	req.Len(receiver.messages, 2)
	req.Equal("help", receiver.messages[0].Body)
	req.Equal("version", receiver.messages[1].Body)
	req.Equal(domain.JID("admin@localhost"), receiver.messages[0].From)
	req.Equal(domain.ChatMessage, receiver.messages[0].Type)
	req.True(console.Connected())
}

func TestConsole_Run_After_Close_Is_A_NoOp(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	console := NewConsole(log, strings.NewReader("help\n"), "admin@localhost")
	req.NoError(console.Close())

	receiver := &recordingReceiver{console: console}
	err := console.Run(context.Background(), receiver)

	// Then nothing is delivered and no session is announced
	req.NoError(err)
	req.Equal(0, receiver.started)
	req.Empty(receiver.messages)
	req.False(console.Connected())
}

func TestConsole_Stops_Pumping_Once_Closed(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	console := NewConsole(log, strings.NewReader("one\ntwo\nthree\n"), "admin@localhost")
	receiver := &recordingReceiver{console: console, closeAt: 1}

	err := console.Run(context.Background(), receiver)

	// Then the remaining input lines are not delivered
	req.NoError(err)
	req.Len(receiver.messages, 1)
	req.Equal("one", receiver.messages[0].Body)
}
