package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newServerForTest() *Server {
	return NewServer("127.0.0.1", 0, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func okHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}
}

func TestServer_Routes_To_Registered_Webhook(t *testing.T) {
	req := require.New(t)
	server := newServerForTest()
	req.NoError(server.RegisterWebhook("monitor", "/alerts", okHandler("alert received")))

	// When a request hits the registered path
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, httptest.NewRequest("POST", "/alerts", nil))

	req.Equal(200, recorder.Code)
	req.Equal("alert received", recorder.Body.String())

	// And an unregistered path is a plain 404
	recorder = httptest.NewRecorder()
	server.ServeHTTP(recorder, httptest.NewRequest("POST", "/nope", nil))
	req.Equal(404, recorder.Code)
}

func TestServer_ListWebhooks_Keeps_Registration_Order(t *testing.T) {
	req := require.New(t)
	server := newServerForTest()
	req.NoError(server.RegisterWebhook("monitor", "/alerts", okHandler("")))
	req.NoError(server.RegisterWebhook("deploy", "/deploys", okHandler("")))

	req.Equal([]string{"monitor: /alerts", "deploy: /deploys"}, server.ListWebhooks())
}

func TestServer_Path_Collision_Replaces_Handler(t *testing.T) {
	req := require.New(t)
	server := newServerForTest()
	req.NoError(server.RegisterWebhook("first", "/alerts", okHandler("first")))
	req.NoError(server.RegisterWebhook("second", "/alerts", okHandler("second")))

	// Then the later registration serves the path, listed once
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, httptest.NewRequest("POST", "/alerts", nil))
	req.Equal("second", recorder.Body.String())
	req.Equal([]string{"second: /alerts"}, server.ListWebhooks())
}

func TestServer_ResetWebhooks_Stops_Serving_Old_Routes(t *testing.T) {
	req := require.New(t)
	server := newServerForTest()
	req.NoError(server.RegisterWebhook("monitor", "/alerts", okHandler("alert received")))

	// When a reload clears the registrations
	server.ResetWebhooks()
	server.ResetApp()

	// Then the old route is gone without restarting the listener
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, httptest.NewRequest("POST", "/alerts", nil))
	req.Equal(404, recorder.Code)
	req.Empty(server.ListWebhooks())
}

func TestServer_Stop_Without_Start_Is_Safe(t *testing.T) {
	req := require.New(t)
	server := newServerForTest()

	req.NoError(server.Stop())
}
