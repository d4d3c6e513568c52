package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToNoop(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name           string
		token, channel string
		enabled        bool
	}{
		{"no token", "", "C1", false},
		{"no channel", "xoxb-1", " ", false},
		{"configured", "xoxb-1", "C1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.enabled, New(tt.token, tt.channel, "").Enabled())
		})
	}
}

func TestNoopNotify(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Noop{}.Notify(context.Background(), "ignored"))
}

func TestSlackNotifyPostsToChannel(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		path    string
		channel string
		text    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		path, channel, text = r.URL.Path, r.FormValue("channel"), r.FormValue("text")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	n := NewSlack("xoxb-test", "C123", srv.URL)
	require.NoError(t, n.Notify(context.Background(), "THALOS: alerta de prueba"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/chat.postMessage", path)
	assert.Equal(t, "C123", channel)
	assert.Equal(t, "THALOS: alerta de prueba", text)
}

func TestSlackNotifyReturnsAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	err := NewSlack("xoxb-test", "C404", srv.URL+"/").Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
