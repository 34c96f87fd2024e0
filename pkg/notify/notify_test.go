package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		assert.Nil(t, New(Config{Channel: "C123"}, nil))
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		assert.Nil(t, New(Config{Token: "xoxb-test"}, nil))
	})

	t.Run("returns service when configured", func(t *testing.T) {
		assert.NotNil(t, New(Config{Token: "xoxb-test", Channel: "C123"}, nil))
	})
}

func TestNilServiceMethodsAreNoOps(t *testing.T) {
	var s *Service
	assert.NotPanics(t, func() {
		s.EscalationRaised(context.Background(), "out_1", "esc_1", "which approach?")
		s.CriticalAlertRaised(context.Background(), "out_1", "cost_overrun", "over budget")
	})
}

func TestEscalationRaisedPostsMessage(t *testing.T) {
	var posted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chat.postMessage" {
			posted = true
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1234.5678"}`))
	}))
	defer srv.Close()

	api := goslack.New("xoxb-test", goslack.OptionAPIURL(srv.URL+"/"))
	s := NewWithClient(api, "C123", nil)
	require.NotNil(t, s)

	s.EscalationRaised(context.Background(), "out_1", "esc_1", "which approach?")
	assert.True(t, posted)
}
