package notify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/go-instaproxy/pkg/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) (*notify.TelegramSender, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender, err := notify.NewTelegramSender(notify.TelegramConfig{
		BotToken:  "bot-token",
		ChannelID: "-100123",
	}, zerolog.Nop())
	require.NoError(t, err)
	sender.BaseURL(server.URL)

	return sender, server
}

func TestNewTelegramSender_RequiresConfig(t *testing.T) {
	_, err := notify.NewTelegramSender(notify.TelegramConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTelegramSender_Send(t *testing.T) {
	t.Run("Posts the expected request shape", func(t *testing.T) {
		var gotPath string
		var gotForm map[string]string
		sender, _ := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, r.ParseForm())
			gotForm = map[string]string{
				"chat_id":              r.PostFormValue("chat_id"),
				"link_preview_options": r.PostFormValue("link_preview_options"),
				"parse_mode":           r.PostFormValue("parse_mode"),
				"text":                 r.PostFormValue("text"),
			}
			w.WriteHeader(http.StatusOK)
		})

		err := sender.Send(context.Background(), "hello operator")

		require.NoError(t, err)
		assert.Equal(t, "/botbot-token/sendMessage", gotPath)
		assert.Equal(t, "-100123", gotForm["chat_id"])
		assert.Equal(t, `{"is_disabled":true}`, gotForm["link_preview_options"])
		assert.Equal(t, "MarkdownV2", gotForm["parse_mode"])
		assert.Equal(t, "hello operator", gotForm["text"])
	})

	t.Run("Failure status becomes a StatusError with description", func(t *testing.T) {
		sender, _ := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"description":"gateway unavailable"}`))
		})

		err := sender.Send(context.Background(), "text")

		require.Error(t, err)
		statusErr := &notify.StatusError{}
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadGateway, statusErr.Code)
		assert.Equal(t, "gateway unavailable", statusErr.Description)
	})

	t.Run("Connectivity failure is not a StatusError", func(t *testing.T) {
		sender, server := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {})
		server.Close()

		err := sender.Send(context.Background(), "text")

		require.Error(t, err)
		statusErr := &notify.StatusError{}
		assert.False(t, errors.As(err, &statusErr))
	})
}
