package delivery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignatij/steward/pkg/delivery"
	"github.com/ignatij/steward/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func TestWebhookSender(t *testing.T) {
	t.Run("Delivered", func(t *testing.T) {
		var got map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Steward/0.1.0", r.Header.Get("User-Agent"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"id":"msg-123"}`))
		}))
		defer srv.Close()

		sender := delivery.NewWebhookSender(srv.URL, time.Second)
		res, err := sender.Send(context.Background(), models.EmailChannel, "ada@example.org", delivery.Message{
			Title:   "Birthday: Ada",
			Subject: "Happy Birthday",
			Body:    "Happy Birthday, Ada!",
		})
		require.NoError(t, err)
		assert.True(t, res.Delivered)
		assert.Equal(t, "msg-123", res.Reference)
		assert.Equal(t, "EMAIL", got["channel"])
		assert.Equal(t, "ada@example.org", got["to"])
		assert.Equal(t, "Happy Birthday", got["subject"])
		assert.Equal(t, "Happy Birthday, Ada!", got["body"])
	})

	t.Run("EmptyResponseBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		res, err := delivery.NewWebhookSender(srv.URL, 0).Send(context.Background(), models.SMSChannel, "+1555", delivery.Message{Body: "hi"})
		require.NoError(t, err)
		assert.True(t, res.Delivered)
		assert.Empty(t, res.Reference)
	})

	t.Run("ServiceError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid number", http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		_, err := delivery.NewWebhookSender(srv.URL, time.Second).Send(context.Background(), models.SMSChannel, "+1555", delivery.Message{Body: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "422")
		assert.Contains(t, err.Error(), "invalid number")
	})

	t.Run("NoContact", func(t *testing.T) {
		_, err := delivery.NewWebhookSender("http://127.0.0.1:1", time.Second).Send(context.Background(), models.SMSChannel, "", delivery.Message{Body: "hi"})
		assert.Error(t, err)
	})
}

func TestLogSender(t *testing.T) {
	sender := delivery.NewSender(delivery.Config{}, logger{})
	res, err := sender.Send(context.Background(), models.SMSChannel, "+1555", delivery.Message{Body: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Delivered)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sender.Send(ctx, models.SMSChannel, "+1555", delivery.Message{Body: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRouter(t *testing.T) {
	router := delivery.Router{models.SMSChannel: delivery.NewLogSender(logger{})}
	_, err := router.Send(context.Background(), models.SMSChannel, "+1555", delivery.Message{Body: "hi"})
	assert.NoError(t, err)
	_, err = router.Send(context.Background(), models.EmailChannel, "a@b.c", delivery.Message{Body: "hi"})
	assert.Error(t, err)
}
