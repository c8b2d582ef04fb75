package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updown/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" settle_failed "}, quiet)

	require.NoError(t, n.Notify(context.Background(), domain.EventRoundOpened, "ignored", ""))
	require.NoError(t, n.Notify(context.Background(), domain.EventSettleFailed, "alert", ""))
	assert.Equal(t, []string{"alert"}, s.titles)
}

func TestNotifierKeepsGoingAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quiet)

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestRoundAlerts(t *testing.T) {
	s := &recordingSender{name: "rec"}
	alerts := NewRoundAlerts(NewNotifier([]Sender{s}, nil, quiet))
	ctx := context.Background()

	require.NoError(t, alerts.Publish(ctx, domain.Event{Type: domain.EventRoundSettled, RoundID: "2025-03-14", Outcome: domain.OutcomeUp}))
	require.NoError(t, alerts.Publish(ctx, domain.Event{Type: domain.EventWagerPlaced, RoundID: "2025-03-14"}))
	require.NoError(t, alerts.SettleFailed(ctx, "2025-03-14", 180, domain.ErrStalePrice))

	assert.Equal(t, []string{"Round settled 2025-03-14", "Settlement failed 2025-03-14"}, s.titles)
}

func TestNotifierSuppressesRepeats(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quiet).WithDedup(time.Minute)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, domain.EventSettleFailed, "Settlement failed 2025-03-14", "a"))
	require.NoError(t, n.Notify(ctx, domain.EventSettleFailed, "Settlement failed 2025-03-14", "b"))
	require.NoError(t, n.Notify(ctx, domain.EventSettleFailed, "Settlement failed 2025-03-17", "c"))
	assert.Len(t, s.titles, 2)
}

func TestNotifierRetriesAfterTotalFailure(t *testing.T) {
	s := &recordingSender{name: "rec", err: errors.New("down")}
	n := NewNotifier([]Sender{s}, nil, quiet).WithDedup(time.Minute)
	ctx := context.Background()

	require.Error(t, n.Notify(ctx, "x", "t", "m"))
	s.err = nil
	require.NoError(t, n.Notify(ctx, "x", "t", "m"))
	assert.Len(t, s.titles, 2, "a failed delivery is not remembered")
}

func TestDedupExpires(t *testing.T) {
	now := time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC)
	d := NewDedup(5 * time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("k"))
	assert.True(t, d.IsDuplicate("k"))
	now = now.Add(5 * time.Minute)
	assert.False(t, d.IsDuplicate("k"))
	assert.Len(t, d.seen, 1)
}

func TestTelegramSenderPostsMarkdown(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.apiBase = srv.URL
	require.NoError(t, tg.Send(context.Background(), "Round settled", "Outcome up"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Round settled*\nOutcome up", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
