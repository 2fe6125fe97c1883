package audit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wahub/internal/domain"
	"github.com/talkincode/wahub/internal/session"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestRecorderPersistsTransitionsAndDeliveries(t *testing.T) {
	db := openDB(t)
	bus := EventBus.New()
	rec, err := NewRecorder(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, rec.Subscribe(bus))

	base := time.Now().Add(-time.Minute)
	bus.Publish(session.TopicTransition, session.Transition{Tenant: "alice", From: session.StatusNotStarted, To: session.StatusStarting, At: base})
	bus.Publish(session.TopicTransition, session.Transition{Tenant: "alice", From: session.StatusStarting, To: session.StatusAuthenticated, At: base.Add(time.Second)})
	bus.Publish(session.TopicTransition, session.Transition{Tenant: "alice", From: session.StatusAuthenticated, To: session.StatusLoggedIn, At: base.Add(2 * time.Second)})
	bus.Publish(session.TopicDelivery, session.Delivery{Tenant: "alice", To: "123", Type: session.SendTypeText, At: base.Add(3 * time.Second)})
	bus.Publish(session.TopicDelivery, session.Delivery{Tenant: "alice", To: "456", Type: session.SendTypeMedia, Filename: "a.pdf", Err: errors.New("boom"), At: base.Add(4 * time.Second)})
	bus.Publish(session.TopicTransition, session.Transition{Tenant: "bob", From: session.StatusNotStarted, To: session.StatusStarting, At: base})
	rec.Close()

	events, err := rec.List(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, KindDelivery, events[0].Kind)
	assert.Equal(t, "failed", events[0].Status)
	assert.Equal(t, "boom", events[0].Detail)
	assert.Equal(t, "a.pdf", events[0].Filename)
	assert.Equal(t, "sent", events[1].Status)
	assert.Equal(t, KindTransition, events[2].Kind)
	assert.Equal(t, "LOGGED_IN", events[2].Status)
	assert.Equal(t, "AUTHENTICATED", events[2].From)

	limited, err := rec.List(context.Background(), "alice", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	var sess domain.WhatsAppSession
	require.NoError(t, db.First(&sess, "tenant = ?", "alice").Error)
	assert.Equal(t, "LOGGED_IN", sess.Status)
	assert.WithinDuration(t, base, sess.StartedAt, time.Second)

	resumable, err := rec.Resumable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, resumable)
}

func TestRecorderIgnoresPublishAfterClose(t *testing.T) {
	db := openDB(t)
	rec, err := NewRecorder(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	rec.Close()
	rec.Close()

	assert.NotPanics(t, func() {
		rec.transition(session.Transition{Tenant: "alice", To: session.StatusStarting, At: time.Now()})
	})
}

func TestPurgeDropsOldEvents(t *testing.T) {
	db := openDB(t)
	rec, err := NewRecorder(db, zaptest.NewLogger(t))
	require.NoError(t, err)

	old := time.Now().Add(-40 * 24 * time.Hour)
	rec.transition(session.Transition{Tenant: "alice", From: session.StatusNotStarted, To: session.StatusStarting, At: old})
	rec.transition(session.Transition{Tenant: "alice", From: session.StatusStarting, To: session.StatusAwaitingAuth, At: time.Now()})
	rec.Close()

	n, err := rec.Purge(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := rec.List(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "AWAITING_AUTH", events[0].Status)

	n, err = rec.Purge(0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebhookPostsTransitions(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := EventBus.New()
	hook := NewWebhook(srv.URL, zaptest.NewLogger(t))
	require.NoError(t, hook.Subscribe(bus))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(session.TopicTransition, session.Transition{Tenant: "alice", From: session.StatusLoggedIn, To: session.StatusDisconnected, Detail: "stream replaced", At: at})
	hook.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"event":"status","session":"alice","from":"LOGGED_IN","status":"DISCONNECTED","detail":"stream replaced","at":"2024-05-01T12:00:00Z"}`, bodies[0])
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := NewWebhook(srv.URL, zaptest.NewLogger(t))
	defer hook.Close()
	err := hook.Post(WebhookPayload{Event: "status", Tenant: "alice", Status: "STARTING", At: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
