package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour)
	store.nowF = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "a", "k", "v"))

	now = now.Add(time.Hour)
	_, ok, err := store.Get(ctx, "a", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, err = store.Get(ctx, "a", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_PullRemovesValue(t *testing.T) {
	ctx := context.Background()
	sess := New("s", NewMemoryStore(time.Hour))

	require.NoError(t, sess.Put(ctx, KeyIntendedURL, "/deals/42"))

	value, ok, err := sess.Pull(ctx, KeyIntendedURL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/deals/42", value)

	_, ok, err = sess.Pull(ctx, KeyIntendedURL)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	sess := New("s", NewMemoryStore(time.Hour))

	type payload struct {
		Purpose string `json:"purpose"`
		Sent    bool   `json:"otp_sent"`
	}

	require.NoError(t, sess.PutJSON(ctx, KeyChallenge, payload{Purpose: "login", Sent: true}))

	var got payload
	ok, err := sess.GetJSON(ctx, KeyChallenge, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload{Purpose: "login", Sent: true}, got)

	ok, err = sess.GetJSON(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_Middleware(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	mgr := NewManager(store, CookieConfig{Name: "sid", TTL: time.Hour})

	var seen *Session
	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("mints id when cookie missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotNil(t, seen)
		_, err := uuid.Parse(seen.ID)
		assert.NoError(t, err)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, seen.ID, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
	})

	t.Run("reuses valid cookie", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: id})

		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, id, seen.ID)
	})

	t.Run("replaces malformed cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "sid", Value: "../../etc"})

		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, "../../etc", seen.ID)
	})
}

func TestManager_Expire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	mgr := NewManager(store, CookieConfig{Name: "sid", TTL: time.Hour})
	sess := New(uuid.New().String(), store)
	require.NoError(t, sess.Put(ctx, "k", "v"))

	rec := httptest.NewRecorder()
	require.NoError(t, mgr.Expire(rec, httptest.NewRequest(http.MethodPost, "/logout", nil), sess))

	_, ok, err := sess.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", "k", "v"))
	now = now.Add(2 * time.Minute)
	require.NoError(t, store.Set(ctx, "fresh", "k", "v"))

	assert.Equal(t, 1, store.Sweep())
	_, ok, _ := store.Get(ctx, "fresh", "k")
	assert.True(t, ok)
}
