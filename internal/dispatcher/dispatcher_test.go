package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	srv    *httptest.Server
	hits   atomic.Int32
	status int
}

func newUpstream(t *testing.T, status int) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{status: status}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req model.GenerationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if u.status != http.StatusOK {
			w.WriteHeader(u.status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{"https://cdn.example/" + req.RequestID + ".png"}})
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *fakeUpstream) provider(name string, bs BreakerSettings) *HTTPProvider {
	return NewHTTPProvider(name, u.srv.URL, "/generate", "k", time.Second, bs)
}

var genReq = model.GenerationRequest{RequestID: "01J0000000000000000000000", Prompt: "a mug on a desk", ProductCount: 1, ImageJPEG: []byte{0xff, 0xd8}}

func TestDispatcher_RoundRobin(t *testing.T) {
	a, b := newUpstream(t, http.StatusOK), newUpstream(t, http.StatusOK)
	d := NewDispatcher([]Provider{a.provider("a", BreakerSettings{}), b.provider("b", BreakerSettings{})}, 2, nil)

	var names []string
	for i := 0; i < 4; i++ {
		res, err := d.Generate(context.Background(), genReq)
		require.NoError(t, err)
		require.Len(t, res.Images, 1)
		names = append(names, res.Provider)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, names)
}

func TestDispatcher_FailsOver(t *testing.T) {
	bad, good := newUpstream(t, http.StatusBadGateway), newUpstream(t, http.StatusOK)
	d := NewDispatcher([]Provider{bad.provider("bad", BreakerSettings{}), good.provider("good", BreakerSettings{})}, 2, nil)

	res, err := d.Generate(context.Background(), genReq)
	require.NoError(t, err)
	assert.Equal(t, "good", res.Provider)
	assert.Equal(t, int32(1), bad.hits.Load())
}

func TestDispatcher_RejectedIsNotRetried(t *testing.T) {
	a, b := newUpstream(t, http.StatusUnprocessableEntity), newUpstream(t, http.StatusOK)
	d := NewDispatcher([]Provider{a.provider("a", BreakerSettings{}), b.provider("b", BreakerSettings{})}, 3, nil)

	_, err := d.Generate(context.Background(), genReq)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(0), b.hits.Load())
}

func TestHTTPProvider_BreakerOpens(t *testing.T) {
	down := newUpstream(t, http.StatusServiceUnavailable)
	p := down.provider("down", BreakerSettings{FailThreshold: 2, OpenFor: time.Minute})
	d := NewDispatcher([]Provider{p}, 1, nil)

	for i := 0; i < 2; i++ {
		_, err := d.Generate(context.Background(), genReq)
		require.Error(t, err)
	}
	assert.False(t, p.Ready())

	_, err := d.Generate(context.Background(), genReq)
	assert.ErrorIs(t, err, ErrNoHealthy)
	assert.Equal(t, int32(2), down.hits.Load())
}

func TestHTTPProvider_RejectionsKeepBreakerClosed(t *testing.T) {
	up := newUpstream(t, http.StatusBadRequest)
	p := up.provider("p", BreakerSettings{FailThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := p.Generate(context.Background(), genReq)
		require.ErrorIs(t, err, ErrRejected)
	}
	assert.True(t, p.Ready())
}

func TestDispatcher_NoProviders(t *testing.T) {
	_, err := NewDispatcher(nil, 2, nil).Generate(context.Background(), genReq)
	assert.ErrorIs(t, err, ErrNoHealthy)
}
