package mw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/meetingmod/moderator/pkg/gateway/config"
	"github.com/meetingmod/moderator/pkg/gateway/ratelimit"
)

func TestRateLimit_Burst429IncludesRetryAfter(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})

	h := RateLimit(config.Config{}, lim, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	{
		req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("first request status=%d body=%q", rr.Code, rr.Body.String())
		}
	}

	{
		req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("second request status=%d body=%q", rr.Code, rr.Body.String())
		}
		if got := rr.Header().Get("Retry-After"); got != "1" {
			t.Fatalf("Retry-After=%q", got)
		}
		body := rr.Body.String()
		if !strings.Contains(body, `"type":"rate_limit_error"`) || !strings.Contains(body, `"retry_after":1`) {
			t.Fatalf("unexpected body: %q", body)
		}
	}

	{
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("health probes must bypass limits, status=%d", rr.Code)
		}
	}
}

func TestRateLimit_PrincipalsAreSeparate(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(config.Config{}, lim, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, remote := range []string{"10.0.0.1:1000", "10.0.0.2:1000"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/meetings", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", remote, rr.Code)
		}
	}
}

func TestRateLimit_ConcurrentRequests429(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{MaxConcurrentRequests: 1})

	started := make(chan struct{})
	release := make(chan struct{})

	h := RateLimit(config.Config{}, lim, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	firstStatus := make(chan int, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/meetings", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		firstStatus <- rr.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/meetings", nil)
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d body=%q", rr2.Code, rr2.Body.String())
	}

	close(release)
	wg.Wait()
	if code := <-firstStatus; code != http.StatusOK {
		t.Fatalf("first request status=%d", code)
	}
}
