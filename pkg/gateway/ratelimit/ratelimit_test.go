package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestAcquireSession_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrentSessions: 1})
	now := time.Now()

	first := l.AcquireSession("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireSession("p1", now)
	if second.Allowed {
		t.Fatalf("second should be denied")
	}
	if other := l.AcquireSession("p2", now); !other.Allowed {
		t.Fatalf("other principals have their own cap")
	}

	first.Permit.Release()
	first.Permit.Release()
	third := l.AcquireSession("p1", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
	if again := l.AcquireSession("p1", now); again.Allowed {
		t.Fatalf("double release must not free a second slot")
	}
}

func TestAcquireRequest_TokenBucketRefills(t *testing.T) {
	l := New(Config{RPS: 2, Burst: 2})
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 2; i++ {
		if d := l.AcquireRequest("p1", now); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	denied := l.AcquireRequest("p1", now)
	if denied.Allowed || denied.RetryAfter != 1 {
		t.Fatalf("third = %+v, want denied with RetryAfter=1", denied)
	}
	if d := l.AcquireRequest("p1", now.Add(600*time.Millisecond)); !d.Allowed {
		t.Fatalf("bucket should refill after 600ms")
	}
}

func TestAcquire_UnlimitedWhenZero(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		if d := l.AcquireRequest("", time.Now()); !d.Allowed {
			t.Fatalf("request %d denied with no limits", i)
		}
		if d := l.AcquireSession("", time.Now()); !d.Allowed {
			t.Fatalf("session %d denied with no limits", i)
		}
	}
}

func TestPrincipalKeys(t *testing.T) {
	k := PrincipalKeyFromAPIKey("secret")
	ip := PrincipalKeyFromIP("10.0.0.1")
	if !strings.HasPrefix(k, "k_") || len(k) != 34 || strings.Contains(k, "secret") {
		t.Fatalf("api key principal = %q", k)
	}
	if !strings.HasPrefix(ip, "ip_") || ip == PrincipalKeyFromIP("10.0.0.2") {
		t.Fatalf("ip principal = %q", ip)
	}
}
