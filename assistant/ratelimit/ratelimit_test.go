// Copyright 2025 StroiNadzor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, cfg), mr
}

func TestLimiterDeniesOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Window: time.Hour,
		Limits: map[Tier]int{TierBasic: 3},
	})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		v := l.CheckAndIncrement(ctx, "user-1", TierBasic)
		if !v.Allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
		if v.Remaining != 3-i {
			t.Errorf("request %d: Remaining = %d, want %d", i, v.Remaining, 3-i)
		}
	}

	v := l.CheckAndIncrement(ctx, "user-1", TierBasic)
	if v.Allowed {
		t.Fatal("request over limit must be denied")
	}
	if v.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", v.RetryAfter)
	}
}

func TestLimiterWindowResets(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		Window: time.Minute,
		Limits: map[Tier]int{TierBasic: 1},
	})
	ctx := context.Background()

	if v := l.CheckAndIncrement(ctx, "user-2", TierBasic); !v.Allowed {
		t.Fatal("first request must be allowed")
	}
	if v := l.CheckAndIncrement(ctx, "user-2", TierBasic); v.Allowed {
		t.Fatal("second request in the same window must be denied")
	}

	mr.FastForward(2 * time.Minute)

	if v := l.CheckAndIncrement(ctx, "user-2", TierBasic); !v.Allowed {
		t.Error("request after window expiry must be allowed")
	}
}

func TestLimiterUsersIsolated(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Limits: map[Tier]int{TierBasic: 1},
	})
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "user-a", TierBasic)
	if v := l.CheckAndIncrement(ctx, "user-a", TierBasic); v.Allowed {
		t.Fatal("user-a must be over limit")
	}
	if v := l.CheckAndIncrement(ctx, "user-b", TierBasic); !v.Allowed {
		t.Error("user-b has their own window and must be allowed")
	}
}

func TestLimiterAdminUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Limits: map[Tier]int{TierBasic: 1},
	})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if v := l.CheckAndIncrement(ctx, "admin-1", TierAdmin); !v.Allowed {
			t.Fatalf("admin request %d denied", i)
		}
	}
}

func TestLimiterUnknownTierFallsBackToAnonymous(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Limits: map[Tier]int{TierAnonymous: 2},
	})
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "user-x", Tier("gold"))
	l.CheckAndIncrement(ctx, "user-x", Tier("gold"))
	if v := l.CheckAndIncrement(ctx, "user-x", Tier("gold")); v.Allowed {
		t.Error("unknown tier must inherit the anonymous limit")
	}
}

func TestLimiterFailsOpen(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		Limits: map[Tier]int{TierBasic: 1},
	})
	ctx := context.Background()

	mr.Close()

	if v := l.CheckAndIncrement(ctx, "user-3", TierBasic); !v.Allowed {
		t.Error("store failure must fail open")
	}
}

func TestLimiterReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		Limits: map[Tier]int{TierBasic: 1},
	})
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "user-4", TierBasic)
	if v := l.CheckAndIncrement(ctx, "user-4", TierBasic); v.Allowed {
		t.Fatal("must be over limit before reset")
	}

	if err := l.Reset(ctx, "user-4"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}

	if v := l.CheckAndIncrement(ctx, "user-4", TierBasic); !v.Allowed {
		t.Error("request after reset must be allowed")
	}
}
