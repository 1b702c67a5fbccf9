package services

import (
	"testing"
	"time"
)

func TestMemoryTokenCacheExpiresEntries(t *testing.T) {
	cache := NewMemoryTokenCache(10 * time.Minute)
	result := OrderTokenResult{Token: "tok-1"}

	cache.Put("q-1_abc", result, testTime)

	if got, ok := cache.Get("q-1_abc", testTime.Add(5*time.Minute)); !ok || got.Token != "tok-1" {
		t.Fatalf("get within ttl = %+v %v, want hit", got, ok)
	}
	if _, ok := cache.Get("q-1_abc", testTime.Add(11*time.Minute)); ok {
		t.Error("entry past ttl must be evicted")
	}
	if _, ok := cache.Get("q-1_abc", testTime.Add(5*time.Minute)); ok {
		t.Error("expired entry must stay gone after eviction")
	}
}

func TestMemoryTokenCacheIgnoresBlankKeys(t *testing.T) {
	cache := NewMemoryTokenCache(0)

	cache.Put("  ", OrderTokenResult{Token: "tok-1"}, testTime)
	if _, ok := cache.Get("  ", testTime); ok {
		t.Error("blank keys must not be stored")
	}
}
