package service

import (
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v3"
)

// fakeMemberLookup подменяет Telegram API в тестах
type fakeMemberLookup struct {
	role  tele.MemberStatus
	err   error
	calls int
}

func (f *fakeMemberLookup) ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &tele.ChatMember{Role: f.role}, nil
}

func newTestChecker(lookup *fakeMemberLookup, now time.Time) *SubscriptionChecker {
	c := NewSubscriptionChecker(lookup, -100123, 5*time.Minute)
	c.now = func() time.Time { return now }
	return c
}

func TestIsSubscribedRoles(t *testing.T) {
	tests := []struct {
		role tele.MemberStatus
		want bool
	}{
		{tele.Member, true},
		{tele.Administrator, true},
		{tele.Creator, true},
		{tele.Left, false},
		{tele.Kicked, false},
		{tele.Restricted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			c := newTestChecker(&fakeMemberLookup{role: tt.role}, time.Now())
			if got := c.IsSubscribed(1); got != tt.want {
				t.Errorf("IsSubscribed with role %q = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestIsSubscribedAPIErrorFailsClosed(t *testing.T) {
	lookup := &fakeMemberLookup{err: fmt.Errorf("telegram: Bad Request")}
	c := newTestChecker(lookup, time.Now())

	if c.IsSubscribed(1) {
		t.Error("API error must be treated as not subscribed")
	}
}

func TestIsSubscribedCache(t *testing.T) {
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	lookup := &fakeMemberLookup{role: tele.Member}
	c := newTestChecker(lookup, now)

	c.IsSubscribed(1)
	c.IsSubscribed(1)
	if lookup.calls != 1 {
		t.Errorf("lookup called %d times, want 1 (cache hit)", lookup.calls)
	}

	// TTL истёк
	c.now = func() time.Time { return now.Add(6 * time.Minute) }
	c.IsSubscribed(1)
	if lookup.calls != 2 {
		t.Errorf("lookup called %d times after TTL expiry, want 2", lookup.calls)
	}

	// Invalidate сбрасывает запись сразу
	c.Invalidate(1)
	c.IsSubscribed(1)
	if lookup.calls != 3 {
		t.Errorf("lookup called %d times after Invalidate, want 3", lookup.calls)
	}
}

func TestCacheEviction(t *testing.T) {
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	lookup := &fakeMemberLookup{role: tele.Member}
	c := newTestChecker(lookup, now)

	// Заполняем кэш до мягкого лимита
	for i := int64(0); i < cacheSoftCap; i++ {
		c.IsSubscribed(i)
	}
	if len(c.cache) != cacheSoftCap {
		t.Fatalf("cache size = %d, want %d", len(c.cache), cacheSoftCap)
	}

	// Следующая запись вытесняет самые старые
	c.IsSubscribed(cacheSoftCap)
	if len(c.cache) > cacheSoftCap {
		t.Errorf("cache size = %d after eviction, want <= %d", len(c.cache), cacheSoftCap)
	}
}
