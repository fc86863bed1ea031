package service

import (
	"log"
	"sort"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"
)

// MemberLookup запрос статуса участника канала. *tele.Bot реализует его.
type MemberLookup interface {
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
}

const (
	cacheSoftCap   = 1000
	cacheEvictSize = 100
)

type cacheEntry struct {
	subscribed bool
	storedAt   time.Time
}

// SubscriptionChecker проверяет подписку на канал с TTL-кэшем.
// Ошибки API трактуются как «не подписан».
type SubscriptionChecker struct {
	bot       MemberLookup
	channelID int64
	ttl       time.Duration

	now func() time.Time

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

// NewSubscriptionChecker создаёт проверку подписки на канал channelID
func NewSubscriptionChecker(bot MemberLookup, channelID int64, ttl time.Duration) *SubscriptionChecker {
	return &SubscriptionChecker{
		bot:       bot,
		channelID: channelID,
		ttl:       ttl,
		now:       time.Now,
		cache:     make(map[int64]cacheEntry),
	}
}

// IsSubscribed сообщает, подписан ли пользователь на канал
func (c *SubscriptionChecker) IsSubscribed(userID int64) bool {
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.cache[userID]; ok && now.Sub(entry.storedAt) < c.ttl {
		c.mu.Unlock()
		return entry.subscribed
	}
	c.mu.Unlock()

	subscribed := c.lookup(userID)

	c.mu.Lock()
	c.evictLocked(now)
	c.cache[userID] = cacheEntry{subscribed: subscribed, storedAt: now}
	c.mu.Unlock()

	return subscribed
}

// Invalidate сбрасывает кэш для пользователя
func (c *SubscriptionChecker) Invalidate(userID int64) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

func (c *SubscriptionChecker) lookup(userID int64) bool {
	member, err := c.bot.ChatMemberOf(&tele.Chat{ID: c.channelID}, &tele.User{ID: userID})
	if err != nil {
		log.Printf("Subscription check failed for %d: %v", userID, err)
		return false
	}

	switch member.Role {
	case tele.Member, tele.Administrator, tele.Creator:
		return true
	default:
		return false
	}
}

// evictLocked сначала убирает протухшие записи, затем, если кэш всё ещё
// переполнен, самые старые. Вызывается под mu.
func (c *SubscriptionChecker) evictLocked(now time.Time) {
	if len(c.cache) < cacheSoftCap {
		return
	}

	for id, entry := range c.cache {
		if now.Sub(entry.storedAt) >= c.ttl {
			delete(c.cache, id)
		}
	}
	if len(c.cache) < cacheSoftCap {
		return
	}

	type aged struct {
		id       int64
		storedAt time.Time
	}
	entries := make([]aged, 0, len(c.cache))
	for id, entry := range c.cache {
		entries = append(entries, aged{id: id, storedAt: entry.storedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].storedAt.Before(entries[j].storedAt)
	})

	n := cacheEvictSize
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(c.cache, e.id)
	}
}
