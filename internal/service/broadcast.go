package service

import (
	"fmt"
	"log"
	"sync"
	"time"

	"promo-telegram-bot/internal/models"
)

// Broadcaster последовательная рассылка с паузой между сообщениями
// и кулдауном между запусками
type Broadcaster struct {
	delay    time.Duration
	cooldown time.Duration

	now   func() time.Time
	sleep func(time.Duration)

	mu      sync.Mutex
	lastRun time.Time
	running bool
}

// NewBroadcaster создаёт новый Broadcaster
func NewBroadcaster(delay, cooldown time.Duration) *Broadcaster {
	return &Broadcaster{
		delay:    delay,
		cooldown: cooldown,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// CooldownRemaining возвращает, сколько осталось до следующего
// разрешённого запуска. Ноль, если рассылка доступна.
func (b *Broadcaster) CooldownRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastRun.IsZero() {
		return 0
	}
	remaining := b.cooldown - b.now().Sub(b.lastRun)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Run выполняет рассылку: send вызывается для каждого пользователя
// по порядку, ошибки отдельных отправок не прерывают рассылку.
func (b *Broadcaster) Run(userIDs []int64, send func(userID int64) error) (*models.BroadcastResult, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil, fmt.Errorf("broadcast already in progress")
	}
	if remaining := b.cooldownRemainingLocked(); remaining > 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("broadcast on cooldown for %s", remaining.Round(time.Second))
	}
	b.running = true
	b.lastRun = b.now()
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	result := &models.BroadcastResult{}
	for i, userID := range userIDs {
		if i > 0 {
			b.sleep(b.delay)
		}
		if err := send(userID); err != nil {
			log.Printf("Broadcast: failed to send to %d: %v", userID, err)
			result.Failed++
			result.FailedUserIDs = append(result.FailedUserIDs, userID)
			continue
		}
		result.Sent++
	}

	log.Printf("📤 Broadcast finished: sent=%d failed=%d", result.Sent, result.Failed)
	return result, nil
}

func (b *Broadcaster) cooldownRemainingLocked() time.Duration {
	if b.lastRun.IsZero() {
		return 0
	}
	remaining := b.cooldown - b.now().Sub(b.lastRun)
	if remaining < 0 {
		return 0
	}
	return remaining
}
