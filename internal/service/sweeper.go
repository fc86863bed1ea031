package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper периодически удаляет просроченные промокоды
type Sweeper struct {
	svc      *Service
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
}

// NewSweeper создаёт новый Sweeper
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start запускает фоновую очистку
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	log.Println("🧹 Promo sweeper started")

	go s.runLoop()
}

// Stop останавливает фоновую очистку
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopChan)
	log.Println("🧹 Promo sweeper stopped")
}

func (s *Sweeper) runLoop() {
	// Первый проход сразу при старте
	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.svc.DeleteExpiredPromoCodes(ctx)
	if err != nil {
		log.Printf("Sweeper: failed to delete expired promo codes: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("🧹 Sweeper: removed %d expired promo codes", deleted)
	}
}
