package models

import "time"

// User представляет пользователя бота
type User struct {
	TelegramID int64     `db:"telegram_id"`
	FirstName  string    `db:"first_name"`
	Username   string    `db:"username"`
	CreatedAt  time.Time `db:"created_at"`
}

// PromoCode представляет промокод на игровое время
type PromoCode struct {
	Code      string    `db:"code"`
	ExpiresAt time.Time `db:"expires_at"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired сообщает, истёк ли срок действия кода на момент now.
func (p *PromoCode) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// PromoUsage запись о выдаче промокода пользователю
type PromoUsage struct {
	TelegramID int64     `db:"telegram_id"`
	PromoCode  string    `db:"promo_code"`
	ReceivedAt time.Time `db:"received_at"`
}

// Admin представляет администратора бота
type Admin struct {
	TelegramID int64     `db:"telegram_id"`
	FirstName  string    `db:"first_name"`
	Username   string    `db:"username"`
	AddedBy    int64     `db:"added_by"`
	AddedAt    time.Time `db:"added_at"`
}

// IssueReason причина отказа или результата выдачи промокода
type IssueReason string

const (
	IssueOK              IssueReason = "ok"
	IssueNoPromo         IssueReason = "no_promo"
	IssueAlreadyReceived IssueReason = "already_received"
)

// BroadcastResult итог массовой рассылки
type BroadcastResult struct {
	Sent          int
	Failed        int
	FailedUserIDs []int64
}

// ImportResult итог массового импорта промокодов из файла
type ImportResult struct {
	Added    int
	Skipped  int // дубликаты
	Rejected int // некорректные строки
}
