package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"promo-telegram-bot/internal/database"
	"promo-telegram-bot/internal/models"
)

// Store доступ к хранилищу, нужный сервису. *database.DB реализует его.
type Store interface {
	SaveUser(ctx context.Context, telegramID int64, firstName, username string) (*models.User, error)
	UserExists(ctx context.Context, telegramID int64) (bool, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetAllUserTelegramIDs(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int64, error)

	CreatePromoCode(ctx context.Context, code string, expiresAt time.Time) (*models.PromoCode, error)
	GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetActivePromoCodes(ctx context.Context, telegramID int64, now time.Time) ([]*models.PromoCode, error)
	GetAllPromoCodes(ctx context.Context) ([]*models.PromoCode, error)
	DeletePromoCode(ctx context.Context, code string) (bool, error)
	DeactivatePromoCode(ctx context.Context, code string) (bool, error)
	DeleteExpiredPromoCodes(ctx context.Context, now time.Time) (int64, error)

	RecordPromoUsage(ctx context.Context, telegramID int64, code string, receivedAt time.Time) error
	LastPromoReceivedAt(ctx context.Context, telegramID int64) (time.Time, error)

	AddAdmin(ctx context.Context, telegramID int64, firstName, username string, addedBy int64) error
	RemoveAdmin(ctx context.Context, telegramID int64) (bool, error)
	IsAdmin(ctx context.Context, telegramID int64) (bool, error)
	GetAllAdmins(ctx context.Context) ([]*models.Admin, error)
}

// Service бизнес-логика приложения
type Service struct {
	store         Store
	superAdminID  int64
	maxCodeLength int

	now  func() time.Time
	pick func(n int) int
}

// New создаёт новый сервис
func New(store Store, superAdminID int64, maxCodeLength int) *Service {
	return &Service{
		store:         store,
		superAdminID:  superAdminID,
		maxCodeLength: maxCodeLength,
		now:           time.Now,
		pick:          rand.Intn,
	}
}

// === Users ===

// SaveUser создаёт или обновляет пользователя
func (s *Service) SaveUser(ctx context.Context, telegramID int64, firstName, username string) (*models.User, error) {
	return s.store.SaveUser(ctx, telegramID, firstName, username)
}

// GetUserByTelegramID возвращает пользователя или database.ErrNotFound
func (s *Service) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.store.GetUserByTelegramID(ctx, telegramID)
}

// GetUserByUsername возвращает пользователя по username без @
// или database.ErrNotFound
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.store.GetUserByUsername(ctx, strings.TrimPrefix(username, "@"))
}

// GetAllUserTelegramIDs возвращает все telegram_id для рассылки
func (s *Service) GetAllUserTelegramIDs(ctx context.Context) ([]int64, error) {
	return s.store.GetAllUserTelegramIDs(ctx)
}

// CountUsers возвращает количество пользователей
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	return s.store.CountUsers(ctx)
}

// === Admins ===

// IsSuperAdmin проверяет, является ли пользователь главным админом
func (s *Service) IsSuperAdmin(telegramID int64) bool {
	return telegramID == s.superAdminID
}

// IsAdmin проверяет права администратора. Главный админ всегда админ,
// его запись в БД не хранится.
func (s *Service) IsAdmin(ctx context.Context, telegramID int64) (bool, error) {
	if s.IsSuperAdmin(telegramID) {
		return true, nil
	}
	return s.store.IsAdmin(ctx, telegramID)
}

// AddAdmin добавляет администратора. Только главный админ может это делать.
func (s *Service) AddAdmin(ctx context.Context, actorID, telegramID int64, firstName, username string) error {
	if !s.IsSuperAdmin(actorID) {
		return ErrNotAllowed
	}
	if s.IsSuperAdmin(telegramID) {
		return database.ErrAlreadyExists
	}
	return s.store.AddAdmin(ctx, telegramID, firstName, username, actorID)
}

// RemoveAdmin удаляет администратора. Главного админа удалить нельзя.
func (s *Service) RemoveAdmin(ctx context.Context, actorID, telegramID int64) (bool, error) {
	if !s.IsSuperAdmin(actorID) {
		return false, ErrNotAllowed
	}
	if s.IsSuperAdmin(telegramID) {
		return false, ErrNotAllowed
	}
	return s.store.RemoveAdmin(ctx, telegramID)
}

// GetAllAdmins возвращает всех администраторов
func (s *Service) GetAllAdmins(ctx context.Context) ([]*models.Admin, error) {
	return s.store.GetAllAdmins(ctx)
}

// ErrNotAllowed операция запрещена для этого пользователя
var ErrNotAllowed = errors.New("operation not allowed")

// ErrPastExpiry дата истечения уже прошла
var ErrPastExpiry = errors.New("expiry date is in the past")

// ================= PROMO ISSUANCE =================

// weekStart возвращает понедельник 00:00 недели, содержащей t
func weekStart(t time.Time) time.Time {
	wd := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -wd).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CanIssue проверяет, можно ли выдать пользователю промокод сейчас.
// Один код на пользователя в календарную неделю.
func (s *Service) CanIssue(ctx context.Context, telegramID int64) (bool, models.IssueReason, error) {
	now := s.now()

	// Пустой набор кодов важнее недельного лимита
	codes, err := s.store.GetActivePromoCodes(ctx, telegramID, now)
	if err != nil {
		return false, "", err
	}
	if len(codes) == 0 {
		return false, models.IssueNoPromo, nil
	}

	last, err := s.store.LastPromoReceivedAt(ctx, telegramID)
	if err != nil {
		return false, "", err
	}
	if !last.IsZero() && !last.Before(weekStart(now)) {
		return false, models.IssueAlreadyReceived, nil
	}

	return true, models.IssueOK, nil
}

// IssuePromo выдаёт пользователю случайный из доступных кодов.
// При отказе код пустой, причина в IssueReason.
func (s *Service) IssuePromo(ctx context.Context, telegramID int64) (*models.PromoCode, models.IssueReason, error) {
	ok, reason, err := s.CanIssue(ctx, telegramID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, reason, nil
	}

	now := s.now()
	codes, err := s.store.GetActivePromoCodes(ctx, telegramID, now)
	if err != nil {
		return nil, "", err
	}
	if len(codes) == 0 {
		return nil, models.IssueNoPromo, nil
	}

	promo := codes[s.pick(len(codes))]

	err = s.store.RecordPromoUsage(ctx, telegramID, promo.Code, now)
	if errors.Is(err, database.ErrAlreadyExists) {
		// Гонка двух запросов одного пользователя
		return nil, models.IssueAlreadyReceived, nil
	}
	if err != nil {
		return nil, "", err
	}

	return promo, models.IssueOK, nil
}

// ================= PROMO MANAGEMENT =================

// ValidateCode проверяет код перед сохранением
func (s *Service) ValidateCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("код пустой")
	}
	if len(code) > s.maxCodeLength {
		return fmt.Errorf("код длиннее %d символов", s.maxCodeLength)
	}
	if strings.ContainsAny(code, " \t\n") {
		return fmt.Errorf("код содержит пробелы")
	}
	return nil
}

// CreatePromoCode создаёт промокод со сроком действия days дней от текущего момента
func (s *Service) CreatePromoCode(ctx context.Context, code string, days int) (*models.PromoCode, error) {
	code = strings.TrimSpace(code)
	if err := s.ValidateCode(code); err != nil {
		return nil, err
	}
	expiresAt := s.now().AddDate(0, 0, days)
	return s.store.CreatePromoCode(ctx, code, expiresAt)
}

// CreatePromoCodeWithExpiry создаёт промокод с явной датой истечения
func (s *Service) CreatePromoCodeWithExpiry(ctx context.Context, code string, expiresAt time.Time) (*models.PromoCode, error) {
	code = strings.TrimSpace(code)
	if err := s.ValidateCode(code); err != nil {
		return nil, err
	}
	if !expiresAt.After(s.now()) {
		return nil, ErrPastExpiry
	}
	return s.store.CreatePromoCode(ctx, code, expiresAt)
}

// ImportPromoCodes читает коды построчно и сохраняет каждый валидный.
// Пустые строки пропускаются, дубликаты считаются в Skipped,
// некорректные строки в Rejected.
func (s *Service) ImportPromoCodes(ctx context.Context, r io.Reader, expiresAt time.Time) (*models.ImportResult, error) {
	if !expiresAt.After(s.now()) {
		return nil, ErrPastExpiry
	}

	result := &models.ImportResult{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		if code == "" {
			continue
		}
		if err := s.ValidateCode(code); err != nil {
			result.Rejected++
			continue
		}
		if seen[code] {
			result.Skipped++
			continue
		}
		seen[code] = true

		_, err := s.store.CreatePromoCode(ctx, code, expiresAt)
		if errors.Is(err, database.ErrAlreadyExists) {
			result.Skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Added++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetAllPromoCodes получает все промокоды
func (s *Service) GetAllPromoCodes(ctx context.Context) ([]*models.PromoCode, error) {
	return s.store.GetAllPromoCodes(ctx)
}

// DeletePromoCode удаляет промокод. false без ошибки, если кода не было.
func (s *Service) DeletePromoCode(ctx context.Context, code string) (bool, error) {
	return s.store.DeletePromoCode(ctx, strings.TrimSpace(code))
}

// DeactivatePromoCode отключает промокод, сохраняя историю выдачи
func (s *Service) DeactivatePromoCode(ctx context.Context, code string) (bool, error) {
	return s.store.DeactivatePromoCode(ctx, strings.TrimSpace(code))
}

// DeleteExpiredPromoCodes удаляет просроченные коды
func (s *Service) DeleteExpiredPromoCodes(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredPromoCodes(ctx, s.now())
}
