package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"promo-telegram-bot/internal/database"
	"promo-telegram-bot/internal/models"
)

// fakeStore хранилище в памяти для тестов
type fakeStore struct {
	users        map[int64]*models.User
	promos       map[string]*models.PromoCode
	usage        map[int64]map[string]time.Time
	lastReceived map[int64]time.Time
	admins       map[int64]*models.Admin

	// includeUsed имитирует отставшую выборку: уже использованный код
	// всё ещё виден как доступный
	includeUsed bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[int64]*models.User),
		promos:       make(map[string]*models.PromoCode),
		usage:        make(map[int64]map[string]time.Time),
		lastReceived: make(map[int64]time.Time),
		admins:       make(map[int64]*models.Admin),
	}
}

func (f *fakeStore) SaveUser(ctx context.Context, telegramID int64, firstName, username string) (*models.User, error) {
	u := &models.User{TelegramID: telegramID, FirstName: firstName, Username: username}
	f.users[telegramID] = u
	return u, nil
}

func (f *fakeStore) UserExists(ctx context.Context, telegramID int64) (bool, error) {
	_, ok := f.users[telegramID]
	return ok, nil
}

func (f *fakeStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	u, ok := f.users[telegramID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetAllUserTelegramIDs(ctx context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int64, error) {
	return int64(len(f.users)), nil
}

func (f *fakeStore) CreatePromoCode(ctx context.Context, code string, expiresAt time.Time) (*models.PromoCode, error) {
	if _, ok := f.promos[code]; ok {
		return nil, database.ErrAlreadyExists
	}
	p := &models.PromoCode{Code: code, ExpiresAt: expiresAt, IsActive: true}
	f.promos[code] = p
	return p, nil
}

func (f *fakeStore) GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	p, ok := f.promos[code]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetActivePromoCodes(ctx context.Context, telegramID int64, now time.Time) ([]*models.PromoCode, error) {
	var out []*models.PromoCode
	for _, p := range f.promos {
		if !p.IsActive || p.Expired(now) {
			continue
		}
		if _, used := f.usage[telegramID][p.Code]; used && !f.includeUsed {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetAllPromoCodes(ctx context.Context) ([]*models.PromoCode, error) {
	var out []*models.PromoCode
	for _, p := range f.promos {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) DeletePromoCode(ctx context.Context, code string) (bool, error) {
	_, ok := f.promos[code]
	delete(f.promos, code)
	return ok, nil
}

func (f *fakeStore) DeactivatePromoCode(ctx context.Context, code string) (bool, error) {
	p, ok := f.promos[code]
	if ok {
		p.IsActive = false
	}
	return ok, nil
}

func (f *fakeStore) DeleteExpiredPromoCodes(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for code, p := range f.promos {
		if p.Expired(now) {
			delete(f.promos, code)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RecordPromoUsage(ctx context.Context, telegramID int64, code string, receivedAt time.Time) error {
	if _, used := f.usage[telegramID][code]; used {
		return database.ErrAlreadyExists
	}
	if f.usage[telegramID] == nil {
		f.usage[telegramID] = make(map[string]time.Time)
	}
	f.usage[telegramID][code] = receivedAt
	f.lastReceived[telegramID] = receivedAt
	return nil
}

func (f *fakeStore) LastPromoReceivedAt(ctx context.Context, telegramID int64) (time.Time, error) {
	return f.lastReceived[telegramID], nil
}

func (f *fakeStore) AddAdmin(ctx context.Context, telegramID int64, firstName, username string, addedBy int64) error {
	if _, ok := f.admins[telegramID]; ok {
		return database.ErrAlreadyExists
	}
	f.admins[telegramID] = &models.Admin{TelegramID: telegramID, FirstName: firstName, Username: username, AddedBy: addedBy}
	return nil
}

func (f *fakeStore) RemoveAdmin(ctx context.Context, telegramID int64) (bool, error) {
	_, ok := f.admins[telegramID]
	delete(f.admins, telegramID)
	return ok, nil
}

func (f *fakeStore) IsAdmin(ctx context.Context, telegramID int64) (bool, error) {
	_, ok := f.admins[telegramID]
	return ok, nil
}

func (f *fakeStore) GetAllAdmins(ctx context.Context) ([]*models.Admin, error) {
	var out []*models.Admin
	for _, a := range f.admins {
		out = append(out, a)
	}
	return out, nil
}

const superAdminID int64 = 100

func newTestService(store *fakeStore, now time.Time) *Service {
	svc := New(store, superAdminID, 50)
	svc.now = func() time.Time { return now }
	svc.pick = func(n int) int { return 0 }
	return svc
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "wednesday",
			in:   time.Date(2026, 1, 7, 15, 30, 0, 0, time.UTC),
			want: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "monday midnight",
			in:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday late",
			in:   time.Date(2026, 1, 11, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := weekStart(tt.in); !got.Equal(tt.want) {
				t.Errorf("weekStart(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestIssuePromo(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC) // среда
	expiry := now.AddDate(0, 0, 30)

	t.Run("issues available code", func(t *testing.T) {
		store := newFakeStore()
		store.CreatePromoCode(ctx, "GAME10", expiry)
		svc := newTestService(store, now)

		promo, reason, err := svc.IssuePromo(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reason != models.IssueOK {
			t.Fatalf("reason = %q, want %q", reason, models.IssueOK)
		}
		if promo.Code != "GAME10" {
			t.Errorf("code = %q, want GAME10", promo.Code)
		}
		if _, used := store.usage[1]["GAME10"]; !used {
			t.Error("usage was not recorded")
		}
	})

	t.Run("rejects second request same week", func(t *testing.T) {
		store := newFakeStore()
		store.CreatePromoCode(ctx, "GAME10", expiry)
		store.CreatePromoCode(ctx, "GAME20", expiry)
		svc := newTestService(store, now)

		if _, _, err := svc.IssuePromo(ctx, 1); err != nil {
			t.Fatalf("first issue: %v", err)
		}
		promo, reason, err := svc.IssuePromo(ctx, 1)
		if err != nil {
			t.Fatalf("second issue: %v", err)
		}
		if promo != nil || reason != models.IssueAlreadyReceived {
			t.Errorf("got (%v, %q), want (nil, %q)", promo, reason, models.IssueAlreadyReceived)
		}
	})

	t.Run("allows again next week", func(t *testing.T) {
		store := newFakeStore()
		store.CreatePromoCode(ctx, "GAME10", expiry)
		store.CreatePromoCode(ctx, "GAME20", expiry)
		svc := newTestService(store, now)

		if _, _, err := svc.IssuePromo(ctx, 1); err != nil {
			t.Fatalf("first issue: %v", err)
		}

		// Понедельник следующей недели
		svc.now = func() time.Time { return time.Date(2026, 1, 12, 0, 0, 1, 0, time.UTC) }
		promo, reason, err := svc.IssuePromo(ctx, 1)
		if err != nil {
			t.Fatalf("next week issue: %v", err)
		}
		if reason != models.IssueOK || promo == nil {
			t.Errorf("got (%v, %q), want a code with %q", promo, reason, models.IssueOK)
		}
	})

	t.Run("no codes available", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, now)

		promo, reason, err := svc.IssuePromo(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if promo != nil || reason != models.IssueNoPromo {
			t.Errorf("got (%v, %q), want (nil, %q)", promo, reason, models.IssueNoPromo)
		}
	})

	t.Run("empty pool beats weekly limit", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, now)

		// Код на этой неделе уже получен, но доступных кодов нет
		store.lastReceived[1] = now.Add(-time.Hour)

		ok, reason, err := svc.CanIssue(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok || reason != models.IssueNoPromo {
			t.Errorf("CanIssue = (%v, %q), want (false, %q)", ok, reason, models.IssueNoPromo)
		}
	})

	t.Run("expired and inactive codes are skipped", func(t *testing.T) {
		store := newFakeStore()
		store.CreatePromoCode(ctx, "OLD", now.Add(-time.Hour))
		store.CreatePromoCode(ctx, "OFF", expiry)
		store.promos["OFF"].IsActive = false
		svc := newTestService(store, now)

		_, reason, err := svc.IssuePromo(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reason != models.IssueNoPromo {
			t.Errorf("reason = %q, want %q", reason, models.IssueNoPromo)
		}
	})

	t.Run("duplicate usage race maps to already received", func(t *testing.T) {
		store := newFakeStore()
		store.CreatePromoCode(ctx, "GAME10", expiry)
		svc := newTestService(store, now)

		// Выдача уже записана, но выборка доступных кодов её ещё не
		// видит, имитируя гонку двух параллельных запросов.
		store.usage[1] = map[string]time.Time{"GAME10": now}
		store.includeUsed = true

		promo, reason, err := svc.IssuePromo(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if promo != nil || reason != models.IssueAlreadyReceived {
			t.Errorf("got (%v, %q), want (nil, %q)", promo, reason, models.IssueAlreadyReceived)
		}
	})
}

func TestValidateCode(t *testing.T) {
	svc := newTestService(newFakeStore(), time.Now())

	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"valid", "GAME10", false},
		{"empty", "", true},
		{"only spaces", "   ", true},
		{"inner space", "GAME 10", true},
		{"tab", "GAME\t10", true},
		{"too long", strings.Repeat("A", 51), true},
		{"max length", strings.Repeat("A", 50), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ValidateCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestCreatePromoCode(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	svc := newTestService(store, now)

	promo, err := svc.CreatePromoCode(ctx, "  GAME10  ", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if promo.Code != "GAME10" {
		t.Errorf("code = %q, want trimmed GAME10", promo.Code)
	}
	want := now.AddDate(0, 0, 30)
	if !promo.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", promo.ExpiresAt, want)
	}

	if _, err := svc.CreatePromoCode(ctx, "GAME10", 30); !errors.Is(err, database.ErrAlreadyExists) {
		t.Errorf("duplicate create error = %v, want ErrAlreadyExists", err)
	}
}

func TestCreatePromoCodeWithExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newFakeStore(), now)

	if _, err := svc.CreatePromoCodeWithExpiry(ctx, "GAME10", now.Add(-time.Minute)); !errors.Is(err, ErrPastExpiry) {
		t.Errorf("error = %v, want ErrPastExpiry", err)
	}
	if _, err := svc.CreatePromoCodeWithExpiry(ctx, "GAME10", now.Add(time.Hour)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestImportPromoCodes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	expiry := now.AddDate(0, 0, 7)

	t.Run("mixed input", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, now)

		input := strings.Join([]string{
			"GAME10",
			"",
			"GAME20",
			"GAME10", // дубликат в файле
			strings.Repeat("X", 51),
			"  GAME30  ",
		}, "\n")

		result, err := svc.ImportPromoCodes(ctx, strings.NewReader(input), expiry)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Added != 3 || result.Skipped != 1 || result.Rejected != 1 {
			t.Errorf("result = %+v, want Added=3 Skipped=1 Rejected=1", result)
		}
		if len(store.promos) != 3 {
			t.Errorf("stored %d codes, want 3", len(store.promos))
		}
	})

	t.Run("past expiry is rejected", func(t *testing.T) {
		store := newFakeStore()
		svc := newTestService(store, now)

		_, err := svc.ImportPromoCodes(ctx, strings.NewReader("GAME10\n"), now.Add(-time.Minute))
		if !errors.Is(err, ErrPastExpiry) {
			t.Errorf("error = %v, want ErrPastExpiry", err)
		}
		if len(store.promos) != 0 {
			t.Errorf("stored %d codes, want 0", len(store.promos))
		}
	})

	t.Run("existing codes are skipped", func(t *testing.T) {
		store := newFakeStore()
		store.CreatePromoCode(ctx, "GAME10", expiry)
		svc := newTestService(store, now)

		result, err := svc.ImportPromoCodes(ctx, strings.NewReader("GAME10\nGAME20\n"), expiry)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Added != 1 || result.Skipped != 1 {
			t.Errorf("result = %+v, want Added=1 Skipped=1", result)
		}
	})
}

func TestAdminPermissions(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := newTestService(store, time.Now())

	t.Run("super admin is always admin", func(t *testing.T) {
		ok, err := svc.IsAdmin(ctx, superAdminID)
		if err != nil || !ok {
			t.Errorf("IsAdmin(super) = (%v, %v), want (true, nil)", ok, err)
		}
	})

	t.Run("only super admin adds admins", func(t *testing.T) {
		if err := svc.AddAdmin(ctx, 2, 3, "", ""); !errors.Is(err, ErrNotAllowed) {
			t.Errorf("AddAdmin by non-super error = %v, want ErrNotAllowed", err)
		}
		if err := svc.AddAdmin(ctx, superAdminID, 3, "Ivan", "ivan"); err != nil {
			t.Fatalf("AddAdmin by super: %v", err)
		}
		ok, _ := svc.IsAdmin(ctx, 3)
		if !ok {
			t.Error("added admin is not recognized")
		}
	})

	t.Run("adding super admin is rejected", func(t *testing.T) {
		if err := svc.AddAdmin(ctx, superAdminID, superAdminID, "", ""); !errors.Is(err, database.ErrAlreadyExists) {
			t.Errorf("error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("super admin cannot be removed", func(t *testing.T) {
		if _, err := svc.RemoveAdmin(ctx, superAdminID, superAdminID); !errors.Is(err, ErrNotAllowed) {
			t.Errorf("error = %v, want ErrNotAllowed", err)
		}
	})

	t.Run("remove existing admin", func(t *testing.T) {
		removed, err := svc.RemoveAdmin(ctx, superAdminID, 3)
		if err != nil || !removed {
			t.Errorf("RemoveAdmin = (%v, %v), want (true, nil)", removed, err)
		}
		removed, err = svc.RemoveAdmin(ctx, superAdminID, 3)
		if err != nil || removed {
			t.Errorf("second RemoveAdmin = (%v, %v), want (false, nil)", removed, err)
		}
	})
}

func TestDeleteExpiredPromoCodes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.CreatePromoCode(ctx, "OLD1", now.Add(-time.Hour))
	store.CreatePromoCode(ctx, "OLD2", now.Add(-time.Minute))
	store.CreatePromoCode(ctx, "FRESH", now.Add(time.Hour))
	svc := newTestService(store, now)

	n, err := svc.DeleteExpiredPromoCodes(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if _, ok := store.promos["FRESH"]; !ok {
		t.Error("fresh code was deleted")
	}
}
