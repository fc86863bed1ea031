package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"promo-telegram-bot/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyExists возвращается при нарушении уникальности (код 23505)
var ErrAlreadyExists = errors.New("already exists")

// ErrNotFound возвращается, когда запись не найдена
var ErrNotFound = errors.New("not found")

// DB обёртка над пулом соединений PostgreSQL
type DB struct {
	Pool *pgxpool.Pool
}

// New создаёт новое подключение к БД используя DATABASE_URL
func New(databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close закрывает пул соединений
func (db *DB) Close() {
	db.Pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RunMigrations выполняет SQL миграции из указанной директории
func (db *DB) RunMigrations(ctx context.Context, migrationsDir string) error {
	// Ensure schema_migrations table exists
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	// Read migration files
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Filter and sort SQL files
	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	// Apply each migration
	for _, filename := range migrationFiles {
		version := strings.TrimSuffix(filename, ".sql")

		// Check if migration already applied
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", version, err)
		}

		if exists {
			continue // Skip already applied migration
		}

		// Read and execute migration file
		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		// Execute migration in a transaction
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", version, err)
		}

		_, err = tx.Exec(ctx, string(content))
		if err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", version, err)
		}

		// Record migration
		_, err = tx.Exec(ctx,
			"INSERT INTO schema_migrations (version) VALUES ($1)",
			version,
		)
		if err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", version, err)
		}

		fmt.Printf("✅ Applied migration: %s\n", version)
	}

	return nil
}

// === User Methods ===

// SaveUser создаёт или обновляет пользователя
func (db *DB) SaveUser(ctx context.Context, telegramID int64, firstName, username string) (*models.User, error) {
	var user models.User

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO users (telegram_id, first_name, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO UPDATE
			SET first_name = EXCLUDED.first_name, username = EXCLUDED.username
		RETURNING telegram_id, first_name, username, created_at
	`, telegramID, firstName, username).Scan(&user.TelegramID, &user.FirstName, &user.Username, &user.CreatedAt)

	if err != nil {
		return nil, err
	}

	return &user, nil
}

// UserExists проверяет существует ли пользователь
func (db *DB) UserExists(ctx context.Context, telegramID int64) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE telegram_id = $1)
	`, telegramID).Scan(&exists)
	return exists, err
}

// GetUserByTelegramID получает пользователя по Telegram ID
func (db *DB) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT telegram_id, first_name, username, created_at
		FROM users WHERE telegram_id = $1
	`, telegramID).Scan(&user.TelegramID, &user.FirstName, &user.Username, &user.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// GetUserByUsername получает пользователя по username без @
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT telegram_id, first_name, username, created_at
		FROM users WHERE username = $1
	`, username).Scan(&user.TelegramID, &user.FirstName, &user.Username, &user.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// GetAllUserTelegramIDs возвращает все telegram_id для рассылки
func (db *DB) GetAllUserTelegramIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.Pool.Query(ctx, `SELECT telegram_id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CountUsers возвращает количество пользователей
func (db *DB) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// ================= PROMO CODES =================

// CreatePromoCode создаёт новый промокод
func (db *DB) CreatePromoCode(ctx context.Context, code string, expiresAt time.Time) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO promo_codes (code, expires_at)
		VALUES ($1, $2)
		RETURNING code, expires_at, is_active, created_at
	`, code, expiresAt).Scan(&promo.Code, &promo.ExpiresAt, &promo.IsActive, &promo.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// GetPromoByCode получает промокод по коду
func (db *DB) GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := db.Pool.QueryRow(ctx, `
		SELECT code, expires_at, is_active, created_at
		FROM promo_codes WHERE code = $1
	`, code).Scan(&promo.Code, &promo.ExpiresAt, &promo.IsActive, &promo.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// GetActivePromoCodes возвращает активные непросроченные коды,
// которые пользователь ещё не получал
func (db *DB) GetActivePromoCodes(ctx context.Context, telegramID int64, now time.Time) ([]*models.PromoCode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT p.code, p.expires_at, p.is_active, p.created_at
		FROM promo_codes p
		WHERE p.is_active = TRUE
		  AND p.expires_at > $2
		  AND NOT EXISTS (
			SELECT 1 FROM promo_usage u
			WHERE u.promo_code = p.code AND u.telegram_id = $1
		  )
		ORDER BY p.created_at
	`, telegramID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promos []*models.PromoCode
	for rows.Next() {
		var promo models.PromoCode
		if err := rows.Scan(&promo.Code, &promo.ExpiresAt, &promo.IsActive, &promo.CreatedAt); err != nil {
			return nil, err
		}
		promos = append(promos, &promo)
	}
	return promos, rows.Err()
}

// GetAllPromoCodes получает все промокоды
func (db *DB) GetAllPromoCodes(ctx context.Context) ([]*models.PromoCode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT code, expires_at, is_active, created_at
		FROM promo_codes ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promos []*models.PromoCode
	for rows.Next() {
		var promo models.PromoCode
		if err := rows.Scan(&promo.Code, &promo.ExpiresAt, &promo.IsActive, &promo.CreatedAt); err != nil {
			return nil, err
		}
		promos = append(promos, &promo)
	}
	return promos, rows.Err()
}

// DeletePromoCode удаляет промокод вместе с записями о выдаче.
// Возвращает true, если код существовал.
func (db *DB) DeletePromoCode(ctx context.Context, code string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM promo_codes WHERE code = $1`, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivatePromoCode отключает промокод, не удаляя историю выдачи.
// Возвращает true, если код существовал.
func (db *DB) DeactivatePromoCode(ctx context.Context, code string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE promo_codes SET is_active = FALSE WHERE code = $1
	`, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpiredPromoCodes удаляет коды с истёкшим сроком действия.
// Возвращает количество удалённых.
func (db *DB) DeleteExpiredPromoCodes(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM promo_codes WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ================= PROMO USAGE =================

// RecordPromoUsage фиксирует выдачу кода пользователю.
// Повторная выдача того же кода возвращает ErrAlreadyExists.
func (db *DB) RecordPromoUsage(ctx context.Context, telegramID int64, code string, receivedAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO promo_usage (telegram_id, promo_code, received_at)
		VALUES ($1, $2, $3)
	`, telegramID, code, receivedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// LastPromoReceivedAt возвращает время последней выдачи кода пользователю.
// Если выдач не было, возвращает нулевое время без ошибки.
func (db *DB) LastPromoReceivedAt(ctx context.Context, telegramID int64) (time.Time, error) {
	var last time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT received_at FROM promo_usage
		WHERE telegram_id = $1
		ORDER BY received_at DESC LIMIT 1
	`, telegramID).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	return last, err
}

// ================= ADMINS =================

// AddAdmin добавляет администратора
func (db *DB) AddAdmin(ctx context.Context, telegramID int64, firstName, username string, addedBy int64) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO admins (telegram_id, first_name, username, added_by)
		VALUES ($1, $2, $3, $4)
	`, telegramID, firstName, username, addedBy)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// RemoveAdmin удаляет администратора. Возвращает true, если запись была.
func (db *DB) RemoveAdmin(ctx context.Context, telegramID int64) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM admins WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IsAdmin проверяет, есть ли пользователь в таблице администраторов
func (db *DB) IsAdmin(ctx context.Context, telegramID int64) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM admins WHERE telegram_id = $1)
	`, telegramID).Scan(&exists)
	return exists, err
}

// GetAllAdmins возвращает всех администраторов
func (db *DB) GetAllAdmins(ctx context.Context) ([]*models.Admin, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT telegram_id, first_name, username, added_by, added_at
		FROM admins ORDER BY added_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []*models.Admin
	for rows.Next() {
		var a models.Admin
		if err := rows.Scan(&a.TelegramID, &a.FirstName, &a.Username, &a.AddedBy, &a.AddedAt); err != nil {
			return nil, err
		}
		admins = append(admins, &a)
	}
	return admins, rows.Err()
}
