package main

import (
	"context"
	"flag"
	"log"
	"time"

	"promo-telegram-bot/internal/config"
	"promo-telegram-bot/internal/database"
	"promo-telegram-bot/internal/handlers"
	"promo-telegram-bot/internal/service"

	tele "gopkg.in/telebot.v3"
)

func main() {
	// Парсим флаги
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrationsPath := flag.String("migrations", "db/migrations", "path to migrations directory")
	flag.Parse()

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Подключаемся к базе данных используя DATABASE_URL
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Выполняем миграции из SQL файлов
	ctx := context.Background()
	if err := db.RunMigrations(ctx, *migrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("✅ Database migrations completed")

	// Создаём сервис
	svc := service.New(db, cfg.Telegram.SuperAdminID, cfg.Bot.MaxCodeLength)

	// Настраиваем бота
	pref := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	// Проверка подписки на канал с кэшем
	checker := service.NewSubscriptionChecker(bot, cfg.Telegram.ChannelID, cfg.SubscriptionCacheTTL())

	// Рассылка с кулдауном
	broadcaster := service.NewBroadcaster(cfg.MessageDelay(), cfg.BroadcastCooldown())

	// Кэш file_id загруженных фотографий
	photos := service.NewPhotoCache(cfg.Photos.Dir, cfg.Photos.CacheFile)
	if err := photos.Load(); err != nil {
		log.Printf("⚠️ Photo cache not loaded: %v", err)
	}

	// Регистрируем обработчики
	h := handlers.New(svc, checker, broadcaster, photos,
		cfg.Telegram.ChannelUsername, cfg.Telegram.NotifyChatID)
	h.Register(bot)
	h.RegisterAdmin(bot)

	// Фоновая очистка просроченных промокодов
	sweepInterval := time.Duration(cfg.Bot.PromoSweepIntervalHours) * time.Hour
	sweeper := service.NewSweeper(svc, sweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	// Команды в меню Telegram: общий список и расширенный для главного админа
	if err := bot.SetCommands([]tele.Command{
		{Text: "start", Description: "Главное меню"},
		{Text: "help", Description: "Помощь"},
	}); err != nil {
		log.Printf("⚠️ Failed to set commands: %v", err)
	}
	adminScope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: cfg.Telegram.SuperAdminID}
	if err := bot.SetCommands([]tele.Command{
		{Text: "start", Description: "Главное меню"},
		{Text: "help", Description: "Помощь"},
		{Text: "admin", Description: "Панель администратора"},
		{Text: "promo", Description: "Промокоды"},
		{Text: "broadcast", Description: "Рассылка"},
	}, adminScope); err != nil {
		log.Printf("⚠️ Failed to set admin commands: %v", err)
	}

	log.Printf("🎮 Bot @%s started!", bot.Me.Username)
	log.Printf("👑 Super admin ID: %d", cfg.Telegram.SuperAdminID)
	bot.Start()
}
