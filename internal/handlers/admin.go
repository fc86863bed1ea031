package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"promo-telegram-bot/internal/database"
	"promo-telegram-bot/internal/service"

	tele "gopkg.in/telebot.v3"
)

// adminState шаг диалога администратора
type adminState int

const (
	stateIdle adminState = iota
	stateAwaitingPromoCode
	stateAwaitingPromoDays
	stateAwaitingPromoFile
	stateAwaitingFileExpiryDate
	stateAwaitingFileExpiryTime
	stateAwaitingBroadcastText
	stateAwaitingBroadcastPhoto
	stateAwaitingBroadcastConfirm
	stateAwaitingAdminID
)

const maxImportFileSize = 1 << 20

// adminSession данные текущего диалога администратора
type adminSession struct {
	state adminState

	promoCode      string // код, ожидающий срока действия
	fileContent    []byte // содержимое загруженного файла с кодами
	fileExpiryDate string // дата ДД.ММ.ГГГГ, ожидающая времени

	broadcastText    string
	broadcastPhotoID string
}

// adminSessionStore сессии всех администраторов
type adminSessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*adminSession
}

var adminSessions = &adminSessionStore{
	sessions: make(map[int64]*adminSession),
}

func (s *adminSessionStore) get(adminID int64) *adminSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[adminID]
	if !ok {
		sess = &adminSession{}
		s.sessions[adminID] = sess
	}
	return sess
}

func (s *adminSessionStore) reset(adminID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, adminID)
}

// textTransitions переходы диалога по текстовому вводу.
// Фото и файлы обрабатываются отдельными диспетчерами OnPhoto/OnDocument.
var textTransitions = map[adminState]func(*Handler, tele.Context, *adminSession) error{
	stateAwaitingPromoCode:      (*Handler).onPromoCodeInput,
	stateAwaitingPromoDays:      (*Handler).onPromoDaysInput,
	stateAwaitingFileExpiryDate: (*Handler).onFileExpiryDateInput,
	stateAwaitingFileExpiryTime: (*Handler).onFileExpiryTimeInput,
	stateAwaitingBroadcastText:  (*Handler).onBroadcastTextInput,
	stateAwaitingAdminID:        (*Handler).onAdminIDInput,
}

// AdminMiddleware пропускает только администраторов
func (h *Handler) AdminMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			ok, err := h.svc.IsAdmin(context.Background(), c.Sender().ID)
			if err != nil {
				log.Printf("Admin check failed for %d: %v", c.Sender().ID, err)
				return c.Send("❌ Ошибка проверки прав. Попробуйте позже.")
			}
			if !ok {
				return c.Send("❌ Доступ запрещён. Эта команда доступна только администраторам.")
			}
			return next(c)
		}
	}
}

func (h *Handler) isAdmin(userID int64) bool {
	ok, err := h.svc.IsAdmin(context.Background(), userID)
	if err != nil {
		log.Printf("Admin check failed for %d: %v", userID, err)
		return false
	}
	return ok
}

// RegisterAdmin регистрирует админ-обработчики и диспетчер ввода
func (h *Handler) RegisterAdmin(b *tele.Bot) {
	adminGroup := b.Group()
	adminGroup.Use(h.AdminMiddleware())

	adminGroup.Handle("/admin", h.HandleAdmin)
	adminGroup.Handle("/promo", h.HandleAdminPromo)
	adminGroup.Handle("/broadcast", h.HandleBroadcastStart)

	adminGroup.Handle(&tele.Btn{Unique: "admin_back"}, h.HandleAdmin)
	adminGroup.Handle(&tele.Btn{Unique: "admin_cancel"}, h.HandleAdminCancel)
	adminGroup.Handle(&tele.Btn{Unique: "admin_stats"}, h.HandleAdminStats)

	// Промокоды
	adminGroup.Handle(&tele.Btn{Unique: "admin_promo"}, h.HandleAdminPromo)
	adminGroup.Handle(&tele.Btn{Unique: "admin_promo_create"}, h.HandleAdminPromoCreate)
	adminGroup.Handle(&tele.Btn{Unique: "admin_promo_import"}, h.HandleAdminPromoImport)
	adminGroup.Handle(&tele.Btn{Unique: "admin_promo_list"}, h.HandleAdminPromoList)
	adminGroup.Handle(&tele.Btn{Unique: "admin_promo_del"}, h.HandleAdminPromoDelete)
	adminGroup.Handle(&tele.Btn{Unique: "admin_promo_off"}, h.HandleAdminPromoDeactivate)

	// Рассылка
	adminGroup.Handle(&tele.Btn{Unique: "admin_broadcast"}, h.HandleBroadcastStart)
	adminGroup.Handle(&tele.Btn{Unique: "bc_add_photo"}, h.HandleBroadcastAddPhoto)
	adminGroup.Handle(&tele.Btn{Unique: "bc_no_photo"}, h.HandleBroadcastNoPhoto)
	adminGroup.Handle(&tele.Btn{Unique: "bc_confirm"}, h.HandleBroadcastConfirm)

	// Администраторы
	adminGroup.Handle(&tele.Btn{Unique: "admin_admins"}, h.HandleAdminList)
	adminGroup.Handle(&tele.Btn{Unique: "admin_add"}, h.HandleAdminAddStart)
	adminGroup.Handle(&tele.Btn{Unique: "admin_remove"}, h.HandleAdminRemove)

	b.Handle(tele.OnText, func(c tele.Context) error {
		userID := c.Sender().ID

		// Бронь и отзывы доступны всем
		if mode := GetUserInputMode(userID); mode != inputNone {
			return h.HandleUserText(c, mode)
		}

		if !h.isAdmin(userID) {
			return nil
		}

		sess := adminSessions.get(userID)
		if fn, ok := textTransitions[sess.state]; ok {
			return fn(h, c, sess)
		}
		return nil
	})

	b.Handle(tele.OnPhoto, func(c tele.Context) error {
		if !h.isAdmin(c.Sender().ID) {
			return nil
		}

		sess := adminSessions.get(c.Sender().ID)
		if sess.state != stateAwaitingBroadcastPhoto {
			return nil
		}
		return h.onBroadcastPhotoInput(c, sess)
	})

	b.Handle(tele.OnDocument, func(c tele.Context) error {
		if !h.isAdmin(c.Sender().ID) {
			return nil
		}

		sess := adminSessions.get(c.Sender().ID)
		if sess.state != stateAwaitingPromoFile {
			return nil
		}
		return h.onPromoFileInput(c, sess)
	})
}

// ================= ADMIN PANEL =================

// HandleAdmin показывает админ-панель
func (h *Handler) HandleAdmin(c tele.Context) error {
	adminSessions.reset(c.Sender().ID)

	text := `👮 *Панель администратора*

Выберите раздел:`

	menu := &tele.ReplyMarkup{}
	rows := []tele.Row{
		menu.Row(
			menu.Data("🎟 Промокоды", "admin_promo"),
			menu.Data("📢 Рассылка", "admin_broadcast"),
		),
		menu.Row(menu.Data("📊 Статистика", "admin_stats")),
	}
	if h.svc.IsSuperAdmin(c.Sender().ID) {
		rows = append(rows, menu.Row(menu.Data("👮 Администраторы", "admin_admins")))
	}
	menu.Inline(rows...)

	if c.Callback() != nil {
		return c.Edit(text, menu, tele.ModeMarkdown)
	}
	return c.Send(text, menu, tele.ModeMarkdown)
}

// HandleAdminCancel сбрасывает диалог с любого шага
func (h *Handler) HandleAdminCancel(c tele.Context) error {
	adminSessions.reset(c.Sender().ID)
	return h.HandleAdmin(c)
}

// HandleAdminStats показывает счётчики бота
func (h *Handler) HandleAdminStats(c tele.Context) error {
	ctx := context.Background()

	users, err := h.svc.CountUsers(ctx)
	if err != nil {
		log.Printf("Error counting users: %v", err)
		return c.Send("❌ Ошибка получения статистики")
	}

	codes, err := h.svc.GetAllPromoCodes(ctx)
	if err != nil {
		log.Printf("Error loading promo codes: %v", err)
		return c.Send("❌ Ошибка получения статистики")
	}

	active := 0
	now := time.Now()
	for _, p := range codes {
		if p.IsActive && !p.Expired(now) {
			active++
		}
	}

	text := fmt.Sprintf(`📊 *Статистика*

👥 Пользователей: *%d*
🎟 Промокодов всего: *%d*
✅ Активных: *%d*`, users, len(codes), active)

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("🔄 Обновить", "admin_stats")),
		menu.Row(menu.Data("⬅️ Назад", "admin_back")),
	)

	if c.Callback() != nil {
		return c.Edit(text, menu, tele.ModeMarkdown)
	}
	return c.Send(text, menu, tele.ModeMarkdown)
}

// ================= PROMO MANAGEMENT =================

// HandleAdminPromo показывает меню промокодов
func (h *Handler) HandleAdminPromo(c tele.Context) error {
	adminSessions.reset(c.Sender().ID)

	text := `🎟 *Промокоды*

Выберите действие:`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(
			menu.Data("➕ Создать", "admin_promo_create"),
			menu.Data("📄 Импорт из файла", "admin_promo_import"),
		),
		menu.Row(menu.Data("📋 Список кодов", "admin_promo_list")),
		menu.Row(menu.Data("⬅️ Назад", "admin_back")),
	)

	if c.Callback() != nil {
		return c.Edit(text, menu, tele.ModeMarkdown)
	}
	return c.Send(text, menu, tele.ModeMarkdown)
}

// HandleAdminPromoCreate начинает создание кода
func (h *Handler) HandleAdminPromoCreate(c tele.Context) error {
	sess := adminSessions.get(c.Sender().ID)
	sess.state = stateAwaitingPromoCode

	text := `➕ *Новый промокод*

Введите код (без пробелов, до 50 символов):`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("❌ Отмена", "admin_cancel")),
	)

	if c.Callback() != nil {
		return c.Edit(text, menu, tele.ModeMarkdown)
	}
	return c.Send(text, menu, tele.ModeMarkdown)
}

func (h *Handler) onPromoCodeInput(c tele.Context, sess *adminSession) error {
	code := strings.TrimSpace(c.Text())
	if err := h.svc.ValidateCode(code); err != nil {
		return c.Send(fmt.Sprintf("❌ Некорректный код: %v. Попробуйте ещё раз.", err))
	}

	sess.promoCode = code
	sess.state = stateAwaitingPromoDays

	return c.Send(fmt.Sprintf("Код `%s` принят.\n\nВведите срок действия в днях (например, 30):", code), tele.ModeMarkdown)
}

func (h *Handler) onPromoDaysInput(c tele.Context, sess *adminSession) error {
	days, err := strconv.Atoi(strings.TrimSpace(c.Text()))
	if err != nil || days <= 0 {
		return c.Send("❌ Введите положительное число дней.")
	}

	promo, err := h.svc.CreatePromoCode(context.Background(), sess.promoCode, days)
	adminSessions.reset(c.Sender().ID)

	if errors.Is(err, database.ErrAlreadyExists) {
		return c.Send(fmt.Sprintf("⚠️ Код `%s` уже существует.", sess.promoCode), tele.ModeMarkdown)
	}
	if err != nil {
		log.Printf("Error creating promo code: %v", err)
		return c.Send("❌ Ошибка создания кода.")
	}

	log.Printf("✅ Promo %s created by admin %d", promo.Code, c.Sender().ID)

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("➕ Ещё код", "admin_promo_create")),
		menu.Row(menu.Data("⬅️ В панель", "admin_back")),
	)
	return c.Send(fmt.Sprintf("✅ Код `%s` создан.\n⏳ Действует до: *%s*",
		promo.Code, promo.ExpiresAt.Format("02.01.2006 15:04")), menu, tele.ModeMarkdown)
}

// HandleAdminPromoImport начинает импорт кодов из файла
func (h *Handler) HandleAdminPromoImport(c tele.Context) error {
	sess := adminSessions.get(c.Sender().ID)
	sess.state = stateAwaitingPromoFile

	text := `📄 *Импорт промокодов*

Пришлите .txt файл: один код на строку.
Пустые строки пропускаются, дубликаты не добавляются.`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("❌ Отмена", "admin_cancel")),
	)

	if c.Callback() != nil {
		return c.Edit(text, menu, tele.ModeMarkdown)
	}
	return c.Send(text, menu, tele.ModeMarkdown)
}

func (h *Handler) onPromoFileInput(c tele.Context, sess *adminSession) error {
	doc := c.Message().Document
	if doc == nil {
		return c.Send("❌ Пришлите файл с кодами.")
	}
	if doc.FileSize > maxImportFileSize {
		return c.Send("❌ Файл слишком большой (лимит 1 МБ).")
	}

	rc, err := c.Bot().File(&doc.File)
	if err != nil {
		log.Printf("Error downloading promo file: %v", err)
		return c.Send("❌ Не удалось скачать файл. Попробуйте ещё раз.")
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxImportFileSize))
	if err != nil {
		log.Printf("Error reading promo file: %v", err)
		return c.Send("❌ Не удалось прочитать файл. Попробуйте ещё раз.")
	}

	sess.fileContent = content
	sess.state = stateAwaitingFileExpiryDate

	return c.Send("Файл получен.\n\nВведите дату истечения кодов в формате `ДД.ММ.ГГГГ`:", tele.ModeMarkdown)
}

func (h *Handler) onFileExpiryDateInput(c tele.Context, sess *adminSession) error {
	date := strings.TrimSpace(c.Text())
	if _, err := time.Parse("02.01.2006", date); err != nil {
		return c.Send("❌ Неверный формат даты. Пример: `31.12.2026`", tele.ModeMarkdown)
	}

	sess.fileExpiryDate = date
	sess.state = stateAwaitingFileExpiryTime

	return c.Send("Введите время истечения в формате `ЧЧ:ММ`:", tele.ModeMarkdown)
}

func (h *Handler) onFileExpiryTimeInput(c tele.Context, sess *adminSession) error {
	timeStr := strings.TrimSpace(c.Text())

	expiresAt, err := time.ParseInLocation("02.01.2006 15:04", sess.fileExpiryDate+" "+timeStr, time.Local)
	if err != nil {
		return c.Send("❌ Неверный формат времени. Пример: `23:59`", tele.ModeMarkdown)
	}

	result, err := h.svc.ImportPromoCodes(context.Background(), bytes.NewReader(sess.fileContent), expiresAt)
	if errors.Is(err, service.ErrPastExpiry) {
		// Остаёмся на этом шаге, админ вводит время заново
		return c.Send("❌ Дата истечения уже прошла. Введите время ещё раз.")
	}
	adminSessions.reset(c.Sender().ID)

	if err != nil {
		log.Printf("Error importing promo codes: %v", err)
		return c.Send("❌ Ошибка импорта кодов.")
	}

	log.Printf("📄 Promo import by admin %d: added=%d skipped=%d rejected=%d",
		c.Sender().ID, result.Added, result.Skipped, result.Rejected)

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("⬅️ В панель", "admin_back")),
	)
	return c.Send(fmt.Sprintf(`✅ *Импорт завершён*

➕ Добавлено: *%d*
⏭ Пропущено (дубликаты): *%d*
❌ Отклонено (некорректные): *%d*

⏳ Действуют до: *%s*`,
		result.Added, result.Skipped, result.Rejected,
		expiresAt.Format("02.01.2006 15:04")), menu, tele.ModeMarkdown)
}

// HandleAdminPromoList показывает все коды с кнопками управления
func (h *Handler) HandleAdminPromoList(c tele.Context) error {
	codes, err := h.svc.GetAllPromoCodes(context.Background())
	if err != nil {
		log.Printf("Error loading promo codes: %v", err)
		return c.Send("❌ Ошибка загрузки кодов")
	}

	if len(codes) == 0 {
		menu := &tele.ReplyMarkup{}
		menu.Inline(
			menu.Row(menu.Data("➕ Создать", "admin_promo_create")),
			menu.Row(menu.Data("⬅️ Назад", "admin_promo")),
		)
		text := "🎟 *Промокоды*\n\nКодов пока нет."
		if c.Callback() != nil {
			return c.Edit(text, menu, tele.ModeMarkdown)
		}
		return c.Send(text, menu, tele.ModeMarkdown)
	}

	var sb strings.Builder
	sb.WriteString("🎟 *Промокоды:*\n\n")

	now := time.Now()
	menu := &tele.ReplyMarkup{}
	var rows []tele.Row

	const listLimit = 20
	for i, p := range codes {
		if i >= listLimit {
			sb.WriteString(fmt.Sprintf("\n_... и ещё %d кодов_\n", len(codes)-listLimit))
			break
		}

		status := "✅"
		if !p.IsActive {
			status = "⏸"
		} else if p.Expired(now) {
			status = "⌛"
		}
		sb.WriteString(fmt.Sprintf("%s `%s` — до %s\n", status, p.Code, p.ExpiresAt.Format("02.01.2006")))

		rows = append(rows, menu.Row(
			menu.Data("⏸ "+p.Code, "admin_promo_off", p.Code),
			menu.Data("🗑 "+p.Code, "admin_promo_del", p.Code),
		))
	}

	rows = append(rows, menu.Row(menu.Data("⬅️ Назад", "admin_promo")))
	menu.Inline(rows...)

	if c.Callback() != nil {
		return c.Edit(sb.String(), menu, tele.ModeMarkdown)
	}
	return c.Send(sb.String(), menu, tele.ModeMarkdown)
}

// HandleAdminPromoDelete удаляет код вместе с историей выдачи
func (h *Handler) HandleAdminPromoDelete(c tele.Context) error {
	code := c.Callback().Data

	existed, err := h.svc.DeletePromoCode(context.Background(), code)
	if err != nil {
		log.Printf("Error deleting promo %s: %v", code, err)
		return c.Respond(&tele.CallbackResponse{Text: "❌ Ошибка удаления"})
	}
	if !existed {
		c.Respond(&tele.CallbackResponse{Text: "Код уже удалён"})
	} else {
		log.Printf("🗑 Promo %s deleted by admin %d", code, c.Sender().ID)
		c.Respond(&tele.CallbackResponse{Text: "✅ Код удалён"})
	}

	return h.HandleAdminPromoList(c)
}

// HandleAdminPromoDeactivate отключает код, сохраняя историю выдачи
func (h *Handler) HandleAdminPromoDeactivate(c tele.Context) error {
	code := c.Callback().Data

	existed, err := h.svc.DeactivatePromoCode(context.Background(), code)
	if err != nil {
		log.Printf("Error deactivating promo %s: %v", code, err)
		return c.Respond(&tele.CallbackResponse{Text: "❌ Ошибка"})
	}
	if !existed {
		c.Respond(&tele.CallbackResponse{Text: "Код не найден"})
	} else {
		c.Respond(&tele.CallbackResponse{Text: "⏸ Код отключён"})
	}

	return h.HandleAdminPromoList(c)
}

// ================= BROADCAST =================

// HandleBroadcastStart начинает составление рассылки
func (h *Handler) HandleBroadcastStart(c tele.Context) error {
	if remaining := h.broadcaster.CooldownRemaining(); remaining > 0 {
		return c.Send(fmt.Sprintf("⏳ Рассылка недавно выполнялась. Повторить можно через %s.",
			remaining.Round(time.Second)))
	}

	sess := adminSessions.get(c.Sender().ID)
	sess.state = stateAwaitingBroadcastText
	sess.broadcastText = ""
	sess.broadcastPhotoID = ""

	// Форма /broadcast <текст> сразу ведёт к подтверждению
	if msg := c.Message(); msg != nil && strings.TrimSpace(msg.Payload) != "" {
		sess.broadcastText = strings.TrimSpace(msg.Payload)
		sess.state = stateAwaitingBroadcastConfirm
		return h.showBroadcastConfirm(c, sess)
	}

	text := `📢 *Рассылка*

Введите текст сообщения, которое получат все пользователи:`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("❌ Отмена", "admin_cancel")),
	)

	if c.Callback() != nil {
		return c.Edit(text, menu, tele.ModeMarkdown)
	}
	return c.Send(text, menu, tele.ModeMarkdown)
}

func (h *Handler) onBroadcastTextInput(c tele.Context, sess *adminSession) error {
	text := strings.TrimSpace(c.Text())
	if text == "" {
		return c.Send("❌ Текст пустой. Введите сообщение.")
	}

	sess.broadcastText = text
	sess.state = stateAwaitingBroadcastConfirm

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("📷 Добавить фото", "bc_add_photo")),
		menu.Row(menu.Data("➡️ Без фото", "bc_no_photo")),
		menu.Row(menu.Data("❌ Отмена", "admin_cancel")),
	)

	return c.Send("Текст принят. Добавить фото к рассылке?", menu)
}

// HandleBroadcastAddPhoto переводит диалог в ожидание фото
func (h *Handler) HandleBroadcastAddPhoto(c tele.Context) error {
	sess := adminSessions.get(c.Sender().ID)
	if sess.broadcastText == "" {
		return h.HandleBroadcastStart(c)
	}
	sess.state = stateAwaitingBroadcastPhoto

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("❌ Отмена", "admin_cancel")),
	)
	return c.Edit("📷 Пришлите фото для рассылки:", menu)
}

func (h *Handler) onBroadcastPhotoInput(c tele.Context, sess *adminSession) error {
	photo := c.Message().Photo
	if photo == nil {
		return c.Send("❌ Пришлите фото.")
	}

	sess.broadcastPhotoID = photo.FileID
	sess.state = stateAwaitingBroadcastConfirm

	return h.showBroadcastConfirm(c, sess)
}

// HandleBroadcastNoPhoto пропускает шаг с фото
func (h *Handler) HandleBroadcastNoPhoto(c tele.Context) error {
	sess := adminSessions.get(c.Sender().ID)
	if sess.broadcastText == "" {
		return h.HandleBroadcastStart(c)
	}
	sess.state = stateAwaitingBroadcastConfirm
	return h.showBroadcastConfirm(c, sess)
}

func (h *Handler) showBroadcastConfirm(c tele.Context, sess *adminSession) error {
	userIDs, err := h.svc.GetAllUserTelegramIDs(context.Background())
	if err != nil {
		log.Printf("Error loading user IDs: %v", err)
		return c.Send("❌ Ошибка получения списка пользователей")
	}

	photoNote := ""
	if sess.broadcastPhotoID != "" {
		photoNote = "\n📷 С фотографией"
	}

	text := fmt.Sprintf(`📢 *Подтверждение рассылки*

Получателей: *%d*%s

*Текст:*
%s

Отправить?`, len(userIDs), photoNote, sess.broadcastText)

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(
			menu.Data("✅ Отправить", "bc_confirm"),
			menu.Data("❌ Отмена", "admin_cancel"),
		),
	)

	if c.Callback() != nil {
		return c.Edit(text, menu, tele.ModeMarkdown)
	}
	return c.Send(text, menu, tele.ModeMarkdown)
}

// HandleBroadcastConfirm запускает рассылку в фоне
func (h *Handler) HandleBroadcastConfirm(c tele.Context) error {
	sess := adminSessions.get(c.Sender().ID)
	if sess.state != stateAwaitingBroadcastConfirm || sess.broadcastText == "" {
		return c.Send("❌ Нет сообщения для рассылки.")
	}

	text := sess.broadcastText
	photoID := sess.broadcastPhotoID
	adminSessions.reset(c.Sender().ID)

	userIDs, err := h.svc.GetAllUserTelegramIDs(context.Background())
	if err != nil {
		log.Printf("Error loading user IDs: %v", err)
		return c.Send("❌ Ошибка получения списка пользователей")
	}

	log.Printf("📤 Broadcast started by admin %d to %d users", c.Sender().ID, len(userIDs))
	c.Edit(fmt.Sprintf("📤 *Рассылка запущена!*\n\nОтправляю сообщение %d пользователям...", len(userIDs)), tele.ModeMarkdown)

	bot := c.Bot()
	adminID := c.Sender().ID

	go func() {
		send := func(userID int64) error {
			if photoID != "" {
				photo := &tele.Photo{
					File:    tele.File{FileID: photoID},
					Caption: text,
				}
				_, err := bot.Send(&tele.User{ID: userID}, photo, tele.ModeMarkdown)
				return err
			}
			_, err := bot.Send(&tele.User{ID: userID}, text, tele.ModeMarkdown)
			return err
		}

		result, err := h.broadcaster.Run(userIDs, send)
		if err != nil {
			bot.Send(&tele.User{ID: adminID}, fmt.Sprintf("❌ Рассылка не запущена: %v", err))
			return
		}

		bot.Send(&tele.User{ID: adminID},
			fmt.Sprintf("✅ *Рассылка завершена!*\n\n📤 Отправлено: %d\n❌ Ошибок: %d",
				result.Sent, result.Failed), tele.ModeMarkdown)
	}()

	return nil
}

// ================= ADMIN MANAGEMENT =================

// HandleAdminList показывает администраторов (только главный админ)
func (h *Handler) HandleAdminList(c tele.Context) error {
	if !h.svc.IsSuperAdmin(c.Sender().ID) {
		return c.Send("❌ Управление администраторами доступно только главному админу.")
	}

	admins, err := h.svc.GetAllAdmins(context.Background())
	if err != nil {
		log.Printf("Error loading admins: %v", err)
		return c.Send("❌ Ошибка загрузки списка")
	}

	var sb strings.Builder
	sb.WriteString("👮 *Администраторы:*\n\n")

	menu := &tele.ReplyMarkup{}
	var rows []tele.Row

	if len(admins) == 0 {
		sb.WriteString("_Дополнительных администраторов нет._\n")
	}
	for _, a := range admins {
		name := a.FirstName
		if a.Username != "" {
			name += " (@" + a.Username + ")"
		}
		if name == "" {
			name = strconv.FormatInt(a.TelegramID, 10)
		}
		sb.WriteString(fmt.Sprintf("• %s — `%d`\n", name, a.TelegramID))
		rows = append(rows, menu.Row(menu.Data("🗑 "+strconv.FormatInt(a.TelegramID, 10),
			"admin_remove", strconv.FormatInt(a.TelegramID, 10))))
	}

	rows = append(rows,
		menu.Row(menu.Data("➕ Добавить", "admin_add")),
		menu.Row(menu.Data("⬅️ Назад", "admin_back")),
	)
	menu.Inline(rows...)

	if c.Callback() != nil {
		return c.Edit(sb.String(), menu, tele.ModeMarkdown)
	}
	return c.Send(sb.String(), menu, tele.ModeMarkdown)
}

// HandleAdminAddStart запрашивает ID нового администратора
func (h *Handler) HandleAdminAddStart(c tele.Context) error {
	if !h.svc.IsSuperAdmin(c.Sender().ID) {
		return c.Send("❌ Управление администраторами доступно только главному админу.")
	}

	sess := adminSessions.get(c.Sender().ID)
	sess.state = stateAwaitingAdminID

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("❌ Отмена", "admin_cancel")),
	)
	return c.Edit("➕ Введите Telegram ID или @юзернейм нового администратора:", menu)
}

func (h *Handler) onAdminIDInput(c tele.Context, sess *adminSession) error {
	ctx := context.Background()
	input := strings.TrimSpace(c.Text())

	var id int64
	firstName, username := "", ""

	if strings.HasPrefix(input, "@") {
		// Юзернейм находится только среди тех, кто уже писал боту
		user, err := h.svc.GetUserByUsername(ctx, input)
		if err != nil {
			return c.Send("❌ Пользователь с таким юзернеймом боту не писал. Введите числовой Telegram ID.")
		}
		id = user.TelegramID
		firstName, username = user.FirstName, user.Username
	} else {
		var err error
		id, err = strconv.ParseInt(input, 10, 64)
		if err != nil || id <= 0 {
			return c.Send("❌ Введите числовой Telegram ID или @юзернейм.")
		}
		// Имя подставляем из БД, если пользователь уже общался с ботом
		if user, err := h.svc.GetUserByTelegramID(ctx, id); err == nil {
			firstName, username = user.FirstName, user.Username
		}
	}

	err := h.svc.AddAdmin(ctx, c.Sender().ID, id, firstName, username)
	adminSessions.reset(c.Sender().ID)

	if errors.Is(err, database.ErrAlreadyExists) {
		return c.Send("⚠️ Этот пользователь уже администратор.")
	}
	if errors.Is(err, service.ErrNotAllowed) {
		return c.Send("❌ Недостаточно прав.")
	}
	if err != nil {
		log.Printf("Error adding admin %d: %v", id, err)
		return c.Send("❌ Ошибка добавления администратора.")
	}

	log.Printf("👮 Admin %d added by %d", id, c.Sender().ID)

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("👮 К списку", "admin_admins")),
	)
	return c.Send(fmt.Sprintf("✅ Администратор `%d` добавлен.", id), menu, tele.ModeMarkdown)
}

// HandleAdminRemove удаляет администратора
func (h *Handler) HandleAdminRemove(c tele.Context) error {
	if !h.svc.IsSuperAdmin(c.Sender().ID) {
		return c.Respond(&tele.CallbackResponse{Text: "❌ Недостаточно прав"})
	}

	id, err := strconv.ParseInt(c.Callback().Data, 10, 64)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "❌ Ошибка"})
	}

	removed, err := h.svc.RemoveAdmin(context.Background(), c.Sender().ID, id)
	if err != nil {
		log.Printf("Error removing admin %d: %v", id, err)
		return c.Respond(&tele.CallbackResponse{Text: "❌ Ошибка удаления"})
	}
	if removed {
		log.Printf("👮 Admin %d removed by %d", id, c.Sender().ID)
		c.Respond(&tele.CallbackResponse{Text: "✅ Удалён"})
	} else {
		c.Respond(&tele.CallbackResponse{Text: "Уже удалён"})
	}

	return h.HandleAdminList(c)
}
