package handlers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"promo-telegram-bot/internal/models"
	"promo-telegram-bot/internal/service"

	tele "gopkg.in/telebot.v3"
)

// Имена картинок в каталоге фотографий
const (
	PhotoMain  = "main.jpg"
	PhotoPromo = "promo.jpg"
	PhotoAbout = "about.jpg"
)

const (
	photoSendAttempts = 3
	photoSendBackoff  = 500 * time.Millisecond
)

// Handler обработчики бота
type Handler struct {
	svc         *service.Service
	checker     *service.SubscriptionChecker
	broadcaster *service.Broadcaster
	photos      *service.PhotoCache
	tracker     *MenuTracker

	channelUsername string
	notifyChatID    int64
}

// New создаёт новый handler
func New(svc *service.Service, checker *service.SubscriptionChecker, broadcaster *service.Broadcaster, photos *service.PhotoCache, channelUsername string, notifyChatID int64) *Handler {
	return &Handler{
		svc:             svc,
		checker:         checker,
		broadcaster:     broadcaster,
		photos:          photos,
		tracker:         NewMenuTracker(),
		channelUsername: channelUsername,
		notifyChatID:    notifyChatID,
	}
}

// inputMode текстовый режим пользователя: бронь или отзыв
type inputMode int

const (
	inputNone inputMode = iota
	inputBooking
	inputFeedback
)

func (m inputMode) String() string {
	switch m {
	case inputBooking:
		return "booking"
	case inputFeedback:
		return "feedback"
	default:
		return "none"
	}
}

// userInputState хранит текстовые режимы пользователей
type userInputState struct {
	mu    sync.RWMutex
	modes map[int64]inputMode
}

var userInput = &userInputState{
	modes: make(map[int64]inputMode),
}

// SetUserInputMode устанавливает текстовый режим пользователя
func SetUserInputMode(userID int64, mode inputMode) {
	userInput.mu.Lock()
	defer userInput.mu.Unlock()
	if mode == inputNone {
		delete(userInput.modes, userID)
	} else {
		userInput.modes[userID] = mode
	}
}

// GetUserInputMode возвращает текстовый режим пользователя
func GetUserInputMode(userID int64) inputMode {
	userInput.mu.RLock()
	defer userInput.mu.RUnlock()
	return userInput.modes[userID]
}

// Register регистрирует пользовательские обработчики
func (h *Handler) Register(b *tele.Bot) {
	b.Handle("/start", h.HandleStart)
	b.Handle("/help", h.HandleHelp)

	b.Handle(&tele.Btn{Unique: "get_promo"}, h.HandleGetPromo)
	b.Handle(&tele.Btn{Unique: "check_sub"}, h.HandleCheckSubscription)
	b.Handle(&tele.Btn{Unique: "booking"}, h.HandleBooking)
	b.Handle(&tele.Btn{Unique: "feedback"}, h.HandleFeedback)
	b.Handle(&tele.Btn{Unique: "about"}, h.HandleAbout)
	b.Handle(&tele.Btn{Unique: "back_main"}, h.HandleBackToMain)
}

// sendMenu отправляет экран меню с картинкой, удаляя предыдущие меню чата.
// file_id загруженной картинки кэшируется.
func (h *Handler) sendMenu(c tele.Context, photoName, caption string, menu *tele.ReplyMarkup) error {
	chatID := c.Chat().ID
	h.tracker.Clear(c.Bot(), chatID)

	var photo *tele.Photo
	if fileID, ok := h.photos.FileID(photoName); ok {
		photo = &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}
	} else if err := h.photos.Validate(photoName); err == nil {
		photo = &tele.Photo{File: tele.FromDisk(h.photos.Path(photoName)), Caption: caption}
	}

	if photo == nil {
		// Без картинки отправляем просто текст
		msg, err := c.Bot().Send(c.Chat(), caption, menu, tele.ModeMarkdown)
		if err != nil {
			return err
		}
		h.tracker.Track(chatID, msg.ID)
		return nil
	}

	var msg *tele.Message
	var err error
	for attempt := 1; attempt <= photoSendAttempts; attempt++ {
		msg, err = c.Bot().Send(c.Chat(), photo, menu, tele.ModeMarkdown)
		if err == nil {
			break
		}
		log.Printf("Failed to send photo %s (attempt %d): %v", photoName, attempt, err)
		time.Sleep(time.Duration(attempt) * photoSendBackoff)
	}
	if err != nil {
		// Картинка не ушла, показываем экран текстом
		msg, err = c.Bot().Send(c.Chat(), caption, menu, tele.ModeMarkdown)
		if err != nil {
			return err
		}
		h.tracker.Track(chatID, msg.ID)
		return nil
	}
	h.tracker.Track(chatID, msg.ID)

	if photo.File.FileID == "" && msg.Photo != nil {
		if err := h.photos.Remember(photoName, msg.Photo.FileID); err != nil {
			log.Printf("Failed to cache photo %s: %v", photoName, err)
		}
	}
	return nil
}

// ================= MAIN MENU =================

// HandleStart обрабатывает /start
func (h *Handler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()

	SetUserInputMode(sender.ID, inputNone)

	// Команду пользователя убираем, чтобы не копилась над меню
	if c.Message() != nil {
		_ = c.Delete()
	}

	_, err := h.svc.SaveUser(ctx, sender.ID, sender.FirstName, sender.Username)
	if err != nil {
		log.Printf("Error saving user %d: %v", sender.ID, err)
	}

	return h.showMainMenu(c)
}

// HandleBackToMain возвращает в главное меню
func (h *Handler) HandleBackToMain(c tele.Context) error {
	if c.Callback() != nil {
		c.Respond()
	}
	SetUserInputMode(c.Sender().ID, inputNone)
	return h.showMainMenu(c)
}

func (h *Handler) showMainMenu(c tele.Context) error {
	text := fmt.Sprintf(`🕹 *Привет, %s!*

Добро пожаловать в наш компьютерный клуб!

🖥 Мощные ПК: RTX 4070, 240 Гц мониторы
🎧 Игровая периферия и уютные боксы
🏆 Турниры и акции каждую неделю

Выбирай, что интересует:`, c.Sender().FirstName)

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("🎁 Получить промокод", "get_promo")),
		menu.Row(
			menu.Data("🖥 Забронировать ПК", "booking"),
			menu.Data("✍️ Оставить отзыв", "feedback"),
		),
		menu.Row(menu.Data("ℹ️ О клубе", "about")),
	)

	return h.sendMenu(c, PhotoMain, text, menu)
}

// ================= PROMO =================

// HandleGetPromo выдаёт промокод подписчику канала
func (h *Handler) HandleGetPromo(c tele.Context) error {
	if c.Callback() != nil {
		c.Respond()
	}

	if !h.checker.IsSubscribed(c.Sender().ID) {
		return h.showSubscribePrompt(c)
	}

	return h.issuePromo(c)
}

// HandleCheckSubscription перепроверяет подписку после нажатия «Я подписался»
func (h *Handler) HandleCheckSubscription(c tele.Context) error {
	if c.Callback() != nil {
		c.Respond()
	}

	h.checker.Invalidate(c.Sender().ID)

	if !h.checker.IsSubscribed(c.Sender().ID) {
		text := `🤔 *Подписка не найдена*

Похоже, вы ещё не подписались на канал.
Подпишитесь и нажмите кнопку ещё раз.`

		menu := &tele.ReplyMarkup{}
		menu.Inline(
			menu.Row(menu.URL("📢 Подписаться", "https://t.me/"+h.channelUsername)),
			menu.Row(menu.Data("✅ Я подписался", "check_sub")),
			menu.Row(menu.Data("⬅️ Назад", "back_main")),
		)
		return h.sendMenu(c, PhotoPromo, text, menu)
	}

	return h.issuePromo(c)
}

func (h *Handler) showSubscribePrompt(c tele.Context) error {
	text := `🎁 *Промокод за подписку*

Подпишитесь на наш канал и получите промокод на игровое время!

После подписки нажмите «✅ Я подписался».`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.URL("📢 Подписаться", "https://t.me/"+h.channelUsername)),
		menu.Row(menu.Data("✅ Я подписался", "check_sub")),
		menu.Row(menu.Data("⬅️ Назад", "back_main")),
	)

	return h.sendMenu(c, PhotoPromo, text, menu)
}

func (h *Handler) issuePromo(c tele.Context) error {
	ctx := context.Background()

	promo, reason, err := h.svc.IssuePromo(ctx, c.Sender().ID)
	if err != nil {
		log.Printf("Error issuing promo for %d: %v", c.Sender().ID, err)
		return c.Send("❌ Что-то пошло не так. Попробуйте позже.")
	}

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("⬅️ В меню", "back_main")),
	)

	switch reason {
	case models.IssueOK:
		log.Printf("🎁 Promo %s issued to user %d", promo.Code, c.Sender().ID)
		text := fmt.Sprintf(`🎉 *Ваш промокод:*

`+"`%s`"+`

⏳ Действует до: *%s*

Назовите код администратору клуба, чтобы активировать игровое время.`,
			promo.Code, promo.ExpiresAt.Format("02.01.2006"))
		return h.sendMenu(c, PhotoPromo, text, menu)

	case models.IssueAlreadyReceived:
		text := `😊 *Вы уже получали промокод на этой неделе*

Новый можно будет получить на следующей неделе. Следите за акциями в нашем канале!`
		return h.sendMenu(c, PhotoPromo, text, menu)

	default:
		text := `😔 *Промокоды закончились*

Сейчас доступных промокодов нет. Загляните позже — мы регулярно добавляем новые!`
		return h.sendMenu(c, PhotoPromo, text, menu)
	}
}

// ================= BOOKING & FEEDBACK =================

// HandleBooking включает режим брони: следующий текст уйдёт администраторам
func (h *Handler) HandleBooking(c tele.Context) error {
	if c.Callback() != nil {
		c.Respond()
	}

	SetUserInputMode(c.Sender().ID, inputBooking)

	text := `🖥 *Бронирование ПК*

Напишите одним сообщением:
• дату и время
• количество ПК
• на какое имя

Администратор свяжется с вами для подтверждения.`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("🚫 Отмена", "back_main")),
	)

	return h.sendMenu(c, PhotoMain, text, menu)
}

// HandleFeedback включает режим отзыва
func (h *Handler) HandleFeedback(c tele.Context) error {
	if c.Callback() != nil {
		c.Respond()
	}

	SetUserInputMode(c.Sender().ID, inputFeedback)

	text := `✍️ *Ваш отзыв*

Напишите, что понравилось, а что можно улучшить.
Каждый отзыв читает администрация клуба.`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("🚫 Отмена", "back_main")),
	)

	return h.sendMenu(c, PhotoMain, text, menu)
}

// HandleUserText пересылает бронь или отзыв в канал уведомлений
func (h *Handler) HandleUserText(c tele.Context, mode inputMode) error {
	SetUserInputMode(c.Sender().ID, inputNone)

	sender := c.Sender()
	usernameStr := "нет"
	if sender.Username != "" {
		usernameStr = "@" + sender.Username
	}

	var header string
	if mode == inputBooking {
		header = "🖥 *Новая бронь*"
	} else {
		header = "✍️ *Новый отзыв*"
	}

	notification := fmt.Sprintf("%s\n\n👤 %s (%s)\n🆔 `%d`\n\n%s",
		header, sender.FirstName, usernameStr, sender.ID, c.Text())

	_, err := c.Bot().Send(&tele.Chat{ID: h.notifyChatID}, notification, tele.ModeMarkdown)
	if err != nil {
		log.Printf("Failed to forward %v to notify chat: %v", mode, err)
		return c.Send("❌ Не удалось отправить сообщение. Попробуйте позже.")
	}

	var reply string
	if mode == inputBooking {
		reply = "✅ *Заявка принята!*\n\nАдминистратор свяжется с вами для подтверждения брони."
	} else {
		reply = "💙 *Спасибо за отзыв!*\n\nМы обязательно его прочитаем."
	}

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("⬅️ В меню", "back_main")),
	)
	return c.Send(reply, menu, tele.ModeMarkdown)
}

// ================= ABOUT =================

// HandleAbout показывает информацию о клубе
func (h *Handler) HandleAbout(c tele.Context) error {
	if c.Callback() != nil {
		c.Respond()
	}

	text := `ℹ️ *О клубе*

🖥 30 игровых ПК: RTX 4070, i5-13400F, 240 Гц
🛋 VIP-боксы для команд
🏆 Еженедельные турниры с призами

🕐 *Работаем круглосуточно*
📍 Адрес и цены — в нашем канале.`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.URL("📢 Наш канал", "https://t.me/"+h.channelUsername)),
		menu.Row(menu.Data("⬅️ Назад", "back_main")),
	)

	return h.sendMenu(c, PhotoAbout, text, menu)
}

// HandleHelp показывает справку по командам
func (h *Handler) HandleHelp(c tele.Context) error {
	text := `🕹 *Команды бота*

/start — главное меню
/help — эта справка

🎁 Промокоды выдаются подписчикам канала, один раз в неделю.`

	if ok, _ := h.svc.IsAdmin(context.Background(), c.Sender().ID); ok {
		text += `

👮 *Для администраторов:*
/admin — панель администратора
/promo — промокоды
/broadcast — рассылка`
	}

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.Data("🏠 Главное меню", "back_main")),
	)

	return c.Send(text, menu, tele.ModeMarkdown)
}
