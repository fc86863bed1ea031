package handlers

import (
	"strconv"
	"sync"

	tele "gopkg.in/telebot.v3"
)

// MenuTracker запоминает последние сообщения меню в каждом чате,
// чтобы при показе нового экрана удалять старые и не засорять диалог.
type MenuTracker struct {
	mu       sync.Mutex
	messages map[int64][]int // chatID -> IDs отправленных меню
}

// NewMenuTracker создаёт новый трекер
func NewMenuTracker() *MenuTracker {
	return &MenuTracker{
		messages: make(map[int64][]int),
	}
}

// Track запоминает сообщение меню в чате
func (t *MenuTracker) Track(chatID int64, messageID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages[chatID] = append(t.messages[chatID], messageID)
}

// Clear удаляет все отслеживаемые сообщения чата.
// Ошибки удаления игнорируются: сообщение могло быть удалено вручную
// или быть старше 48 часов.
func (t *MenuTracker) Clear(b *tele.Bot, chatID int64) {
	t.mu.Lock()
	ids := t.messages[chatID]
	delete(t.messages, chatID)
	t.mu.Unlock()

	for _, id := range ids {
		_ = b.Delete(&tele.StoredMessage{
			MessageID: strconv.Itoa(id),
			ChatID:    chatID,
		})
	}
}

// Forget сбрасывает трекинг чата без удаления сообщений
func (t *MenuTracker) Forget(chatID int64) {
	t.mu.Lock()
	delete(t.messages, chatID)
	t.mu.Unlock()
}
