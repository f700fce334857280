// Package bot реализует поверхность Telegram: разбор обновлений long
// polling, команды в личке, кнопки под постами и мост диалога между
// группой и личкой.
package bot

import (
	"context"
	"sync"
	"time"
)

// Виды ожидаемого действия участника в личке.
const (
	pendingPost  = "post"
	pendingReply = "reply"
	pendingQuit  = "quit_date"
)

// pending описывает, что завершит следующее личное сообщение участника.
type pending struct {
	kind     string
	topicID  int   // тема для pendingPost
	parentID int64 // пост для pendingReply
	setAt    time.Time
}

// Bridge мост диалога: кнопка в группе открывает ожидание в личке,
// следующее личное сообщение его закрывает. На участника живет не больше
// одного ожидания, новое затирает старое. Просроченные ожидания снимает
// фоновая уборка.
type Bridge struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[int64]pending
}

// NewBridge создает мост с заданным временем жизни ожиданий.
func NewBridge(ttl time.Duration) *Bridge {
	return &Bridge{
		ttl:     ttl,
		pending: make(map[int64]pending),
	}
}

// ExpectPost ставит ожидание нового поста в тему.
func (b *Bridge) ExpectPost(userID int64, topicID int) {
	b.set(userID, pending{kind: pendingPost, topicID: topicID})
}

// ExpectReply ставит ожидание ответа на пост.
func (b *Bridge) ExpectReply(userID, parentID int64) {
	b.set(userID, pending{kind: pendingReply, parentID: parentID})
}

// ExpectQuitDate ставит ожидание даты отказа.
func (b *Bridge) ExpectQuitDate(userID int64) {
	b.set(userID, pending{kind: pendingQuit})
}

// Take забирает ожидание участника, если оно есть и не протухло.
func (b *Bridge) Take(userID int64) (pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[userID]
	if !ok {
		return pending{}, false
	}
	delete(b.pending, userID)
	if time.Since(p.setAt) > b.ttl {
		return pending{}, false
	}
	return p, true
}

// Clear снимает ожидание участника. Любая команда отменяет начатый диалог.
func (b *Bridge) Clear(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, userID)
}

// Janitor периодически убирает просроченные ожидания, чтобы карта не
// росла от брошенных диалогов. Блокируется до отмены контекста.
func (b *Bridge) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bridge) set(userID int64, p pending) {
	p.setAt = time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[userID] = p
}

func (b *Bridge) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, p := range b.pending {
		if time.Since(p.setAt) > b.ttl {
			delete(b.pending, userID)
		}
	}
}
