// Package models содержит доменные структуры клуба: участник, пост,
// лайк и побочные эффекты жизненного цикла членства.
package models

import "time"

// User представляет участника клуба.
// Поле PaidUntil может быть nil — это означает, что доступ никогда не
// оплачивался и не выдавался. Флаг IsMember пишет только движок членства.
type User struct {
	ID                   int64      // Внутренний идентификатор
	TelegramID           int64      // Telegram ID участника
	Pseudo               string     // Псевдоним (может быть заглушкой _anonN)
	AvatarEmoji          string     // Эмодзи-аватар
	QuitDate             *time.Time // Дата отказа, nil если не задана
	CreatedAt            time.Time  // Дата первого контакта
	IsMember             bool       // Активен ли доступ в группу
	NotificationsEnabled bool       // Включены ли ежедневные уведомления
	LastMilestone        int        // Последняя достигнутая веха (в днях)
	PaidUntil            *time.Time // Окончание оплаченного/пробного окна
	TrialClaimed         bool       // Использован ли пробный слот
}

// IsActiveMember сообщает, действует ли окно доступа на момент now.
func (u *User) IsActiveMember(now time.Time) bool {
	return u.PaidUntil != nil && u.PaidUntil.After(now)
}
