// Package render собирает тексты сообщений для супергруппы: тело поста
// с подписью автора, тело ответа, пост-веху и ссылки. Пакет чисто текстовый,
// кнопки строит телеграм-шлюз по явному models.ControlSet.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

// DeletedPlaceholder текст, которым заменяется тело удаленного поста.
const DeletedPlaceholder = "(удалено)"

// SobrietyDuration возвращает человеко-читаемую длительность трезвости
// от даты отказа до now: "1 г. 2 мес. 3 дн.".
func SobrietyDuration(quitDate *time.Time, now time.Time) string {
	if quitDate == nil {
		return "ещё не начал"
	}
	days := int(now.Sub(*quitDate).Hours() / 24)
	if days < 0 {
		days = 0
	}
	y, r := days/365, days%365
	m, d := r/30, r%30
	var parts []string
	if y > 0 {
		parts = append(parts, fmt.Sprintf("%d г.", y))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%d мес.", m))
	}
	if d > 0 {
		parts = append(parts, fmt.Sprintf("%d дн.", d))
	}
	if len(parts) == 0 {
		return "0 дн."
	}
	return strings.Join(parts, " ")
}

// RepliesLabel склоняет счетчик ответов: 1 ответ, 2 ответа, 5 ответов.
func RepliesLabel(n int) string {
	return fmt.Sprintf("%d %s", n, pluralRu(n, "ответ", "ответа", "ответов"))
}

func pluralRu(n int, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	switch {
	case n%100 >= 11 && n%100 <= 14:
		return many
	case n%10 == 1:
		return one
	case n%10 >= 2 && n%10 <= 4:
		return few
	default:
		return many
	}
}

// PostBody собирает видимое тело корневого поста: текст и подпись
// "эмодзи псевдоним | стаж | N ответов".
func PostBody(text string, author *models.User, replyCount int, now time.Time) string {
	return fmt.Sprintf("%s\n\n—\n%s %s  | %s  | %s",
		text, author.AvatarEmoji, author.Pseudo,
		SobrietyDuration(author.QuitDate, now), RepliesLabel(replyCount))
}

// ReplyBody собирает тело ответа со ссылкой на исходный пост.
func ReplyBody(text string, author *models.User, superGroup, parentID int64, now time.Time) string {
	return fmt.Sprintf("<b>Ответ на пост</b> <a href='%s'>#%d</a>:\n\n%s\n\n—\n%s %s  | %s",
		PostLink(superGroup, parentID), parentID, text,
		author.AvatarEmoji, author.Pseudo, SobrietyDuration(author.QuitDate, now))
}

// MilestoneBody собирает праздничный пост о достигнутой вехе.
func MilestoneBody(author *models.User, days int) string {
	return fmt.Sprintf("🥳 %s <b>%s</b> празднует <b>%d дн.</b>",
		author.AvatarEmoji, author.Pseudo, days)
}

// MilestoneNotice личное поздравление с вехой.
func MilestoneNotice(days int) string {
	return fmt.Sprintf("🎉 Поздравляю! Сегодня %d дней без травы.", days)
}

// RenewalNotice личное уведомление об истекшем доступе со ссылкой на оплату.
func RenewalNotice(payURL string) string {
	return "⏳ Срок доступа истёк.\n" +
		"Чтобы вернуться в закрытый клуб, продли подписку:\n" + payURL
}

// PostLink возвращает ссылку на сообщение в приватной супергруппе.
// Идентификатор группы -100XXXXXXXXXX превращается в XXXXXXXXXX.
func PostLink(superGroup, messageID int64) string {
	id := fmt.Sprintf("%d", superGroup)
	id = strings.TrimPrefix(id, "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, messageID)
}

// DeepLink возвращает deep-link на бота, который заново открывает форму
// ответа на пост (используется, когда личка участника закрыта).
func DeepLink(botUsername string, postID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=reply_%d",
		strings.TrimPrefix(botUsername, "@"), postID)
}

// Truncate обрезает текст поста до limit рун.
func Truncate(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}
