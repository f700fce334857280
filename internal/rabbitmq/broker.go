package rabbitmq

import (
	"github.com/streadway/amqp"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

// NoticeBroker публикует задания на доставку уведомлений в обменник
// notifications с ключом маршрутизации по виду уведомления.
type NoticeBroker struct {
	ch *amqp.Channel
}

// NewNoticeBroker создает издателя уведомлений поверх открытого канала.
func NewNoticeBroker(ch *amqp.Channel) *NoticeBroker {
	return &NoticeBroker{ch: ch}
}

// Publish публикует уведомление с заданным ключом маршрутизации.
func (b *NoticeBroker) Publish(routingKey string, notice models.Notice) error {
	return PublishMessage(b.ch, NoticeExchange, routingKey, notice)
}
