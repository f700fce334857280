package rabbitmq

import (
	"context"
	"fmt"
	"log"

	"github.com/streadway/amqp"
)

// ConsumerMessage подписывается на очередь уведомлений и передает тела
// сообщений обработчику. Ошибка обработчика возвращает сообщение в очередь.
// Сообщения одной очереди обрабатываются последовательно: личные сообщения
// все равно упираются в лимитер телеграм-шлюза, параллелизм тут не помогает.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, handler func([]byte) error) error {
	const op = "rabbitmq.ConsumerMessage"

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	delivery, err := ch.Consume(
		queueName,
		"club-sender-"+queueName,
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				if err := handler(d.Body); err != nil {
					if nackErr := d.Nack(false, true); nackErr != nil {
						log.Printf("failed to nack message: %v", nackErr)
					}
					continue
				}
				if ackErr := d.Ack(false); ackErr != nil {
					log.Printf("failed to ack message: %v", ackErr)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
