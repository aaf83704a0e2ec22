package repository

import (
	"encoding/json"

	"profitum_messaging/internal/messaging/domain"
	"profitum_messaging/pkg/database"

	"github.com/streadway/amqp"
)

const notificationKey = "message.new"

// Notifier fire-and-forget notification sink. Failures are the
// caller's to log; they never fail the triggering operation.
type Notifier interface {
	NotifyNewMessage(n domain.Notification) error
}

type rabbitNotifier struct {
	rabbit   database.RabbitRepo
	exchange string
}

// NewRabbitNotifier declare the exchange and create a Notifier
func NewRabbitNotifier(rabbit database.RabbitRepo, exchange string) (Notifier, error) {
	if err := rabbit.GetRabbit().ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return nil, err
	}
	return &rabbitNotifier{rabbit: rabbit, exchange: exchange}, nil
}

func (n *rabbitNotifier) NotifyNewMessage(notif domain.Notification) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	return n.rabbit.Publish(n.exchange, notificationKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
