package queue

import (
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"gopkg.in/yaml.v2"
)

type rabbitmq struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQ(url string) (Channel, error) {
	conn, err := amqp.Dial(url)

	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq dial")
	}

	ch, err := conn.Channel()

	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq channel")
	}

	return &rabbitmq{conn: conn, ch: ch}, nil
}

func (r *rabbitmq) CreateQueue(queue string) error {
	_, err := r.ch.QueueDeclare(queue, false, false, false, false, nil)
	return err
}

func (r *rabbitmq) Consume(queue string, data interface{}) (Delivery, bool, error) {
	msg, ok, err := r.ch.Get(queue, false)

	if err != nil {
		return nil, false, errors.Wrap(err, "rabbitmq get")
	}

	if !ok {
		return nil, false, nil
	}

	if err := yaml.Unmarshal(msg.Body, data); err != nil {
		// poison message, drop it
		_ = msg.Nack(false, false)
		return nil, false, errors.Wrap(err, "rabbitmq message decode")
	}

	return &rabbitmqDelivery{msg: msg}, true, nil
}

func (r *rabbitmq) Publish(queue string, data interface{}) error {
	body, err := yaml.Marshal(data)

	if err != nil {
		return errors.Wrap(err, "rabbitmq message encode")
	}

	return r.ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType: "text/yaml",
		Body:        body,
	})
}
