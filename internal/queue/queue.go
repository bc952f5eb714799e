package queue

// Channel carries launch requests to the agent and readiness notices back.
// Payloads are YAML, matching the manifest format.
type Channel interface {
	CreateQueue(queue string) (err error)
	Consume(queue string, data interface{}) (delivery Delivery, ok bool, err error)
	Publish(queue string, data interface{}) (err error)
}

// Delivery acknowledges or requeues one consumed message.
type Delivery interface {
	Ack() error
	Nack(requeue bool) error
}
