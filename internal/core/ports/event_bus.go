package ports

// Topics published by the payment engine adapter.
const (
	InvoiceTopic       = "invoice"
	CustomMessageTopic = "custom_message"
)

// BusEvent is one delivery on the event bus. Err is set for stream-level
// failures so that subscribers can tell a broken stream apart from a payload;
// Data is nil in that case.
type BusEvent struct {
	Data any
	Err  error
}

// EventBus is the in-process fan-out used to decouple engine streams from
// their consumers. Subscribe returns an unsubscribe func that is safe to call
// more than once.
type EventBus interface {
	Publish(topic string, event BusEvent)
	Subscribe(topic string, handler func(BusEvent)) (unsubscribe func())
	Close()
}
