package events

import "time"

// Event is one published occurrence. The bus fills ID, Type and Timestamp
// when the publisher leaves them empty.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      any       `json:"data"`
}

// Payload returns the event data as T.
func Payload[T any](e Event) (T, bool) {
	v, ok := e.Data.(T)
	return v, ok
}

// On subscribes fn to the events on topic that carry a T, ignoring others.
func On[T any](bus Bus, topic string, fn func(T)) Subscription {
	return bus.Subscribe(topic, func(e Event) {
		if v, ok := Payload[T](e); ok {
			fn(v)
		}
	})
}
