package events

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

// Stats is a point-in-time view of the bus. Published and Dropped count
// since the bus was created.
type Stats struct {
	Topics    []TopicStats `json:"topics"`
	QueueLen  int          `json:"queue_length"`
	QueueCap  int          `json:"queue_capacity"`
	Published uint64       `json:"published"`
	Dropped   uint64       `json:"dropped"`
}

// Bus fans events out to subscribers. Handlers of one bus run one at a
// time, in publish order.
type Bus interface {
	Publish(topic string, event Event)
	Subscribe(topic string, handler Handler) Subscription
	SubscribeAll(handler Handler) Subscription
	Stats() Stats
	Close() error
}
