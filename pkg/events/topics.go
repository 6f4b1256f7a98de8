package events

const (
	TopicLease   = "osvdhcp:events:lease"
	TopicSession = "osvdhcp:events:session"
)
