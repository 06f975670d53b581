package domain

// MessageBus routes inbound chat events from channels to the bot.
type MessageBus interface {
	Publish(evt Event)
	Subscribe() <-chan Event
	Close()
}
