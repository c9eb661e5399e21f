package domain

type Subscription[T any] struct {
	ID          string
	Stream      <-chan T
	Unsubscribe func()
	Topic       string
}
