package actuator

import "github.com/google/uuid"

// Subscribe returns a channel receiving every channel change. Slow
// subscribers miss updates rather than stall writers.
func (b *Bank) Subscribe() (string, <-chan Channel) {
	id := uuid.NewString()
	ch := make(chan Channel, NumChannels)
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription.
func (b *Bank) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

func (b *Bank) publish(c Channel) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- c:
		default:
		}
	}
}
