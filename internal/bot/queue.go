package bot

import (
	"sync"

	"scheduler-post-bot/internal/dialogue"
)

// chatQueues runs the messages of each chat in arrival order on one goroutine
// per busy chat. Different chats are drained in parallel.
type chatQueues struct {
	mu      sync.Mutex
	pending map[int64][]dialogue.Inbound
	wg      sync.WaitGroup
	handle  func(dialogue.Inbound)
}

func newChatQueues(handle func(dialogue.Inbound)) *chatQueues {
	return &chatQueues{pending: make(map[int64][]dialogue.Inbound), handle: handle}
}

func (q *chatQueues) push(in dialogue.Inbound) {
	q.mu.Lock()
	queued, busy := q.pending[in.ChatID]
	q.pending[in.ChatID] = append(queued, in)
	if busy {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	go q.drain(in.ChatID)
}

func (q *chatQueues) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		queued := q.pending[chatID]
		if len(queued) == 0 {
			delete(q.pending, chatID)
			q.mu.Unlock()
			return
		}
		in := queued[0]
		q.pending[chatID] = queued[1:]
		q.mu.Unlock()

		q.handle(in)
	}
}

// wait blocks until every queued message has been handled.
func (q *chatQueues) wait() {
	q.wg.Wait()
}
