package syncmsg

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bus 在同一进程内模拟页面与拦截器之间的异步消息通道：
// 发布方永不阻塞，订阅方各持独立缓冲，缓冲满时丢弃并计数。
type Bus struct {
	timeout time.Duration

	mu      sync.Mutex
	subs    map[int]chan Message
	next    int
	dropped uint64
}

// NewBus 构造总线；timeout 约束 WaitFor 的最长等待。
func NewBus(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bus{
		timeout: timeout,
		subs:    make(map[int]chan Message),
	}
}

// Subscribe 注册一个订阅者，返回接收通道与取消函数。
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast 将消息送达所有订阅者；订阅缓冲已满时丢弃，不阻塞发布方。
func (b *Bus) Broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropped++
		}
	}
}

// Dropped 返回因缓冲已满被丢弃的消息计数，供诊断使用。
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// WaitFor 在有界时间内等待首条满足谓词的广播；超时返回错误，
// 避免后台不产生回执时的无限等待。注意先订阅再触发动作时应改用
// Subscribe + WaitOn，以免错过早于订阅发出的回执。
func (b *Bus) WaitFor(ctx context.Context, pred func(Message) bool) (Message, error) {
	ch, cancel := b.Subscribe(32)
	defer cancel()
	return b.WaitOn(ctx, ch, pred)
}

// WaitOn 在已建立的订阅上等待首条满足谓词的消息，等待同样有界。
func (b *Bus) WaitOn(ctx context.Context, ch <-chan Message, pred func(Message) bool) (Message, error) {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return Message{}, fmt.Errorf("subscription closed")
			}
			if pred(msg) {
				return msg, nil
			}
		case <-timer.C:
			return Message{}, fmt.Errorf("no acknowledgement within %s", b.timeout)
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}
