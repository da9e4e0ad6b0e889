package service

import (
	"context"
	"sync"
)

// Cell 保存一个最新值，单写多读
// 订阅者只会拿到最新值：消费跟不上时旧值直接被覆盖
type Cell[T any] struct {
	mu    sync.RWMutex
	value T
	subs  map[chan T]struct{}
}

// NewCell 创建带初始值的 Cell
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, subs: make(map[chan T]struct{})}
}

// Get 返回当前值
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set 更新值并通知所有订阅者，不会阻塞
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = v
	for ch := range c.subs {
		// 丢掉还没被取走的旧值
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Subscribe 立即收到当前值，之后每次 Set 收到最新值
// ctx 结束后 channel 被关闭
func (c *Cell[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	c.mu.Lock()
	ch <- c.value
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, ch)
		close(ch)
		c.mu.Unlock()
	}()

	return ch
}

// Stream 事件流，每个事件都投递，订阅者缓冲区满时丢弃新事件
type Stream[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
}

// NewStream 创建事件流
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[chan T]struct{})}
}

// Publish 投递事件，返回被丢弃的订阅者数量
func (s *Stream[T]) Publish(v T) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for ch := range s.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribe buffer 为每个订阅者的缓冲区大小
func (s *Stream[T]) Subscribe(ctx context.Context, buffer int) <-chan T {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}
