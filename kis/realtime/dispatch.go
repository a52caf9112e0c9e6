package realtime

import (
	"github.com/betbot/gokis/internal/metrics"
	"github.com/betbot/gokis/kis/types"
)

// Handler 实时数据消费方，由独立的分发 goroutine 调用
type Handler interface {
	OnUpdate(update types.RealtimeUpdate)
	OnError(err error)
}

// HandlerFuncs 以函数实现 Handler，字段可为空
type HandlerFuncs struct {
	Update func(update types.RealtimeUpdate)
	Error  func(err error)
}

func (h HandlerFuncs) OnUpdate(update types.RealtimeUpdate) {
	if h.Update != nil {
		h.Update(update)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

type event struct {
	update *types.RealtimeUpdate
	err    error
}

// emit 非阻塞投递，通道满时丢弃
func (f *Feed) emit(ev event) {
	select {
	case f.events <- ev:
		if ev.update != nil {
			metrics.FeedUpdates.Add(1)
		}
	default:
		metrics.FeedDroppedEvents.Add(1)
		entry := f.log.WithField("buffer", cap(f.events))
		if ev.update != nil {
			entry = entry.WithField("symbol", ev.update.Symbol)
		}
		entry.Warn("事件通道已满，丢弃事件")
	}
}

func (f *Feed) dispatchLoop() {
	defer close(f.dispatchDone)
	for {
		select {
		case ev := <-f.events:
			f.deliver(ev)
		case <-f.stopDispatch:
			return
		}
	}
}

func (f *Feed) deliver(ev event) {
	defer func() {
		if r := recover(); r != nil {
			f.log.WithField("panic", r).Error("实时数据处理器 panic")
		}
	}()
	if ev.update != nil {
		f.handler.OnUpdate(*ev.update)
		return
	}
	f.handler.OnError(ev.err)
}
