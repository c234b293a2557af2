// Package session 管理流式问答会话的生命周期：
// 空闲超时、主动取消、终止事件的恰好一次投递，以及终止时的转写落盘。
package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/metrics"
	"github.com/BaSui01/queryflow/store"
	"github.com/BaSui01/queryflow/types"
)

// Status 会话状态，单调推进：OPEN → STREAMING → 终态。
type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusStreaming   Status = "STREAMING"
	StatusCompleted   Status = "COMPLETED"
	StatusIdleTimeout Status = "IDLE_TIMEOUT"
	StatusCancelled   Status = "CANCELLED"
	StatusErrored     Status = "ERRORED"
)

// Terminal 报告状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusIdleTimeout, StatusCancelled, StatusErrored:
		return true
	}
	return false
}

// Runner 执行一次问答请求并产出事件流。通道在运行结束后关闭。
type Runner interface {
	Run(ctx context.Context, question string) <-chan types.Event
}

// Session 是单个客户端的流会话。每个会话处理一个问题；
// 无论以何种方式结束，调用方恰好收到一个终止事件，输出通道随后关闭。
type Session struct {
	id        string
	runner    Runner
	store     store.SessionStore
	config    Config
	logger    *zap.Logger
	collector *metrics.Collector
	onClose   func()

	out       chan types.Event
	cancelSig chan struct{}
	done      chan struct{}

	cancelOnce     sync.Once
	closeOnce      sync.Once
	cancelPipeline context.CancelFunc

	mu         sync.Mutex
	status     Status
	started    bool
	transcript []types.TranscriptEntry
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// Status 返回当前状态。
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript 返回当前转写的副本。
func (s *Session) Transcript() []types.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TranscriptEntry(nil), s.transcript...)
}

// Done 在会话结束后关闭。
func (s *Session) Done() <-chan struct{} { return s.done }

// Stream 启动问题处理并返回事件通道。每个会话只能调用一次；
// 会话已取消或已在流式传输中时返回 SESSION_CLOSED。
func (s *Session) Stream(ctx context.Context, question string) (<-chan types.Event, error) {
	s.mu.Lock()
	if s.status != StatusOpen || s.started {
		s.mu.Unlock()
		return nil, types.NewError(types.ErrSessionClosed, "session is not open")
	}
	s.started = true
	s.status = StatusStreaming
	s.transcript = append(s.transcript, types.TranscriptEntry{Role: "user", Text: question})
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancelPipeline = cancel
	events := s.runner.Run(runCtx, question)
	go s.forward(runCtx, events)
	return s.out, nil
}

// Cancel 请求取消会话。幂等：重复调用和对已终止会话的调用均无效果。
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelSig) })

	s.mu.Lock()
	started := s.started
	if !started && !s.status.Terminal() {
		s.status = StatusCancelled
	}
	s.mu.Unlock()

	// 尚未开始流式传输的会话没有转发循环，就地关闭。
	if !started {
		s.close()
	}
}

// forward 是会话的转发循环：把管线事件推给调用方，
// 每个单元处理并转发完成后重置空闲计时器（窗口只度量等待时间），
// 并在各终止路径上收敛到 finish。
func (s *Session) forward(ctx context.Context, events <-chan types.Event) {
	defer func() {
		s.cancelPipeline()
		s.close()
	}()

	timer := time.NewTimer(s.config.IdleTimeout)
	defer timer.Stop()
	var draft strings.Builder

	for {
		select {
		case <-s.cancelSig:
			s.finish(ctx, StatusCancelled,
				types.Event{Type: types.EventCancelled, Message: "cancelled by client"}, draft.Len())
			return
		case <-ctx.Done():
			s.finish(ctx, StatusCancelled,
				types.Event{Type: types.EventCancelled, Message: "connection closed"}, draft.Len())
			return
		case <-timer.C:
			s.finish(ctx, StatusIdleTimeout,
				types.Event{Type: types.EventIdleTimeout, Message: "no progress within idle timeout"}, draft.Len())
			return
		case ev, ok := <-events:
			if !ok {
				// 管线在未发终止事件的情况下结束，只会发生在外部取消时
				s.finish(ctx, StatusCancelled,
					types.Event{Type: types.EventCancelled, Message: "pipeline aborted"}, draft.Len())
				return
			}

			switch ev.Type {
			case types.EventToken:
				draft.WriteString(ev.Token)
			case types.EventDone:
				s.appendAssistant(ev.Answer.Text)
				s.finishWith(ctx, StatusCompleted, ev)
				return
			case types.EventInsufficient:
				s.appendAssistant(ev.Message)
				s.finishWith(ctx, StatusCompleted, ev)
				return
			case types.EventError:
				s.finishWith(ctx, StatusErrored, ev)
				return
			}
			if !s.emit(ctx, ev) {
				// 发送被取消打断：停掉计时器，循环下一轮走取消分支
				drainStop(timer)
				continue
			}
			// 空闲窗口只度量等待下一个单元的时间，所以在单元
			// 处理并转发完成后才重置：下游消费再慢也不会触发超时
			drainStop(timer)
			timer.Reset(s.config.IdleTimeout)
		}
	}
}

// finish 处理非正常终止：丢弃草稿，只落盘已确认的转写。
func (s *Session) finish(ctx context.Context, status Status, terminal types.Event, draftLen int) {
	if !s.setTerminal(status) {
		return
	}
	if draftLen > 0 {
		s.logger.Debug("discarding partial draft", zap.Int("draft_bytes", draftLen))
	}
	s.persist(map[string]string{"outcome": string(status)})
	s.deliver(ctx, terminal)
}

// finishWith 处理管线自身的终止事件：答案或错误已定，先落盘再投递。
func (s *Session) finishWith(ctx context.Context, status Status, terminal types.Event) {
	if !s.setTerminal(status) {
		return
	}
	meta := map[string]string{"outcome": string(status)}
	if terminal.Type == types.EventDone || terminal.Type == types.EventInsufficient {
		meta["confidence"] = strconv.FormatFloat(terminal.Confidence, 'f', 4, 64)
	}
	s.persist(meta)
	s.deliver(ctx, terminal)
}

// setTerminal 单调推进到终态，已在终态时返回 false。
func (s *Session) setTerminal(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = status
	return true
}

func (s *Session) appendAssistant(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, types.TranscriptEntry{Role: "assistant", Text: text})
	s.mu.Unlock()
}

// persist 落盘转写。失败只记录日志，不影响终止事件投递。
func (s *Session) persist(meta map[string]string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.PersistTimeout)
	defer cancel()
	if err := s.store.PersistSession(ctx, s.id, s.Transcript(), meta); err != nil {
		s.logger.Error("failed to persist session transcript",
			zap.String("session_id", s.id), zap.Error(err))
	}
}

// deliver 投递终止事件。只要调用方还在读就一直等，保证恰好一次投递；
// ctx 是流上下文，调用方断开（连接关闭、ws 处理器退出）时它被取消，
// 此时才放弃投递。
func (s *Session) deliver(ctx context.Context, terminal types.Event) {
	s.collector.IncTerminal(string(terminal.Type))
	select {
	case s.out <- terminal:
		return
	default:
	}
	select {
	case s.out <- terminal:
	case <-ctx.Done():
		s.logger.Warn("terminal event not delivered, caller is gone",
			zap.String("session_id", s.id), zap.String("type", string(terminal.Type)))
	}
}

// drainStop 停止计时器并清掉已经触发但未消费的信号。
func drainStop(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// emit 转发一条非终止事件。
func (s *Session) emit(ctx context.Context, ev types.Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-s.cancelSig:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.out)
		close(s.done)
		if s.onClose != nil {
			s.onClose()
		}
	})
}
