package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/queryflow/metrics"
	"github.com/BaSui01/queryflow/store"
	"github.com/BaSui01/queryflow/types"
)

// Manager 管理会话准入与生命周期。并发会话数由信号量限制，
// 超限的 Open 立即失败而不是排队。
type Manager struct {
	config    Config
	runner    Runner
	store     store.SessionStore
	collector *metrics.Collector
	logger    *zap.Logger
	sem       *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager 构造会话管理器。store 与 collector 可为 nil。
func NewManager(config Config, runner Runner, st store.SessionStore, collector *metrics.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:    config,
		runner:    runner,
		store:     st,
		collector: collector,
		logger:    logger.With(zap.String("component", "session_manager")),
		sem:       semaphore.NewWeighted(config.MaxSessions),
		sessions:  make(map[string]*Session),
	}
}

// Open 创建一个新会话。达到并发上限时返回 SESSION_LIMIT。
func (m *Manager) Open() (*Session, error) {
	if !m.sem.TryAcquire(1) {
		return nil, types.NewError(types.ErrSessionLimit, "concurrent session limit reached")
	}
	id := uuid.New().String()
	s := &Session{
		id:        id,
		runner:    m.runner,
		store:     m.store,
		config:    m.config,
		logger:    m.logger.With(zap.String("session_id", id)),
		collector: m.collector,
		status:    StatusOpen,
		out:       make(chan types.Event, m.config.EventBuffer),
		cancelSig: make(chan struct{}),
		done:      make(chan struct{}),
		onClose:   func() { m.release(id) },
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.collector.SessionOpened()
	m.logger.Debug("session opened", zap.String("session_id", id))
	return s, nil
}

// Get 按标识查找会话。
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Cancel 取消指定会话。会话不存在时返回 false。
func (m *Manager) Cancel(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.Cancel()
	return true
}

// Len 返回当前打开的会话数。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown 取消所有会话并等待它们结束，或等到 ctx 超时。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Cancel()
	}
	for _, s := range open {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.sem.Release(1)
		m.collector.SessionClosed()
		m.logger.Debug("session closed", zap.String("session_id", id))
	}
}
