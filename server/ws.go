package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/queryflow/types"
)

// clientFrame 是客户端发来的控制帧。
type clientFrame struct {
	// Type: query 或 cancel
	Type string `json:"type"`
	// Question 问题文本，仅 query 帧使用
	Question string `json:"question,omitempty"`
}

const (
	frameQuery  = "query"
	frameCancel = "cancel"
)

// handleWS 处理一个问答连接：首帧必须是 query，此后事件按产生顺序
// 推送给客户端，直到终止事件送达或连接断开。cancel 帧随时生效。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := r.Context()
	sess, err := s.manager.Open()
	if err != nil {
		s.writeEvent(ctx, conn, nil, types.ErrorEvent(err.Error()))
		conn.Close(websocket.StatusTryAgainLater, "session limit reached")
		return
	}
	defer sess.Cancel()

	logger := s.logger.With(zap.String("session_id", sess.ID()))
	limiter := rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateBurst)

	first, err := s.readFrame(ctx, conn, limiter)
	if err != nil {
		logger.Debug("connection closed before query", zap.Error(err))
		return
	}
	if first.Type != frameQuery || first.Question == "" {
		conn.Close(websocket.StatusPolicyViolation, "first frame must be a query")
		return
	}

	events, err := sess.Stream(ctx, first.Question)
	if err != nil {
		s.writeEvent(ctx, conn, nil, types.ErrorEvent(err.Error()))
		return
	}

	// 后续帧只用于取消；读出错说明客户端已断开
	go func() {
		for {
			frame, err := s.readFrame(ctx, conn, limiter)
			if err != nil {
				sess.Cancel()
				return
			}
			if frame.Type == frameCancel {
				logger.Debug("cancel frame received")
				sess.Cancel()
			}
		}
	}()

	for ev := range events {
		if err := s.writeEvent(ctx, conn, logger, ev); err != nil {
			sess.Cancel()
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// readFrame 读取并解析一个客户端帧，同时执行速率限制。
func (s *Server) readFrame(ctx context.Context, conn *websocket.Conn, limiter *rate.Limiter) (clientFrame, error) {
	var frame clientFrame
	_, data, err := conn.Read(ctx)
	if err != nil {
		return frame, err
	}
	if !limiter.Allow() {
		conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
		return frame, fmt.Errorf("rate limit exceeded")
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("malformed frame: %w", err)
	}
	return frame, nil
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, logger *zap.Logger, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		if logger != nil {
			logger.Debug("event write failed", zap.Error(err))
		}
		return err
	}
	return nil
}
