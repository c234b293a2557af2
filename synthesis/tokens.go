package synthesis

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// tokenCounter 用 tiktoken 做精确计数，编码初始化失败时退化为
// 字符估算（约 4 字符/token）。编码数据可能在首次使用时才下载，
// 因此延迟初始化。
type tokenCounter struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func newTokenCounter(encoding string, logger *zap.Logger) *tokenCounter {
	return &tokenCounter{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "token_counter")),
	}
}

func (t *tokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			t.logger.Warn("tiktoken init failed, falling back to rune estimate",
				zap.String("encoding", t.encoding),
				zap.Error(err))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *tokenCounter) count(text string) int {
	if err := t.init(); err != nil {
		return utf8.RuneCountInString(text)/4 + 1
	}
	return len(t.enc.Encode(text, nil, nil))
}
