package carrier

import "errors"

var (
	// ErrUnknownCarrier 载体未注册
	ErrUnknownCarrier = errors.New("unknown carrier")

	// ErrDuplicateCarrier 同名载体重复注册
	ErrDuplicateCarrier = errors.New("carrier already registered")

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session closed")

	// ErrNoReplyChannel 会话没有回写通道
	ErrNoReplyChannel = errors.New("no reply channel")

	// ErrNotSupported 载体不支持该操作
	ErrNotSupported = errors.New("operation not supported by carrier")

	// ErrBadHandshake 握手内容不合法
	ErrBadHandshake = errors.New("bad handshake")
)
