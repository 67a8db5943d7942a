package interfaces

import (
	"github.com/dep2p/go-port/pkg/types"
)

// Writer 可发送的消息
//
// 发送路径只要求消息能渲染为瓶装形式；
// 大块负载用 Blob 值携带，引擎不做拷贝。
type Writer interface {
	// ToBottle 渲染为瓶装消息
	ToBottle() *types.Bottle
}

// CompletionObserver 发送生命周期回调
//
// Writer 或独立的 callback 对象实现本接口时，
// 引擎保证 OnCompletion 恰好被调用一次（追踪包归零时）。
type CompletionObserver interface {
	// OnCommencement 消息即将进入发送
	OnCommencement()

	// OnCompletion 消息在所有输出上的旅程结束
	OnCompletion()
}

// ConnectionReader 一次入站消息的读取视图
type ConnectionReader interface {
	// ReadBottle 读出数据体
	//
	// 合成空读（中断唤醒、端口关闭）返回空瓶。
	ReadBottle() (*types.Bottle, error)

	// Route 本次消息的来源路由
	Route() types.Route

	// Envelope 随行信封，可能为空
	Envelope() string

	// IsEmpty 是否为合成的空读
	IsEmpty() bool

	// ReplyWriter 应答通道，不支持应答时返回 nil
	ReplyWriter() ReplyWriter

	// RequestDrop 要求引擎在处理完本消息后断开连接
	//
	// ROS 兼容指令需要这一语义。
	RequestDrop()
}

// ReplyWriter 应答写入通道
type ReplyWriter interface {
	// WriteBottle 写出应答
	WriteBottle(b *types.Bottle) error
}

// Reader 用户数据读取回调
type Reader interface {
	// Read 处理一条入站消息
	//
	// 返回 false 表示处理失败；引擎不会重试。
	Read(r ConnectionReader) bool
}

// ReaderCreator 读取回调工厂
//
// 安装后每个入站连接各持有一个独立回调。
type ReaderCreator interface {
	// Create 为一个新入站连接创建回调
	Create() Reader
}

// Reporter 端口事件上报通道
type Reporter interface {
	// Report 上报一个事件
	Report(info types.PortInfo)
}

// Modifier 端口的流修饰器
//
// 出站侧在发送前咨询，可以否决或改写；
// 入站侧由载体在交付前应用。
type Modifier interface {
	// AcceptOutgoing 是否放行这条出站消息
	AcceptOutgoing(b *types.Bottle) bool

	// ModifyOutgoing 改写出站消息，返回实际要发送的内容
	ModifyOutgoing(b *types.Bottle) *types.Bottle

	// ModifyIncoming 改写入站消息
	ModifyIncoming(b *types.Bottle) *types.Bottle

	// Configure 按属性集配置
	Configure(p *types.Property) error

	// SetCarrierParams 更新运行参数
	SetCarrierParams(p *types.Property)

	// GetCarrierParams 读取运行参数
	GetCarrierParams(p *types.Property)

	// Close 释放修饰器
	Close() error
}

// ModifierFactory 修饰器工厂
//
// atch 管理指令按名字实例化修饰器。
type ModifierFactory interface {
	// NewModifier 创建修饰器实例
	NewModifier() Modifier
}
