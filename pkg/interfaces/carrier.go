package interfaces

import (
	"time"

	"github.com/dep2p/go-port/pkg/types"
)

// Frame 一帧入站数据
type Frame struct {
	// Admin 是否为管理帧（由载体在帧头标出）
	Admin bool

	// Body 数据体
	Body *types.Bottle

	// Envelope 随行信封
	Envelope string
}

// Carrier 载体模板
//
// 载体是可插拔的传输协议；同名模板在注册表中唯一。
type Carrier interface {
	// Name 载体名，如 "tcp"、"text"、"ws"、"local"
	Name() string

	// IsPush 是否为推式传输
	//
	// 推式连接由发送方发起；拉式（如 rostcp 反向）由接收方发起，
	// 出站拨号得到的会话要翻转成输入单元注册。
	IsPush() bool

	// IsConnectionless 是否无连接
	IsConnectionless() bool

	// Listen 绑定监听端点
	Listen(c types.Contact) (Face, error)

	// Connect 拨号建立出站会话
	Connect(c types.Contact) (OutputSession, error)
}

// Face 监听端点（服务会话）
type Face interface {
	// Read 阻塞等待一个入站会话
	//
	// 瞬态错误返回 (nil, err)，调用方应继续循环；
	// 端点关闭后返回 (nil, 不可恢复错误)。
	Read() (InputSession, error)

	// Write 从本端点向指定地址拨出一个会话
	//
	// 关闭流程用它自连唤醒阻塞中的 Read。
	Write(c types.Contact) (OutputSession, error)

	// LocalAddress 实际绑定的地址（端口可能是自动分配的）
	LocalAddress() types.Contact

	// Close 关闭监听端点
	Close() error
}

// InputSession 入站连接会话
//
// 由监听端点 accept 产生，或由拉式出站会话翻转而来。
// 会话被唯一一个输入单元独占。
type InputSession interface {
	// Open 完成握手，返回对端声明的路由
	Open() (types.Route, error)

	// ReadFrame 读取一帧
	//
	// 会话被关闭或对端断开时返回错误，单元应据此退出。
	ReadFrame() (Frame, error)

	// WriteReply 通过回写通道发送应答
	//
	// 无回写通道时返回 ErrNoReplyChannel 类错误。
	WriteReply(b *types.Bottle) error

	// HasReply 是否有回写通道
	HasReply() bool

	// SetTimeout 设置读写超时
	SetTimeout(d time.Duration)

	// SetTOS 在回写通道上设置 IP 服务类型字节
	//
	// 无回写通道时静默成功。
	SetTOS(tos int) error

	// GetTOS 读取回写通道的服务类型字节，无通道返回 -1
	GetTOS() int

	// SetCarrierParams 更新载体参数
	SetCarrierParams(p *types.Property)

	// GetCarrierParams 读取载体参数
	GetCarrierParams(p *types.Property)

	// AttachPort 把端口句柄交给会话
	//
	// 会话只通过这个窄接口回查端口，避免环引用。
	AttachPort(p PortRef)

	// Close 关闭会话；并发安全，可用于解除阻塞中的 ReadFrame
	Close() error
}

// OutputSession 出站连接会话
type OutputSession interface {
	// Open 按路由完成握手
	Open(route types.Route) error

	// WriteFrame 写出一帧
	WriteFrame(b *types.Bottle, envelope string, admin bool) error

	// ReadReply 读取对端应答
	//
	// 仅在 SupportsReply 为 true 时有效。
	ReadReply() (*types.Bottle, error)

	// SupportsReply 本会话是否支持应答
	SupportsReply() bool

	// Route 当前路由
	Route() types.Route

	// Rename 改写路由（拉式连接翻转时使用）
	Rename(route types.Route)

	// Input 取出反向输入会话
	//
	// 拉式载体的出站拨号实际建立的是入站数据流；
	// ok 为 false 表示本会话是普通推式连接。
	Input() (InputSession, bool)

	// SetTimeout 设置读写超时
	SetTimeout(d time.Duration)

	// SetTOS 设置 IP 服务类型字节
	SetTOS(tos int) error

	// GetTOS 读取服务类型字节，失败返回 -1
	GetTOS() int

	// SetCarrierParams 更新载体参数
	SetCarrierParams(p *types.Property)

	// GetCarrierParams 读取载体参数
	GetCarrierParams(p *types.Property)

	// AttachPort 把端口句柄交给会话
	AttachPort(p PortRef)

	// Close 关闭会话
	Close() error
}

// PortRef 会话可见的端口窄接口
//
// 打破 端口 ↔ 单元 ↔ 载体 的环引用：会话只拿到只读句柄。
type PortRef interface {
	// PortName 端口注册名
	PortName() string

	// PortFlags 端口能力标志
	PortFlags() types.PortFlag
}

// CarrierRegistry 载体注册表
type CarrierRegistry interface {
	// Register 注册载体模板，同名注册返回错误
	Register(c Carrier) error

	// Get 按名取载体模板
	//
	// 名字可以带修饰符（"tcp+log.in"），按基名查找。
	Get(name string) (Carrier, bool)

	// Choose 按名选择载体，未注册时返回错误
	Choose(name string) (Carrier, error)

	// Listen 用地址中指定的载体绑定监听
	Listen(c types.Contact) (Face, error)

	// Connect 用地址中指定的载体拨号
	Connect(c types.Contact) (OutputSession, error)
}
