// Package config 提供 go-port 统一配置
//
// 根包的 New 把 Port 段的字段逐项拷进引擎配置 portcore.Config。
package config

import (
	"time"
)

// Duration 可配置时长
type Duration time.Duration

// Duration 转换为 time.Duration
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config 统一配置
type Config struct {
	// Port 端口引擎配置
	Port PortConfig

	// Log 日志配置
	Log LogConfig
}

// PortConfig 端口引擎配置
type PortConfig struct {
	// Timeout 连接读写超时
	Timeout Duration

	// DefaultCarrier 未指明载体时的默认选择
	DefaultCarrier string

	// ROSCompat 启用 ROS 兼容管理指令
	ROSCompat bool

	// WaitBeforeSend / WaitAfterSend 发送等待策略
	WaitBeforeSend bool
	WaitAfterSend  bool
}

// LogConfig 日志配置
type LogConfig struct {
	// Verbosity 0 安静，1 常规，2 调试
	Verbosity int
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Port: PortConfig{
			Timeout:        Duration(10 * time.Second),
			DefaultCarrier: "tcp",
			WaitBeforeSend: true,
			WaitAfterSend:  true,
		},
		Log: LogConfig{
			Verbosity: 1,
		},
	}
}
