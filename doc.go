// Package goport 是分布式机器人消息基底的端口连接引擎
//
// 具名端点（端口）经可插拔传输（载体）交换类型化消息，
// 连接在运行时经名字服务协商，同一端口上可以混用不同
// 传输协议。任何端口都可以做发布者、订阅者、RPC 端点
// 或日志记录器。
//
// 快速上手：
//
//	p, _ := goport.New()
//	_ = p.Open("/talker")
//	defer p.Close()
//
//	msg := types.NewBottle()
//	msg.AddString("hello")
//	p.WriteBottle(msg)
//
// 引擎本体在 internal/core/portcore；本包是面向用户的
// 薄封装，负责把载体注册表、名字服务和引擎装配起来。
package goport
