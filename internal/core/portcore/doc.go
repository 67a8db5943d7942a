// Package portcore 实现端口连接引擎
//
// 一个 PortCore 持有一个监听端点，接纳入站连接、发起出站连接，
// 把发送扇出到全部输出单元，并把入站数据分发给用户回调或
// 管理指令分发器。所有公共修改操作都经过单一控制面锁串行化；
// 每个连接单元持有自己的 worker goroutine，网络 I/O 从不在
// 控制面锁内进行。
//
// 生命周期（显式状态机）：
//
//	Idle ── Listen ──▶ Listening ── Start ──▶ Running
//	Listening ── ManualStart ──▶ Manual
//	Running/Manual ── Close ──▶ Closing ──▶ Finished ──▶ Idle
//
// 关闭流程先请求对端拆除入站连接，再硬拆出站连接，最后
// 自连一次唤醒阻塞中的 accept 并合流监听循环。
package portcore
