// Package interfaces 定义 go-port 公共能力契约
//
// 端口连接引擎只消费这里声明的能力：载体（carrier）提供
// 可插拔传输，名字服务提供解析与注册，读写回调由用户提供。
// 每个契约对应 internal/core/ 下的一个实现组件。
package interfaces
