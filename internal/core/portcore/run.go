package portcore

import (
	"context"

	tec "github.com/jbenet/go-temp-err-catcher"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-port/pkg/types"
)

// run 监听循环
//
// 阻塞在监听端点的 accept 上，把新入站会话包成输入单元。
// 这里不碰连接本身的 I/O：塞进单元表就走，绝不让一个
// 正在连入的客户端等另一个慢客户端。
//
// 终止条件：closeMain 置位 closing 并自连一次解除阻塞。
func (pc *PortCore) run(started chan struct{}) {
	defer close(pc.listenerDone)

	pc.stateMu.Lock()
	pc.state = types.StateRunning
	pc.starting = false
	face := pc.face
	pc.stateMu.Unlock()

	// 与 Start 会合
	close(started)

	logger.Debug("监听循环启动", "name", pc.Name())

	// 瞬态错误限速重试，避免 EMFILE 之类的错误空转
	limiter := rate.NewLimiter(rate.Limit(pc.config.AcceptErrorRate), 1)
	var catcher tec.TempErrCatcher

	shouldStop := false
	for !shouldStop {
		// 阻塞等待一个连接
		sess, err := face.Read()

		pc.stateMu.Lock()
		shouldStop = shouldStop || pc.closing
		pc.events++
		pc.stateMu.Unlock()

		if sess == nil {
			if shouldStop {
				break
			}
			if err != nil && catcher.IsTemporary(err) {
				_ = limiter.Wait(context.Background())
				continue
			}
			if err != nil {
				// 监听端点失效，循环没有继续的意义
				logger.Warn("监听端点失效", "name", pc.Name(), "error", err)
				break
			}
			continue
		}

		// 没在关闭就把连接包成输入单元；在关闭就放掉它
		if !shouldStop {
			pc.addInput(sess, false)
			logger.Debug("接纳入站连接", "name", pc.Name())
		} else {
			_ = sess.Close()
		}

		// 收割待拆除的单元
		pc.reapUnits()

		// 唤醒等待连接变化的任务
		pc.broadcastConnChange()
	}

	logger.Debug("监听循环退出", "name", pc.Name())

	pc.stateMu.Lock()
	pc.state = types.StateFinished
	pc.stateMu.Unlock()

	pc.broadcastConnChange()
}

// broadcastConnChange 唤醒所有等待连接变化的任务
func (pc *PortCore) broadcastConnChange() {
	pc.connMu.Lock()
	pc.connCond.Broadcast()
	pc.connMu.Unlock()
}
