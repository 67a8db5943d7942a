package portcore

import (
	"errors"
	"sync"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// portModifier 端口两侧的流修饰器
//
// 每侧一把锁：修饰器的挂接/摘除窗口内，发送与接收路径
// 的咨询也要安全。
type portModifier struct {
	inMu sync.Mutex
	in   ifc.Modifier

	outMu sync.Mutex
	out   ifc.Modifier
}

// attach 挂接修饰器，替换当前已挂接的
func (m *portModifier) attach(isOutput bool, mod ifc.Modifier) {
	if isOutput {
		_ = m.releaseOut()
		m.outMu.Lock()
		m.out = mod
		m.outMu.Unlock()
		return
	}
	_ = m.releaseIn()
	m.inMu.Lock()
	m.in = mod
	m.inMu.Unlock()
}

// releaseOut 摘除出站侧修饰器
func (m *portModifier) releaseOut() error {
	m.outMu.Lock()
	mod := m.out
	m.out = nil
	m.outMu.Unlock()
	if mod != nil {
		return mod.Close()
	}
	return nil
}

// releaseIn 摘除入站侧修饰器
func (m *portModifier) releaseIn() error {
	m.inMu.Lock()
	mod := m.in
	m.in = nil
	m.inMu.Unlock()
	if mod != nil {
		return mod.Close()
	}
	return nil
}

// setParams 更新指定侧修饰器的运行参数
func (m *portModifier) setParams(isOutput bool, p *types.Property) error {
	if isOutput {
		m.outMu.Lock()
		defer m.outMu.Unlock()
		if m.out == nil {
			return errors.New("No port modifier is attached to the output")
		}
		m.out.SetCarrierParams(p)
		return nil
	}
	m.inMu.Lock()
	defer m.inMu.Unlock()
	if m.in == nil {
		return errors.New("No port modifier is attached to the input")
	}
	m.in.SetCarrierParams(p)
	return nil
}

// getParams 读取指定侧修饰器的运行参数
func (m *portModifier) getParams(isOutput bool, p *types.Property) error {
	if isOutput {
		m.outMu.Lock()
		defer m.outMu.Unlock()
		if m.out == nil {
			return errors.New("No port modifier is attached to the output")
		}
		m.out.GetCarrierParams(p)
		return nil
	}
	m.inMu.Lock()
	defer m.inMu.Unlock()
	if m.in == nil {
		return errors.New("No port modifier is attached to the input")
	}
	m.in.GetCarrierParams(p)
	return nil
}
