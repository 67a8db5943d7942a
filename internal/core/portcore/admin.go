package portcore

import (
	"os"
	"runtime"

	ifc "github.com/dep2p/go-port/pkg/interfaces"
	"github.com/dep2p/go-port/pkg/types"
)

// 管理指令分发器：入站管理帧不交给端口用户，由端口自己
// 读取并应答。指令字是打包成 32 位整数的 3~4 字符短标签。

// AdminReplyReader 带应答的管理兜底回调
//
// 安装的管理回调实现本接口时，未知指令交给它并把
// 返回的瓶装内容作为应答；否则只能回 (fail, ...)。
type AdminReplyReader interface {
	ReadWithReply(r ifc.ConnectionReader) (*types.Bottle, bool)
}

// adminBlock 解析并执行一条管理指令
//
// cr 是指令的读取视图（ROS 指令经由它请求断开）；
// caller 是执行指令的单元自身，拆除类指令等待时跳过它。
func (pc *PortCore) adminBlock(cmd *types.Bottle, cr ifc.ConnectionReader, caller portUnit) *types.Bottle {
	result := types.NewBottle()

	logger.Debug("收到管理指令", "port", pc.Name(), "cmd", cmd.String())

	verb := cmd.Get(0).AsVocab()

	// ROS 客户端 API 的长指令名改写成短标签
	if pc.config.ROSCompat {
		switch cmd.Get(0).AsString() {
		case "publisherUpdate":
			verb = types.Vocab("rpup")
		case "requestTopic":
			verb = types.Vocab("rtop")
		case "getPid":
			verb = types.Vocab("pid")
		case "getBusInfo":
			verb = types.Vocab("bus")
		}
	}

	if pc.instruments != nil {
		pc.instruments.AdminObserved(types.VocabString(verb))
	}

	switch verb {
	case types.Vocab("help"):
		// 最常用管理指令的清单
		result.AddVocab("many")
		result.AddString("[help]                  # give this help")
		result.AddString("[ver]                   # report protocol version information")
		result.AddString("[add] $portname         # add an output connection")
		result.AddString("[add] $portname $car    # add an output with a given protocol")
		result.AddString("[del] $portname         # remove an input or output connection")
		result.AddString("[list] [in]             # list input connections")
		result.AddString("[list] [out]            # list output connections")
		result.AddString("[list] [in]  $portname  # give details for input")
		result.AddString("[list] [out] $portname  # give details for output")
		result.AddString("[prop] [get]            # get all user-defined port properties")
		result.AddString("[prop] [get] $prop      # get a user-defined port property (prop, val)")
		result.AddString("[prop] [set] $prop $val # set a user-defined port property (prop, val)")
		result.AddString("[prop] [get] $portname  # get Qos properties of a connection to/from a port")
		result.AddString("[prop] [set] $portname  # set Qos properties of a connection to/from a port")
		result.AddString("[prop] [get] $cur_port  # get information about current process (e.g., scheduling priority, pid)")
		result.AddString("[prop] [set] $cur_port  # set properties of the current process (e.g., scheduling priority, pid)")
		result.AddString("[atch] [out] $prop      # attach a portmonitor plug-in to the port's output")
		result.AddString("[atch] [in]  $prop      # attach a portmonitor plug-in to the port's input")
		result.AddString("[dtch] [out]            # detach portmonitor plug-in from the port's output")
		result.AddString("[dtch] [in]             # detach portmonitor plug-in from the port's input")

	case types.Vocab("ver"):
		// 管理协议版本，与库版本无关
		result.AddVocab("ver")
		result.AddInt32(1)
		result.AddInt32(2)
		result.AddInt32(3)

	case types.Vocab("add"):
		output := cmd.Get(1).AsString()
		carrier := cmd.Get(2).AsString()
		if carrier != "" {
			output = carrier + ":" + output
		}
		var d Diag
		pc.AddOutput(output, &d, false)
		v := int32(-1)
		if msg := d.first(); msg != "" && msg[0] == 'A' {
			v = 0
		}
		result.AddInt32(v)
		result.AddString(d.String())

	case types.Vocab("del"):
		// 拆掉与目标有关的输入和输出
		target := cmd.Get(1).AsString()
		var d1, d2 Diag
		pc.removeOutputFrom(caller, target, &d1)
		pc.removeInputFrom(caller, target, &d2)
		r1, r2 := d1.first(), d2.first()
		ok1 := r1 != "" && r1[0] == 'R'
		ok2 := r2 != "" && r2[0] == 'R'
		v := int32(-1)
		if ok1 || ok2 {
			v = 0
		}
		result.AddInt32(v)
		switch {
		case ok1 && !ok2:
			result.AddString(d1.String())
		case !ok1 && ok2:
			result.AddString(d2.String())
		default:
			result.AddString(d1.String() + d2.String())
		}

	case types.Vocab("list"):
		pc.adminList(cmd, result)

	case types.Vocab("set"):
		pc.adminSet(cmd, result)

	case types.Vocab("get"):
		pc.adminGet(cmd, result)

	case types.Vocab("prop"):
		pc.adminProp(cmd, result)

	case types.Vocab("atch"):
		pc.adminAttach(cmd, result)

	case types.Vocab("dtch"):
		pc.adminDetach(cmd, result)

	case types.Vocab("rpup"):
		if pc.config.ROSCompat {
			pc.adminPublisherUpdate(cmd, result)
			cr.RequestDrop() // ROS 对端要求关闭连接
			break
		}
		pc.adminUnknown(cmd, cr, result)

	case types.Vocab("rtop"):
		if pc.config.ROSCompat {
			addr := pc.Address()
			result.AddInt32(1)
			result.AddString(nodeNameOf(pc.Name()))
			lst := result.AddList()
			lst.AddString("TCPROS")
			lst.AddString(addr.Host)
			lst.AddInt32(int32(addr.Port))
			cr.RequestDrop()
			break
		}
		pc.adminUnknown(cmd, cr, result)

	case types.Vocab("pid"):
		if pc.config.ROSCompat {
			result.AddInt32(1)
			result.AddString("")
			result.AddInt32(int32(os.Getpid()))
			cr.RequestDrop()
			break
		}
		pc.adminUnknown(cmd, cr, result)

	case types.Vocab("bus"):
		if pc.config.ROSCompat {
			result.AddInt32(1)
			result.AddString("")
			result.AddList().AddList()
			cr.RequestDrop()
			break
		}
		pc.adminUnknown(cmd, cr, result)

	default:
		pc.adminUnknown(cmd, cr, result)
	}

	return result
}

// adminUnknown 未知指令：先给兜底回调一个机会
func (pc *PortCore) adminUnknown(cmd *types.Bottle, cr ifc.ConnectionReader, result *types.Bottle) {
	pc.stateMu.Lock()
	adminReader := pc.adminReader
	pc.stateMu.Unlock()

	if adminReader != nil {
		view := &adminCmdReader{cmd: cmd, inner: cr}
		if rr, ok := adminReader.(AdminReplyReader); ok {
			pc.lockCallback()
			reply, handled := rr.ReadWithReply(view)
			pc.unlockCallback()
			if handled && reply != nil {
				*result = *reply
				return
			}
		} else {
			pc.lockCallback()
			handled := adminReader.Read(view)
			pc.unlockCallback()
			if handled {
				result.AddVocab("ok")
				return
			}
		}
	}

	result.Clear()
	result.AddVocab("fail")
	result.AddString("send [help] for list of valid commands")
}

// adminCmdReader 把指令瓶包成读取视图交给兜底回调
type adminCmdReader struct {
	cmd   *types.Bottle
	inner ifc.ConnectionReader
}

var _ ifc.ConnectionReader = (*adminCmdReader)(nil)

func (r *adminCmdReader) ReadBottle() (*types.Bottle, error) { return r.cmd, nil }
func (r *adminCmdReader) Route() types.Route                 { return r.inner.Route() }
func (r *adminCmdReader) Envelope() string                   { return r.inner.Envelope() }
func (r *adminCmdReader) IsEmpty() bool                      { return false }
func (r *adminCmdReader) ReplyWriter() ifc.ReplyWriter       { return r.inner.ReplyWriter() }
func (r *adminCmdReader) RequestDrop()                       { r.inner.RequestDrop() }

// adminList 列出连接
func (pc *PortCore) adminList(cmd *types.Bottle, result *types.Bottle) {
	which := cmd.Get(1).AsVocab()
	target := cmd.Get(2).AsString()
	wantInput := which == types.Vocab("in")

	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()

	for _, u := range pc.units {
		if u == nil || u.IsFinished() {
			continue
		}
		if wantInput != (u.Direction() == types.DirInput) {
			continue
		}
		r := u.Route()
		endpointName := r.To
		if wantInput {
			endpointName = r.From
		}
		if target == "" {
			if endpointName != "" {
				result.AddString(endpointName)
			}
			continue
		}
		if endpointName != target {
			continue
		}
		// 命中具名端口：给出路由详情和载体能力
		addPair(result, "from", r.From)
		addPair(result, "to", r.To)
		addPair(result, "carrier", r.Carrier)
		if tmpl, ok := pc.carriers.Get(r.Carrier); ok {
			if tmpl.IsConnectionless() {
				addIntPair(result, "connectionless", 1)
			}
			if !tmpl.IsPush() {
				addIntPair(result, "push", 0)
			}
		}
	}
}

func addPair(b *types.Bottle, key, val string) {
	pair := b.AddList()
	pair.AddString(key)
	pair.AddString(val)
}

func addIntPair(b *types.Bottle, key string, val int32) {
	pair := b.AddList()
	pair.AddString(key)
	pair.AddInt32(val)
}

// adminSet 更新连接或本端修饰器的载体参数
func (pc *PortCore) adminSet(cmd *types.Bottle, result *types.Bottle) {
	which := cmd.Get(1).AsVocab()
	target := cmd.Get(2).AsString()
	wantInput := which == types.Vocab("in")

	if target == "" {
		result.AddInt32(-1)
		result.AddString("target port is not specified.")
		return
	}

	if target == pc.Name() {
		// 目标是自己：参数交给对应侧的修饰器
		prop := propertyFromCmd(cmd)
		if err := pc.modifier.setParams(!wantInput, prop); err != nil {
			result.AddVocab("fail")
			result.AddString(err.Error())
			return
		}
		result.AddVocab("ok")
		return
	}

	u := pc.findUnit(wantInput, target)
	if u == nil {
		result.AddInt32(-1)
		if wantInput {
			result.AddString("Could not find an incoming connection from " + target)
		} else {
			result.AddString("Could not find an outgoing connection to " + target)
		}
		return
	}
	u.SetCarrierParams(propertyFromCmd(cmd))
	result.AddInt32(0)
	if wantInput {
		result.AddString("Configured connection from " + target)
	} else {
		result.AddString("Configured connection to " + target)
	}
}

// adminGet 读取连接参数或本端自省信息
func (pc *PortCore) adminGet(cmd *types.Bottle, result *types.Bottle) {
	which := cmd.Get(1).AsVocab()
	target := cmd.Get(2).AsString()
	wantInput := which == types.Vocab("in")

	if target == "" {
		result.AddInt32(-1)
		result.AddString("target port is not specified.")
		return
	}

	if target == pc.Name() {
		prop := types.NewProperty()
		if err := pc.modifier.getParams(!wantInput, prop); err != nil {
			// 无修饰器时退回端口自省块
			pc.introspect(result)
			return
		}
		result.Add(types.ListValue(prop.ToBottle()))
		return
	}

	u := pc.findUnit(wantInput, target)
	if u == nil {
		result.AddInt32(-1)
		if wantInput {
			result.AddString("Could not find an incoming connection from " + target)
		} else {
			result.AddString("Could not find an outgoing connection to " + target)
		}
		return
	}
	prop := types.NewProperty()
	u.GetCarrierParams(prop)
	result.Add(types.ListValue(prop.ToBottle()))
}

// findUnit 按方向和端点名找单元
func (pc *PortCore) findUnit(wantInput bool, target string) portUnit {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	for _, u := range pc.units {
		if u == nil || u.IsFinished() {
			continue
		}
		if wantInput != (u.Direction() == types.DirInput) {
			continue
		}
		r := u.Route()
		name := r.To
		if wantInput {
			name = r.From
		}
		if name == target {
			return u
		}
	}
	return nil
}

// findUnitByPortName 不分方向按端点名找单元
func (pc *PortCore) findUnitByPortName(target string) portUnit {
	pc.stateMu.Lock()
	defer pc.stateMu.Unlock()
	for _, u := range pc.units {
		if u == nil || u.IsFinished() {
			continue
		}
		r := u.Route()
		name := r.From
		if u.Direction() == types.DirOutput {
			name = r.To
		}
		if name == target {
			return u
		}
	}
	return nil
}

// introspect 端口自省块：调度、进程、平台、端口标志与类型
func (pc *PortCore) introspect(result *types.Bottle) {
	sched := result.AddList()
	sched.AddString("sched")
	schedProp := types.NewProperty()
	schedProp.PutInt32("goroutines", int32(runtime.NumGoroutine()))
	schedProp.PutInt32("priority", 0)
	schedProp.PutInt32("policy", 0)
	sched.Add(types.ListValue(schedProp.ToBottle()))

	proc := result.AddList()
	proc.AddString("process")
	procProp := types.NewProperty()
	procProp.PutInt32("pid", int32(os.Getpid()))
	procProp.PutString("name", processName())
	procProp.PutInt32("priority", 0)
	procProp.PutInt32("policy", 0)
	proc.Add(types.ListValue(procProp.ToBottle()))

	platform := result.AddList()
	platform.AddString("platform")
	platProp := types.NewProperty()
	platProp.PutString("os", runtime.GOOS)
	platProp.PutString("hostname", pc.Address().Host)
	platform.Add(types.ListValue(platProp.ToBottle()))

	flags := pc.Flags()
	port := result.AddList()
	port.AddString("port")
	portProp := types.NewProperty()
	portProp.PutInt32("is_input", boolInt(flags.Has(types.FlagInput)))
	portProp.PutInt32("is_output", boolInt(flags.Has(types.FlagOutput)))
	portProp.PutInt32("is_rpc", boolInt(flags.Has(types.FlagRPC)))
	portProp.PutString("type", pc.PayloadType())
	port.Add(types.ListValue(portProp.ToBottle()))
}

func boolInt(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

func processName() string {
	if len(os.Args) > 0 {
		return os.Args[0]
	}
	return "unknown"
}

// propertyFromCmd 把指令尾部的 (key value) 组收进属性集
func propertyFromCmd(cmd *types.Bottle) *types.Property {
	p := types.NewProperty()
	for i := 3; i < cmd.Size(); i++ {
		pair := cmd.Get(i).AsList()
		if pair == nil || pair.Size() < 2 {
			continue
		}
		p.Put(pair.Get(0).AsString(), pair.Get(1))
	}
	return p
}

// adminProp 用户属性表与 QoS/调度属性组
func (pc *PortCore) adminProp(cmd *types.Bottle, result *types.Bottle) {
	action := cmd.Get(1).AsVocab()
	switch action {
	case types.Vocab("get"):
		pc.adminPropGet(cmd, result)
	case types.Vocab("set"):
		pc.adminPropSet(cmd, result)
	default:
		result.AddVocab("fail")
		result.AddString("property action not known")
	}
}

func (pc *PortCore) adminPropGet(cmd *types.Bottle, result *types.Bottle) {
	key := cmd.Get(2)

	if key.IsNull() {
		// 全部用户属性
		prop := pc.acquireProperties(true)
		if prop != nil {
			*result = *prop.ToBottle()
		}
		pc.releaseProperties()
		return
	}

	name := key.AsString()
	if len(name) == 0 || name[0] != '/' {
		prop := pc.acquireProperties(true)
		if prop != nil {
			result.Add(prop.Find(name))
		} else {
			result.Add(types.NullValue())
		}
		pc.releaseProperties()
		return
	}

	// 以 '/' 开头：端口或连接的 QoS/调度信息
	if name == pc.Name() {
		pc.introspect(result)
		pc.stateMu.Lock()
		tos := pc.portTOS
		pc.stateMu.Unlock()
		if tos >= 0 {
			qos := result.AddList()
			qos.AddString("qos")
			qosProp := types.NewProperty()
			qosProp.PutInt32("tos", int32(tos))
			qos.Add(types.ListValue(qosProp.ToBottle()))
		}
		return
	}

	u := pc.findUnitByPortName(name)
	if u == nil {
		result.AddVocab("fail")
		result.AddString("cannot find any connection to/from " + name)
		return
	}
	sched := result.AddList()
	sched.AddString("sched")
	schedProp := types.NewProperty()
	schedProp.PutInt32("priority", 0)
	schedProp.PutInt32("policy", 0)
	sched.Add(types.ListValue(schedProp.ToBottle()))
	qos := result.AddList()
	qos.AddString("qos")
	qosProp := types.NewProperty()
	qosProp.PutInt32("tos", int32(u.GetTOS()))
	qos.Add(types.ListValue(qosProp.ToBottle()))
}

func (pc *PortCore) adminPropSet(cmd *types.Bottle, result *types.Bottle) {
	key := cmd.Get(2).AsString()
	ok := true

	// 先落进用户属性表
	prop := pc.acquireProperties(false)
	prop.Put(key, cmd.Get(3))
	pc.releaseProperties()

	// 目标是端口名时识别 qos / sched / process 组
	if len(key) > 0 && key[0] == '/' {
		if qos := cmd.FindGroup("qos"); qos != nil {
			tos := qosFromGroup(qos)
			if tos < 0 {
				ok = false
			} else if key == pc.Name() {
				// 对自身端口：推给所有连接
				ok = pc.setAllUnitsTOS(tos)
			} else if u := pc.findUnitByPortName(key); u != nil {
				ok = setUnitTOS(u, tos)
			} else {
				ok = false
			}
		}
		if sched := cmd.FindGroup("sched"); sched != nil {
			// Go 运行时不暴露线程级调度：承认指令但不动作
			if pc.findUnitByPortName(key) == nil && key != pc.Name() {
				ok = false
			}
		}
		if process := cmd.FindGroup("process"); process != nil {
			if key != pc.Name() {
				ok = false
			}
		}
	}

	if ok {
		result.AddVocab("ok")
	} else {
		result.AddVocab("fail")
	}
}

// adminAttach 挂接修饰器
func (pc *PortCore) adminAttach(cmd *types.Bottle, result *types.Bottle) {
	side := cmd.Get(1).AsVocab()
	isOutput := side == types.Vocab("out")
	if !isOutput && side != types.Vocab("in") {
		result.AddVocab("fail")
		result.AddString("attach command must be followed by [out] or [in]")
		return
	}

	if pc.modifierFactory == nil {
		result.AddVocab("fail")
		result.AddString("no portmonitor modifier is available")
		return
	}

	prop := types.NewProperty()
	if propText := cmd.Get(2).AsString(); propText != "" {
		if b, err := types.FromText(propText); err == nil {
			for i := 0; i < b.Size(); i++ {
				pair := b.Get(i).AsList()
				if pair != nil && pair.Size() >= 2 {
					prop.Put(pair.Get(0).AsString(), pair.Get(1))
				}
			}
		}
	}
	if isOutput {
		prop.PutString("source", pc.Name())
		prop.PutString("destination", "")
		prop.PutInt32("sender_side", 1)
		prop.PutInt32("receiver_side", 0)
	} else {
		prop.PutString("source", "")
		prop.PutString("destination", pc.Name())
		prop.PutInt32("sender_side", 0)
		prop.PutInt32("receiver_side", 1)
	}

	mod := pc.modifierFactory.NewModifier()
	if err := mod.Configure(prop); err != nil {
		_ = mod.Close()
		result.AddVocab("fail")
		result.AddString("Failed to configure the portmonitor plug-in")
		return
	}
	pc.modifier.attach(isOutput, mod)
	result.AddVocab("ok")
}

// adminDetach 摘除修饰器
func (pc *PortCore) adminDetach(cmd *types.Bottle, result *types.Bottle) {
	side := cmd.Get(1).AsVocab()
	switch side {
	case types.Vocab("out"):
		pc.modifier.releaseOut()
		result.AddVocab("ok")
	case types.Vocab("in"):
		pc.modifier.releaseIn()
		result.AddVocab("ok")
	default:
		result.AddVocab("fail")
		result.AddString("detach command must be followed by [out] or [in]")
	}
}

// nodeNameOf 取端口名的节点部分（去掉嵌套后缀）
func nodeNameOf(name string) string {
	for i := 1; i < len(name); i++ {
		if name[i] == '@' || name[i] == '~' {
			return name[:i]
		}
	}
	return name
}
