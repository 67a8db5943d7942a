package portcore

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/dep2p/go-port/pkg/types"
)

// ROS 兼容子方言：针对 ROS 名字服务的 publisherUpdate 回调
// 与 requestTopic 查询。整套指令在配置里开关；关着的时候
// 这些指令字走未知指令路径。

// ROSTopicDialer 向 ROS publisher 查询数据通道地址
//
// publisherUpdate 发现新 publisher 时用它取得 TCPROS 端点。
// 未安装时使用内建实现（经管理通道的瓶装 RPC）。
type ROSTopicDialer interface {
	// RequestTopic 返回 publisher 数据通道的联系地址
	RequestTopic(node, topic, publisher string) (types.Contact, error)
}

// WithROSDialer 安装 ROS 话题拨号器
func WithROSDialer(d ROSTopicDialer) Option {
	return func(pc *PortCore) error {
		pc.rosDialer = d
		return nil
	}
}

// adminPublisherUpdate 对账 publisher 列表
//
// 不在列表里的 pupped 单元标记拆除；列表里没见过的
// publisher 先 requestTopic 再反向拨一条 TCPROS 输入。
func (pc *PortCore) adminPublisherUpdate(cmd *types.Bottle, result *types.Bottle) {
	topic := fromRosName(cmd.Get(2).AsString())
	pubs := cmd.Get(3).AsList()

	if pubs != nil {
		listed := make(map[string]bool, pubs.Size())
		for i := 0; i < pubs.Size(); i++ {
			listed[pubs.Get(i).AsString()] = true
		}

		present := make(map[string]bool)
		doomedAny := false
		pc.stateMu.Lock()
		for _, u := range pc.units {
			if u == nil {
				continue
			}
			if tag, ok := u.PuppedTag(); ok {
				present[tag] = true
				if !listed[tag] {
					u.Doom()
					doomedAny = true
				}
			}
		}
		running := pc.state == types.StateRunning && !pc.closing
		face := pc.face
		addr := pc.address
		pc.stateMu.Unlock()

		// 拆除集变了就自连一次，让监听循环尽快收割
		if doomedAny && running && face != nil {
			if op, err := face.Write(addr); err == nil {
				_ = op.Close()
			}
		}

		for i := 0; i < pubs.Size(); i++ {
			pub := pubs.Get(i).AsString()
			if present[pub] {
				continue
			}
			logger.Debug("发现新 publisher", "topic", topic, "publisher", pub)
			contact, err := pc.requestTopic(pub, topic)
			if err != nil {
				logger.Warn("requestTopic 失败", "publisher", pub, "error", err)
				continue
			}
			carrier := "rostcp+role.pub+topic." + topic
			contact.Carrier = "rostcp"
			sess, err := pc.carriers.Connect(contact)
			if err != nil {
				logger.Warn("连接 publisher 失败", "publisher", pub, "error", err)
				continue
			}
			route := types.NewRoute(pc.Name(), pub, carrier)
			if err := sess.Open(route); err != nil {
				_ = sess.Close()
				logger.Warn("publisher 握手失败", "publisher", pub, "error", err)
				continue
			}
			in, reverse := sess.Input()
			if !reverse {
				_ = sess.Close()
				continue
			}
			sess.Rename(route.Swapped())
			if u := pc.addInput(in, true); u != nil {
				if iu, ok := u.(*inputUnit); ok {
					iu.setPupped(pub)
				}
			}
		}
	}

	result.AddInt32(1)
	result.AddString("ok")
}

// requestTopic 查询 publisher 的数据通道地址
func (pc *PortCore) requestTopic(pub, topic string) (types.Contact, error) {
	node := nodeNameOf(pc.Name())
	if pc.rosDialer != nil {
		return pc.rosDialer.RequestTopic(node, topic, pub)
	}
	return pc.builtinRequestTopic(node, topic, pub)
}

// builtinRequestTopic 内建实现：经管理通道的瓶装 RPC
//
// 请求形如 (requestTopic, node, topic, ((TCPROS)))，
// 预期应答 (1, node, (TCPROS, host, port))。
func (pc *PortCore) builtinRequestTopic(node, topic, pub string) (types.Contact, error) {
	target, err := parsePublisherURI(pub)
	if err != nil {
		return types.Contact{}, err
	}

	sess, err := pc.carriers.Connect(target)
	if err != nil {
		return types.Contact{}, err
	}
	defer sess.Close()

	if err := sess.Open(types.NewRoute(pc.Name(), pub, target.Carrier)); err != nil {
		return types.Contact{}, err
	}

	req := types.NewBottle()
	req.AddString("requestTopic")
	req.AddString(node)
	req.AddString(topic)
	protos := req.AddList()
	protos.AddList().AddString("TCPROS")

	if err := sess.WriteFrame(req, "", true); err != nil {
		return types.Contact{}, err
	}
	reply, err := sess.ReadReply()
	if err != nil {
		return types.Contact{}, err
	}

	if reply.Get(0).AsInt32() != 1 {
		return types.Contact{}, errors.New("failure looking up topic " + topic + ": " + reply.String())
	}
	pref := reply.Get(2).AsList()
	if pref == nil {
		return types.Contact{}, errors.New("failure looking up topic " + topic + ": expected list of protocols")
	}
	if pref.Get(0).AsString() != "TCPROS" {
		return types.Contact{}, errors.New("failure looking up topic " + topic + ": unsupported protocol " + pref.Get(0).AsString())
	}
	host := pref.Get(1).AsString()
	port := int(pref.Get(2).AsInt32())
	if port == 0 {
		return types.Contact{}, errors.New("failure looking up topic " + topic + ": no port")
	}
	return types.Contact{Host: host, Port: port}, nil
}

// parsePublisherURI 解析 publisher 地址
//
// 接受 "http://host:port"、"tcp://host:port" 或裸 "host:port"。
func parsePublisherURI(pub string) (types.Contact, error) {
	s := pub
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return types.Contact{}, err
		}
		s = u.Host
	}
	host, portStr, found := strings.Cut(s, ":")
	if !found || host == "" {
		return types.Contact{}, errors.New("bad publisher address: " + pub)
	}
	port, err := strconv.Atoi(strings.TrimSuffix(portStr, "/"))
	if err != nil || port <= 0 {
		return types.Contact{}, errors.New("bad publisher address: " + pub)
	}
	return types.Contact{Name: pub, Host: host, Port: port, Carrier: "tcp"}, nil
}

// fromRosName 把 ROS 话题名规整成端口名形式
func fromRosName(name string) string {
	if name == "" {
		return name
	}
	if name[0] != '/' {
		return "/" + name
	}
	return name
}
