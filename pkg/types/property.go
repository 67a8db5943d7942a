package types

import "sort"

// Property 键值属性集
//
// 管理协议里端口的用户属性表和载体参数都用它承载。
// 线上以 (key value) 子列表序列的瓶装形式编码。
type Property struct {
	m map[string]Value
}

// NewProperty 创建空属性集
func NewProperty() *Property {
	return &Property{m: make(map[string]Value)}
}

// Put 设置属性
func (p *Property) Put(key string, v Value) {
	if p.m == nil {
		p.m = make(map[string]Value)
	}
	p.m[key] = v
}

// PutString 设置字符串属性
func (p *Property) PutString(key, v string) { p.Put(key, StringValue(v)) }

// PutInt32 设置整数属性
func (p *Property) PutInt32(key string, v int32) { p.Put(key, IntValue(v)) }

// Find 取属性，不存在返回空值
func (p *Property) Find(key string) Value {
	if p.m == nil {
		return Value{}
	}
	return p.m[key]
}

// Check 属性是否存在
func (p *Property) Check(key string) bool {
	if p.m == nil {
		return false
	}
	_, ok := p.m[key]
	return ok
}

// Remove 删除属性
func (p *Property) Remove(key string) {
	if p.m != nil {
		delete(p.m, key)
	}
}

// Keys 返回排序后的键列表
func (p *Property) Keys() []string {
	keys := make([]string, 0, len(p.m))
	for k := range p.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToBottle 编码为 (key value) 子列表序列
//
// 键按字典序排列，保证编码确定。
func (p *Property) ToBottle() *Bottle {
	b := NewBottle()
	for _, k := range p.Keys() {
		pair := b.AddList()
		pair.AddString(k)
		pair.Add(p.m[k])
	}
	return b
}

// PropertyFromBottle 从 (key value) 子列表序列解码
//
// 非列表元素被忽略。
func PropertyFromBottle(b *Bottle) *Property {
	p := NewProperty()
	if b == nil {
		return p
	}
	for i := 0; i < b.Size(); i++ {
		pair := b.Get(i).AsList()
		if pair == nil || pair.Size() < 2 {
			continue
		}
		p.Put(pair.Get(0).AsString(), pair.Get(1))
	}
	return p
}
