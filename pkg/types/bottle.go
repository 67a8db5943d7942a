package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/multiformats/go-varint"
)

// 瓶装消息：管理协议和数据通道共用的嵌套列表容器。
// 线上形式为长度前缀的二进制编码，文本载体另有括号文本形式。

// MaxBottleBytes 单个瓶装消息的最大编码长度 (10 MB)
//
// 防止对长度前缀的内存耗尽攻击。
const MaxBottleBytes uint64 = 10 * 1024 * 1024

var (
	// ErrBottleTooLarge 消息超过编码长度上限
	ErrBottleTooLarge = errors.New("bottle too large")

	// ErrBadBottle 编码损坏
	ErrBadBottle = errors.New("malformed bottle")
)

// ValueKind 值的种类标签
type ValueKind uint8

const (
	// KindNull 空值（越界访问的返回）
	KindNull ValueKind = iota
	// KindInt32 32 位整数
	KindInt32
	// KindFloat64 双精度浮点
	KindFloat64
	// KindString 字符串
	KindString
	// KindVocab 4 字符短标签
	KindVocab
	// KindBlob 原始字节
	KindBlob
	// KindList 嵌套列表
	KindList
)

// Value 瓶装消息中的一个元素
type Value struct {
	kind ValueKind
	i    int32
	f    float64
	s    string
	b    []byte
	l    *Bottle
}

// NullValue 空值
func NullValue() Value { return Value{} }

// IntValue 整数值
func IntValue(v int32) Value { return Value{kind: KindInt32, i: v} }

// FloatValue 浮点值
func FloatValue(v float64) Value { return Value{kind: KindFloat64, f: v} }

// StringValue 字符串值
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

// VocabValue 短标签值
func VocabValue(tag string) Value { return Value{kind: KindVocab, i: Vocab(tag)} }

// BlobValue 字节值
func BlobValue(v []byte) Value { return Value{kind: KindBlob, b: v} }

// ListValue 列表值
func ListValue(b *Bottle) Value { return Value{kind: KindList, l: b} }

// Kind 返回值的种类
func (v Value) Kind() ValueKind { return v.kind }

// IsNull 是否为空值
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsList 是否为嵌套列表
func (v Value) IsList() bool { return v.kind == KindList }

// AsInt32 取整数，vocab 也按整数返回
func (v Value) AsInt32() int32 {
	switch v.kind {
	case KindInt32, KindVocab:
		return v.i
	case KindFloat64:
		return int32(v.f)
	}
	return 0
}

// AsFloat64 取浮点
func (v Value) AsFloat64() float64 {
	switch v.kind {
	case KindFloat64:
		return v.f
	case KindInt32:
		return float64(v.i)
	}
	return 0
}

// AsString 取字符串，vocab 还原为标签文本
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindVocab:
		return VocabString(v.i)
	}
	return ""
}

// AsVocab 取短标签编码
//
// 字符串值也按 vocab 规则打包，方便 "publisherUpdate" 这类
// 超长指令字在分发器里统一比对。
func (v Value) AsVocab() int32 {
	switch v.kind {
	case KindVocab, KindInt32:
		return v.i
	case KindString:
		return Vocab(v.s)
	}
	return 0
}

// AsBlob 取原始字节
func (v Value) AsBlob() []byte {
	if v.kind == KindBlob {
		return v.b
	}
	return nil
}

// AsList 取嵌套列表，非列表返回 nil
func (v Value) AsList() *Bottle {
	if v.kind == KindList {
		return v.l
	}
	return nil
}

// ============================================================================
//                              Bottle
// ============================================================================

// Bottle 嵌套列表形式的消息容器
type Bottle struct {
	vals []Value
}

// NewBottle 创建空瓶
func NewBottle() *Bottle {
	return &Bottle{}
}

// Size 元素个数
func (b *Bottle) Size() int { return len(b.vals) }

// Clear 清空
func (b *Bottle) Clear() { b.vals = b.vals[:0] }

// Get 取第 i 个元素，越界返回空值
func (b *Bottle) Get(i int) Value {
	if i < 0 || i >= len(b.vals) {
		return Value{}
	}
	return b.vals[i]
}

// Add 追加一个值
func (b *Bottle) Add(v Value) *Bottle {
	b.vals = append(b.vals, v)
	return b
}

// AddInt32 追加整数
func (b *Bottle) AddInt32(v int32) *Bottle { return b.Add(IntValue(v)) }

// AddFloat64 追加浮点
func (b *Bottle) AddFloat64(v float64) *Bottle { return b.Add(FloatValue(v)) }

// AddString 追加字符串
func (b *Bottle) AddString(s string) *Bottle { return b.Add(StringValue(s)) }

// AddVocab 追加短标签
func (b *Bottle) AddVocab(tag string) *Bottle { return b.Add(VocabValue(tag)) }

// AddBlob 追加字节
func (b *Bottle) AddBlob(v []byte) *Bottle { return b.Add(BlobValue(v)) }

// AddList 追加并返回一个嵌套列表
func (b *Bottle) AddList() *Bottle {
	inner := NewBottle()
	b.Add(ListValue(inner))
	return inner
}

// Copy 深拷贝
func (b *Bottle) Copy() *Bottle {
	out := NewBottle()
	for _, v := range b.vals {
		if v.kind == KindList && v.l != nil {
			out.Add(ListValue(v.l.Copy()))
			continue
		}
		if v.kind == KindBlob {
			dup := make([]byte, len(v.b))
			copy(dup, v.b)
			out.Add(BlobValue(dup))
			continue
		}
		out.Add(v)
	}
	return out
}

// Find 在 (key value) 形式的子列表中查找 key 对应的值
//
// 管理协议的属性组都按这种嵌套对编码。
func (b *Bottle) Find(key string) Value {
	for _, v := range b.vals {
		if v.kind != KindList || v.l == nil {
			continue
		}
		if v.l.Size() >= 2 && v.l.Get(0).AsString() == key {
			return v.l.Get(1)
		}
	}
	return Value{}
}

// FindGroup 查找首元素为 key 的子列表
//
// 形如 cmd.FindGroup("qos") 对应 "(qos ((priority HIGH)))"。
func (b *Bottle) FindGroup(key string) *Bottle {
	for _, v := range b.vals {
		if v.kind != KindList || v.l == nil {
			continue
		}
		if v.l.Size() >= 1 && v.l.Get(0).AsString() == key {
			return v.l
		}
	}
	return nil
}

// Check 是否存在 key 对应的值
func (b *Bottle) Check(key string) bool {
	return !b.Find(key).IsNull()
}

// ============================================================================
//                              二进制编码
// ============================================================================

// 值编码：1 字节种类标签 + 定长或变长负载。
// 列表和字节串用 uvarint 做长度前缀。

// WriteTo 将瓶装消息编码到 w
func (b *Bottle) WriteTo(w io.Writer) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(b.vals)))); err != nil {
		return err
	}
	for _, v := range b.vals {
		if err := writeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

// Bytes 编码为字节串
func (b *Bottle) Bytes() []byte {
	var buf bytes.Buffer
	_ = b.WriteTo(&buf)
	return buf.Bytes()
}

func writeValue(w io.Writer, v Value) error {
	if _, err := w.Write([]byte{byte(v.kind)}); err != nil {
		return err
	}
	switch v.kind {
	case KindNull:
		return nil
	case KindInt32, KindVocab:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v.i))
		_, err := w.Write(tmp[:])
		return err
	case KindFloat64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.f))
		_, err := w.Write(tmp[:])
		return err
	case KindString:
		return writeBytes(w, []byte(v.s))
	case KindBlob:
		return writeBytes(w, v.b)
	case KindList:
		if v.l == nil {
			_, err := w.Write(varint.ToUvarint(0))
			return err
		}
		return v.l.WriteTo(w)
	}
	return fmt.Errorf("%w: kind %d", ErrBadBottle, v.kind)
}

func writeBytes(w io.Writer, data []byte) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// byteReader 给 io.Reader 补上 ReadByte，供 uvarint 解码用
type byteReader struct {
	r io.Reader
}

func (br byteReader) Read(p []byte) (int, error) { return br.r.Read(p) }

func (br byteReader) ReadByte() (byte, error) {
	var tmp [1]byte
	if _, err := io.ReadFull(br.r, tmp[:]); err != nil {
		return 0, err
	}
	return tmp[0], nil
}

// ReadBottle 从 r 解码一个瓶装消息
func ReadBottle(r io.Reader) (*Bottle, error) {
	return readBottle(byteReader{r}, 0)
}

// ParseBottle 从字节串解码
func ParseBottle(data []byte) (*Bottle, error) {
	return ReadBottle(bytes.NewReader(data))
}

const maxBottleDepth = 32

func readBottle(br byteReader, depth int) (*Bottle, error) {
	if depth > maxBottleDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrBadBottle)
	}
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if n > MaxBottleBytes {
		return nil, fmt.Errorf("%w: %d elements", ErrBottleTooLarge, n)
	}
	b := NewBottle()
	for i := uint64(0); i < n; i++ {
		v, err := readValue(br, depth)
		if err != nil {
			return nil, err
		}
		b.Add(v)
	}
	return b, nil
}

func readValue(br byteReader, depth int) (Value, error) {
	k, err := br.ReadByte()
	if err != nil {
		return Value{}, err
	}
	switch ValueKind(k) {
	case KindNull:
		return Value{}, nil
	case KindInt32, KindVocab:
		var tmp [4]byte
		if _, err := io.ReadFull(br, tmp[:]); err != nil {
			return Value{}, err
		}
		return Value{kind: ValueKind(k), i: int32(binary.BigEndian.Uint32(tmp[:]))}, nil
	case KindFloat64:
		var tmp [8]byte
		if _, err := io.ReadFull(br, tmp[:]); err != nil {
			return Value{}, err
		}
		return FloatValue(math.Float64frombits(binary.BigEndian.Uint64(tmp[:]))), nil
	case KindString:
		data, err := readLenBytes(br)
		if err != nil {
			return Value{}, err
		}
		return StringValue(string(data)), nil
	case KindBlob:
		data, err := readLenBytes(br)
		if err != nil {
			return Value{}, err
		}
		return BlobValue(data), nil
	case KindList:
		inner, err := readBottle(br, depth+1)
		if err != nil {
			return Value{}, err
		}
		return ListValue(inner), nil
	}
	return Value{}, fmt.Errorf("%w: kind %d", ErrBadBottle, k)
}

func readLenBytes(br byteReader) ([]byte, error) {
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if n > MaxBottleBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrBottleTooLarge, n)
	}
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ============================================================================
//                              文本形式
// ============================================================================

// String 渲染为括号文本形式
//
// 短标签渲染为 [tag]，含空白的字符串加引号，嵌套列表加括号。
// 文本载体用这种形式在线上传输。
func (b *Bottle) String() string {
	var sb strings.Builder
	b.render(&sb)
	return sb.String()
}

func (b *Bottle) render(sb *strings.Builder) {
	for i, v := range b.vals {
		if i > 0 {
			sb.WriteByte(' ')
		}
		renderValue(sb, v)
	}
}

func renderValue(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindNull:
		sb.WriteString("(null)")
	case KindInt32:
		sb.WriteString(strconv.FormatInt(int64(v.i), 10))
	case KindFloat64:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindVocab:
		sb.WriteByte('[')
		sb.WriteString(VocabString(v.i))
		sb.WriteByte(']')
	case KindString:
		if needsQuoting(v.s) {
			sb.WriteString(strconv.Quote(v.s))
		} else {
			sb.WriteString(v.s)
		}
	case KindBlob:
		sb.WriteString(fmt.Sprintf("{%d bytes}", len(v.b)))
	case KindList:
		sb.WriteByte('(')
		if v.l != nil {
			v.l.render(sb)
		}
		sb.WriteByte(')')
	}
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " \t\r\n()[]\"")
}

// FromText 解析括号文本形式
//
// 供文本载体使用；解析失败返回 ErrBadBottle。
func FromText(text string) (*Bottle, error) {
	p := &textParser{src: text}
	b, err := p.parseList(false)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("%w: trailing input at %d", ErrBadBottle, p.pos)
	}
	return b, nil
}

type textParser struct {
	src string
	pos int
}

func (p *textParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *textParser) parseList(nested bool) (*Bottle, error) {
	b := NewBottle()
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			if nested {
				return nil, fmt.Errorf("%w: unterminated list", ErrBadBottle)
			}
			return b, nil
		}
		switch p.src[p.pos] {
		case ')':
			if !nested {
				return nil, fmt.Errorf("%w: unexpected ')'", ErrBadBottle)
			}
			p.pos++
			return b, nil
		case '(':
			p.pos++
			inner, err := p.parseList(true)
			if err != nil {
				return nil, err
			}
			b.Add(ListValue(inner))
		case '[':
			end := strings.IndexByte(p.src[p.pos:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated vocab", ErrBadBottle)
			}
			b.AddVocab(p.src[p.pos+1 : p.pos+end])
			p.pos += end + 1
		case '"':
			s, err := p.parseQuoted()
			if err != nil {
				return nil, err
			}
			b.AddString(s)
		default:
			tok := p.parseToken()
			b.Add(tokenValue(tok))
		}
	}
}

func (p *textParser) parseQuoted() (string, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			p.pos++
			s, err := strconv.Unquote(p.src[start:p.pos])
			if err != nil {
				return "", fmt.Errorf("%w: bad quoted string", ErrBadBottle)
			}
			return s, nil
		default:
			p.pos++
		}
	}
	return "", fmt.Errorf("%w: unterminated string", ErrBadBottle)
}

func (p *textParser) parseToken() string {
	start := p.pos
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\r', '\n', '(', ')', '[', '"':
			return p.src[start:p.pos]
		}
		p.pos++
	}
	return p.src[start:]
}

func tokenValue(tok string) Value {
	if i, err := strconv.ParseInt(tok, 10, 32); err == nil {
		return IntValue(int32(i))
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return FloatValue(f)
	}
	return StringValue(tok)
}
