package types

import (
	"bytes"
	"testing"
)

func TestBottleCodec(t *testing.T) {
	b := NewBottle()
	b.AddVocab("add")
	b.AddString("/target")
	b.AddInt32(-7)
	b.AddFloat64(2.5)
	inner := b.AddList()
	inner.AddString("carrier")
	inner.AddString("tcp")

	out, err := ParseBottle(b.Bytes())
	if err != nil {
		t.Fatalf("ParseBottle: %v", err)
	}
	if out.Size() != 5 {
		t.Fatalf("size = %d, want 5", out.Size())
	}
	if out.Get(0).AsVocab() != Vocab("add") {
		t.Errorf("vocab = %q", out.Get(0).AsString())
	}
	if out.Get(1).AsString() != "/target" {
		t.Errorf("string = %q", out.Get(1).AsString())
	}
	if out.Get(2).AsInt32() != -7 {
		t.Errorf("int = %d", out.Get(2).AsInt32())
	}
	if out.Get(3).AsFloat64() != 2.5 {
		t.Errorf("float = %v", out.Get(3).AsFloat64())
	}
	lst := out.Get(4).AsList()
	if lst == nil || lst.Get(1).AsString() != "tcp" {
		t.Errorf("list = %v", lst)
	}
}

func TestBottleCodecTruncated(t *testing.T) {
	b := NewBottle()
	b.AddString("hello")
	enc := b.Bytes()

	for i := 1; i < len(enc); i++ {
		if _, err := ParseBottle(enc[:i]); err == nil {
			t.Errorf("truncated at %d should fail", i)
		}
	}
}

func TestBottleText(t *testing.T) {
	tests := []struct {
		text string
		size int
	}{
		{"help", 1},
		{"[add] /b", 2},
		{"prop set /a (qos ((priority HIGH)))", 4},
		{`0 "two words"`, 2},
		{"(a b) (c d)", 2},
	}

	for _, tt := range tests {
		b, err := FromText(tt.text)
		if err != nil {
			t.Errorf("FromText(%q): %v", tt.text, err)
			continue
		}
		if b.Size() != tt.size {
			t.Errorf("FromText(%q).Size() = %d, want %d", tt.text, b.Size(), tt.size)
		}
	}
}

func TestBottleTextRoundTrip(t *testing.T) {
	b := NewBottle()
	b.AddVocab("many")
	b.AddString("one line")
	lst := b.AddList()
	lst.AddString("tos")
	lst.AddInt32(144)

	parsed, err := FromText(b.String())
	if err != nil {
		t.Fatalf("FromText(%q): %v", b.String(), err)
	}
	if parsed.Size() != 3 {
		t.Fatalf("size = %d", parsed.Size())
	}
	if parsed.Get(0).AsVocab() != Vocab("many") {
		t.Error("vocab lost in text round trip")
	}
	if parsed.Get(2).AsList().Get(1).AsInt32() != 144 {
		t.Error("nested int lost in text round trip")
	}
}

func TestBottleFindGroup(t *testing.T) {
	// prop set /a (qos ((priority HIGH)))
	cmd := NewBottle()
	cmd.AddVocab("prop")
	cmd.AddVocab("set")
	cmd.AddString("/a")
	group := cmd.AddList()
	group.AddString("qos")
	opts := group.AddList()
	pair := opts.AddList()
	pair.AddString("priority")
	pair.AddVocab("HIGH")

	qos := cmd.FindGroup("qos")
	if qos == nil {
		t.Fatal("FindGroup(qos) = nil")
	}
	prio := qos.Get(1).AsList().Find("priority")
	if prio.AsVocab() != Vocab("HIGH") {
		t.Errorf("priority = %q", prio.AsString())
	}
}

func TestBottleWriteTo(t *testing.T) {
	b := NewBottle()
	b.AddBlob([]byte{1, 2, 3})

	var buf bytes.Buffer
	if err := b.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	out, err := ReadBottle(&buf)
	if err != nil {
		t.Fatalf("ReadBottle: %v", err)
	}
	if !bytes.Equal(out.Get(0).AsBlob(), []byte{1, 2, 3}) {
		t.Errorf("blob = %v", out.Get(0).AsBlob())
	}
}
