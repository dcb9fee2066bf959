package board

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestSAMA5D2(t *testing.T) {
	b := SAMA5D2
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	if n := b.Channels(); n != 32 {
		t.Errorf("Channels() = %d, want 32", n)
	}
	enc1, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	enc2, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc1, enc2) {
		t.Error("encoding is not deterministic")
	}
	dec, err := Decode(enc1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*dec, b) {
		t.Errorf("decoded %+v, want %+v", *dec, b)
	}
}

func TestDecodeUnknownField(t *testing.T) {
	data, err := cbor.Marshal(map[int]any{
		1:  "custom",
		2:  []map[int]any{{1: 6, 2: 0xf0010000, 3: 16}},
		3:  0xffffff,
		4:  4096,
		6:  32,
		42: "unexpected",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); err == nil {
		t.Error("unknown field accepted")
	}
	if _, err := Decode([]byte{0xa1}); err == nil {
		t.Error("truncated description accepted")
	}
}

func TestValidate(t *testing.T) {
	ctl := Controller{ID: 6, Base: 0x1000, Channels: 16}
	valid := Board{Controllers: []Controller{ctl}, MaxMicroblock: 16, MaxBlocks: 4, CacheLine: 64}
	tests := []struct {
		name  string
		edit  func(b *Board)
		valid bool
	}{
		{"valid", func(b *Board) {}, true},
		{"no controllers", func(b *Board) { b.Controllers = nil }, false},
		{"zero channels", func(b *Board) { b.Controllers[0].Channels = 0 }, false},
		{"17 channels", func(b *Board) { b.Controllers[0].Channels = 17 }, false},
		{"duplicate id", func(b *Board) {
			b.Controllers = append(b.Controllers, Controller{ID: 6, Base: 0x2000, Channels: 1})
		}, false},
		{"duplicate base", func(b *Board) {
			b.Controllers = append(b.Controllers, Controller{ID: 7, Base: 0x1000, Channels: 1})
		}, false},
		{"zero limits", func(b *Board) { b.MaxBlocks = 0 }, false},
		{"cache line", func(b *Board) { b.CacheLine = 48 }, false},
	}
	for _, test := range tests {
		b := valid
		b.Controllers = append([]Controller(nil), valid.Controllers...)
		test.edit(&b)
		if err := b.Validate(); (err == nil) != test.valid {
			t.Errorf("%s: Validate() = %v", test.name, err)
		}
	}
}
