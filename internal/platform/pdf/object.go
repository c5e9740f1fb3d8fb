// Package pdf は面付けに必要な範囲だけの PDF オブジェクト層。
// 読み込み (ページ寸法・リソース・コンテンツ) と、ページを Form XObject として
// 別文書へ取り込み、変換行列付きで描画して書き出すところまでを扱う。
package pdf

import (
	"bytes"
	"math"
	"sort"
	"strconv"
)

// Object は PDF の直接オブジェクト。
type Object interface {
	writeTo(b *bytes.Buffer)
}

type Null struct{}

type Bool bool

type Integer int64

type Real float64

// String はデコード済みのバイト列 (リテラル / 16進どちらから読んでも同じ)。
type String []byte

type Name string

type Array []Object

type Dict map[Name]Object

// Ref は間接参照 "num gen R"。
type Ref struct {
	Num int
	Gen int
}

// Stream の Data はエンコードされたままのバイト列 (Filter 未適用)。
type Stream struct {
	Dict Dict
	Data []byte
}

func (Null) writeTo(b *bytes.Buffer) { b.WriteString("null") }

func (v Bool) writeTo(b *bytes.Buffer) {
	if v {
		b.WriteString("true")
		return
	}
	b.WriteString("false")
}

func (v Integer) writeTo(b *bytes.Buffer) { b.WriteString(strconv.FormatInt(int64(v), 10)) }

func (v Real) writeTo(b *bytes.Buffer) { b.WriteString(formatNumber(float64(v))) }

func (v String) writeTo(b *bytes.Buffer) {
	b.WriteByte('(')
	for _, c := range []byte(v) {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
}

func (v Name) writeTo(b *bytes.Buffer) {
	b.WriteByte('/')
	for _, c := range []byte(v) {
		if c < 0x21 || c > 0x7e || c == '#' || isDelimiter(c) {
			b.WriteByte('#')
			b.WriteString(strconv.FormatUint(uint64(c)>>4, 16))
			b.WriteString(strconv.FormatUint(uint64(c)&0x0f, 16))
			continue
		}
		b.WriteByte(c)
	}
}

func (v Array) writeTo(b *bytes.Buffer) {
	b.WriteByte('[')
	for i, o := range v {
		if i > 0 {
			b.WriteByte(' ')
		}
		writeObject(b, o)
	}
	b.WriteByte(']')
}

// キー順は固定 (出力を決定的にする)
func (v Dict) writeTo(b *bytes.Buffer) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	b.WriteString("<<")
	for _, k := range keys {
		b.WriteByte(' ')
		Name(k).writeTo(b)
		b.WriteByte(' ')
		writeObject(b, v[Name(k)])
	}
	b.WriteString(" >>")
}

func (v Ref) writeTo(b *bytes.Buffer) {
	b.WriteString(strconv.Itoa(v.Num))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(v.Gen))
	b.WriteString(" R")
}

func (v *Stream) writeTo(b *bytes.Buffer) {
	d := make(Dict, len(v.Dict)+1)
	for k, o := range v.Dict {
		d[k] = o
	}
	d["Length"] = Integer(len(v.Data))
	d.writeTo(b)
	b.WriteString("\nstream\n")
	b.Write(v.Data)
	b.WriteString("\nendstream")
}

func writeObject(b *bytes.Buffer, o Object) {
	if o == nil {
		Null{}.writeTo(b)
		return
	}
	o.writeTo(b)
}

// formatNumber は指数表記を使わず、小数点以下 4 桁に丸めて出力する。
func formatNumber(v float64) string {
	v = math.Round(v*1e4) / 1e4
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ===== 値の取り出しヘルパ =====

// Number は Integer / Real を float64 で返す。
func Number(o Object) (float64, bool) {
	switch v := o.(type) {
	case Integer:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}

func (d Dict) Name(key Name) (Name, bool) {
	n, ok := d[key].(Name)
	return n, ok
}

func (d Dict) Int(key Name) (int, bool) {
	n, ok := d[key].(Integer)
	return int(n), ok
}

// Rect は PDF 矩形 [llx lly urx ury]。
type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

func (r Rect) Array() Array {
	return Array{Real(r.LLX), Real(r.LLY), Real(r.URX), Real(r.URY)}
}

// rectFrom は 4 要素の数値配列を正規化済み矩形に変換する。
func rectFrom(o Object) (Rect, bool) {
	a, ok := o.(Array)
	if !ok || len(a) != 4 {
		return Rect{}, false
	}
	var v [4]float64
	for i := range a {
		n, ok := Number(a[i])
		if !ok {
			return Rect{}, false
		}
		v[i] = n
	}
	return Rect{
		LLX: math.Min(v[0], v[2]),
		LLY: math.Min(v[1], v[3]),
		URX: math.Max(v[0], v[2]),
		URY: math.Max(v[1], v[3]),
	}, true
}
