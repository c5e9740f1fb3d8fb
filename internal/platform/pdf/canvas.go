package pdf

import (
	"bytes"
	"fmt"
	"math"
)

// Matrix はアフィン変換 [a b c d e f]。点は行ベクトルとして右から掛ける (PDF と同じ)。
type Matrix [6]float64

var Identity = Matrix{1, 0, 0, 1, 0, 0}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

func Scale(sx, sy float64) Matrix { return Matrix{sx, 0, 0, sy, 0, 0} }

// Then は m を適用した後に n を適用する変換を返す。
func (m Matrix) Then(n Matrix) Matrix {
	return Matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// Canvas は 1 ページ分のコンテンツストリームを組み立てる。
type Canvas struct {
	width, height float64
	buf           bytes.Buffer
	xobjects      Dict // リソース名 -> Form 参照
	formNames     map[Ref]Name
}

func NewCanvas(width, height float64) *Canvas {
	return &Canvas{
		width:     width,
		height:    height,
		xobjects:  Dict{},
		formNames: map[Ref]Name{},
	}
}

func (c *Canvas) Width() float64  { return c.width }
func (c *Canvas) Height() float64 { return c.height }

func (c *Canvas) op(format string, args ...float64) {
	parts := make([]any, len(args))
	for i, a := range args {
		parts[i] = formatNumber(a)
	}
	fmt.Fprintf(&c.buf, format, parts...)
	c.buf.WriteByte('\n')
}

// DrawForm は m で変換した Form を描画する (q cm Do Q)。
func (c *Canvas) DrawForm(f *Form, m Matrix) {
	name, ok := c.formNames[f.ref]
	if !ok {
		name = Name(fmt.Sprintf("Fm%d", len(c.formNames)))
		c.formNames[f.ref] = name
		c.xobjects[name] = f.ref
	}
	c.buf.WriteString("q\n")
	c.op("%s %s %s %s %s %s cm", m[0], m[1], m[2], m[3], m[4], m[5])
	var b bytes.Buffer
	name.writeTo(&b)
	c.buf.Write(b.Bytes())
	c.buf.WriteString(" Do\nQ\n")
}

func (c *Canvas) SaveState()    { c.buf.WriteString("q\n") }
func (c *Canvas) RestoreState() { c.buf.WriteString("Q\n") }

func (c *Canvas) SetLineWidth(w float64) { c.op("%s w", w) }

func (c *Canvas) SetStrokeRGB(r, g, b float64) { c.op("%s %s %s RG", r, g, b) }

func (c *Canvas) SetFillRGB(r, g, b float64) { c.op("%s %s %s rg", r, g, b) }

// SetDash は破線パターンを設定する。on/off が 0 なら実線。
func (c *Canvas) SetDash(on, off float64) {
	if on <= 0 || off <= 0 {
		c.buf.WriteString("[] 0 d\n")
		return
	}
	c.op("[%s %s] 0 d", on, off)
}

func (c *Canvas) Rect(x, y, w, h float64) { c.op("%s %s %s %s re", x, y, w, h) }

// 円弧を 3 次ベジェで近似するときの制御点係数
const kappa = 0.5523

// RoundedRect は角丸矩形のパスを追加する。r は短辺の半分までに丸める。
func (c *Canvas) RoundedRect(x, y, w, h, r float64) {
	r = math.Min(r, math.Min(w, h)/2)
	if r <= 0 {
		c.Rect(x, y, w, h)
		return
	}
	k := r * kappa
	c.op("%s %s m", x+r, y)
	c.op("%s %s l", x+w-r, y)
	c.op("%s %s %s %s %s %s c", x+w-r+k, y, x+w, y+r-k, x+w, y+r)
	c.op("%s %s l", x+w, y+h-r)
	c.op("%s %s %s %s %s %s c", x+w, y+h-r+k, x+w-r+k, y+h, x+w-r, y+h)
	c.op("%s %s l", x+r, y+h)
	c.op("%s %s %s %s %s %s c", x+r-k, y+h, x, y+h-r+k, x, y+h-r)
	c.op("%s %s l", x, y+r)
	c.op("%s %s %s %s %s %s c", x, y+r-k, x+r-k, y, x+r, y)
	c.buf.WriteString("h\n")
}

func (c *Canvas) Stroke() { c.buf.WriteString("S\n") }

func (c *Canvas) Fill() { c.buf.WriteString("f\n") }
