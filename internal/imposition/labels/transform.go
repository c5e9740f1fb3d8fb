package labels

import (
	"fmt"

	"PRISM-backend/internal/platform/pdf"
)

// Rotation は 0/90/180/270 度の 4 通り。各値が自分の配置計算を持つ。
type Rotation interface {
	Degrees() int
	// 1/4 回転の cos, sin (誤差なしの定数)
	cosSin() (float64, float64)
	// 回転後の原点をセルのどこに置くか、と縦横どちらの寸法で割るか
	place(c Cell, srcW, srcH float64) Placement
}

type rot0 struct{}
type rot90 struct{}
type rot180 struct{}
type rot270 struct{}

var (
	Rotate0   Rotation = rot0{}
	Rotate90  Rotation = rot90{}
	Rotate180 Rotation = rot180{}
	Rotate270 Rotation = rot270{}
)

func (rot0) Degrees() int   { return 0 }
func (rot90) Degrees() int  { return 90 }
func (rot180) Degrees() int { return 180 }
func (rot270) Degrees() int { return 270 }

func (rot0) cosSin() (float64, float64)   { return 1, 0 }
func (rot90) cosSin() (float64, float64)  { return 0, 1 }
func (rot180) cosSin() (float64, float64) { return -1, 0 }
func (rot270) cosSin() (float64, float64) { return 0, -1 }

func (r rot0) place(c Cell, srcW, srcH float64) Placement {
	return Placement{
		ScaleX: fitScale(c.Width, srcW), ScaleY: fitScale(c.Height, srcH), Rotation: r,
		TranslateX: c.X, TranslateY: c.Y,
	}
}

func (r rot90) place(c Cell, srcW, srcH float64) Placement {
	return Placement{
		ScaleX: fitScale(c.Width, srcH), ScaleY: fitScale(c.Height, srcW), Rotation: r,
		TranslateX: c.X + c.Width, TranslateY: c.Y,
	}
}

func (r rot180) place(c Cell, srcW, srcH float64) Placement {
	return Placement{
		ScaleX: fitScale(c.Width, srcW), ScaleY: fitScale(c.Height, srcH), Rotation: r,
		TranslateX: c.X + c.Width, TranslateY: c.Y + c.Height,
	}
}

func (r rot270) place(c Cell, srcW, srcH float64) Placement {
	return Placement{
		ScaleX: fitScale(c.Width, srcH), ScaleY: fitScale(c.Height, srcW), Rotation: r,
		TranslateX: c.X, TranslateY: c.Y + c.Height,
	}
}

// 元寸法が 0 / 不明なら拡縮しない
func fitScale(target, src float64) float64 {
	if src <= 0 {
		return 1
	}
	return target / src
}

// ParseRotation は要求の rotation / needs_rotation から回転を決める。
// rotation 未指定で needs_rotation が立っていれば 90 度。
func ParseRotation(deg *int, needsRotation bool) (Rotation, error) {
	if deg == nil {
		if needsRotation {
			return Rotate90, nil
		}
		return Rotate0, nil
	}
	switch ((*deg % 360) + 360) % 360 {
	case 0:
		return Rotate0, nil
	case 90:
		return Rotate90, nil
	case 180:
		return Rotate180, nil
	case 270:
		return Rotate270, nil
	}
	return nil, ErrInvalid(fmt.Sprintf("rotation must be one of 0, 90, 180, 270 (got %d)", *deg))
}

// Placement は 1 ページを 1 セルへ置く変換。回転 → 拡縮 → 平行移動の順に適用する。
type Placement struct {
	ScaleX     float64
	ScaleY     float64
	Rotation   Rotation
	TranslateX float64
	TranslateY float64
}

// Compose はセルと元ページ寸法から配置を求める。
func Compose(c Cell, rot Rotation, srcW, srcH float64) Placement {
	if rot == nil {
		rot = Rotate0
	}
	return rot.place(c, srcW, srcH)
}

func (p Placement) Matrix() pdf.Matrix {
	cos, sin := p.Rotation.cosSin()
	return pdf.Matrix{
		p.ScaleX * cos,
		p.ScaleY * sin,
		-p.ScaleX * sin,
		p.ScaleY * cos,
		p.TranslateX,
		p.TranslateY,
	}
}

func (p Placement) Apply(x, y float64) (float64, float64) {
	return p.Matrix().Apply(x, y)
}
