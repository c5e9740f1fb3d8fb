package labels

import (
	"fmt"
	"math"
)

// 1 mm = 72/25.4 pt
const PointsPerMM = 72.0 / 25.4

// 1 ジョブのフレーム数の絶対上限。運用上の上限は imposition.max_frames
const maxFrameCount = math.MaxInt32

func MMToPoints(mm float64) float64 { return mm * PointsPerMM }
func PointsToMM(pt float64) float64 { return pt / PointsPerMM }

// mm 往復変換の誤差で 200mm が 200.00000000000003mm になり、
// フレーム数の切り上げが 1 つ増えるのを防ぐ
func roundMM(v float64) float64 { return math.Round(v*1e6) / 1e6 }

// Validate は寸法が面付け可能かを調べる。
func (d Dieline) Validate() error {
	switch {
	case d.ColumnsAcross < 1:
		return ErrInvalidDieline("columns_across must be >= 1")
	case d.RowsAround < 1:
		return ErrInvalidDieline("rows_around must be >= 1")
	case !(d.LabelWidthMM > 0) || math.IsInf(d.LabelWidthMM, 0):
		return ErrInvalidDieline("label_width_mm must be > 0")
	case !(d.LabelHeightMM > 0) || math.IsInf(d.LabelHeightMM, 0):
		return ErrInvalidDieline("label_height_mm must be > 0")
	case !(d.RollWidthMM > 0) || math.IsInf(d.RollWidthMM, 0):
		return ErrInvalidDieline("roll_width_mm must be > 0")
	case !(d.HorizontalGapMM >= 0) || !(d.VerticalGapMM >= 0):
		return ErrInvalidDieline("gaps must be >= 0")
	case !(d.CornerRadiusMM >= 0):
		return ErrInvalidDieline("corner_radius_mm must be >= 0")
	}
	return nil
}

// PlanFrames はフレーム寸法と必要フレーム数を計算する。
// 取得や合成より前に呼び、ここで失敗したジョブは何もしない。
func PlanFrames(d Dieline, meters float64) (FramePlan, error) {
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters < 0 {
		return FramePlan{}, ErrInvalid("meters must be a number >= 0")
	}
	if err := d.Validate(); err != nil {
		return FramePlan{}, err
	}

	p := FramePlan{
		Dieline:       d,
		LabelWidthPt:  MMToPoints(d.LabelWidthMM),
		LabelHeightPt: MMToPoints(d.LabelHeightMM),
		HGapPt:        MMToPoints(d.HorizontalGapMM),
		VGapPt:        MMToPoints(d.VerticalGapMM),
		FrameWidthPt:  MMToPoints(d.RollWidthMM),
	}
	rows := float64(d.RowsAround)
	p.FrameHeightPt = rows*p.LabelHeightPt + (rows-1)*p.VGapPt
	p.FrameHeightMM = roundMM(PointsToMM(p.FrameHeightPt))
	if p.FrameHeightMM <= 0 {
		return FramePlan{}, ErrInvalidDieline(fmt.Sprintf("frame height must be > 0 (got %gmm)", p.FrameHeightMM))
	}

	// int 変換前に上限を見る (桁あふれで 1 フレームに化けるのを防ぐ)
	frames := math.Ceil(meters * 1000 / p.FrameHeightMM)
	if frames > maxFrameCount {
		return FramePlan{}, ErrInvalid(fmt.Sprintf("meters %g needs more than %d frames", meters, maxFrameCount))
	}
	p.FrameCount = int(frames)
	if p.FrameCount < 1 {
		p.FrameCount = 1
	}
	p.TotalMeters = math.Round(float64(p.FrameCount)*p.FrameHeightMM) / 1000
	return p, nil
}

// GridWidthPt は全列分の幅 (列間ギャップ込み)。
func (p FramePlan) GridWidthPt() float64 {
	cols := float64(p.Dieline.ColumnsAcross)
	return cols*p.LabelWidthPt + (cols-1)*p.HGapPt
}

// FrameWidthMM はロール幅そのもの。
func (p FramePlan) FrameWidthMM() float64 { return p.Dieline.RollWidthMM }
