package labels

import (
	"fmt"

	"PRISM-backend/internal/platform/pdf"
)

// 校正用の抜き線 (マゼンタ, 0.5pt)
const (
	proofLineWidth = 0.5
	proofR         = 1.0
	proofG         = 0.0
	proofB         = 1.0
)

// BuildProof は本番 PDF の各ページに抜き線を重ねた校正 PDF を作る。
// セル位置は本番と同じ plan.Cells() を使う。
func BuildProof(production []byte, plan FramePlan) ([]byte, error) {
	doc, err := pdf.Parse(production)
	if err != nil {
		return nil, fmt.Errorf("read production: %w", err)
	}

	w := pdf.NewWriter()
	w.SetInfo("Producer", producer)
	w.SetInfo("Title", "dieline proof")

	cells := plan.Cells()
	radius := MMToPoints(plan.Dieline.CornerRadiusMM)

	for i := 0; i < doc.NumPages(); i++ {
		form, err := w.ImportPage(doc, i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		c := pdf.NewCanvas(form.Width(), form.Height())
		c.DrawForm(form, pdf.Identity)

		c.SaveState()
		c.SetStrokeRGB(proofR, proofG, proofB)
		c.SetLineWidth(proofLineWidth)
		for _, cell := range cells {
			c.RoundedRect(cell.X, cell.Y, cell.Width, cell.Height, radius)
			c.Stroke()
		}
		c.RestoreState()

		if err := w.AddPage(c); err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
	}
	return w.Bytes()
}

// tryProof は校正 PDF の生成で起きたことを全部エラーに変える (panic 含む)。
// 呼び出し側は失敗しても本番の結果をそのまま返す。
func tryProof(production []byte, plan FramePlan) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("proof generation panicked: %v", r)
		}
	}()
	return BuildProof(production, plan)
}
