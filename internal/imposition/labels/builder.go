package labels

import (
	"context"
	"fmt"
	"sort"

	"PRISM-backend/internal/platform/pdf"
)

const producer = "PRISM label imposition"

type buildResult struct {
	PDF        []byte
	Warnings   []string
	Placed     int // 1 フレームあたりの配置セル数
	BlankCells int // 1 フレームあたりの空セル数
}

type draw struct {
	form   *pdf.Form
	matrix pdf.Matrix
}

// BuildFrames は plan.FrameCount ページの本番 PDF を作る。
// 全フレームは同じ内容なので、セルごとの配置は 1 度だけ解決して使い回す。
// アートワークは文書ごとに 1 つの Form XObject として全フレームから参照される。
func BuildFrames(ctx context.Context, plan FramePlan, slots *SlotTable, arena *artworkArena) (*buildResult, error) {
	w := pdf.NewWriter()
	w.SetInfo("Producer", producer)
	w.SetInfo("Title", fmt.Sprintf("labels %gx%gmm, %d frames", plan.Dieline.LabelWidthMM, plan.Dieline.LabelHeightMM, plan.FrameCount))

	res := &buildResult{}
	broken := map[string]bool{}

	var draws []draw
	for _, cell := range plan.Cells() {
		slot, ok := slots.Resolve(cell.Slot)
		if !ok || slot.ArtworkRef == "" {
			res.BlankCells++
			continue
		}
		doc, ok := arena.get(slot.ArtworkRef)
		if !ok {
			res.BlankCells++
			continue
		}
		form, err := w.ImportPage(doc, 0)
		if err != nil {
			if !broken[slot.ArtworkRef] {
				broken[slot.ArtworkRef] = true
				res.Warnings = append(res.Warnings, fmt.Sprintf("artwork %s: %v; cells left blank", slot.ArtworkRef, err))
			}
			res.BlankCells++
			continue
		}
		p := Compose(cell, slot.Rotation, form.Width(), form.Height())
		draws = append(draws, draw{form: form, matrix: p.Matrix()})
		res.Placed++
	}

	for i := 0; i < plan.FrameCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := pdf.NewCanvas(plan.FrameWidthPt, plan.FrameHeightPt)
		for _, d := range draws {
			c.DrawForm(d.form, d.matrix)
		}
		if err := w.AddPage(c); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i+1, err)
		}
	}

	out, err := w.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	res.PDF = out
	sort.Strings(res.Warnings)
	return res, nil
}
