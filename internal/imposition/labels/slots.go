package labels

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/width"
)

// SlotNumber は 1 始まり・行優先のスロット番号 (row 0 がフレーム上端)。
func SlotNumber(row, col, columns int) int {
	return row*columns + col + 1
}

// Cells はフレーム内の全セルを行優先で返す。
func (p FramePlan) Cells() []Cell {
	d := p.Dieline
	cells := make([]Cell, 0, d.RowsAround*d.ColumnsAcross)
	for row := 0; row < d.RowsAround; row++ {
		y := p.FrameHeightPt - float64(row+1)*p.LabelHeightPt - float64(row)*p.VGapPt
		for col := 0; col < d.ColumnsAcross; col++ {
			cells = append(cells, Cell{
				Row:    row,
				Col:    col,
				Slot:   SlotNumber(row, col, d.ColumnsAcross),
				X:      float64(col) * (p.LabelWidthPt + p.HGapPt),
				Y:      y,
				Width:  p.LabelWidthPt,
				Height: p.LabelHeightPt,
			})
		}
	}
	return cells
}

// SlotTable はスロット番号からの引き当て。番号は連続しているとは限らない。
type SlotTable struct {
	bySlot map[int]LabelSlot
	order  []int
}

func NewSlotTable(slots []LabelSlot) (*SlotTable, error) {
	t := &SlotTable{bySlot: make(map[int]LabelSlot, len(slots))}
	for _, s := range slots {
		if s.Slot < 1 {
			return nil, ErrInvalid(fmt.Sprintf("slot must be >= 1 (got %d)", s.Slot))
		}
		if _, dup := t.bySlot[s.Slot]; dup {
			return nil, ErrInvalid(fmt.Sprintf("duplicate slot %d", s.Slot))
		}
		if s.Rotation == nil {
			s.Rotation = Rotate0
		}
		s.ItemID = normalizeItemID(s.ItemID)
		s.ArtworkRef = strings.TrimSpace(s.ArtworkRef)
		t.bySlot[s.Slot] = s
		t.order = append(t.order, s.Slot)
	}
	sort.Ints(t.order)
	return t, nil
}

// 全角英数の品番を半角に寄せる
func normalizeItemID(s string) string {
	return strings.TrimSpace(width.Fold.String(s))
}

// Resolve は割り当てが無ければ ok=false (空セル)。
func (t *SlotTable) Resolve(slot int) (LabelSlot, bool) {
	s, ok := t.bySlot[slot]
	return s, ok
}

func (t *SlotTable) Len() int { return len(t.bySlot) }

// References は重複を除いたアートワーク参照 (スロット番号順)。
func (t *SlotTable) References() []string {
	seen := map[string]bool{}
	var refs []string
	for _, n := range t.order {
		ref := t.bySlot[n].ArtworkRef
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// OutOfGrid はフレームに存在しないスロット番号。
func (t *SlotTable) OutOfGrid(p FramePlan) []int {
	limit := p.Dieline.RowsAround * p.Dieline.ColumnsAcross
	var out []int
	for _, n := range t.order {
		if n > limit {
			out = append(out, n)
		}
	}
	return out
}
