package labels

import (
	"database/sql"
	"time"
)

// Dieline は抜き型のレイアウト (mm)。ジョブ中は変更しない。
type Dieline struct {
	RollWidthMM     float64 `json:"roll_width_mm" form:"roll_width_mm"`
	LabelWidthMM    float64 `json:"label_width_mm" form:"label_width_mm"`
	LabelHeightMM   float64 `json:"label_height_mm" form:"label_height_mm"`
	ColumnsAcross   int     `json:"columns_across" form:"columns_across"`
	RowsAround      int     `json:"rows_around" form:"rows_around"`
	HorizontalGapMM float64 `json:"horizontal_gap_mm" form:"horizontal_gap_mm"`
	VerticalGapMM   float64 `json:"vertical_gap_mm" form:"vertical_gap_mm"`
	CornerRadiusMM  float64 `json:"corner_radius_mm,omitempty" form:"corner_radius_mm"`
}

// LabelSlot はフレーム内の 1 セルに割り当てるアートワーク。
type LabelSlot struct {
	Slot       int
	ItemID     string
	ArtworkRef string
	Rotation   Rotation
}

// FramePlan は Dieline と要求メートル数から計算したフレーム構成。
type FramePlan struct {
	Dieline Dieline

	LabelWidthPt  float64
	LabelHeightPt float64
	HGapPt        float64
	VGapPt        float64

	FrameWidthPt  float64
	FrameHeightPt float64
	FrameHeightMM float64

	FrameCount  int
	TotalMeters float64
}

// Cell はフレーム座標系 (左下原点, pt) でのセル位置。
type Cell struct {
	Row    int
	Col    int
	Slot   int
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ===== ジョブ台帳 =====

const (
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"

	DeliveryInline = "inline"
	DeliveryUpload = "upload"
)

// Job は imposition_jobs テーブルの1行を表す
type Job struct {
	JobID          int64
	JobULID        string
	Status         string
	RequestID      sql.NullString
	SlotCount      int
	FrameCount     sql.NullInt64
	TotalMeters    sql.NullFloat64
	Delivery       string
	ProofGenerated bool
	WarningCount   int
	ErrorCode      sql.NullString
	ErrorMessage   sql.NullString
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	DurationMS     sql.NullInt64
}

// 台帳一覧の検索条件
type JobFilter struct {
	Status *string
	From   *time.Time
	To     *time.Time
}

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" | "desc"
}
