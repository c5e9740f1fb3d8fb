package labels

import "time"

// ===== 面付けリクエスト =====

type SlotRequest struct {
	Slot          int    `json:"slot"`
	ItemID        string `json:"item_id"`
	PDFReference  string `json:"pdf_reference"`
	Rotation      *int   `json:"rotation,omitempty"`
	NeedsRotation bool   `json:"needs_rotation"`
}

// UploadTargets があればアップロード配信、無ければレスポンスに PDF を載せる。
type UploadTargets struct {
	ProductionURL string `json:"production_url"`
	ProofURL      string `json:"proof_url,omitempty"`
}

type ImposeRequest struct {
	Dieline         Dieline        `json:"dieline"`
	Slots           []SlotRequest  `json:"slots"`
	Meters          float64        `json:"meters"`
	IncludeDielines bool           `json:"include_dielines"`
	UploadTargets   *UploadTargets `json:"upload_targets,omitempty"`
}

// []byte は JSON では base64 になる
type ImposeResponse struct {
	Success           bool     `json:"success"`
	JobULID           string   `json:"job_id"`
	FrameCount        int      `json:"frame_count"`
	TotalMeters       float64  `json:"total_meters"`
	FrameWidthMM      float64  `json:"frame_width_mm"`
	FrameHeightMM     float64  `json:"frame_height_mm"`
	ProofGenerated    bool     `json:"proof_generated"`
	ProductionPayload []byte   `json:"production_payload,omitempty"`
	ProofPayload      []byte   `json:"proof_payload,omitempty"`
	ProductionURL     string   `json:"production_url,omitempty"`
	ProofURL          string   `json:"proof_url,omitempty"`
	Warnings          []string `json:"warnings"`
}

// ===== フレーム計画 (GET /imposition/labels/plan) =====

type PlanQuery struct {
	Dieline
	Meters float64 `form:"meters"`
}

type CellResponse struct {
	Slot     int     `json:"slot"`
	Row      int     `json:"row"`
	Col      int     `json:"col"`
	XPt      float64 `json:"x_pt"`
	YPt      float64 `json:"y_pt"`
	WidthPt  float64 `json:"width_pt"`
	HeightPt float64 `json:"height_pt"`
}

type PlanResponse struct {
	FrameWidthMM  float64        `json:"frame_width_mm"`
	FrameHeightMM float64        `json:"frame_height_mm"`
	FrameWidthPt  float64        `json:"frame_width_pt"`
	FrameHeightPt float64        `json:"frame_height_pt"`
	FrameCount    int            `json:"frame_count"`
	TotalMeters   float64        `json:"total_meters"`
	Cells         []CellResponse `json:"cells"`
	Warnings      []string       `json:"warnings"`
}

// ===== ジョブ台帳 =====

type JobResponse struct {
	JobULID        string     `json:"job_id"`
	Status         string     `json:"status"`
	RequestID      *string    `json:"request_id,omitempty"`
	SlotCount      int        `json:"slot_count"`
	FrameCount     *int64     `json:"frame_count,omitempty"`
	TotalMeters    *float64   `json:"total_meters,omitempty"`
	Delivery       string     `json:"delivery"`
	ProofGenerated bool       `json:"proof_generated"`
	WarningCount   int        `json:"warning_count"`
	ErrorCode      *string    `json:"error_code,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
}

type JobListResponse struct {
	Items []JobResponse `json:"items"`
	Total int64         `json:"total"`
	Next  *int          `json:"next_offset,omitempty"`
}
