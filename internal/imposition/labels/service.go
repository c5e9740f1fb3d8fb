package labels

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"PRISM-backend/internal/platform/capacity"
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

type IDGen interface {
	New() (string, error)
}

// ulidGen は同じミリ秒内でも単調増加する ULID を出す。
// MonotonicEntropy は並行利用できないので mu で守る。
type ulidGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newULIDGen() *ulidGen {
	return &ulidGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGen) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ===== Service本体 =====

type Options struct {
	AcquireTimeout   time.Duration // <= 0 なら待たずに拒否
	JobTimeout       time.Duration // <= 0 なら無制限
	FetchConcurrency int
	MaxFrames        int
	RetryAfter       time.Duration
}

type Service struct {
	gate     *capacity.Gate
	fetcher  Fetcher
	uploader Uploader
	store    *Store // nil なら台帳なし
	opts     Options
	clock    Clock
	id       IDGen
}

func NewService(gate *capacity.Gate, fetcher Fetcher, uploader Uploader, store *Store, opts Options) *Service {
	if opts.FetchConcurrency < 1 {
		opts.FetchConcurrency = 4
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	return &Service{
		gate:     gate,
		fetcher:  fetcher,
		uploader: uploader,
		store:    store,
		opts:     opts,
		clock:    realClock{},
		id:       newULIDGen(),
	}
}

// RetryAfterSeconds は CAPACITY_REJECTED のときに返す Retry-After 値。
func (s *Service) RetryAfterSeconds() int {
	sec := int(s.opts.RetryAfter / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

func (s *Service) HasLedger() bool { return s.store != nil }

// Impose はラベル面付けジョブを 1 件実行する。
// 実行枠は取得直後に defer で返すので、どの経路で終わっても 1 回だけ解放される。
func (s *Service) Impose(ctx context.Context, requestID string, req ImposeRequest) (*ImposeResponse, error) {
	jobID, err := s.id.New()
	if err != nil {
		return nil, ErrInternal("failed to allocate job id")
	}

	slot, err := s.gate.Acquire(ctx, s.opts.AcquireTimeout)
	if err != nil && !errors.Is(err, capacity.ErrRejected) {
		// 待っている間にクライアントが切断した等。混雑ではないので再試行は促さない
		log.Printf("[WARN] job=%s req=%s gave up waiting for capacity: %v", jobID, requestID, err)
		return nil, ErrInternal("request cancelled while waiting for capacity")
	}
	if err != nil {
		snap := s.gate.Snapshot()
		log.Printf("[WARN] job=%s req=%s capacity rejected (active=%d queued=%d/%d): %v",
			jobID, requestID, snap.Active, snap.Queued, snap.MaxQueue, err)
		return nil, ErrCapacity("server is busy, retry later")
	}
	defer slot.Release()

	job := &Job{
		JobULID:   jobID,
		Status:    JobStatusRunning,
		SlotCount: len(req.Slots),
		Delivery:  DeliveryInline,
		StartedAt: s.clock.Now(),
	}
	if requestID != "" {
		job.RequestID.String, job.RequestID.Valid = requestID, true
	}
	if req.UploadTargets != nil {
		job.Delivery = DeliveryUpload
	}
	log.Printf("[INFO] job=%s req=%s admitted (slots=%d meters=%g delivery=%s)", jobID, requestID, len(req.Slots), req.Meters, job.Delivery)
	s.recordStart(ctx, job)

	// panic でも台帳を running のまま残さない
	defer func() {
		if r := recover(); r != nil {
			s.recordFinish(ctx, job, nil, ErrInternal(fmt.Sprintf("job panicked: %v", r)))
			panic(r)
		}
	}()

	res, err := s.run(ctx, jobID, req)

	s.recordFinish(ctx, job, res, err)
	if err != nil {
		if toHTTPStatus(err) >= 500 {
			log.Printf("[ERROR] job=%s req=%s failed: %v", jobID, requestID, err)
		} else {
			log.Printf("[WARN] job=%s req=%s rejected: %v", jobID, requestID, err)
		}
		return nil, err
	}
	log.Printf("[INFO] job=%s req=%s done (frames=%d meters=%.3f warnings=%d elapsed=%s)",
		jobID, requestID, res.FrameCount, res.TotalMeters, len(res.Warnings), s.clock.Now().Sub(job.StartedAt).Round(time.Millisecond))
	return res, nil
}

func (s *Service) run(ctx context.Context, jobID string, req ImposeRequest) (*ImposeResponse, error) {
	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}

	// 1. 計画 (ここで失敗すれば取得も合成もしない)
	plan, err := PlanFrames(req.Dieline, req.Meters)
	if err != nil {
		return nil, err
	}
	if s.opts.MaxFrames > 0 && plan.FrameCount > s.opts.MaxFrames {
		return nil, ErrInvalid(fmt.Sprintf("job needs %d frames, limit is %d", plan.FrameCount, s.opts.MaxFrames))
	}
	if t := req.UploadTargets; t != nil && strings.TrimSpace(t.ProductionURL) == "" {
		return nil, ErrInvalid("upload_targets.production_url is required")
	}
	table, err := slotTableFrom(req.Slots)
	if err != nil {
		return nil, err
	}
	warnings := planWarnings(plan, table)

	// 2. アートワーク取得 (ジョブ専用キャッシュ)
	arena := newArtworkArena()
	defer arena.release()
	if err := arena.fill(ctx, s.fetcher, table.References(), s.opts.FetchConcurrency); err != nil {
		return nil, classify(ctx, err)
	}
	unreadable := arena.unreadable()
	refs := make([]string, 0, len(unreadable))
	for ref := range unreadable {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		warnings = append(warnings, fmt.Sprintf("artwork %s could not be read (%v); cells left blank", ref, unreadable[ref]))
	}
	multi := arena.multiPage()
	refs = refs[:0]
	for ref := range multi {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		warnings = append(warnings, fmt.Sprintf("artwork %s has %d pages; only the first page is placed", ref, multi[ref]))
	}
	log.Printf("[INFO] job=%s fetched %d artworks (%d bytes)", jobID, len(table.References()), arena.bytes())

	// 3. 合成
	built, err := BuildFrames(ctx, plan, table, arena)
	if err != nil {
		return nil, classify(ctx, err)
	}
	warnings = append(warnings, built.Warnings...)

	// 4. 校正 PDF (失敗しても本番は返す)
	var proof []byte
	if req.IncludeDielines {
		proof, err = tryProof(built.PDF, plan)
		if err != nil {
			log.Printf("[WARN] job=%s proof degraded: %v", jobID, err)
			warnings = append(warnings, fmt.Sprintf("%s: %v", CodeProofDegraded, err))
			proof = nil
		}
	}

	res := &ImposeResponse{
		Success:        true,
		JobULID:        jobID,
		FrameCount:     plan.FrameCount,
		TotalMeters:    plan.TotalMeters,
		FrameWidthMM:   plan.FrameWidthMM(),
		FrameHeightMM:  plan.FrameHeightMM,
		ProofGenerated: proof != nil,
	}

	// 5. 配信
	if t := req.UploadTargets; t != nil {
		if err := s.uploader.Upload(ctx, t.ProductionURL, built.PDF); err != nil {
			return nil, classifyUpload(ctx, "production", err)
		}
		res.ProductionURL = t.ProductionURL
		if t.ProofURL != "" {
			if proof != nil {
				if err := s.uploader.Upload(ctx, t.ProofURL, proof); err != nil {
					return nil, classifyUpload(ctx, "proof", err)
				}
				res.ProofURL = t.ProofURL
			} else {
				warnings = append(warnings, "proof_url given but no proof was produced")
			}
		}
	} else {
		res.ProductionPayload = built.PDF
		res.ProofPayload = proof
	}

	res.Warnings = warnings
	return res, nil
}

func slotTableFrom(in []SlotRequest) (*SlotTable, error) {
	slots := make([]LabelSlot, 0, len(in))
	for _, r := range in {
		rot, err := ParseRotation(r.Rotation, r.NeedsRotation)
		if err != nil {
			return nil, err
		}
		slots = append(slots, LabelSlot{
			Slot:       r.Slot,
			ItemID:     r.ItemID,
			ArtworkRef: r.PDFReference,
			Rotation:   rot,
		})
	}
	return NewSlotTable(slots)
}

// planWarnings はジョブを止めるほどではない構成の問題。
func planWarnings(plan FramePlan, table *SlotTable) []string {
	warnings := []string{}
	if grid := plan.GridWidthPt(); grid > plan.FrameWidthPt+1e-6 {
		warnings = append(warnings, fmt.Sprintf("label grid (%.3fmm) is wider than the roll (%gmm)", PointsToMM(grid), plan.Dieline.RollWidthMM))
	}
	for _, n := range table.OutOfGrid(plan) {
		warnings = append(warnings, fmt.Sprintf("slot %d is outside the %dx%d grid and was ignored", n, plan.Dieline.RowsAround, plan.Dieline.ColumnsAcross))
	}
	for _, c := range plan.Cells() {
		s, ok := table.Resolve(c.Slot)
		if ok && s.ArtworkRef == "" {
			label := fmt.Sprintf("slot %d", c.Slot)
			if s.ItemID != "" {
				label += " (" + s.ItemID + ")"
			}
			warnings = append(warnings, label+" has no pdf_reference; cell left blank")
		}
	}
	return warnings
}

// classify はジョブ途中のエラーを API エラーにする。
func classify(ctx context.Context, err error) error {
	var api *APIError
	if errors.As(err, &api) {
		return api
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrJobTimeout("job exceeded its time limit")
	}
	var fe *fetchError
	if errors.As(err, &fe) {
		return ErrArtworkFetch(fmt.Sprintf("failed to fetch artwork %s: %v", fe.Ref, fe.Err))
	}
	if errors.Is(err, context.Canceled) {
		return ErrInternal("job cancelled")
	}
	return ErrInternal(err.Error())
}

func classifyUpload(ctx context.Context, what string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrJobTimeout("job exceeded its time limit")
	}
	return ErrStorageUpload(fmt.Sprintf("%s upload failed: %v", what, err))
}

// ===== フレーム計画 =====

func (s *Service) Plan(q PlanQuery) (*PlanResponse, error) {
	plan, err := PlanFrames(q.Dieline, q.Meters)
	if err != nil {
		return nil, err
	}
	res := &PlanResponse{
		FrameWidthMM:  plan.FrameWidthMM(),
		FrameHeightMM: plan.FrameHeightMM,
		FrameWidthPt:  plan.FrameWidthPt,
		FrameHeightPt: plan.FrameHeightPt,
		FrameCount:    plan.FrameCount,
		TotalMeters:   plan.TotalMeters,
		Warnings:      planWarnings(plan, &SlotTable{}),
	}
	for _, c := range plan.Cells() {
		res.Cells = append(res.Cells, CellResponse{
			Slot: c.Slot, Row: c.Row, Col: c.Col,
			XPt: c.X, YPt: c.Y, WidthPt: c.Width, HeightPt: c.Height,
		})
	}
	return res, nil
}

// ===== ジョブ台帳 =====

// 台帳の書き込みはリクエストのキャンセルに引きずられないようにする
func ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
}

func (s *Service) recordStart(ctx context.Context, job *Job) {
	if s.store == nil {
		return
	}
	lctx, cancel := ledgerContext(ctx)
	defer cancel()
	if err := s.store.InsertJob(lctx, job); err != nil {
		log.Printf("[WARN] job=%s ledger insert failed: %v", job.JobULID, err)
	}
}

func (s *Service) recordFinish(ctx context.Context, job *Job, res *ImposeResponse, jobErr error) {
	now := s.clock.Now()
	job.FinishedAt.Time, job.FinishedAt.Valid = now, true
	job.DurationMS.Int64, job.DurationMS.Valid = now.Sub(job.StartedAt).Milliseconds(), true
	if jobErr != nil {
		job.Status = JobStatusFailed
		job.ErrorCode.String, job.ErrorCode.Valid = string(codeOf(jobErr)), true
		job.ErrorMessage.String, job.ErrorMessage.Valid = jobErr.Error(), true
	} else {
		job.Status = JobStatusSucceeded
		job.FrameCount.Int64, job.FrameCount.Valid = int64(res.FrameCount), true
		job.TotalMeters.Float64, job.TotalMeters.Valid = res.TotalMeters, true
		job.ProofGenerated = res.ProofGenerated
		job.WarningCount = len(res.Warnings)
	}
	if s.store == nil {
		return
	}
	lctx, cancel := ledgerContext(ctx)
	defer cancel()
	if err := s.store.FinishJob(lctx, job); err != nil {
		log.Printf("[WARN] job=%s ledger update failed: %v", job.JobULID, err)
	}
}

func (s *Service) ListJobs(ctx context.Context, f JobFilter, p Page) (*JobListResponse, error) {
	if s.store == nil {
		return nil, ErrNotFound("job ledger is disabled")
	}
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	jobs, total, err := s.store.ListJobs(ctx, f, p)
	if err != nil {
		log.Printf("[ERROR] list jobs: %v", err)
		return nil, ErrInternal("failed to list jobs")
	}
	res := &JobListResponse{Items: make([]JobResponse, 0, len(jobs)), Total: total}
	for i := range jobs {
		res.Items = append(res.Items, buildJobResponse(&jobs[i]))
	}
	if next := p.Offset + len(jobs); int64(next) < total {
		res.Next = &next
	}
	return res, nil
}

func (s *Service) GetJob(ctx context.Context, jobULID string) (*JobResponse, error) {
	if s.store == nil {
		return nil, ErrNotFound("job ledger is disabled")
	}
	if _, err := ulid.ParseStrict(jobULID); err != nil {
		return nil, ErrInvalid("invalid job id")
	}
	job, err := s.store.GetJob(ctx, jobULID)
	if err != nil {
		if codeOf(err) == CodeNotFound {
			return nil, err
		}
		log.Printf("[ERROR] get job %s: %v", jobULID, err)
		return nil, ErrInternal("failed to load job")
	}
	res := buildJobResponse(job)
	return &res, nil
}

func buildJobResponse(j *Job) JobResponse {
	r := JobResponse{
		JobULID:        j.JobULID,
		Status:         j.Status,
		SlotCount:      j.SlotCount,
		Delivery:       j.Delivery,
		ProofGenerated: j.ProofGenerated,
		WarningCount:   j.WarningCount,
		StartedAt:      j.StartedAt,
	}
	if j.RequestID.Valid {
		r.RequestID = &j.RequestID.String
	}
	if j.FrameCount.Valid {
		r.FrameCount = &j.FrameCount.Int64
	}
	if j.TotalMeters.Valid {
		r.TotalMeters = &j.TotalMeters.Float64
	}
	if j.ErrorCode.Valid {
		r.ErrorCode = &j.ErrorCode.String
	}
	if j.ErrorMessage.Valid {
		r.ErrorMessage = &j.ErrorMessage.String
	}
	if j.FinishedAt.Valid {
		r.FinishedAt = &j.FinishedAt.Time
	}
	if j.DurationMS.Valid {
		r.DurationMS = &j.DurationMS.Int64
	}
	return r
}
