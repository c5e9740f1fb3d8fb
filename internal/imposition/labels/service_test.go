package labels

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"PRISM-backend/internal/platform/capacity"
	"PRISM-backend/internal/platform/pdf"
)

type testEnv struct {
	svc      *Service
	gate     *capacity.Gate
	fetcher  *fakeFetcher
	uploader *fakeUploader
}

func newTestEnv(t *testing.T, cfg capacity.Config, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		gate:     capacity.New(cfg),
		fetcher:  newFakeFetcher(),
		uploader: newFakeUploader(),
	}
	env.fetcher.data[refA] = artworkPDF(t, MMToPoints(100), MMToPoints(50))
	env.fetcher.data[refB] = artworkPDF(t, MMToPoints(50), MMToPoints(100))
	env.fetcher.data[refBad] = []byte("%PDF-1.4 truncated")
	env.svc = NewService(env.gate, env.fetcher, env.uploader, nil, opts)
	env.svc.clock = fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return env
}

func fullRequest(meters float64) ImposeRequest {
	req := ImposeRequest{Dieline: sampleDieline(), Meters: meters}
	for n := 1; n <= 12; n++ {
		req.Slots = append(req.Slots, SlotRequest{Slot: n, ItemID: "SKU-1", PDFReference: refA})
	}
	return req
}

func (e *testEnv) assertIdle(t *testing.T) {
	t.Helper()
	snap := e.gate.Snapshot()
	if snap.Active != 0 || snap.Queued != 0 {
		t.Errorf("gate not released: %+v", snap)
	}
}

func pageCount(t *testing.T, data []byte) int {
	t.Helper()
	doc, err := pdf.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc.NumPages()
}

func TestImposeInline(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1, MaxQueue: 2}, Options{})
	req := fullRequest(0.4)
	req.IncludeDielines = true

	res, err := env.svc.Impose(context.Background(), "req-1", req)
	if err != nil {
		t.Fatalf("Impose: %v", err)
	}
	if !res.Success || res.FrameCount != 2 || res.TotalMeters != 0.4 {
		t.Errorf("res = %+v", res)
	}
	if res.FrameWidthMM != 330 || res.FrameHeightMM != 200 {
		t.Errorf("frame = %vx%v mm", res.FrameWidthMM, res.FrameHeightMM)
	}
	if len(res.JobULID) != 26 {
		t.Errorf("job id = %q", res.JobULID)
	}
	if got := pageCount(t, res.ProductionPayload); got != 2 {
		t.Errorf("production pages = %d", got)
	}
	if !res.ProofGenerated || pageCount(t, res.ProofPayload) != 2 {
		t.Errorf("proof generated=%v", res.ProofGenerated)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if n := env.fetcher.callsFor(refA); n != 1 {
		t.Errorf("refA fetched %d times", n)
	}
	env.assertIdle(t)
	if snap := env.gate.Snapshot(); snap.TotalStarted != 1 || snap.TotalFinished != 1 {
		t.Errorf("counters = %+v", snap)
	}
}

func TestImposeWithoutProof(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	res, err := env.svc.Impose(context.Background(), "", fullRequest(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.ProofGenerated || res.ProofPayload != nil {
		t.Error("proof produced without include_dielines")
	}
	if res.FrameCount != 5 {
		t.Errorf("frames = %d", res.FrameCount)
	}
}

func TestImposeInvalidDielineFetchesNothing(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	req := fullRequest(1)
	req.Dieline.RowsAround = 0

	_, err := env.svc.Impose(context.Background(), "", req)
	if codeOf(err) != CodeInvalidDieline {
		t.Fatalf("err = %v", err)
	}
	if n := env.fetcher.totalCalls(); n != 0 {
		t.Errorf("fetcher called %d times", n)
	}
	env.assertIdle(t)
}

func TestImposeRejectsBadSlots(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})

	req := fullRequest(1)
	req.Slots = append(req.Slots, SlotRequest{Slot: 3, PDFReference: refB})
	if _, err := env.svc.Impose(context.Background(), "", req); codeOf(err) != CodeInvalidArgument {
		t.Errorf("duplicate slot: err = %v", err)
	}

	req = fullRequest(1)
	req.Slots[0].Rotation = intp(45)
	if _, err := env.svc.Impose(context.Background(), "", req); codeOf(err) != CodeInvalidArgument {
		t.Errorf("bad rotation: err = %v", err)
	}
	if n := env.fetcher.totalCalls(); n != 0 {
		t.Errorf("fetcher called %d times", n)
	}
}

func TestImposeFrameLimit(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{MaxFrames: 3})
	if _, err := env.svc.Impose(context.Background(), "", fullRequest(1)); codeOf(err) != CodeInvalidArgument {
		t.Fatalf("err = %v", err)
	}
}

func TestImposeHugeMetersRejected(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{MaxFrames: 5000})
	for _, m := range []float64{1e6, 1e20} {
		res, err := env.svc.Impose(context.Background(), "", fullRequest(m))
		if codeOf(err) != CodeInvalidArgument {
			t.Errorf("meters=%g: err = %v res = %+v", m, err, res)
		}
	}
	if n := env.fetcher.totalCalls(); n != 0 {
		t.Errorf("fetcher called %d times", n)
	}
	env.assertIdle(t)
}

func TestImposeFetchFailure(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	env.fetcher.fail[refB] = errors.New("403 forbidden")
	req := fullRequest(1)
	req.Slots[4].PDFReference = refB

	_, err := env.svc.Impose(context.Background(), "", req)
	if codeOf(err) != CodeArtworkFetchFailed || toHTTPStatus(err) != 502 {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), refB) {
		t.Errorf("error does not name the reference: %v", err)
	}
	env.assertIdle(t)
}

func TestImposeWarnings(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	req := fullRequest(1)
	req.Dieline.RollWidthMM = 250 // 3 x 100mm は入らない
	req.Slots[1].PDFReference = ""
	req.Slots[2].PDFReference = refBad
	req.Slots = append(req.Slots, SlotRequest{Slot: 40, PDFReference: refA})

	res, err := env.svc.Impose(context.Background(), "", req)
	if err != nil {
		t.Fatalf("Impose: %v", err)
	}
	joined := strings.Join(res.Warnings, "\n")
	for _, want := range []string{"wider than the roll", "slot 40 is outside", "slot 2 (SKU-1) has no pdf_reference", refBad} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing warning %q in:\n%s", want, joined)
		}
	}
	if pageCount(t, res.ProductionPayload) != res.FrameCount {
		t.Error("page count does not match frame count")
	}
}

func TestImposeCapacityRejected(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1, MaxQueue: 0}, Options{})
	held, err := env.gate.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.Impose(context.Background(), "", fullRequest(1))
	if codeOf(err) != CodeCapacityRejected || toHTTPStatus(err) != 503 {
		t.Fatalf("err = %v", err)
	}
	if env.fetcher.totalCalls() != 0 {
		t.Error("rejected job touched the fetcher")
	}
	held.Release()
	if snap := env.gate.Snapshot(); snap.TotalRejected != 1 || snap.Active != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestImposeWaitsForSlot(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1, MaxQueue: 1}, Options{AcquireTimeout: 2 * time.Second})
	held, err := env.gate.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		held.Release()
	}()
	if _, err := env.svc.Impose(context.Background(), "", fullRequest(0.2)); err != nil {
		t.Fatalf("queued job failed: %v", err)
	}
	env.assertIdle(t)
}

// 待ち行列で待っている間に切断されたら混雑 (503) ではなく内部エラーとして返す
func TestImposeCancelledWhileQueued(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1, MaxQueue: 1}, Options{AcquireTimeout: 5 * time.Second})
	held, err := env.gate.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err = env.svc.Impose(ctx, "", fullRequest(1))
	if codeOf(err) != CodeInternal || toHTTPStatus(err) == 503 {
		t.Fatalf("err = %v", err)
	}
	if snap := env.gate.Snapshot(); snap.Queued != 0 || snap.Active != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

type panicUploader struct{}

func (panicUploader) Upload(context.Context, string, []byte) error { panic("storage client bug") }

// ジョブ中の panic は呼び出し側 (gin.Recovery) へ伝え、実行枠は返す
func TestImposePanicReleasesSlot(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	env.svc.uploader = panicUploader{}
	req := fullRequest(0.2)
	req.UploadTargets = &UploadTargets{ProductionURL: "https://blob.example/prod.pdf"}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("panic was swallowed")
			}
		}()
		_, _ = env.svc.Impose(context.Background(), "", req)
	}()
	env.assertIdle(t)
}

func TestImposeMultiPageArtworkWarning(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	w := pdf.NewWriter()
	for i := 0; i < 3; i++ {
		if err := w.AddPage(pdf.NewCanvas(MMToPoints(100), MMToPoints(50))); err != nil {
			t.Fatal(err)
		}
	}
	multi, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	const refMulti = "https://cdn.example/multi.pdf"
	env.fetcher.data[refMulti] = multi

	req := fullRequest(0.2)
	req.Slots[0].PDFReference = refMulti
	res, err := env.svc.Impose(context.Background(), "", req)
	if err != nil {
		t.Fatalf("Impose: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "has 3 pages") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestULIDGenIsMonotonic(t *testing.T) {
	g := newULIDGen()
	prev := ""
	for i := 0; i < 1000; i++ {
		id, err := g.New()
		if err != nil {
			t.Fatal(err)
		}
		if id <= prev {
			t.Fatalf("id %d: %s <= %s", i, id, prev)
		}
		prev = id
	}
}

func TestImposeJobTimeout(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{JobTimeout: 30 * time.Millisecond})
	env.fetcher.delay = 2 * time.Second

	_, err := env.svc.Impose(context.Background(), "", fullRequest(1))
	if codeOf(err) != CodeJobTimeout || toHTTPStatus(err) != 504 {
		t.Fatalf("err = %v", err)
	}
	env.assertIdle(t)
}

func TestImposeUpload(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	req := fullRequest(0.4)
	req.IncludeDielines = true
	req.UploadTargets = &UploadTargets{
		ProductionURL: "https://storage.example/prod.pdf?sig=1",
		ProofURL:      "https://storage.example/proof.pdf?sig=2",
	}

	res, err := env.svc.Impose(context.Background(), "", req)
	if err != nil {
		t.Fatalf("Impose: %v", err)
	}
	if res.ProductionPayload != nil || res.ProofPayload != nil {
		t.Error("upload mode returned payloads")
	}
	if res.ProductionURL != req.UploadTargets.ProductionURL || res.ProofURL != req.UploadTargets.ProofURL {
		t.Errorf("urls = %q %q", res.ProductionURL, res.ProofURL)
	}
	if pageCount(t, env.uploader.puts[req.UploadTargets.ProductionURL]) != 2 {
		t.Error("uploaded production has wrong page count")
	}
	if _, ok := env.uploader.puts[req.UploadTargets.ProofURL]; !ok {
		t.Error("proof not uploaded")
	}
}

func TestImposeUploadProofURLWithoutProof(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	req := fullRequest(0.2)
	req.UploadTargets = &UploadTargets{ProductionURL: "https://s/p.pdf", ProofURL: "https://s/q.pdf"}

	res, err := env.svc.Impose(context.Background(), "", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.ProofURL != "" || len(env.uploader.puts) != 1 {
		t.Errorf("proof url=%q puts=%d", res.ProofURL, len(env.uploader.puts))
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "proof_url") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestImposeUploadFailure(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	env.uploader.fail["https://s/p.pdf"] = errors.New("unexpected status 403")
	req := fullRequest(0.2)
	req.UploadTargets = &UploadTargets{ProductionURL: "https://s/p.pdf"}

	_, err := env.svc.Impose(context.Background(), "", req)
	if codeOf(err) != CodeStorageUploadFailed || toHTTPStatus(err) != 502 {
		t.Fatalf("err = %v", err)
	}
	env.assertIdle(t)

	req.UploadTargets = &UploadTargets{ProductionURL: "  "}
	if _, err := env.svc.Impose(context.Background(), "", req); codeOf(err) != CodeInvalidArgument {
		t.Errorf("blank production url: err = %v", err)
	}
}

func TestImposeIDFailure(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	env.svc.id = &seqID{}
	if _, err := env.svc.Impose(context.Background(), "", fullRequest(1)); codeOf(err) != CodeInternal {
		t.Fatalf("err = %v", err)
	}
	env.assertIdle(t)
}

func TestPlan(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	res, err := env.svc.Plan(PlanQuery{Dieline: sampleDieline(), Meters: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.FrameCount != 10 || res.TotalMeters != 2 || len(res.Cells) != 12 {
		t.Errorf("plan = %+v", res)
	}
	if res.Cells[0].Slot != 1 || res.Cells[11].Slot != 12 {
		t.Errorf("cells = %+v", res.Cells)
	}
	// 計画だけなら実行枠は使わない
	if snap := env.gate.Snapshot(); snap.TotalStarted != 0 {
		t.Errorf("plan used the gate: %+v", snap)
	}
}

func TestLedgerDisabled(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	if env.svc.HasLedger() {
		t.Fatal("ledger enabled without store")
	}
	if _, err := env.svc.ListJobs(context.Background(), JobFilter{}, Page{}); codeOf(err) != CodeNotFound {
		t.Errorf("ListJobs err = %v", err)
	}
	if _, err := env.svc.GetJob(context.Background(), "01J0000000000000000000000"); codeOf(err) != CodeNotFound {
		t.Errorf("GetJob err = %v", err)
	}
}
