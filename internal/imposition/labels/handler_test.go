package labels

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"PRISM-backend/internal/platform/capacity"
	"PRISM-backend/internal/platform/middleware"
)

func newTestRouter(env *testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	RegisterRoutes(r, env.svc)
	return r
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorDTO {
	t.Helper()
	var e errorDTO
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return e
}

func TestHandlerImposeInline(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1, MaxQueue: 1}, Options{})
	req := fullRequest(0.4)
	req.IncludeDielines = true

	w := postJSON(newTestRouter(env), "/imposition/labels", req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var res ImposeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.FrameCount != 2 || pageCount(t, res.ProductionPayload) != 2 || pageCount(t, res.ProofPayload) != 2 {
		t.Errorf("res frames=%d", res.FrameCount)
	}
	if res.Warnings == nil {
		t.Error("warnings should be an empty list, not null")
	}
}

func TestHandlerImposeBadJSON(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	req := httptest.NewRequest(http.MethodPost, "/imposition/labels", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	newTestRouter(env).ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Error.Code != CodeInvalidArgument {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestHandlerImposeInvalidDieline(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	req := fullRequest(1)
	req.Dieline.LabelWidthMM = 0
	w := postJSON(newTestRouter(env), "/imposition/labels", req)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Error.Code != CodeInvalidDieline {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if env.fetcher.totalCalls() != 0 {
		t.Error("invalid dieline fetched artwork")
	}
}

func TestHandlerImposeBusy(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	held, err := env.gate.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	w := postJSON(newTestRouter(env), "/imposition/labels", fullRequest(1))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "5" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if decodeError(t, w).Error.Code != CodeCapacityRejected {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHandlerPlan(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	r := newTestRouter(env)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/imposition/labels/plan?roll_width_mm=330&label_width_mm=100&label_height_mm=50&columns_across=3&rows_around=4&meters=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var res PlanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.FrameCount != 10 || res.FrameHeightMM != 200 || len(res.Cells) != 12 {
		t.Errorf("plan = %+v", res)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imposition/labels/plan?roll_width_mm=330&meters=2", nil))
	if w.Code != http.StatusBadRequest || decodeError(t, w).Error.Code != CodeInvalidDieline {
		t.Errorf("incomplete dieline: status = %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imposition/labels/plan?meters=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad number: status = %d", w.Code)
	}
}

func TestHandlerLedgerRoutesHiddenWithoutDB(t *testing.T) {
	env := newTestEnv(t, capacity.Config{MaxConcurrent: 1}, Options{})
	r := newTestRouter(env)
	for _, path := range []string{"/imposition/jobs", "/imposition/jobs.csv", "/imposition/jobs/01J0000000000000000000000"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}
