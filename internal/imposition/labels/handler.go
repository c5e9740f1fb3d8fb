package labels

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"PRISM-backend/internal/platform/middleware"
)

// 面付けリクエスト本文の上限 (スロット数千件でも十分)
const maxRequestBody = 8 << 20

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// POST /imposition/labels
	r.POST("/imposition/labels", h.Impose)
	// GET /imposition/labels/plan (計算のみ、実行枠は使わない)
	r.GET("/imposition/labels/plan", h.Plan)

	// 台帳は DB がある時だけ
	if svc.HasLedger() {
		r.GET("/imposition/jobs", h.ListJobs)
		r.GET("/imposition/jobs/:job_ulid", h.GetJob)
		r.GET("/imposition/jobs.csv", h.ExportJobs)
	}
}

// ---------- handlers ----------

// POST /imposition/labels
func (h *Handler) Impose(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	var req ImposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}

	res, err := h.svc.Impose(c.Request.Context(), c.GetString(middleware.CtxRequestIDKey), req)
	if err != nil {
		if codeOf(err) == CodeCapacityRejected {
			c.Header("Retry-After", strconv.Itoa(h.svc.RetryAfterSeconds()))
		}
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /imposition/labels/plan?roll_width_mm=...&meters=...
func (h *Handler) Plan(c *gin.Context) {
	var q PlanQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid query"))
		return
	}
	res, err := h.svc.Plan(q)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListJobs(c *gin.Context) {
	f, ok := jobFilterFrom(c)
	if !ok {
		return
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
	res, err := h.svc.ListJobs(c.Request.Context(), f, p)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetJob(c *gin.Context) {
	res, err := h.svc.GetJob(c.Request.Context(), c.Param("job_ulid"))
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /imposition/jobs.csv?encoding=cp932|utf8
func (h *Handler) ExportJobs(c *gin.Context) {
	f, ok := jobFilterFrom(c)
	if !ok {
		return
	}
	enc := c.DefaultQuery("encoding", EncodingCP932)

	var buf bytes.Buffer
	if err := h.svc.ExportJobsCSV(c.Request.Context(), &buf, f, enc); err != nil {
		log.Printf("[ERROR] export jobs csv: %v", err)
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}

	contentType := "text/csv; charset=Shift_JIS"
	if enc == EncodingUTF8 {
		contentType = "text/csv; charset=utf-8"
	}
	name := "imposition_jobs_" + time.Now().UTC().Format("20060102") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ---------- helpers ----------

func jobFilterFrom(c *gin.Context) (JobFilter, bool) {
	f := JobFilter{}
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, key+" must be RFC3339"))
			return f, false
		}
		*dst = &t
	}
	return f, true
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeInternal, err.Error())
}
