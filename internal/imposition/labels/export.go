package labels

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

const (
	EncodingCP932 = "cp932"
	EncodingUTF8  = "utf8"
)

var jobCSVHeader = []string{
	"ジョブID", "状態", "リクエストID", "スロット数", "フレーム数", "総延長(m)",
	"配信", "校正PDF", "警告数", "エラーコード", "エラー内容", "開始日時", "終了日時", "所要時間(ms)",
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// csvWriter は出力先と文字コードから CSV Writer を作る。
// cp932 は Excel でそのまま開ける「ANSI」相当。表せない文字は置換する。
func csvWriter(w io.Writer, enc string) (*csv.Writer, io.Closer) {
	if enc == EncodingCP932 {
		tw := transform.NewWriter(w, encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder()))
		return csv.NewWriter(tw), tw
	}
	return csv.NewWriter(w), nopCloser{}
}

func jobRecord(j *Job) []string {
	nullInt := func(v int64, ok bool) string {
		if !ok {
			return ""
		}
		return strconv.FormatInt(v, 10)
	}
	ts := func(t time.Time) string { return t.UTC().Format(time.RFC3339) }

	rec := []string{
		j.JobULID,
		j.Status,
		j.RequestID.String,
		strconv.Itoa(j.SlotCount),
		nullInt(j.FrameCount.Int64, j.FrameCount.Valid),
		"",
		j.Delivery,
		strconv.FormatBool(j.ProofGenerated),
		strconv.Itoa(j.WarningCount),
		j.ErrorCode.String,
		j.ErrorMessage.String,
		ts(j.StartedAt),
		"",
		nullInt(j.DurationMS.Int64, j.DurationMS.Valid),
	}
	if j.TotalMeters.Valid {
		rec[5] = strconv.FormatFloat(j.TotalMeters.Float64, 'f', 3, 64)
	}
	if j.FinishedAt.Valid {
		rec[12] = ts(j.FinishedAt.Time)
	}
	return rec
}

// WriteJobsCSV は jobs を CSV に書き出す。
func WriteJobsCSV(w io.Writer, enc string, each func(fn func(*Job) error) error) error {
	cw, closer := csvWriter(w, enc)
	if err := cw.Write(jobCSVHeader); err != nil {
		return err
	}
	err := each(func(j *Job) error {
		return cw.Write(jobRecord(j))
	})
	if err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return closer.Close()
}

// ExportJobsCSV は台帳を CSV で書き出す。
func (s *Service) ExportJobsCSV(ctx context.Context, w io.Writer, f JobFilter, enc string) error {
	if s.store == nil {
		return ErrNotFound("job ledger is disabled")
	}
	if enc != EncodingUTF8 {
		enc = EncodingCP932
	}
	return WriteJobsCSV(w, enc, func(fn func(*Job) error) error {
		return s.store.EachJob(ctx, f, fn)
	})
}
