package labels

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"PRISM-backend/internal/platform/pdf"
)

// artwork は 1 参照分の取得結果。parseErr があれば空セル扱い。
type artwork struct {
	doc      *pdf.Document
	pages    int
	size     int
	parseErr error
}

// parseArtwork は pdfcpu の受け入れ検査を通った文書だけを取り込み用に読む。
var parseArtwork = func(data []byte) (*pdf.Document, int, error) {
	info, err := pdf.Inspect(data)
	if err != nil {
		return nil, 0, err
	}
	doc, err := pdf.Parse(data)
	if err != nil {
		return nil, 0, err
	}
	return doc, info.Pages, nil
}

// 壊れた入力で解析側が panic しても、その参照だけ読めなかった扱いにする
func parseSafely(data []byte) (doc *pdf.Document, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, pages, err = nil, 0, fmt.Errorf("artwork parser panicked: %v", r)
		}
	}()
	return parseArtwork(data)
}

// artworkArena はジョブ専用のアートワークキャッシュ。
// ジョブ間で共有せず、ジョブ終了時に release でまとめて手放す。
type artworkArena struct {
	mu      sync.Mutex
	entries map[string]*artwork
}

func newArtworkArena() *artworkArena {
	return &artworkArena{entries: map[string]*artwork{}}
}

// fill は refs を最大 limit 並列で 1 回ずつ取得して解析する。
// 取得失敗はジョブ失敗 (*fetchError)、解析失敗はその参照だけ空セルになる。
func (a *artworkArena) fill(ctx context.Context, f Fetcher, refs []string, limit int) error {
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			data, err := f.Fetch(gctx, ref)
			if err != nil {
				return &fetchError{Ref: ref, Err: err}
			}
			doc, pages, perr := parseSafely(data)
			a.mu.Lock()
			a.entries[ref] = &artwork{doc: doc, pages: pages, size: len(data), parseErr: perr}
			a.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// get は解析済み文書を返す。未取得・解析失敗なら ok=false。
func (a *artworkArena) get(ref string) (*pdf.Document, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[ref]
	if !ok || e.parseErr != nil || e.doc == nil {
		return nil, false
	}
	return e.doc, true
}

// unreadable は解析できなかった参照とその理由。
func (a *artworkArena) unreadable() map[string]error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := map[string]error{}
	for ref, e := range a.entries {
		if e.parseErr != nil {
			out[ref] = e.parseErr
		}
	}
	return out
}

// multiPage は 2 ページ以上ある参照とそのページ数 (1 ページ目だけ使う)。
func (a *artworkArena) multiPage() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := map[string]int{}
	for ref, e := range a.entries {
		if e.parseErr == nil && e.pages > 1 {
			out[ref] = e.pages
		}
	}
	return out
}

func (a *artworkArena) bytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		n += e.size
	}
	return n
}

func (a *artworkArena) release() {
	a.mu.Lock()
	a.entries = nil
	a.mu.Unlock()
}
