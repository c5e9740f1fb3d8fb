package labels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PRISM-backend/internal/platform/pdf"
)

// artworkPDF は w x h pt の 1 ページ PDF を作る。
func artworkPDF(t *testing.T, w, h float64) []byte {
	t.Helper()
	pw := pdf.NewWriter()
	c := pdf.NewCanvas(w, h)
	c.SetFillRGB(0, 0.5, 1)
	c.Rect(0, 0, w, h)
	c.Fill()
	if err := pw.AddPage(c); err != nil {
		t.Fatalf("AddPage: %v", err)
	}
	out, err := pw.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return out
}

type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  map[string]error
	calls map[string]int
	delay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{data: map[string][]byte{}, fail: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	f.calls[ref]++
	data, ok := f.data[ref]
	err := f.fail[ref]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) callsFor(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

type fakeUploader struct {
	mu   sync.Mutex
	puts map[string][]byte
	fail map[string]error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{puts: map[string][]byte{}, fail: map[string]error{}}
}

func (u *fakeUploader) Upload(_ context.Context, target string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.fail[target]; err != nil {
		return err
	}
	u.puts[target] = data
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqID struct {
	mu  sync.Mutex
	ids []string
}

func (s *seqID) New() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return "", errors.New("out of ids")
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}
