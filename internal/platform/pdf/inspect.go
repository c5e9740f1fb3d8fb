package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrEncrypted = errors.New("pdf: encrypted documents are not supported")

// Info は pdfcpu で読み込み・検証した文書の概要。
type Info struct {
	Pages  int
	Width  float64 // 1 ページ目 (pt)
	Height float64
}

var disableConfigDir sync.Once

// pdfcpu の設定ファイル (ユーザー設定ディレクトリ) は使わない
func inspectConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Inspect は外部から受け取った PDF を pdfcpu で検証し、ページ数と寸法を返す。
// 面付けに使う前の受け入れ検査で、ここを通らない文書は取り込まない。
// pdfcpu 内部の panic もエラーとして返す。
func Inspect(data []byte) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = Info{}, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	ctx, err := api.ReadContext(bytes.NewReader(data), inspectConfig())
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// 暗号化ストリームはそのままでは Form にできない
	if ctx.Encrypt != nil {
		return Info{}, ErrEncrypted
	}
	if err := api.ValidateContext(ctx); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ctx.PageCount < 1 {
		return Info{}, ErrNoPages
	}

	dims, err := ctx.PageDims()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	info.Pages = ctx.PageCount
	if len(dims) > 0 {
		info.Width, info.Height = dims[0].Width, dims[0].Height
	}
	return info, nil
}
