package pdf

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
)

// "num gen obj" ヘッダ
var objHeader = regexp.MustCompile(`(\d+)[\x00\t\n\f\r ]+(\d+)[\x00\t\n\f\r ]+obj\b`)

// Document は読み込んだ PDF。生成後は読み取り専用で、複数 goroutine から参照してよい。
type Document struct {
	objects map[int]Object
	trailer Dict
	pages   []*Page
}

// Page はページツリーから継承属性を解決済みのページ。
type Page struct {
	Dict      Dict
	MediaBox  Rect
	Resources Object
}

func (p *Page) Width() float64  { return p.MediaBox.Width() }
func (p *Page) Height() float64 { return p.MediaBox.Height() }

// Parse は PDF を読み込む。
// xref テーブルは信用せず、本文を先頭から走査して "n g obj" を拾う。
// 破損した xref や増分更新が混ざったファイルでも読めることを優先している。
func Parse(data []byte) (*Document, error) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing %%PDF header", ErrMalformed)
	}

	d := &Document{objects: map[int]Object{}}
	var xrefStreams []Dict

	pos := 0
	for pos < len(data) {
		loc := objHeader.FindSubmatchIndex(data[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		bodyStart := pos + loc[1]
		// 直前が通常文字なら数字の途中から一致しているので読み飛ばす
		if start > 0 && isRegular(data[start-1]) {
			pos = start + 1
			continue
		}
		num, _ := strconv.Atoi(string(data[pos+loc[2] : pos+loc[3]]))

		obj, end, err := d.readIndirect(data, bodyStart)
		if err != nil {
			pos = bodyStart
			continue
		}
		// 後から出てきた定義 (増分更新) が優先
		d.objects[num] = obj
		if s, ok := obj.(*Stream); ok {
			if t, _ := s.Dict.Name("Type"); t == "XRef" {
				xrefStreams = append(xrefStreams, s.Dict)
			}
		}
		pos = end
	}

	d.expandObjectStreams()

	d.trailer = findTrailer(data)
	if d.trailer == nil && len(xrefStreams) > 0 {
		d.trailer = xrefStreams[len(xrefStreams)-1]
	}

	if err := d.loadPages(); err != nil {
		return nil, err
	}
	return d, nil
}

// readIndirect は obj ヘッダ直後から値 (と stream 本体) を読み、終端位置を返す。
func (d *Document) readIndirect(data []byte, pos int) (Object, int, error) {
	p := newParser(data, pos)
	obj, err := p.parseObject()
	if err != nil {
		return nil, 0, err
	}
	dict, isDict := obj.(Dict)
	if !isDict || !p.lex.hasKeyword("stream") {
		return obj, p.lex.pos, nil
	}

	start := p.lex.pos + len("stream")
	if start < len(data) && data[start] == '\r' {
		start++
	}
	if start < len(data) && data[start] == '\n' {
		start++
	}

	// start+n は巨大な Length で桁あふれするので残り長さと比べる
	if n, ok := d.streamLength(dict); ok && n >= 0 && start <= len(data) && n <= len(data)-start {
		l := newLexer(data, start+n)
		if l.hasKeyword("endstream") {
			return &Stream{Dict: dict, Data: data[start : start+n]}, l.pos + len("endstream"), nil
		}
	}

	// Length が不正・未解決なら endstream を探す
	idx := bytes.Index(data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, 0, fmt.Errorf("%w: missing endstream", ErrMalformed)
	}
	end := start + idx
	if end > start && data[end-1] == '\n' {
		end--
	}
	if end > start && data[end-1] == '\r' {
		end--
	}
	return &Stream{Dict: dict, Data: data[start:end]}, start + idx + len("endstream"), nil
}

func (d *Document) streamLength(dict Dict) (int, bool) {
	switch v := dict["Length"].(type) {
	case Integer:
		return int(v), v >= 0
	case Ref:
		if n, ok := d.objects[v.Num].(Integer); ok && n >= 0 {
			return int(n), true
		}
	}
	return 0, false
}

// expandObjectStreams は ObjStm 内の圧縮オブジェクトを展開する。
// 直接定義されたオブジェクトがあればそちらを残す。
func (d *Document) expandObjectStreams() {
	var streams []*Stream
	for _, o := range d.objects {
		if s, ok := o.(*Stream); ok {
			if t, _ := s.Dict.Name("Type"); t == "ObjStm" {
				streams = append(streams, s)
			}
		}
	}
	for _, s := range streams {
		n, ok1 := s.Dict.Int("N")
		first, ok2 := s.Dict.Int("First")
		if !ok1 || !ok2 || n <= 0 || first < 0 {
			continue
		}
		body, err := Decode(s)
		if err != nil || first > len(body) {
			continue
		}

		lex := newLexer(body[:first], 0)
		for i := 0; i < n; i++ {
			numTok, err1 := lex.next()
			offTok, err2 := lex.next()
			if err1 != nil || err2 != nil || numTok.kind != tokNumber || offTok.kind != tokNumber {
				break
			}
			num, err1 := strconv.Atoi(string(numTok.value))
			off, err2 := strconv.Atoi(string(offTok.value))
			if err1 != nil || err2 != nil || off < 0 || off > len(body)-first {
				break
			}
			if _, exists := d.objects[num]; exists {
				continue
			}
			o, err := newParser(body, first+off).parseObject()
			if err != nil {
				continue
			}
			d.objects[num] = o
		}
	}
}

// findTrailer は最後の trailer 辞書を返す。
func findTrailer(data []byte) Dict {
	idx := bytes.LastIndex(data, []byte("trailer"))
	for idx >= 0 {
		if o, err := newParser(data, idx+len("trailer")).parseObject(); err == nil {
			if t, ok := o.(Dict); ok {
				return t
			}
		}
		idx = bytes.LastIndex(data[:idx], []byte("trailer"))
	}
	return nil
}

// Resolve は参照を辿って実体を返す。解決できない参照は Null。
func (d *Document) Resolve(o Object) Object {
	for i := 0; i < maxDepth; i++ {
		r, ok := o.(Ref)
		if !ok {
			return o
		}
		v, ok := d.objects[r.Num]
		if !ok {
			return Null{}
		}
		o = v
	}
	return Null{}
}

func (d *Document) resolveDict(o Object) Dict {
	switch v := d.Resolve(o).(type) {
	case Dict:
		return v
	case *Stream:
		return v.Dict
	}
	return nil
}

func (d *Document) catalog() Dict {
	if d.trailer != nil {
		if c := d.resolveDict(d.trailer["Root"]); c != nil {
			return c
		}
	}
	// trailer が無い / 壊れている場合は Catalog を探す
	for _, o := range d.objects {
		if c, ok := o.(Dict); ok {
			if t, _ := c.Name("Type"); t == "Catalog" {
				return c
			}
		}
	}
	return nil
}

func (d *Document) NumPages() int { return len(d.pages) }

func (d *Document) Page(i int) (*Page, error) {
	if i < 0 || i >= len(d.pages) {
		return nil, fmt.Errorf("pdf: page index %d out of range (%d pages)", i, len(d.pages))
	}
	return d.pages[i], nil
}

// ===== ページツリー =====

type inherited struct {
	mediaBox  Object
	resources Object
}

func (d *Document) loadPages() error {
	cat := d.catalog()
	if cat == nil {
		return fmt.Errorf("%w: catalog not found", ErrMalformed)
	}
	visited := map[int]bool{}
	if err := d.walkPages(cat["Pages"], inherited{}, visited, 0); err != nil {
		return err
	}
	if len(d.pages) == 0 {
		return ErrNoPages
	}
	return nil
}

func (d *Document) walkPages(node Object, inh inherited, visited map[int]bool, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: page tree too deep", ErrMalformed)
	}
	if r, ok := node.(Ref); ok {
		if visited[r.Num] {
			return nil
		}
		visited[r.Num] = true
	}
	dict := d.resolveDict(node)
	if dict == nil {
		return nil
	}

	if v, ok := dict["MediaBox"]; ok {
		inh.mediaBox = v
	}
	if v, ok := dict["Resources"]; ok {
		inh.resources = v
	}

	kids, hasKids := d.Resolve(dict["Kids"]).(Array)
	typ, _ := dict.Name("Type")
	if typ == "Pages" || (typ == "" && hasKids) {
		for _, k := range kids {
			if err := d.walkPages(k, inh, visited, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	page := &Page{Dict: dict, Resources: inh.resources}
	// MediaBox が読めないページは 0x0 として扱う (呼び出し側でフォールバック)
	if arr, ok := d.Resolve(inh.mediaBox).(Array); ok {
		resolved := make(Array, len(arr))
		for i := range arr {
			resolved[i] = d.Resolve(arr[i])
		}
		page.MediaBox, _ = rectFrom(resolved)
	}
	d.pages = append(d.pages, page)
	return nil
}
