package pdf

import (
	"bytes"
	"fmt"
	"io"
)

// Writer は新しい PDF 文書を組み立てる。
// 取り込んだ元文書のオブジェクトは文書ごとに 1 度だけコピーされ、
// 同じページを何度描画しても Form XObject は共有される。
type Writer struct {
	objects   []Object // objects[i] はオブジェクト番号 i+1
	catalog   Ref
	pagesRoot Ref
	pages     []Ref
	info      Dict
	infoRef   Ref
	imported  map[*Document]*importState
}

type importState struct {
	refs  map[int]Ref // 元文書の番号 -> この文書の参照
	forms map[int]*Form
}

// Form はページから作った Form XObject。
type Form struct {
	ref  Ref
	BBox Rect
}

// Width / Height は Form 空間の原点を (0,0) に寄せた後の寸法。
func (f *Form) Width() float64  { return f.BBox.Width() }
func (f *Form) Height() float64 { return f.BBox.Height() }

func NewWriter() *Writer {
	w := &Writer{imported: map[*Document]*importState{}}
	w.catalog = w.reserve()
	w.pagesRoot = w.reserve()
	return w
}

func (w *Writer) reserve() Ref {
	w.objects = append(w.objects, nil)
	return Ref{Num: len(w.objects)}
}

func (w *Writer) set(r Ref, o Object) { w.objects[r.Num-1] = o }

// Add は間接オブジェクトとして登録する。
func (w *Writer) Add(o Object) Ref {
	r := w.reserve()
	w.set(r, o)
	return r
}

// SetInfo は文書情報辞書 (Producer, Title など) を設定する。
func (w *Writer) SetInfo(key, value string) {
	if w.info == nil {
		w.info = Dict{}
		w.infoRef = w.Add(w.info)
	}
	w.info[Name(key)] = String(value)
}

func (w *Writer) NumPages() int { return len(w.pages) }

// AddPage はキャンバスを 1 ページとして確定する。以降キャンバスへの描画は反映されない。
func (w *Writer) AddPage(c *Canvas) error {
	content, err := NewFlateStream(Dict{}, c.buf.Bytes())
	if err != nil {
		return fmt.Errorf("compress page content: %w", err)
	}
	res := Dict{"ProcSet": Array{Name("PDF")}}
	if len(c.xobjects) > 0 {
		xo := Dict{}
		for k, v := range c.xobjects {
			xo[k] = v
		}
		res["XObject"] = xo
	}
	page := Dict{
		"Type":      Name("Page"),
		"Parent":    w.pagesRoot,
		"MediaBox":  Rect{URX: c.width, URY: c.height}.Array(),
		"Resources": res,
		"Contents":  w.Add(content),
	}
	w.pages = append(w.pages, w.Add(page))
	return nil
}

// ImportPage は doc の index ページを Form XObject として取り込む。
// 同じ (doc, index) の 2 回目以降はキャッシュ済みの Form を返す。
func (w *Writer) ImportPage(doc *Document, index int) (*Form, error) {
	st, ok := w.imported[doc]
	if !ok {
		st = &importState{refs: map[int]Ref{}, forms: map[int]*Form{}}
		w.imported[doc] = st
	}
	if f, ok := st.forms[index]; ok {
		return f, nil
	}

	page, err := doc.Page(index)
	if err != nil {
		return nil, err
	}

	stream, err := w.formContent(doc, page, st)
	if err != nil {
		return nil, err
	}

	if page.Resources != nil {
		stream.Dict["Resources"] = w.copyObject(doc, page.Resources, st.refs)
	} else {
		stream.Dict["Resources"] = Dict{}
	}

	box := page.MediaBox
	stream.Dict["Type"] = Name("XObject")
	stream.Dict["Subtype"] = Name("Form")
	stream.Dict["BBox"] = box.Array()
	if box.LLX != 0 || box.LLY != 0 {
		stream.Dict["Matrix"] = Array{Integer(1), Integer(0), Integer(0), Integer(1), Real(-box.LLX), Real(-box.LLY)}
	}

	f := &Form{ref: w.Add(stream), BBox: box}
	st.forms[index] = f
	return f, nil
}

// formContent はページのコンテンツを 1 本のストリームにまとめる。
// 単一ストリームは圧縮済みのまま流用し、配列なら展開して連結・再圧縮する。
func (w *Writer) formContent(doc *Document, page *Page, st *importState) (*Stream, error) {
	switch c := doc.Resolve(page.Dict["Contents"]).(type) {
	case *Stream:
		d := Dict{}
		if f, ok := c.Dict["Filter"]; ok {
			d["Filter"] = w.copyObject(doc, f, st.refs)
		}
		if p, ok := c.Dict["DecodeParms"]; ok {
			d["DecodeParms"] = w.copyObject(doc, p, st.refs)
		}
		return &Stream{Dict: d, Data: c.Data}, nil
	case Array:
		var buf bytes.Buffer
		for _, part := range c {
			s, ok := doc.Resolve(part).(*Stream)
			if !ok {
				continue
			}
			data, err := Decode(s)
			if err != nil {
				return nil, fmt.Errorf("decode page content: %w", err)
			}
			buf.Write(data)
			buf.WriteByte('\n')
		}
		return NewFlateStream(Dict{}, buf.Bytes())
	}
	// コンテンツ無しのページは空の Form になる
	return &Stream{Dict: Dict{}}, nil
}

// copyObject は元文書のオブジェクトグラフを参照を付け替えながらコピーする。
// 参照先は先に番号を予約してから中身をコピーするので循環しても止まる。
func (w *Writer) copyObject(doc *Document, o Object, refs map[int]Ref) Object {
	switch v := o.(type) {
	case Ref:
		if r, ok := refs[v.Num]; ok {
			return r
		}
		nr := w.reserve()
		refs[v.Num] = nr
		target, ok := doc.objects[v.Num]
		if !ok {
			w.set(nr, Null{})
			return nr
		}
		w.set(nr, w.copyObject(doc, target, refs))
		return nr
	case Dict:
		nd := make(Dict, len(v))
		for k, x := range v {
			// ページツリーへ戻る参照は辿らない
			if k == "Parent" {
				continue
			}
			nd[k] = w.copyObject(doc, x, refs)
		}
		return nd
	case Array:
		na := make(Array, len(v))
		for i, x := range v {
			na[i] = w.copyObject(doc, x, refs)
		}
		return na
	case *Stream:
		nd := make(Dict, len(v.Dict))
		for k, x := range v.Dict {
			if k == "Length" {
				continue
			}
			nd[k] = w.copyObject(doc, x, refs)
		}
		return &Stream{Dict: nd, Data: v.Data}
	}
	return o
}

// WriteTo は文書をシリアライズする (xref テーブル形式)。
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	if len(w.pages) == 0 {
		return 0, ErrNoPages
	}

	kids := make(Array, len(w.pages))
	for i, p := range w.pages {
		kids[i] = p
	}
	w.set(w.pagesRoot, Dict{
		"Type":  Name("Pages"),
		"Kids":  kids,
		"Count": Integer(len(w.pages)),
	})
	w.set(w.catalog, Dict{
		"Type":  Name("Catalog"),
		"Pages": w.pagesRoot,
	})

	trailer := Dict{"Root": w.catalog}
	if w.info != nil {
		trailer["Info"] = w.infoRef
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(w.objects))
	for i, o := range w.objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n", i+1)
		writeObject(&b, o)
		b.WriteString("\nendobj\n")
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(w.objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	trailer["Size"] = Integer(len(w.objects) + 1)
	b.WriteString("trailer\n")
	trailer.writeTo(&b)
	fmt.Fprintf(&b, "\nstartxref\n%d\n%%%%EOF\n", xref)

	n, err := out.Write(b.Bytes())
	return int64(n), err
}

func (w *Writer) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if _, err := w.WriteTo(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
