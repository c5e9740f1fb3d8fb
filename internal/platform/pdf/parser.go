package pdf

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrMalformed         = errors.New("pdf: malformed data")
	ErrNoPages           = errors.New("pdf: document has no pages")
	ErrUnsupportedFilter = errors.New("pdf: unsupported stream filter")
)

// 入れ子の上限 (壊れたデータでスタックを食い潰さないため)
const maxDepth = 64

type parser struct {
	lex *lexer
}

func newParser(data []byte, pos int) *parser {
	return &parser{lex: newLexer(data, pos)}
}

// parseObject は直接オブジェクトを 1 つ読む。stream 本体は扱わない。
func (p *parser) parseObject() (Object, error) {
	return p.parseDepth(0)
}

func (p *parser) parseDepth(depth int) (Object, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrMalformed)
	}
	tok, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	switch tok.kind {
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of data", ErrMalformed)
	case tokNumber:
		return p.parseNumber(tok)
	case tokName:
		return Name(tok.value), nil
	case tokString:
		return String(tok.value), nil
	case tokArrayOpen:
		return p.parseArray(depth)
	case tokDictOpen:
		return p.parseDict(depth)
	case tokKeyword:
		switch string(tok.value) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		case "null":
			return Null{}, nil
		}
		return nil, fmt.Errorf("%w: unexpected keyword %q at %d", ErrMalformed, tok.value, tok.pos)
	}
	return nil, fmt.Errorf("%w: unexpected token at %d", ErrMalformed, tok.pos)
}

// parseNumber は整数の後ろに "gen R" が続けば参照として読む。
func (p *parser) parseNumber(tok token) (Object, error) {
	n, err := strconv.ParseInt(string(tok.value), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(tok.value), 64)
		if ferr != nil {
			return nil, fmt.Errorf("%w: bad number %q at %d", ErrMalformed, tok.value, tok.pos)
		}
		return Real(f), nil
	}

	save := p.lex.pos
	gen, err := p.lex.next()
	if err == nil && gen.kind == tokNumber {
		if g, err := strconv.Atoi(string(gen.value)); err == nil {
			r, err := p.lex.next()
			if err == nil && r.kind == tokKeyword && string(r.value) == "R" {
				return Ref{Num: int(n), Gen: g}, nil
			}
		}
	}
	p.lex.pos = save
	return Integer(n), nil
}

func (p *parser) parseArray(depth int) (Object, error) {
	arr := Array{}
	for {
		save := p.lex.pos
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokArrayClose {
			return arr, nil
		}
		if tok.kind == tokEOF {
			return nil, fmt.Errorf("%w: unterminated array", ErrMalformed)
		}
		p.lex.pos = save
		o, err := p.parseDepth(depth + 1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, o)
	}
}

func (p *parser) parseDict(depth int) (Object, error) {
	d := Dict{}
	for {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokDictClose:
			return d, nil
		case tokName:
		case tokEOF:
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrMalformed)
		default:
			return nil, fmt.Errorf("%w: dictionary key is not a name at %d", ErrMalformed, tok.pos)
		}
		v, err := p.parseDepth(depth + 1)
		if err != nil {
			return nil, err
		}
		// null 値のエントリは無いものとして扱う
		if _, isNull := v.(Null); isNull {
			continue
		}
		d[Name(tok.value)] = v
	}
}
