package pdf

import (
	"bytes"
	"fmt"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokName
	tokString
	tokArrayOpen
	tokArrayClose
	tokDictOpen
	tokDictClose
	tokKeyword
)

type token struct {
	kind  tokenKind
	value []byte // 数値・キーワードは生のバイト列、名前・文字列はデコード済み
	pos   int
}

// lexer はメモリ上のバイト列を先頭から字句解析する。
// 位置を保存・復元できるので、"num gen R" の先読みに使う。
type lexer struct {
	data []byte
	pos  int
}

func newLexer(data []byte, pos int) *lexer {
	return &lexer{data: data, pos: pos}
}

func isWhitespace(b byte) bool {
	switch b {
	case 0x00, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(b byte) bool { return !isWhitespace(b) && !isDelimiter(b) }

func hexValue(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

// skipSpace は空白とコメントを読み飛ばす。
func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

// hasKeyword は次のトークンが kw であるかを位置を進めずに調べる。
func (l *lexer) hasKeyword(kw string) bool {
	l.skipSpace()
	if !bytes.HasPrefix(l.data[l.pos:], []byte(kw)) {
		return false
	}
	end := l.pos + len(kw)
	return end == len(l.data) || !isRegular(l.data[end])
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.data) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := l.data[l.pos]
	switch c {
	case '[':
		l.pos++
		return token{kind: tokArrayOpen, pos: start}, nil
	case ']':
		l.pos++
		return token{kind: tokArrayClose, pos: start}, nil
	case '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			return token{kind: tokDictOpen, pos: start}, nil
		}
		return l.readHexString()
	case '>':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '>' {
			l.pos += 2
			return token{kind: tokDictClose, pos: start}, nil
		}
		return token{}, fmt.Errorf("%w: unexpected '>' at %d", ErrMalformed, start)
	case '(':
		return l.readLiteralString()
	case '/':
		return l.readName()
	case ')', '{', '}':
		return token{}, fmt.Errorf("%w: unexpected %q at %d", ErrMalformed, c, start)
	}

	for l.pos < len(l.data) && isRegular(l.data[l.pos]) {
		l.pos++
	}
	raw := l.data[start:l.pos]
	if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
		return token{kind: tokNumber, value: raw, pos: start}, nil
	}
	return token{kind: tokKeyword, value: raw, pos: start}, nil
}

func (l *lexer) readName() (token, error) {
	start := l.pos
	l.pos++ // '/'
	var buf []byte
	for l.pos < len(l.data) && isRegular(l.data[l.pos]) {
		c := l.data[l.pos]
		if c == '#' && l.pos+2 < len(l.data) {
			hi, ok1 := hexValue(l.data[l.pos+1])
			lo, ok2 := hexValue(l.data[l.pos+2])
			if ok1 && ok2 {
				buf = append(buf, hi<<4|lo)
				l.pos += 3
				continue
			}
		}
		buf = append(buf, c)
		l.pos++
	}
	return token{kind: tokName, value: buf, pos: start}, nil
}

func (l *lexer) readHexString() (token, error) {
	start := l.pos
	l.pos++ // '<'
	var buf []byte
	var hi byte
	half := false
	for {
		if l.pos >= len(l.data) {
			return token{}, fmt.Errorf("%w: unterminated hex string at %d", ErrMalformed, start)
		}
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			break
		}
		if isWhitespace(c) {
			continue
		}
		v, ok := hexValue(c)
		if !ok {
			return token{}, fmt.Errorf("%w: invalid hex digit %q at %d", ErrMalformed, c, l.pos-1)
		}
		if half {
			buf = append(buf, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	// 奇数桁は末尾 0 補完
	if half {
		buf = append(buf, hi<<4)
	}
	return token{kind: tokString, value: buf, pos: start}, nil
}

func (l *lexer) readLiteralString() (token, error) {
	start := l.pos
	l.pos++ // '('
	var buf []byte
	depth := 1
	for {
		if l.pos >= len(l.data) {
			return token{}, fmt.Errorf("%w: unterminated string at %d", ErrMalformed, start)
		}
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return token{kind: tokString, value: buf, pos: start}, nil
			}
		case '\\':
			if l.pos >= len(l.data) {
				continue
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := e - '0'
					for i := 0; i < 2 && l.pos < len(l.data); i++ {
						d := l.data[l.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + (d - '0')
						l.pos++
					}
					buf = append(buf, v)
					continue
				}
				buf = append(buf, e)
			}
			continue
		}
		buf = append(buf, c)
	}
}
