package pdf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// Decode は Filter を順に適用してストリームを展開する。
// 対応するのは FlateDecode と ASCIIHexDecode のみ (予測子なし)。
func Decode(s *Stream) ([]byte, error) {
	var filters []Name
	switch f := s.Dict["Filter"].(type) {
	case nil:
	case Name:
		filters = []Name{f}
	case Array:
		for _, o := range f {
			n, ok := o.(Name)
			if !ok {
				return nil, fmt.Errorf("%w: filter entry is not a name", ErrMalformed)
			}
			filters = append(filters, n)
		}
	default:
		return nil, fmt.Errorf("%w: bad Filter", ErrMalformed)
	}

	if len(filters) > 0 {
		if parms, ok := s.Dict["DecodeParms"].(Dict); ok {
			if p, ok := parms.Int("Predictor"); ok && p > 1 {
				return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedFilter, p)
			}
		}
	}

	data := s.Data
	for _, f := range filters {
		var err error
		switch f {
		case "FlateDecode", "Fl":
			data, err = inflate(data)
		case "ASCIIHexDecode", "AHx":
			data, err = decodeASCIIHex(data)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, f)
		}
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	// 末尾が欠けたストリームは読めた分だけ使う
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("flate: %w", err)
	}
	return out, nil
}

func decodeASCIIHex(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2)
	var hi byte
	half := false
	for _, c := range data {
		if c == '>' {
			break
		}
		if isWhitespace(c) {
			continue
		}
		v, ok := hexValue(c)
		if !ok {
			return nil, fmt.Errorf("%w: invalid hex digit %q", ErrMalformed, c)
		}
		if half {
			out = append(out, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

// NewFlateStream は data を圧縮して FlateDecode 付きストリームにする。
func NewFlateStream(dict Dict, data []byte) (*Stream, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	d := Dict{}
	for k, v := range dict {
		d[k] = v
	}
	d["Filter"] = Name("FlateDecode")
	delete(d, "DecodeParms")
	return &Stream{Dict: d, Data: buf.Bytes()}, nil
}
