package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/splitpdf/ir/raw"
)

// ErrNestingTooDeep is returned for arrays and dictionaries nested beyond
// maxNesting levels.
var ErrNestingTooDeep = errors.New("object nesting too deep")

const maxNesting = 256

// LengthFunc resolves an indirect stream /Length while the stream is read.
type LengthFunc func(ref raw.ObjectRef) (int64, bool)

// ReadObject reads one direct object starting at the current position.
func (s *Scanner) ReadObject() (raw.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return s.objectFrom(tok, 0)
}

// ReadIndirect reads "num gen obj ... endobj" at the current position. A
// dictionary followed by the stream keyword becomes a *raw.StreamObj whose
// payload length comes from /Length, resolved through length when indirect.
// A missing endobj is tolerated.
func (s *Scanner) ReadIndirect(length LengthFunc) (raw.ObjectRef, raw.Object, error) {
	numTok, err := s.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	genTok, err := s.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if numTok.Type != TokenNumber || !numTok.IsInt || genTok.Type != TokenNumber || !genTok.IsInt {
		return raw.ObjectRef{}, nil, fmt.Errorf("expected object header at offset %d", numTok.Pos)
	}
	kw, err := s.Next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if kw.Type != TokenKeyword || kw.Str != "obj" {
		return raw.ObjectRef{}, nil, fmt.Errorf("expected obj keyword at offset %d", kw.Pos)
	}
	ref := raw.ObjectRef{Num: int(numTok.Int), Gen: int(genTok.Int)}

	tok, err := s.Next()
	if err != nil {
		return ref, nil, err
	}
	if tok.Type == TokenKeyword && tok.Str == "endobj" {
		return ref, raw.NullObj{}, nil
	}
	obj, err := s.objectFrom(tok, 0)
	if err != nil {
		return ref, nil, err
	}

	if dict, ok := obj.(*raw.DictObj); ok && s.atKeyword("stream") {
		s.SetNextStreamLength(streamLength(dict, length))
		tok, err := s.Next()
		if err != nil {
			return ref, nil, err
		}
		if tok.Type != TokenStream {
			return ref, nil, fmt.Errorf("expected stream payload at offset %d", tok.Pos)
		}
		obj = raw.NewStream(dict, tok.Bytes)
	}

	save := s.pos
	if tok, err := s.Next(); err != nil || tok.Type != TokenKeyword || tok.Str != "endobj" {
		s.pos = save
	}
	return ref, obj, nil
}

// atKeyword skips whitespace and reports whether kw starts there.
func (s *Scanner) atKeyword(kw string) bool {
	s.skipWSAndComments()
	rest := s.data[s.pos:]
	if !bytes.HasPrefix(rest, []byte(kw)) {
		return false
	}
	return len(rest) == len(kw) || isDelimiter(rest[len(kw)])
}

func streamLength(dict *raw.DictObj, length LengthFunc) int64 {
	v, ok := dict.Get("Length")
	if !ok {
		return -1
	}
	switch l := v.(type) {
	case raw.NumberObj:
		return l.Int()
	case raw.RefObj:
		if length != nil {
			if n, ok := length(l.R); ok {
				return n
			}
		}
	}
	return -1
}

func (s *Scanner) objectFrom(tok Token, depth int) (raw.Object, error) {
	if depth > maxNesting {
		return nil, ErrNestingTooDeep
	}
	switch tok.Type {
	case TokenDict:
		return s.readDict(depth + 1)
	case TokenArray:
		return s.readArray(depth + 1)
	case TokenName:
		return raw.NameLiteral(tok.Str), nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

func (s *Scanner) readDict(depth int) (*raw.DictObj, error) {
	d := raw.Dict()
	for {
		tok, err := s.nextInside()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != TokenName {
			return nil, fmt.Errorf("dictionary key must be a name at offset %d", tok.Pos)
		}
		valTok, err := s.nextInside()
		if err != nil {
			return nil, err
		}
		if valTok.Type == TokenKeyword && valTok.Str == ">>" {
			return d, nil
		}
		val, err := s.objectFrom(valTok, depth)
		if err != nil {
			return nil, err
		}
		// A null value is equivalent to an absent entry.
		if _, isNull := val.(raw.NullObj); !isNull {
			d.Set(tok.Str, val)
		}
	}
}

func (s *Scanner) readArray(depth int) (*raw.ArrayObj, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := s.nextInside()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		val, err := s.objectFrom(tok, depth)
		if err != nil {
			return nil, err
		}
		arr.Append(val)
	}
}

func (s *Scanner) nextInside() (Token, error) {
	tok, err := s.Next()
	if errors.Is(err, io.EOF) {
		return Token{}, ErrUnterminated
	}
	return tok, err
}
