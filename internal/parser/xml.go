package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"
)

// XMLAttributesParser reads every element named after the dialect's record tag
// and takes the station fields from that element's attributes.
type XMLAttributesParser struct {
	dialect Dialect
}

var _ Parser = (*XMLAttributesParser)(nil)

func (p *XMLAttributesParser) Dialect() Dialect {
	return p.dialect
}

func (p *XMLAttributesParser) Parse(data []byte) (*Result, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charsetReader

	result := &Result{}
	sawRoot := false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, NewMalformedDataError(p.dialect.Name, "decoding xml", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Local != p.dialect.RecordTag {
			continue
		}

		rec, err := buildRecord(p.dialect, attributesOf(start))
		if err != nil {
			result.Skipped++
			log.Warn().Err(err).Str("dialect", p.dialect.Name).Msg("Skipping malformed station record")
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if !sawRoot {
		return nil, NewMalformedDataError(p.dialect.Name, "no root element", nil)
	}
	if len(result.Records) == 0 {
		return nil, NewEmptyResultError(p.dialect.Name, result.Skipped)
	}
	return result, nil
}

func attributesOf(start xml.StartElement) attributeFunc {
	return func(name string) (string, bool) {
		for _, a := range start.Attr {
			if a.Name.Local == name {
				return a.Value, true
			}
		}
		return "", false
	}
}

// Several operators still publish latin-1 feeds.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}

