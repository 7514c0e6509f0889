package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// JSONRecordsParser reads an array of JSON objects, either at the document
// root (empty record tag) or under the record tag key of the root object.
type JSONRecordsParser struct {
	dialect Dialect
}

var _ Parser = (*JSONRecordsParser)(nil)

func (p *JSONRecordsParser) Dialect() Dialect {
	return p.dialect
}

func (p *JSONRecordsParser) Parse(data []byte) (*Result, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var root interface{}
	if err := decoder.Decode(&root); err != nil {
		return nil, NewMalformedDataError(p.dialect.Name, "decoding json", err)
	}

	items, err := p.recordArray(root)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			result.Skipped++
			log.Warn().Int("index", i).Str("dialect", p.dialect.Name).Msg("Skipping non-object station record")
			continue
		}
		rec, err := buildRecord(p.dialect, objectAttributes(obj))
		if err != nil {
			result.Skipped++
			log.Warn().Err(err).Str("dialect", p.dialect.Name).Msg("Skipping malformed station record")
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if len(result.Records) == 0 {
		return nil, NewEmptyResultError(p.dialect.Name, result.Skipped)
	}
	return result, nil
}

func (p *JSONRecordsParser) recordArray(root interface{}) ([]interface{}, error) {
	if p.dialect.RecordTag == "" {
		items, ok := root.([]interface{})
		if !ok {
			return nil, NewMalformedDataError(p.dialect.Name, "expected a top-level array", nil)
		}
		return items, nil
	}

	obj, ok := root.(map[string]interface{})
	if !ok {
		return nil, NewMalformedDataError(p.dialect.Name, "expected a top-level object", nil)
	}
	items, ok := obj[p.dialect.RecordTag].([]interface{})
	if !ok {
		return nil, NewMalformedDataError(p.dialect.Name,
			fmt.Sprintf("expected an array under %q", p.dialect.RecordTag), nil)
	}
	return items, nil
}

func objectAttributes(obj map[string]interface{}) attributeFunc {
	return func(name string) (string, bool) {
		v, ok := obj[name]
		if !ok {
			if parent, child, nested := strings.Cut(name, "."); nested {
				if inner, isObj := obj[parent].(map[string]interface{}); isObj {
					v, ok = inner[child]
				}
			}
		}
		if !ok || v == nil {
			return "", false
		}
		switch val := v.(type) {
		case string:
			return val, true
		case json.Number:
			return val.String(), true
		case bool:
			return strconv.FormatBool(val), true
		default:
			return "", false
		}
	}
}
