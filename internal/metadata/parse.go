package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoObject = errors.New("no JSON object in response")

// ParseResponse decodes a model answer into Metadata. It tolerates code fences
// and prose around the object, coerces scalar values to strings and derives the
// document count from the list. Failures return EmptyMetadata and an error
// matching ErrMalformed.
func ParseResponse(raw string) (Metadata, error) {
	body, err := objectText(raw)
	if err != nil {
		return EmptyMetadata(), malformed(err)
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return EmptyMetadata(), malformed(fmt.Errorf("decode response: %w", err))
	}

	md := EmptyMetadata()
	for key, dst := range md.scalars() {
		*dst = scalar(fields[key])
	}
	md.RoadmapStage = stringList(fields["roadmap_stage"])
	md.RequiredDocumentsList = stringList(fields["required_documents_list"])
	md.RequiredDocumentsCount = len(md.RequiredDocumentsList)
	return md, nil
}

func objectText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "```"); i >= 0 {
		inner := text[i+3:]
		inner = strings.TrimPrefix(inner, "json")
		inner = strings.TrimPrefix(inner, "JSON")
		if j := strings.LastIndex(inner, "```"); j >= 0 {
			inner = inner[:j]
		}
		text = strings.TrimSpace(inner)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errNoObject
	}
	return text[start : end+1], nil
}

func scalar(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case json.Number:
		s = t.String()
	case bool:
		if t {
			s = "true"
		} else {
			s = "false"
		}
	case []any:
		s = strings.Join(stringList(t), ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func stringList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := scalar(item); s != nil {
				out = append(out, *s)
			}
		}
	case nil:
	default:
		if s := scalar(t); s != nil {
			out = append(out, *s)
		}
	}
	return out
}
