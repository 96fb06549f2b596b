// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ManuGH/subforge/internal/fault"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// ExtractJSON pulls a JSON object out of a model reply: a fenced block
// first, then the whole body, then the outermost braces.
func ExtractJSON(reply string) ([]byte, error) {
	if m := fenceRe.FindStringSubmatch(reply); m != nil {
		if body := strings.TrimSpace(m[1]); json.Valid([]byte(body)) {
			return []byte(body), nil
		}
	}
	trimmed := strings.TrimSpace(reply)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}
	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first >= 0 && last > first {
		if body := trimmed[first : last+1]; json.Valid([]byte(body)) {
			return []byte(body), nil
		}
	}
	return nil, fault.New(fault.KindLLMMalformed, "llm.extract_json", "no JSON object in reply")
}

// DecodeJSON extracts and unmarshals a reply into out.
func DecodeJSON(reply string, out any) error {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fault.Wrapf(fault.KindLLMMalformed, "llm.decode_json", "unexpected shape", err)
	}
	return nil
}
