package inference

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/sells-group/apm-cli/internal/model"
)

// Decode parses a model response into dst. Code fences and surrounding
// prose are stripped; if the JSON still does not parse it is repaired once
// before giving up. Failures are returned as *model.MalformedResponseError.
func Decode(task Task, text string, dst any) error {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return &model.MalformedResponseError{Task: string(task), Raw: text, Err: errEmpty}
	}

	err := strictUnmarshal(cleaned, dst)
	if err == nil {
		return nil
	}

	repaired, rerr := jsonrepair.JSONRepair(cleaned)
	if rerr != nil {
		return &model.MalformedResponseError{Task: string(task), Raw: text, Err: err}
	}
	if err := strictUnmarshal(repaired, dst); err != nil {
		return &model.MalformedResponseError{Task: string(task), Raw: text, Err: err}
	}
	return nil
}

type decodeError string

func (e decodeError) Error() string { return string(e) }

const errEmpty = decodeError("empty response")

func strictUnmarshal(s string, dst any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return decodeError("trailing data after JSON object")
	}
	return nil
}

// cleanJSON strips markdown code fences and keeps the outermost object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
