package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"roadmap/internal/types"
)

// jsonObjectPattern matches from the first '{' to the last '}' of a response.
var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// extractJSONObject parses raw as a JSON object. When the model wrapped the
// object in prose, the outermost {...} block is tried instead.
func extractJSONObject(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	obj, err := asJSONObject(raw)
	if err == nil {
		return obj, nil
	}
	block := jsonObjectPattern.FindString(raw)
	if block == "" || block == raw {
		return nil, err
	}
	if obj, blockErr := asJSONObject(block); blockErr == nil {
		return obj, nil
	}
	return nil, err
}

func asJSONObject(s string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("response is null, expected an object")
	}
	return json.RawMessage(s), nil
}

// stripCodeFences removes a surrounding markdown code block, with or without
// a language tag, from a model response.
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(s[:nl]); tag == "" || isLanguageTag(tag) {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// validateLearningPath checks that doc carries a tasks array and that every
// task is an object with a difficulty of easy, medium or hard. Property
// names are matched case-insensitively.
func validateLearningPath(doc json.RawMessage) error {
	var path struct {
		Tasks *[]json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(doc, &path); err != nil {
		return fmt.Errorf("missing 'tasks' array: %w", err)
	}
	if path.Tasks == nil {
		return errors.New("missing 'tasks' array")
	}

	for i, rawTask := range *path.Tasks {
		var task map[string]any
		if err := json.Unmarshal(rawTask, &task); err != nil || task == nil {
			return fmt.Errorf("task %d must be an object", i)
		}

		value, found := lookupFold(task, "difficulty")
		if !found {
			return fmt.Errorf("task %d is missing the 'difficulty' property", i)
		}
		s, _ := value.(string)
		if _, ok := types.ParseDifficulty(s); !ok {
			return fmt.Errorf("task %d has an invalid 'difficulty' property, must be one of: easy, medium, hard", i)
		}
	}
	return nil
}

func lookupFold(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// flexibleList decodes either a JSON array of strings or a single string.
// Models sometimes ignore the instruction to return an array.
type flexibleList []string

func (l *flexibleList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = flexibleList{s}
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}
