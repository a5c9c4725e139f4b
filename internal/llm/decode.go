package llm

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
)

// MustResolve 解析schema，失败时panic，只用于包级变量
func MustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return resolved
}

// StripFences 去掉markdown代码块标记
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// DecodeStrict 去掉代码块后按schema校验并解码模型输出的JSON
func DecodeStrict(raw string, schema *jsonschema.Resolved, out interface{}) error {
	text := StripFences(raw)

	var instance interface{}
	if err := json.Unmarshal([]byte(text), &instance); err != nil {
		return apperrors.Wrap(err, apperrors.ErrMalformedModelOutput)
	}
	if err := schema.Validate(instance); err != nil {
		return apperrors.Wrap(err, apperrors.ErrMalformedModelOutput)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrMalformedModelOutput)
	}
	return nil
}
