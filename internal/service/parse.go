package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"protoforge/internal/model"
	"sort"
	"strings"
)

// ErrMalformedRequirements 表示第一阶段响应不是预期的 JSON 结构。
var ErrMalformedRequirements = errors.New("malformed requirements response")

var (
	errNoJSONObject     = errors.New("no JSON object in response")
	errNoPrototypeFiles = errors.New("prototype has no files")
)

// extractJSONObject 去掉 Markdown 代码围栏，截取第一个 '{' 到最后一个 '}' 之间的内容。
func extractJSONObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

// parseRequirements 解析第一阶段响应，两个字段都必须存在且为字符串数组。
func parseRequirements(text string) (*model.RequirementsResult, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequirements, err)
	}
	var raw struct {
		Requirements *[]string `json:"requirements"`
		Keywords     *[]string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequirements, err)
	}
	if raw.Requirements == nil || raw.Keywords == nil {
		return nil, fmt.Errorf("%w: missing requirements or keywords", ErrMalformedRequirements)
	}
	return &model.RequirementsResult{
		Requirements: append([]string{}, (*raw.Requirements)...),
		Keywords:     append([]string{}, (*raw.Keywords)...),
	}, nil
}

// parsePrototype 解析第二阶段响应；失败时返回显式的原始文本回退结果。
func parsePrototype(text string) model.Stage2Outcome {
	fallback := func(err error) model.Stage2Outcome {
		return model.Stage2Outcome{Kind: model.PrototypeRawFallback, RawText: text, ParseErr: err}
	}

	obj, err := extractJSONObject(text)
	if err != nil {
		return fallback(err)
	}
	var raw struct {
		Entry string            `json:"entry"`
		Files map[string]string `json:"files"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return fallback(err)
	}
	if len(raw.Files) == 0 {
		return fallback(errNoPrototypeFiles)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(obj)); err != nil {
		return fallback(err)
	}
	return model.Stage2Outcome{
		Kind: model.PrototypeParsed,
		Prototype: &model.PrototypeResult{
			RawJSON:     obj,
			EntryFile:   entryFile(raw.Entry, raw.Files),
			Files:       raw.Files,
			DisplayText: compact.String(),
		},
		RawText: text,
	}
}

// entryFile 返回声明的入口文件；未声明或不在 files 中时优先选择 index.html，否则取字典序最小的路径。
func entryFile(declared string, files map[string]string) string {
	if _, ok := files[declared]; ok && declared != "" {
		return declared
	}
	if _, ok := files["index.html"]; ok {
		return "index.html"
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths[0]
}
