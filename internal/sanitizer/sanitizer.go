// Package sanitizer 负责清洗用户提示词并从受控词表中抽取关键词。
package sanitizer

import (
	"errors"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"protoforge/internal/model"
)

// ErrEmptyPrompt 表示清洗后的提示词为空（原始输入为空或全部是被禁止的内容）。
var ErrEmptyPrompt = errors.New("prompt is empty after sanitization")

// Sanitizer 清洗原始提示词。
type Sanitizer interface {
	Sanitize(raw string) (*model.SanitizedPrompt, error)
}

type htmlSanitizer struct {
	policy *bluemonday.Policy
	vocab  *Vocabulary
}

// New 创建一个 Sanitizer。vocab 为 nil 时只清洗，不抽取关键词。
func New(vocab *Vocabulary) Sanitizer {
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return &htmlSanitizer{
		policy: policy,
		vocab:  vocab,
	}
}

// 反转义后残留的尖括号重新转义，保证输出中不存在可渲染的标签
var angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// Sanitize 去除所有标记与脚本内容，并按首次出现顺序抽取去重后的关键词。
func (s *htmlSanitizer) Sanitize(raw string) (*model.SanitizedPrompt, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyPrompt
	}

	// 先按 HTML 解析剥离标签（script/style 等元素连同内容一起丢弃）
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	text := strings.Join(strings.Fields(stripped), " ")
	if text == "" {
		return nil, ErrEmptyPrompt
	}

	return &model.SanitizedPrompt{
		CleanText: angleEscaper.Replace(text),
		Keywords:  s.extractKeywords(text),
	}, nil
}

func (s *htmlSanitizer) extractKeywords(text string) []string {
	keywords := []string{}
	if s.vocab.Len() == 0 {
		return keywords
	}

	type hit struct {
		term string
		pos  int
	}
	var hits []hit
	for i, re := range s.vocab.patterns {
		if loc := re.FindStringIndex(text); loc != nil {
			hits = append(hits, hit{term: s.vocab.terms[i], pos: loc[0]})
		}
	}
	// 按首次出现位置排序；位置相同时较长的词条优先
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return len(hits[i].term) > len(hits[j].term)
	})
	for _, h := range hits {
		keywords = append(keywords, h.term)
	}
	return keywords
}
