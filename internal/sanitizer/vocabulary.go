package sanitizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Vocabulary 是受控关键词词表，匹配时不区分大小写。
type Vocabulary struct {
	terms    []string
	patterns []*regexp.Regexp
}

// NewVocabulary 根据词条构建词表：小写化、去空白、去重。
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{}
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		v.terms = append(v.terms, t)
		// 多词词条之间允许任意空白
		parts := strings.Split(t, " ")
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		v.patterns = append(v.patterns, regexp.MustCompile(`(?i)\b`+strings.Join(parts, `\s+`)+`\b`))
	}
	return v
}

// Terms 返回词表中的全部词条。
func (v *Vocabulary) Terms() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

// Len 返回词条数量。
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// ParseVocabulary 解析 YAML 平铺列表格式的词表。
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var terms []string
	if err := yaml.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("failed to parse keyword vocabulary: %w", err)
	}
	return NewVocabulary(terms), nil
}

var (
	vocabOnce  sync.Once
	vocabCache *Vocabulary
	vocabErr   error
)

// LoadVocabulary 从磁盘读取词表，进程生命周期内只加载一次，后续调用返回缓存结果。
func LoadVocabulary(path string) (*Vocabulary, error) {
	vocabOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			vocabErr = fmt.Errorf("failed to read keyword vocabulary %s: %w", path, err)
			return
		}
		vocabCache, vocabErr = ParseVocabulary(data)
	})
	return vocabCache, vocabErr
}
