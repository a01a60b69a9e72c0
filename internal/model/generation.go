package model

// SanitizedPrompt 是清洗后可交给 LLM 的用户输入。
type SanitizedPrompt struct {
	CleanText string   `json:"cleanText"`
	Keywords  []string `json:"keywords"`
}

// RequirementsResult 是第一阶段 LLM 输出的解析结果，两个切片在成功时均非 nil。
type RequirementsResult struct {
	Requirements []string `json:"requirements"`
	Keywords     []string `json:"keywords"`
}

// TemplateMatch 是一次语义检索命中的模板。
type TemplateMatch struct {
	ID      string `json:"id"`
	URI     string `json:"uri"`
	Content string `json:"content"`
}

// PrototypeResult 是第二阶段 LLM 输出的解析结果。
type PrototypeResult struct {
	RawJSON     string            `json:"rawJson"`
	EntryFile   string            `json:"entry"`
	Files       map[string]string `json:"files"`
	DisplayText string            `json:"displayText"`
}

// Stage2Kind 标记第二阶段输出的解析结果类型。
type Stage2Kind int

const (
	// PrototypeParsed 表示输出解析为合法的原型 JSON。
	PrototypeParsed Stage2Kind = iota
	// PrototypeRawFallback 表示解析失败，回退为原始文本。
	PrototypeRawFallback
)

func (k Stage2Kind) String() string {
	switch k {
	case PrototypeParsed:
		return "parsed"
	case PrototypeRawFallback:
		return "raw_fallback"
	default:
		return "unknown"
	}
}

// Stage2Outcome 是第二阶段的带标签结果：Parsed 时 Prototype 非 nil，RawFallback 时 ParseErr 非 nil。
type Stage2Outcome struct {
	Kind      Stage2Kind
	Prototype *PrototypeResult
	RawText   string
	ParseErr  error
}

// DisplayText 返回拼接到最终回复中的内容。
func (o Stage2Outcome) DisplayText() string {
	if o.Kind == PrototypeParsed && o.Prototype != nil {
		return o.Prototype.DisplayText
	}
	return o.RawText
}
