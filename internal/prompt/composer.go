// Package prompt 构建生成流水线两个阶段使用的结构化提示词。
// 所有函数均为纯函数，不做 I/O。
package prompt

import (
	"fmt"
	"strings"
)

const (
	refStart = "<<TEMPLATE %d>>"
	refEnd   = "<<END TEMPLATE %d>>"
)

// RequirementsPrompt 构建第一阶段（需求抽取）提示词，要求模型只输出
// {"requirements": [...], "keywords": [...]} 形式的 JSON 对象。
func RequirementsPrompt(cleanText string, keywords []string) string {
	var sb strings.Builder
	sb.WriteString("You are a senior product engineer. Read the user's request for a software prototype ")
	sb.WriteString("and extract the functional requirements and the most relevant domain keywords.\n\n")
	sb.WriteString("Respond with ONLY a JSON object, no markdown fences and no commentary, in exactly this shape:\n")
	sb.WriteString(`{"requirements": ["<requirement>", ...], "keywords": ["<keyword>", ...]}`)
	sb.WriteString("\n\nBoth fields must be present. Use empty arrays when nothing applies.\n\n")

	sb.WriteString("Keyword hints: ")
	if len(keywords) == 0 {
		sb.WriteString("none")
	} else {
		sb.WriteString(FlattenKeywords(keywords))
	}
	sb.WriteString("\n\nUser request:\n---\n")
	sb.WriteString(cleanText)
	sb.WriteString("\n---\n")
	return sb.String()
}

// PrototypePrompt 构建第二阶段（原型生成）提示词，要求模型输出
// {"entry": "<path>", "files": {"<path>": "<content>"}} 形式的 JSON 对象。
// templates 为空时省略参考模板段落，提示词仍然完整。
func PrototypePrompt(originalPrompt, requirementsText, keywordsText string, templates []string) string {
	var sb strings.Builder
	sb.WriteString("You are a full-stack prototype generator. Build a small, runnable web prototype ")
	sb.WriteString("that satisfies the user's request and the extracted requirements.\n\n")

	sb.WriteString("User request:\n---\n")
	sb.WriteString(originalPrompt)
	sb.WriteString("\n---\n\n")

	sb.WriteString("Requirements:\n")
	if strings.TrimSpace(requirementsText) == "" {
		sb.WriteString("- (none extracted, infer them from the request)\n")
	} else {
		sb.WriteString(requirementsText)
		sb.WriteString("\n")
	}
	sb.WriteString("\nKeywords: ")
	if strings.TrimSpace(keywordsText) == "" {
		sb.WriteString("none")
	} else {
		sb.WriteString(keywordsText)
	}
	sb.WriteString("\n\n")

	written := 0
	for _, tpl := range templates {
		if strings.TrimSpace(tpl) == "" {
			continue
		}
		if written == 0 {
			sb.WriteString("Reference templates (illustrative only, adapt rather than copy):\n")
		}
		written++
		sb.WriteString(fmt.Sprintf(refStart, written))
		sb.WriteString("\n")
		sb.WriteString(tpl)
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf(refEnd, written))
		sb.WriteString("\n")
	}
	if written > 0 {
		sb.WriteString("\n")
	}

	sb.WriteString("Respond with ONLY a JSON object, no markdown fences and no commentary, in exactly this shape:\n")
	sb.WriteString(`{"entry": "<path of the entry file>", "files": {"<file path>": "<full file content>", ...}}`)
	sb.WriteString("\n\nThe entry file must be one of the keys of \"files\". Every file must be complete; ")
	sb.WriteString("the prototype is rendered in a live preview without any build step beyond the listed files.\n")
	return sb.String()
}

// FlattenRequirements 将需求列表展开为逐行的项目符号文本。
func FlattenRequirements(requirements []string) string {
	lines := make([]string, 0, len(requirements))
	for _, r := range requirements {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		lines = append(lines, "- "+r)
	}
	return strings.Join(lines, "\n")
}

// FlattenKeywords 将关键词列表以逗号拼接。
func FlattenKeywords(keywords []string) string {
	kept := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kept = append(kept, k)
		}
	}
	return strings.Join(kept, ", ")
}
