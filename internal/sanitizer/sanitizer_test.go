package sanitizer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testVocab() *Vocabulary {
	return NewVocabulary([]string{"todo", "List", "dark mode", "react", "todo"})
}

func TestSanitize_PlainPrompt(t *testing.T) {
	s := New(testVocab())
	got, err := s.Sanitize("Build me a todo app")
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if got.CleanText != "Build me a todo app" {
		t.Errorf("unexpected clean text: %q", got.CleanText)
	}
	if !reflect.DeepEqual(got.Keywords, []string{"todo"}) {
		t.Errorf("unexpected keywords: %v", got.Keywords)
	}
}

func TestSanitize_StripsMarkup(t *testing.T) {
	s := New(testVocab())
	raw := `<p>Build a <b>React</b> todo</p><script>alert("x")</script><img src=x onerror=alert(1)>app`
	got, err := s.Sanitize(raw)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	for _, bad := range []string{"<", ">", "script", "alert", "onerror"} {
		if strings.Contains(got.CleanText, bad) {
			t.Errorf("clean text %q still contains %q", got.CleanText, bad)
		}
	}
	if got.CleanText != "Build a React todo app" {
		t.Errorf("unexpected clean text: %q", got.CleanText)
	}
}

func TestSanitize_EscapedTagsStayInert(t *testing.T) {
	s := New(nil)
	got, err := s.Sanitize("show &lt;script&gt; literally")
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if strings.ContainsAny(got.CleanText, "<>") {
		t.Errorf("clean text contains raw angle brackets: %q", got.CleanText)
	}
}

func TestSanitize_KeepsQuotesReadable(t *testing.T) {
	s := New(nil)
	got, err := s.Sanitize(`a "todo" & notes app`)
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if got.CleanText != `a "todo" & notes app` {
		t.Errorf("unexpected clean text: %q", got.CleanText)
	}
}

func TestSanitize_EmptyAfterClean(t *testing.T) {
	s := New(testVocab())
	cases := []string{
		"",
		"   \n\t ",
		"<script>document.cookie</script>",
		"<style>body{}</style><iframe src='x'></iframe>",
		"<div><span></span></div>",
	}
	for _, raw := range cases {
		_, err := s.Sanitize(raw)
		if !errors.Is(err, ErrEmptyPrompt) {
			t.Errorf("Sanitize(%q): expected ErrEmptyPrompt, got %v", raw, err)
		}
	}
}

func TestSanitize_NonEmptyInputsProduceText(t *testing.T) {
	s := New(testVocab())
	inputs := []string{"a", "x<b>y</b>", "  todo  ", "1 + 1", "<em>hello</em>"}
	for _, raw := range inputs {
		got, err := s.Sanitize(raw)
		if err != nil {
			t.Errorf("Sanitize(%q) failed: %v", raw, err)
			continue
		}
		if got.CleanText == "" {
			t.Errorf("Sanitize(%q) returned empty text", raw)
		}
	}
}

func TestSanitize_KeywordOrderAndDedup(t *testing.T) {
	s := New(testVocab())
	got, err := s.Sanitize("A LIST app in react with Dark   Mode, a todo list and more todo")
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	want := []string{"list", "react", "dark mode", "todo"}
	if !reflect.DeepEqual(got.Keywords, want) {
		t.Errorf("keywords = %v, want %v", got.Keywords, want)
	}
}

func TestSanitize_KeywordWordBoundary(t *testing.T) {
	s := New(testVocab())
	got, err := s.Sanitize("a todolist playlist")
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if len(got.Keywords) != 0 {
		t.Errorf("expected no keywords, got %v", got.Keywords)
	}
}

func TestSanitize_NoVocabulary(t *testing.T) {
	s := New(nil)
	got, err := s.Sanitize("Build me a todo app")
	if err != nil {
		t.Fatalf("sanitize failed: %v", err)
	}
	if got.Keywords == nil || len(got.Keywords) != 0 {
		t.Errorf("expected empty non-nil keywords, got %#v", got.Keywords)
	}
}

func TestParseVocabulary(t *testing.T) {
	v, err := ParseVocabulary([]byte("- Todo\n- todo\n- '  landing   page '\n- ''\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !reflect.DeepEqual(v.Terms(), []string{"todo", "landing page"}) {
		t.Errorf("unexpected terms: %v", v.Terms())
	}

	if _, err := ParseVocabulary([]byte("key: value")); err == nil {
		t.Error("expected error for non-list vocabulary")
	}
}

func TestLoadVocabulary_Cached(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.yaml")
	if err := os.WriteFile(path, []byte("- todo\n- kanban\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if first.Len() != 2 {
		t.Fatalf("expected 2 terms, got %d", first.Len())
	}

	// 文件变更后仍返回缓存
	if err := os.WriteFile(path, []byte("- other\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := LoadVocabulary(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if second != first {
		t.Error("expected cached vocabulary instance")
	}
}
