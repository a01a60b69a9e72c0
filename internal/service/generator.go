package service

import (
	"context"
	"errors"
	"fmt"
	"protoforge/internal/config"
	"protoforge/internal/model"
	"protoforge/internal/prompt"
	"protoforge/internal/sanitizer"
	"protoforge/pkg/llm"
	"protoforge/pkg/log"
	"time"
)

// ResponsePrefix 是最终回复的固定前缀。
const ResponsePrefix = "Here is your prototype: "

// State 是生成流水线所处的状态。
type State string

const (
	StateReceived         State = "received"
	StateSanitized        State = "sanitized"
	StateStage1Requested  State = "stage1_requested"
	StateStage1Parsed     State = "stage1_parsed"
	StateTemplatesFetched State = "templates_fetched"
	StateStage2Requested  State = "stage2_requested"
	StateStage2Parsed     State = "stage2_parsed"
	StateCompleted        State = "completed"
	StateRejected         State = "rejected"
	StateFailed           State = "failed"
)

// ProgressObserver 接收每一次状态迁移，可以为 nil。
type ProgressObserver func(state State)

// GenerationError 记录流水线在哪个状态终止以及原因。
type GenerationError struct {
	State State
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.State, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Terminal 返回该错误对应的终止状态。
func (e *GenerationError) Terminal() State {
	if errors.Is(e.Err, sanitizer.ErrEmptyPrompt) {
		return StateRejected
	}
	return StateFailed
}

// Generation 是一次成功生成的完整结果。
type Generation struct {
	Response     model.ChatResponse
	Sanitized    model.SanitizedPrompt
	Requirements model.RequirementsResult
	Templates    int
	Outcome      model.Stage2Outcome
}

// Generator 串联清洗、两阶段 LLM 调用与模板检索。
type Generator interface {
	Generate(ctx context.Context, rawPrompt string, observer ProgressObserver) (*model.ChatResponse, error)
	Run(ctx context.Context, rawPrompt string, observer ProgressObserver) (*Generation, error)
}

type generator struct {
	sanitizer         sanitizer.Sanitizer
	llmClient         llm.Client
	retriever         TemplateRetriever
	requirementsModel string
	prototypeModel    string
	now               func() time.Time
}

// NewGenerator 创建一个新的 Generator 实例。
func NewGenerator(s sanitizer.Sanitizer, llmClient llm.Client, retriever TemplateRetriever, llmCfg config.LLMConfig) Generator {
	requirementsModel, prototypeModel := llmCfg.StageModels()
	return &generator{
		sanitizer:         s,
		llmClient:         llmClient,
		retriever:         retriever,
		requirementsModel: requirementsModel,
		prototypeModel:    prototypeModel,
		now:               time.Now,
	}
}

// Generate 执行流水线并只返回最终回复。
func (g *generator) Generate(ctx context.Context, rawPrompt string, observer ProgressObserver) (*model.ChatResponse, error) {
	gen, err := g.Run(ctx, rawPrompt, observer)
	if err != nil {
		return nil, err
	}
	return &gen.Response, nil
}

// Run 执行完整的生成流水线。
func (g *generator) Run(ctx context.Context, rawPrompt string, observer ProgressObserver) (*Generation, error) {
	emit := func(s State) {
		if observer != nil {
			observer(s)
		}
	}
	fail := func(at State, err error) (*Generation, error) {
		genErr := &GenerationError{State: at, Err: err}
		emit(genErr.Terminal())
		return nil, genErr
	}

	emit(StateReceived)
	sanitized, err := g.sanitizer.Sanitize(rawPrompt)
	if err != nil {
		log.Warnw("[Generator] 提示词被拒绝", "error", err)
		return fail(StateReceived, err)
	}
	emit(StateSanitized)

	// 阶段一：需求提取
	if err := ctx.Err(); err != nil {
		return fail(StateSanitized, err)
	}
	emit(StateStage1Requested)
	stage1, err := g.llmClient.Invoke(ctx, prompt.RequirementsPrompt(sanitized.CleanText, sanitized.Keywords), g.requirementsModel)
	if err != nil {
		return fail(StateStage1Requested, g.cause(ctx, err))
	}
	requirements, err := parseRequirements(stage1.Text)
	if err != nil {
		log.Errorw("[Generator] 第一阶段响应无法解析", "error", err)
		return fail(StateStage1Parsed, err)
	}
	emit(StateStage1Parsed)

	// 模板检索不会使流水线失败
	if err := ctx.Err(); err != nil {
		return fail(StateStage1Parsed, err)
	}
	templates := g.retriever.FetchTemplates(ctx, sanitized.CleanText)
	emit(StateTemplatesFetched)

	// 阶段二：原型生成
	if err := ctx.Err(); err != nil {
		return fail(StateTemplatesFetched, err)
	}
	emit(StateStage2Requested)
	stage2Prompt := prompt.PrototypePrompt(
		sanitized.CleanText,
		prompt.FlattenRequirements(requirements.Requirements),
		prompt.FlattenKeywords(requirements.Keywords),
		templates,
	)
	stage2, err := g.llmClient.Invoke(ctx, stage2Prompt, g.prototypeModel)
	if err != nil {
		return fail(StateStage2Requested, g.cause(ctx, err))
	}
	outcome := parsePrototype(stage2.Text)
	if outcome.Kind == model.PrototypeRawFallback {
		log.Warnw("[Generator] 第二阶段响应不是合法的原型 JSON，回退为原始文本",
			"outcome", outcome.Kind.String(), "error", outcome.ParseErr)
	}
	emit(StateStage2Parsed)

	gen := &Generation{
		Response: model.ChatResponse{
			Response: ResponsePrefix + outcome.DisplayText(),
			Time:     g.now(),
		},
		Sanitized:    *sanitized,
		Requirements: *requirements,
		Templates:    len(templates),
		Outcome:      outcome,
	}
	emit(StateCompleted)
	log.Infow("[Generator] 生成完成", "keywords", len(sanitized.Keywords), "requirements",
		len(requirements.Requirements), "templates", len(templates), "outcome", outcome.Kind.String())
	return gen, nil
}

// cause 在请求被取消时返回 ctx 的错误，否则返回 LLM 错误本身。
func (g *generator) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
