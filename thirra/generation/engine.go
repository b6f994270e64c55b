package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/opestro/Thirra-ai-sub000/thirra/memory/service"
)

// routingHistory is how many recent messages the router sees.
const routingHistory = 2

// AssembledContext is everything needed to call the model for one turn.
type AssembledContext struct {
	HistoryMessages []ports.PromptMessage   `json:"history_messages"`
	ContextText     string                  `json:"context_text"`
	FactsText       string                  `json:"facts_text"`
	Routing         service.RoutingDecision `json:"routing"`
	Budget          harness.BudgetResult    `json:"budget"`
	SystemPrompt    string                  `json:"system_prompt"`
	ExpectTitle     bool                    `json:"expect_title"`
	Recall          service.Recall          `json:"-"`
}

// AssembleRequest is the long form of AssembleContext.
type AssembleRequest struct {
	ConversationID string
	Query          string
	Instruction    string
	Files          []service.EphemeralFile // indexed alongside the turns
}

// TurnInput describes one user turn handed to RunTurn.
type TurnInput struct {
	ConversationID string
	Query          string
	Instruction    string
	Files          []service.EphemeralFile
	Model          string // overrides the routed model when set
}

// TurnOutput is the outcome of RunTurn.
type TurnOutput struct {
	Context *AssembledContext
	Result  harness.TurnResult
	Savings service.CostSavings
	Facts   []service.Fact // facts recorded from the query
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Memory       *service.MemorySystem
	Store        ports.TurnStore
	Orchestrator *harness.Orchestrator // nil: RunTurn returns harness.ErrNoProvider
	Parser       *harness.OutputParser
	Budget       harness.BudgetParams
	Options      ports.Options // per-call sampling options
	BasePrompt   string
	ExpectTitle  bool // ask for a title on the first turn of a conversation
	Logger       zerolog.Logger
}

// Engine assembles context windows, runs turns and commits them.
type Engine struct {
	memory       *service.MemorySystem
	store        ports.TurnStore
	orchestrator *harness.Orchestrator
	parser       *harness.OutputParser
	guard        *harness.BudgetGuard
	budget       harness.BudgetParams
	options      ports.Options
	basePrompt   string
	expectTitle  bool
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEngine creates an engine. Memory and Store are required.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Memory == nil {
		return nil, errors.New("memory system is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("turn store is required")
	}
	if cfg.Parser == nil {
		cfg.Parser = harness.NewOutputParser(0, 0)
	}

	return &Engine{
		memory:       cfg.Memory,
		store:        cfg.Store,
		orchestrator: cfg.Orchestrator,
		parser:       cfg.Parser,
		guard:        harness.NewBudgetGuard(nil),
		budget:       cfg.Budget,
		options:      cfg.Options,
		basePrompt:   cfg.BasePrompt,
		expectTitle:  cfg.ExpectTitle,
		logger:       cfg.Logger.With().Str("component", "engine").Logger(),
		now:          time.Now,
	}, nil
}

// AssembleContext builds the history, retrieved context, facts and routing for a query.
// Store failures are returned; every other failure degrades.
func (e *Engine) AssembleContext(ctx context.Context, conversationID, query, instruction string) (*AssembledContext, error) {
	return e.Assemble(ctx, AssembleRequest{
		ConversationID: conversationID,
		Query:          query,
		Instruction:    instruction,
	})
}

// Assemble is AssembleContext with ephemeral files.
func (e *Engine) Assemble(ctx context.Context, req AssembleRequest) (*AssembledContext, error) {
	if req.ConversationID == "" {
		return nil, service.ErrEmptyConversationID
	}
	start := e.now()

	turns, err := e.memory.Turns.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load turns for %s: %w", req.ConversationID, err)
	}

	var (
		shortTerm []ports.PromptMessage
		summary   *ports.PromptMessage
		memErr    error
		recall    service.Recall
		routing   service.RoutingDecision
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		shortTerm, memErr = e.memory.ShortTerm.Get(ctx, req.ConversationID, 0)
		if memErr != nil {
			return
		}
		summary, memErr = e.memory.Summaries.Get(ctx, req.ConversationID, req.Instruction)
	})
	wg.Go(func() {
		recall = e.memory.Retriever.Recall(ctx, req.ConversationID, e.memory.Embedder(), turns, req.Files, req.Query)
	})
	wg.Go(func() {
		recent := service.LastK(service.TurnsToMessages(turns), routingHistory)
		routing = e.memory.Router.Route(ctx, req.Query, recent)
	})
	wg.Wait()

	if memErr != nil {
		return nil, fmt.Errorf("assemble memory for %s: %w", req.ConversationID, memErr)
	}

	history := make([]ports.PromptMessage, 0, len(shortTerm)+1)
	if summary != nil {
		history = append(history, *summary)
	}
	history = append(history, shortTerm...)

	out := &AssembledContext{
		ContextText: recall.ContextText,
		FactsText:   e.memory.Facts.Text(req.ConversationID),
		Routing:     routing,
		ExpectTitle: e.expectTitle && len(turns) == 0,
		Recall:      recall,
	}
	out.SystemPrompt = harness.BuildPrompt(harness.PromptSections{
		Base:            e.basePrompt,
		Context:         out.ContextText,
		Facts:           out.FactsText,
		Instruction:     req.Instruction,
		ExpectTitle:     out.ExpectTitle,
		TitleMaxChars:   e.parser.TitleMaxChars,
		SummaryMaxChars: e.parser.SummaryMaxChars,
	})

	input := []ports.PromptMessage{
		{Role: ports.RoleSystem, Content: out.SystemPrompt},
		{Role: ports.RoleUser, Content: req.Query},
	}
	out.Budget = e.guard.Apply(history, input, req.Query, e.budget)
	out.HistoryMessages = out.Budget.HistoryMessages

	if out.Budget.OverBudgetBy > 0 {
		e.memory.Metrics.RecordBudgetOverflow(out.Budget.OverBudgetBy)
		e.logger.Warn().
			Str("conversation_id", req.ConversationID).
			Int("over_by", out.Budget.OverBudgetBy).
			Int("total_chars", out.Budget.TotalChars).
			Strs("stages", out.Budget.Stages).
			Msg("prompt over budget")
	}

	e.logger.Debug().
		Str("conversation_id", req.ConversationID).
		Int("turns", len(turns)).
		Int("history", len(out.HistoryMessages)).
		Bool("summary", summary != nil).
		Int("recalled", len(recall.Results)).
		Str("model", routing.ModelID).
		Dur("took", e.now().Sub(start)).
		Msg("context assembled")

	return out, nil
}

// ParseModelOutput parses raw model output, falling back to the lenient parser when
// the block format is invalid.
func (e *Engine) ParseModelOutput(raw string, expectTitle bool) harness.ParsedOutput {
	return e.parser.ParseModelOutput(raw, expectTitle)
}

// RecordFactsFromText extracts key/value assignments from text and stores them.
func (e *Engine) RecordFactsFromText(conversationID, text string) []service.Fact {
	facts := service.ExtractAssignments(text)
	if len(facts) > 0 {
		e.memory.Facts.Upsert(conversationID, facts)
		e.logger.Debug().Str("conversation_id", conversationID).Int("facts", len(facts)).Msg("facts recorded")
	}
	return facts
}

// Facts lists the facts recorded for the conversation, oldest first.
func (e *Engine) Facts(conversationID string) []service.Fact {
	return e.memory.Facts.List(conversationID)
}

// InvalidateConversation drops the cached turns. Summary and index state are kept and
// catch up incrementally on the next assembly.
func (e *Engine) InvalidateConversation(conversationID string) {
	e.memory.Turns.Invalidate(conversationID)
}

// ForgetConversation drops every piece of per-conversation state.
func (e *Engine) ForgetConversation(conversationID string) {
	e.memory.Forget(conversationID)
}

// RunTurn records facts from the query, assembles context and streams the answer on the
// routed model. Nothing is persisted; call CommitTurn once the caller accepts the answer.
// A cut-short stream returns its partial output together with the error.
func (e *Engine) RunTurn(ctx context.Context, in TurnInput, onDelta func(harness.Delta)) (*TurnOutput, error) {
	if e.orchestrator == nil {
		return nil, harness.ErrNoProvider
	}

	out := &TurnOutput{Facts: e.RecordFactsFromText(in.ConversationID, in.Query)}

	assembled, err := e.Assemble(ctx, AssembleRequest{
		ConversationID: in.ConversationID,
		Query:          in.Query,
		Instruction:    in.Instruction,
		Files:          in.Files,
	})
	if err != nil {
		return nil, err
	}
	out.Context = assembled

	model := assembled.Routing.ModelID
	if in.Model != "" {
		model = in.Model
	}

	messages := make([]ports.PromptMessage, 0, len(assembled.HistoryMessages)+1)
	messages = append(messages, assembled.HistoryMessages...)
	messages = append(messages, ports.PromptMessage{Role: ports.RoleUser, Content: in.Query})

	result, err := e.orchestrator.Run(ctx, harness.TurnRequest{
		ConversationID: in.ConversationID,
		Model:          model,
		System:         assembled.SystemPrompt,
		Messages:       messages,
		Options:        e.options,
		ExpectTitle:    assembled.ExpectTitle,
	}, onDelta)
	out.Result = result
	if err != nil && !result.Partial {
		return nil, fmt.Errorf("run turn on %s: %w", model, err)
	}

	out.Savings = e.recordSavings(in.ConversationID, assembled, result)
	return out, err
}

// CommitTurn appends the finished exchange to the turn store and invalidates the cache.
func (e *Engine) CommitTurn(ctx context.Context, conversationID, userText, assistantText string) error {
	if conversationID == "" {
		return service.ErrEmptyConversationID
	}
	if strings.TrimSpace(userText) == "" && strings.TrimSpace(assistantText) == "" {
		return nil
	}

	err := e.store.AppendTurn(ctx, ports.ConversationTurn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserText:       userText,
		AssistantText:  assistantText,
		CreatedAt:      e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("commit turn for %s: %w", conversationID, err)
	}
	e.InvalidateConversation(conversationID)
	return nil
}

func (e *Engine) recordSavings(conversationID string, assembled *AssembledContext, result harness.TurnResult) service.CostSavings {
	tokens := assembled.Budget.TokenEstimate + harness.EstimateTokens(result.Text)
	if result.Usage != nil && result.Usage.TotalTokens > 0 {
		tokens = result.Usage.TotalTokens
	}

	savings := e.memory.Router.EstimateCostSavings(assembled.Routing.Category, tokens)
	e.memory.Metrics.RecordCostSavings(savings.Savings)
	e.logger.Info().
		Str("conversation_id", conversationID).
		Str("category", string(savings.Category)).
		Str("model", result.Model).
		Int("tokens", tokens).
		Float64("cost", savings.ModelCost).
		Float64("savings", savings.Savings).
		Float64("savings_pct", savings.SavingsPercent).
		Msg("turn cost")
	return savings
}
