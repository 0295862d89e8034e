package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"vgpt/internal/llm"
)

var ErrNoModel = errors.New("turn processor has no model or tokenizer")

// Outcome чем закончился ход.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeFallback  Outcome = "fallback"
	OutcomeFarewell  Outcome = "farewell"
	OutcomeError     Outcome = "error"
)

// TurnRecord описание завершённого хода для журнала.
type TurnRecord struct {
	SessionID string
	UserText  string
	Reply     string
	Outcome   Outcome
	Duration  time.Duration
	Err       error
}

// Recorder принимает записи о ходах. Ошибки записи не влияют на ответ.
type Recorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
}

// TurnProcessorConfig зависимости TurnProcessor.
type TurnProcessorConfig struct {
	Model       llm.Model
	Tokenizer   llm.Tokenizer
	Pools       *Pools
	Instruction string
	Knowledge   string
	Params      llm.GenerateParams
	Store       Store         // nil: история живёт только в пределах вызова
	Recorder    Recorder      // nil: ходы не журналируются
	Timeout     time.Duration // предел на вызов модели; 0 без ограничения
	Logger      *slog.Logger
}

// TurnProcessor обрабатывает одну реплику пользователя: распознаёт прощание,
// строит запрос, вызывает модель и подставляет заглушку вместо пустого ответа.
type TurnProcessor struct {
	model       llm.Model
	tokenizer   llm.Tokenizer
	pools       *Pools
	instruction string
	knowledge   string
	params      llm.GenerateParams
	store       Store
	recorder    Recorder
	timeout     time.Duration
	logger      *slog.Logger
}

func NewTurnProcessor(cfg TurnProcessorConfig) *TurnProcessor {
	pools := cfg.Pools
	if pools == nil {
		pools = NewPools(rand.NewSource(time.Now().UnixNano()))
	}
	params := cfg.Params
	if params == (llm.GenerateParams{}) {
		params = llm.DefaultGenerateParams()
	}
	return &TurnProcessor{
		model:       cfg.Model,
		tokenizer:   cfg.Tokenizer,
		pools:       pools,
		instruction: cfg.Instruction,
		knowledge:   cfg.Knowledge,
		params:      params,
		store:       cfg.Store,
		recorder:    cfg.Recorder,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// Greeting случайное приветствие для начала разговора.
func (p *TurnProcessor) Greeting() string {
	return p.pools.Greeting()
}

// ProcessTurn обрабатывает реплику с новой историей из одного элемента.
// Ошибки модели не перехватываются и возвращаются вызывающему.
func (p *TurnProcessor) ProcessTurn(ctx context.Context, userText string) (string, error) {
	return p.ProcessTurnIn(ctx, "", userText)
}

// ProcessTurnIn то же, что ProcessTurn, но продолжает историю сессии sessionID.
// Пустой sessionID или отсутствие Store означает историю только этого вызова.
// История сохраняется только после успешного ответа модели.
func (p *TurnProcessor) ProcessTurnIn(ctx context.Context, sessionID string, userText string) (string, error) {
	start := time.Now()

	history, err := p.loadHistory(ctx, sessionID)
	if err != nil {
		return "", err
	}
	history.Append(userText)

	if IsEndOfSession(userText) {
		reply := p.pools.Farewell()
		if p.persistent(sessionID) {
			if err := p.store.Delete(ctx, sessionID); err != nil {
				p.logError("failed to close session", err, sessionID)
			}
		}
		p.record(ctx, TurnRecord{SessionID: sessionID, UserText: userText, Reply: reply, Outcome: OutcomeFarewell, Duration: time.Since(start)})
		return reply, nil
	}

	generated, err := p.generate(ctx, history.Entries())
	if err != nil {
		p.record(ctx, TurnRecord{SessionID: sessionID, UserText: userText, Outcome: OutcomeError, Duration: time.Since(start), Err: err})
		return "", err
	}

	reply, outcome := generated, OutcomeGenerated
	if strings.TrimSpace(generated) == "" {
		reply, outcome = p.pools.Fallback(), OutcomeFallback
	}

	if p.persistent(sessionID) {
		now := time.Now()
		messages := []Message{{Role: RoleUser, Content: userText, Timestamp: now}}
		// Заглушка не попадает в историю: модель её не генерировала.
		if outcome == OutcomeGenerated {
			messages = append(messages, Message{Role: RoleAssistant, Content: generated, Timestamp: now})
		}
		if err := p.store.Append(ctx, sessionID, messages...); err != nil {
			p.logError("failed to save dialog history", err, sessionID)
		}
	}

	p.record(ctx, TurnRecord{SessionID: sessionID, UserText: userText, Reply: reply, Outcome: outcome, Duration: time.Since(start)})
	return reply, nil
}

// EndSession удаляет историю сессии.
func (p *TurnProcessor) EndSession(ctx context.Context, sessionID string) error {
	if !p.persistent(sessionID) {
		return nil
	}
	return p.store.Delete(ctx, sessionID)
}

func (p *TurnProcessor) loadHistory(ctx context.Context, sessionID string) (*History, error) {
	if !p.persistent(sessionID) {
		return NewHistory(), nil
	}
	messages, _, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get dialog history: %w", err)
	}
	history := NewHistory()
	for _, msg := range messages {
		history.Append(msg.Content)
	}
	return history, nil
}

func (p *TurnProcessor) generate(ctx context.Context, history []string) (string, error) {
	if p.model == nil || p.tokenizer == nil {
		return "", ErrNoModel
	}

	query := BuildQuery(p.instruction, history, p.knowledge)
	inputIDs, err := p.tokenizer.Encode(query)
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	outputIDs, err := p.model.Generate(ctx, inputIDs, p.params)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	text, err := p.tokenizer.Decode(outputIDs)
	if err != nil {
		return "", fmt.Errorf("decode output: %w", err)
	}
	return text, nil
}

func (p *TurnProcessor) persistent(sessionID string) bool {
	return sessionID != "" && p.store != nil
}

func (p *TurnProcessor) record(ctx context.Context, rec TurnRecord) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordTurn(ctx, rec); err != nil {
		p.logError("failed to record turn", err, rec.SessionID)
	}
}

func (p *TurnProcessor) logError(msg string, err error, sessionID string) {
	if p.logger != nil {
		p.logger.Error(msg, slog.String("error", err.Error()), slog.String("session_id", sessionID))
	}
}
