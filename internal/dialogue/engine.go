package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/llm"
)

// Transport is the messaging-side surface a turn drives. Every call is
// blocking from the engine's point of view and must honor ctx.
type Transport interface {
	MarkRead(ctx context.Context, peerID, maxMessageID int64) error
	ShowTyping(ctx context.Context, peerID int64, d time.Duration) error
	Send(ctx context.Context, peerID int64, text string) (int64, error)
}

// Saver persists a finished turn. Implementations are expected to fail
// with a version conflict when the dialogue changed underneath.
type Saver interface {
	SaveDialogue(ctx context.Context, d *models.Dialogue) error
}

// Outcome tells the worker what the turn did to the dialogue.
type Outcome string

const (
	OutcomeContinue    Outcome = "continue"
	OutcomeGoalReached Outcome = "goal_reached"
	OutcomeNegative    Outcome = "negative_finish"
	OutcomeHandoff     Outcome = "handoff"
)

type EngineOptions struct {
	Transport Transport
	LLM       llm.Client
	Store     Saver
	// Model and Parameters are passed through to the reply generator.
	Model      string
	Parameters map[string]any
	Pacing     *Pacing
	Logger     *slog.Logger
	Now        func() time.Time
}

// Engine turns one batch of inbound messages into a timed sequence of
// read, typing and send actions, then persists the updated dialogue.
type Engine struct {
	transport Transport
	llm       llm.Client
	store     Saver
	model     string
	params    map[string]any
	pacing    *Pacing
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	pacing := opts.Pacing
	if pacing == nil {
		pacing = NewPacing(PacingOptions{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		transport: opts.Transport,
		llm:       opts.LLM,
		store:     opts.Store,
		model:     opts.Model,
		params:    opts.Parameters,
		pacing:    pacing,
		logger:    logger,
		now:       now,
	}, nil
}

// RunTurn drives one full dialogue turn for a batch of inbound messages:
// read receipt, reading pause, reply generation, paced delivery of each
// segment, control-token effects, and the optimistic save at the end.
// The dialogue is mutated in memory; on error nothing is persisted and
// the caller should refetch before retrying.
func (e *Engine) RunTurn(ctx context.Context, dlg *models.Dialogue, systemPrompt string, links []string, batch Batch) (Outcome, error) {
	now := e.now()
	for i, text := range batch.Texts {
		var peerMsgID int64
		if i < len(batch.MessageIDs) {
			peerMsgID = batch.MessageIDs[i]
		}
		msg := dlg.AddMessage(models.RoleUser, text, peerMsgID, false, 0, now)
		msg.Read = true
	}
	if len(batch.Texts) > 0 {
		switch dlg.Status {
		case models.DialoguePending, models.DialogueInitiated:
			dlg.MarkActive()
		}
	}

	if maxID := batch.MaxMessageID(); maxID > 0 {
		if err := e.transport.MarkRead(ctx, dlg.PeerID, maxID); err != nil {
			return OutcomeContinue, fmt.Errorf("mark read: %w", err)
		}
	}
	if len(batch.Texts) > 0 {
		if err := sleepContext(ctx, e.pacing.ReadingDelay(len(batch.Combined()))); err != nil {
			return OutcomeContinue, err
		}
	}

	res, err := e.llm.Chat(ctx, llm.Request{
		Model:      e.model,
		Messages:   buildMessages(systemPrompt, dlg),
		Parameters: e.params,
	})
	if err != nil {
		return OutcomeContinue, fmt.Errorf("generate reply: %w", err)
	}

	reply := ParseReply(res.Text)
	outcome, sent, err := e.deliver(ctx, dlg, reply, links, res.Usage.TotalTokens, true)
	if err != nil {
		return outcome, err
	}
	if err := e.store.SaveDialogue(ctx, dlg); err != nil {
		return outcome, err
	}
	e.logger.Info("dialogue_turn_done",
		"dialogue_id", dlg.ID.String(),
		"peer_id", dlg.PeerID,
		"inbound", len(batch.Texts),
		"sent", sent,
		"outcome", string(outcome),
	)
	return outcome, nil
}

// SendScripted delivers a pre-written message (an opener or a scripted
// follow-up) through the same pacing and persistence as a generated
// reply. The text may carry the segment separator and control tokens.
func (e *Engine) SendScripted(ctx context.Context, dlg *models.Dialogue, text string, links []string) (Outcome, error) {
	outcome, sent, err := e.deliver(ctx, dlg, ParseReply(text), links, 0, false)
	if err != nil {
		return outcome, err
	}
	if err := e.store.SaveDialogue(ctx, dlg); err != nil {
		return outcome, err
	}
	e.logger.Info("dialogue_scripted_sent",
		"dialogue_id", dlg.ID.String(),
		"peer_id", dlg.PeerID,
		"sent", sent,
		"outcome", string(outcome),
	)
	return outcome, nil
}

// deliver sends the planned segments in order with typing pauses between
// them, appends the outgoing history entries, and applies control-token
// effects. generated marks the text as model output as opposed to a
// scripted opener or the campaign links. Returns how many messages went
// out.
func (e *Engine) deliver(ctx context.Context, dlg *models.Dialogue, reply Reply, links []string, tokensUsed int, generated bool) (Outcome, int, error) {
	plan := planTurn(reply, links)
	outcome := OutcomeContinue

	for i, text := range plan.outgoing {
		if err := e.transport.ShowTyping(ctx, dlg.PeerID, e.pacing.TypingDelay(len(text))); err != nil {
			return outcome, i, fmt.Errorf("show typing: %w", err)
		}
		peerMsgID, err := e.transport.Send(ctx, dlg.PeerID, text)
		if err != nil {
			return outcome, i, fmt.Errorf("send segment: %w", err)
		}
		gen := generated && i != plan.linksIndex
		tokens := 0
		if gen && tokensUsed > 0 {
			tokens, tokensUsed = tokensUsed, 0
		}
		dlg.AddMessage(models.RoleAccount, text, peerMsgID, gen, tokens, e.now())
		if i < len(plan.outgoing)-1 {
			if err := sleepContext(ctx, e.pacing.MessagePause()); err != nil {
				return outcome, i + 1, err
			}
		}
	}

	for _, cmd := range plan.effects {
		switch cmd {
		case CommandSendLinks:
			dlg.MarkGoalReached()
			outcome = OutcomeGoalReached
		case CommandCreativeSent:
			dlg.CreativeSent = true
		case CommandNegativeFinish:
			dlg.MarkFailed("negative_finish")
			outcome = OutcomeNegative
		case CommandHandoff:
			dlg.MarkPaused()
			outcome = OutcomeHandoff
		}
	}
	if outcome == OutcomeContinue && len(plan.outgoing) > 0 && dlg.Status == models.DialoguePending {
		dlg.MarkInitiated()
	}
	return outcome, len(plan.outgoing), nil
}

type turnPlan struct {
	outgoing   []string
	linksIndex int
	// effects holds each recognized command once, in order of first
	// occurrence across the segments that were processed.
	effects []Command
}

// planTurn flattens a parsed reply into the ordered send plan. A terminal
// command (negative-finish, handoff) stops segment processing after the
// segment that carries it; repeated commands beyond the first occurrence
// are ignored. When send-links applies, the campaign links become one
// extra trailing message.
func planTurn(reply Reply, links []string) turnPlan {
	plan := turnPlan{linksIndex: -1}
	applied := make(map[Command]bool)
	stop := false
	for _, seg := range reply.Segments {
		if seg.Text != "" {
			plan.outgoing = append(plan.outgoing, seg.Text)
		}
		for _, cmd := range seg.Commands {
			if applied[cmd] {
				continue
			}
			applied[cmd] = true
			plan.effects = append(plan.effects, cmd)
			if cmd == CommandNegativeFinish || cmd == CommandHandoff {
				stop = true
			}
		}
		if stop {
			break
		}
	}
	if applied[CommandSendLinks] && len(links) > 0 {
		plan.linksIndex = len(plan.outgoing)
		plan.outgoing = append(plan.outgoing, strings.Join(links, "\n"))
	}
	return plan
}

func buildMessages(systemPrompt string, dlg *models.Dialogue) []llm.Message {
	msgs := make([]llm.Message, 0, len(dlg.Messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, llm.System(systemPrompt))
	}
	for _, m := range dlg.Messages {
		if m.Role == models.RoleAccount {
			msgs = append(msgs, llm.Assistant(m.Content))
			continue
		}
		msgs = append(msgs, llm.User(m.Content))
	}
	return msgs
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
