package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/llm"
)

type fakeTransport struct {
	mu      sync.Mutex
	actions []string
	sendErr error
	lastID  int64
}

func (f *fakeTransport) record(a string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
}

func (f *fakeTransport) MarkRead(ctx context.Context, peerID, maxMessageID int64) error {
	f.record(fmt.Sprintf("read:%d", maxMessageID))
	return nil
}

func (f *fakeTransport) ShowTyping(ctx context.Context, peerID int64, d time.Duration) error {
	f.record("typing")
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, peerID int64, text string) (int64, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.lastID++
	f.record("send:" + text)
	return f.lastID, nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.actions {
		if s, ok := strings.CutPrefix(a, "send:"); ok {
			out = append(out, s)
		}
	}
	return out
}

type fakeLLM struct {
	text string
	err  error
	got  llm.Request
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	f.got = req
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Text: f.text, Usage: llm.Usage{TotalTokens: 42}}, nil
}

type fakeSaver struct {
	saved int
	err   error
}

func (f *fakeSaver) SaveDialogue(ctx context.Context, d *models.Dialogue) error {
	if f.err != nil {
		return f.err
	}
	f.saved++
	d.Version++
	return nil
}

func fastPacing() *Pacing {
	ms := time.Millisecond
	return NewPacing(PacingOptions{
		MinReading: ms, MaxReading: 2 * ms,
		MinTyping: ms, MaxTyping: 2 * ms,
		MinPause: ms, MaxPause: 2 * ms,
		Rand: func() float64 { return 0.5 },
	})
}

func newTestEngine(t *testing.T, tr *fakeTransport, gen *fakeLLM, sv *fakeSaver) *Engine {
	t.Helper()
	e, err := NewEngine(EngineOptions{
		Transport: tr,
		LLM:       gen,
		Store:     sv,
		Model:     "gpt-4o-mini",
		Pacing:    fastPacing(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func testDialogue() *models.Dialogue {
	dlg := models.NewDialogue(uuid.New(), uuid.New(), uuid.New(), 777)
	dlg.MarkInitiated()
	return dlg
}

func TestRunTurnSendsSegmentsInOrder(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "окей|||скинь потом"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	batch := Batch{Texts: []string{"го"}, MessageIDs: []int64{12}}
	outcome, err := e.RunTurn(context.Background(), dlg, "будь кратким", nil, batch)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome != OutcomeContinue {
		t.Errorf("outcome = %q, want continue", outcome)
	}

	want := []string{"read:12", "typing", "send:окей", "typing", "send:скинь потом"}
	tr.mu.Lock()
	got := append([]string(nil), tr.actions...)
	tr.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("action[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if n := dlg.CountByRole(models.RoleAccount); n != 2 {
		t.Errorf("account history entries = %d, want 2", n)
	}
	if n := dlg.CountByRole(models.RoleUser); n != 1 {
		t.Errorf("user history entries = %d, want 1", n)
	}
	if sv.saved != 1 {
		t.Errorf("saves = %d, want 1", sv.saved)
	}
	if dlg.Status != models.DialogueActive {
		t.Errorf("status = %q, want active", dlg.Status)
	}

	// The generator saw the system prompt first, then the mapped history.
	if len(gen.got.Messages) == 0 || gen.got.Messages[0].Role != "system" {
		t.Fatalf("first generator message = %+v, want system prompt", gen.got.Messages)
	}
	last := gen.got.Messages[len(gen.got.Messages)-1]
	if last.Role != "user" || last.Content != "го" {
		t.Errorf("last generator message = %+v, want the inbound text", last)
	}
}

func TestRunTurnMarksInboundRead(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "ок"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	batch := Batch{Texts: []string{"раз", "два"}, MessageIDs: []int64{31, 30}}
	if _, err := e.RunTurn(context.Background(), dlg, "", nil, batch); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	tr.mu.Lock()
	first := tr.actions[0]
	tr.mu.Unlock()
	if first != "read:31" {
		t.Errorf("first action = %q, want read:31", first)
	}
	for _, m := range dlg.Messages {
		if m.Role == models.RoleUser && !m.Read {
			t.Errorf("inbound message %q not marked read", m.Content)
		}
	}
}

func TestRunTurnSendLinksReachesGoal(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "вот глянь [SEND_LINKS]"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	links := []string{"https://t.me/alpha_signals", "https://t.me/alpha_chat"}
	batch := Batch{Texts: []string{"давай"}, MessageIDs: []int64{5}}
	outcome, err := e.RunTurn(context.Background(), dlg, "", links, batch)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome != OutcomeGoalReached {
		t.Errorf("outcome = %q, want goal_reached", outcome)
	}
	if dlg.Status != models.DialogueGoalReached || !dlg.GoalMessageSent {
		t.Errorf("status = %q goal_sent = %v", dlg.Status, dlg.GoalMessageSent)
	}

	sent := tr.sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %v, want text plus one links message", sent)
	}
	wantLinks := strings.Join(links, "\n")
	if sent[1] != wantLinks {
		t.Errorf("links message = %q, want %q", sent[1], wantLinks)
	}
	linkCount := 0
	for _, s := range sent {
		if strings.Contains(s, "t.me/alpha_signals") {
			linkCount++
		}
	}
	if linkCount != 1 {
		t.Errorf("links sent %d times, want exactly once", linkCount)
	}
	for _, m := range dlg.Messages {
		if m.Content == wantLinks && m.AIGenerated {
			t.Error("links message flagged as generated")
		}
	}
}

func TestRunTurnRepeatedTokenAppliesOnce(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "[SEND_LINKS] вот|||и еще [SEND_LINKS] раз"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	links := []string{"https://t.me/alpha_signals"}
	if _, err := e.RunTurn(context.Background(), dlg, "", links, Batch{Texts: []string{"?"}, MessageIDs: []int64{1}}); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	sent := tr.sent()
	if len(sent) != 3 {
		t.Fatalf("sent = %v, want two texts plus one links message", sent)
	}
	if sent[2] != "https://t.me/alpha_signals" {
		t.Errorf("trailing message = %q, want the links", sent[2])
	}
}

func TestRunTurnNegativeFinishShortCircuits(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "ну ладно, удачи [NEGATIVE_FINISH]|||это уже не уйдет"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	outcome, err := e.RunTurn(context.Background(), dlg, "", nil, Batch{Texts: []string{"не интересно"}, MessageIDs: []int64{9}})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome != OutcomeNegative {
		t.Errorf("outcome = %q, want negative_finish", outcome)
	}
	sent := tr.sent()
	if len(sent) != 1 || sent[0] != "ну ладно, удачи" {
		t.Errorf("sent = %v, want only the segment carrying the token", sent)
	}
	if dlg.Status != models.DialogueFailed || dlg.FailReason != "negative_finish" {
		t.Errorf("status = %q reason = %q", dlg.Status, dlg.FailReason)
	}
	if sv.saved != 1 {
		t.Errorf("saves = %d, want 1 (short-circuit still persists)", sv.saved)
	}
}

func TestRunTurnHandoffPausesDialogue(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "сек, уточню [HANDOFF]"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	outcome, err := e.RunTurn(context.Background(), dlg, "", nil, Batch{Texts: []string{"а гарантии?"}, MessageIDs: []int64{2}})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome != OutcomeHandoff {
		t.Errorf("outcome = %q, want handoff", outcome)
	}
	if dlg.Status != models.DialoguePaused || !dlg.NeedsReview {
		t.Errorf("status = %q needs_review = %v", dlg.Status, dlg.NeedsReview)
	}
}

func TestRunTurnCreativeSentSetsFlagOnly(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "закинул тебе пример [CREATIVE_SENT]"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	outcome, err := e.RunTurn(context.Background(), dlg, "", nil, Batch{Texts: []string{"покажи"}, MessageIDs: []int64{3}})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if outcome != OutcomeContinue {
		t.Errorf("outcome = %q, want continue", outcome)
	}
	if !dlg.CreativeSent {
		t.Error("creative_sent flag not set")
	}
	if dlg.Status != models.DialogueActive {
		t.Errorf("status = %q, want active", dlg.Status)
	}
}

func TestRunTurnGeneratorErrorSkipsSave(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{err: errors.New("upstream 500")}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := testDialogue()
	_, err := e.RunTurn(context.Background(), dlg, "", nil, Batch{Texts: []string{"го"}, MessageIDs: []int64{1}})
	if err == nil {
		t.Fatal("expected error from generator")
	}
	if len(tr.sent()) != 0 {
		t.Errorf("sent = %v, want nothing", tr.sent())
	}
	if sv.saved != 0 {
		t.Errorf("saves = %d, want 0", sv.saved)
	}
}

func TestRunTurnObservesCancellation(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{text: "не должно уйти"}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dlg := testDialogue()
	_, err := e.RunTurn(ctx, dlg, "", nil, Batch{Texts: []string{"го"}, MessageIDs: []int64{1}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tr.sent()) != 0 {
		t.Errorf("sent = %v, want nothing after cancel", tr.sent())
	}
	if sv.saved != 0 {
		t.Errorf("saves = %d, want 0", sv.saved)
	}
}

func TestSendScriptedDeliversOpener(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeLLM{}
	sv := &fakeSaver{}
	e := newTestEngine(t, tr, gen, sv)

	dlg := models.NewDialogue(uuid.New(), uuid.New(), uuid.New(), 42)
	outcome, err := e.SendScripted(context.Background(), dlg, "привет)|||видел твой пост про мемкоины", nil)
	if err != nil {
		t.Fatalf("SendScripted: %v", err)
	}
	if outcome != OutcomeContinue {
		t.Errorf("outcome = %q, want continue", outcome)
	}
	sent := tr.sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %v, want 2 messages", sent)
	}
	if dlg.Status != models.DialogueInitiated {
		t.Errorf("status = %q, want initiated", dlg.Status)
	}
	if sv.saved != 1 {
		t.Errorf("saves = %d, want 1", sv.saved)
	}
	for _, m := range dlg.Messages {
		if m.AIGenerated {
			t.Errorf("scripted message %q flagged as generated", m.Content)
		}
	}
}

func TestPlanTurnOrdersEffects(t *testing.T) {
	reply := ParseReply("[CREATIVE_SENT] держи|||[SEND_LINKS] и вот каналы")
	plan := planTurn(reply, []string{"https://t.me/x"})
	wantEffects := []Command{CommandCreativeSent, CommandSendLinks}
	if len(plan.effects) != len(wantEffects) {
		t.Fatalf("effects = %v, want %v", plan.effects, wantEffects)
	}
	for i := range wantEffects {
		if plan.effects[i] != wantEffects[i] {
			t.Fatalf("effects = %v, want %v", plan.effects, wantEffects)
		}
	}
	if plan.linksIndex != 2 {
		t.Errorf("linksIndex = %d, want 2", plan.linksIndex)
	}
	if len(plan.outgoing) != 3 {
		t.Errorf("outgoing = %v, want 2 texts plus links", plan.outgoing)
	}
}

func TestPlanTurnTerminalStopsSegments(t *testing.T) {
	reply := ParseReply("первое [HANDOFF]|||второе [SEND_LINKS]")
	plan := planTurn(reply, []string{"https://t.me/x"})
	if len(plan.outgoing) != 1 {
		t.Fatalf("outgoing = %v, want only the first segment", plan.outgoing)
	}
	if len(plan.effects) != 1 || plan.effects[0] != CommandHandoff {
		t.Errorf("effects = %v, want only handoff", plan.effects)
	}
	if plan.linksIndex != -1 {
		t.Errorf("linksIndex = %d, want -1 (send-links never processed)", plan.linksIndex)
	}
}
