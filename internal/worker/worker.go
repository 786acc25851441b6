package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/dialogue"
	"github.com/knapabuse2-cmd/outreach/internal/gateway"
	"github.com/knapabuse2-cmd/outreach/internal/outputfmt"
	"github.com/knapabuse2-cmd/outreach/internal/scenario"
)

const (
	defaultClaimInterval    = 8 * time.Second
	defaultClaimIntervalMax = 15 * time.Second
	defaultFollowUpDelay    = 10 * time.Minute
	defaultErrorBackoff     = 30 * time.Second
	defaultTeardownTimeout  = 5 * time.Second

	cooldownThreshold  = 5 * time.Minute
	followUpBatchLimit = 3
	streamRetryLimit   = 5
)

// Store is the persistence surface one worker needs. Every call gets a
// freshly scoped session from the underlying pool; nothing is held
// across turns.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	SaveAccountActivity(ctx context.Context, a *models.Account) error
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus, note string) error

	ClaimNext(ctx context.Context, accountID uuid.UUID) (*models.Target, error)
	GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error)
	SaveTarget(ctx context.Context, t *models.Target) error

	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	UpdateCampaignStats(ctx context.Context, id uuid.UUID, delta models.CampaignStatsDelta) error

	GetDialogueByPeer(ctx context.Context, accountID uuid.UUID, peerID int64) (*models.Dialogue, error)
	ListDialoguesDue(ctx context.Context, accountID uuid.UUID, now time.Time, limit int) ([]models.Dialogue, error)
	CreateDialogue(ctx context.Context, d *models.Dialogue) error
	SaveDialogue(ctx context.Context, d *models.Dialogue) error
}

// Converser drives one dialogue turn. *dialogue.Engine implements it.
type Converser interface {
	RunTurn(ctx context.Context, dlg *models.Dialogue, systemPrompt string, links []string, batch dialogue.Batch) (dialogue.Outcome, error)
	SendScripted(ctx context.Context, dlg *models.Dialogue, text string, links []string) (dialogue.Outcome, error)
}

// Stream yields inbound platform updates until closed.
type Stream interface {
	Updates() <-chan gateway.Update
	Close() error
}

type Options struct {
	Account *models.Account
	Store   Store
	Engine  Converser
	// NewEngine, when set, builds a dedicated converser for scenarios
	// that override the generation model or parameters. Campaigns whose
	// scenario sets neither keep the shared Engine.
	NewEngine func(sc *scenario.Scenario) (Converser, error)
	// OpenStream connects the account's update stream.
	OpenStream func(ctx context.Context) (Stream, error)
	// Resolve maps a username-only target to its peer id before first
	// contact. Optional; without it such targets are marked failed.
	Resolve func(ctx context.Context, username string) (int64, error)
	// LoadScenario resolves a campaign's scenario file. Defaults to
	// scenario.Load.
	LoadScenario func(path string) (*scenario.Scenario, error)
	Logger       *slog.Logger
	Now          func() time.Time

	// ClaimInterval..ClaimIntervalMax is the jittered idle wait between
	// claim attempts.
	ClaimInterval    time.Duration
	ClaimIntervalMax time.Duration
	// FollowUpDelay is how long an unanswered opener waits before the
	// scripted second message.
	FollowUpDelay time.Duration
	// ErrorBackoff is the pause after a transient failure.
	ErrorBackoff time.Duration

	BatchWait    time.Duration
	BatchMaxWait time.Duration
}

// Worker is the per-account control loop: claim a target, open the
// conversation, answer batched inbound messages, and keep account
// status and campaign counters current. One goroutine owns all state;
// inbound updates reach it only through the batcher and the turn
// channel.
type Worker struct {
	accountID uuid.UUID
	account   *models.Account

	store        Store
	engine       Converser
	newEngine    func(sc *scenario.Scenario) (Converser, error)
	openStream   func(ctx context.Context) (Stream, error)
	resolve      func(ctx context.Context, username string) (int64, error)
	loadScenario func(path string) (*scenario.Scenario, error)
	logger       *slog.Logger
	now          func() time.Time

	claimInterval    time.Duration
	claimIntervalMax time.Duration
	followUpDelay    time.Duration
	errorBackoff     time.Duration

	batcher    *dialogue.Batcher
	turns      chan turnJob
	streamDown chan struct{}

	// campaign id -> cached rows, main loop only.
	scenarios map[uuid.UUID]*scenario.Scenario
	campaigns map[uuid.UUID]*models.Campaign
	engines   map[uuid.UUID]Converser
}

type turnJob struct {
	peerID int64
	batch  dialogue.Batch
}

func New(opts Options) (*Worker, error) {
	if opts.Account == nil {
		return nil, fmt.Errorf("account is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.OpenStream == nil {
		return nil, fmt.Errorf("open stream func is required")
	}
	loadScenario := opts.LoadScenario
	if loadScenario == nil {
		loadScenario = scenario.Load
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	claimInterval := opts.ClaimInterval
	if claimInterval <= 0 {
		claimInterval = defaultClaimInterval
	}
	claimIntervalMax := opts.ClaimIntervalMax
	if claimIntervalMax <= claimInterval {
		claimIntervalMax = claimInterval + defaultClaimIntervalMax - defaultClaimInterval
	}
	followUpDelay := opts.FollowUpDelay
	if followUpDelay <= 0 {
		followUpDelay = defaultFollowUpDelay
	}
	errorBackoff := opts.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = defaultErrorBackoff
	}

	w := &Worker{
		accountID:        opts.Account.ID,
		account:          opts.Account,
		store:            opts.Store,
		engine:           opts.Engine,
		newEngine:        opts.NewEngine,
		openStream:       opts.OpenStream,
		resolve:          opts.Resolve,
		loadScenario:     loadScenario,
		logger:           logger.With("account_id", opts.Account.ID.String()),
		now:              now,
		claimInterval:    claimInterval,
		claimIntervalMax: claimIntervalMax,
		followUpDelay:    followUpDelay,
		errorBackoff:     errorBackoff,
		turns:            make(chan turnJob, 16),
		streamDown:       make(chan struct{}, 1),
		scenarios:        make(map[uuid.UUID]*scenario.Scenario),
		campaigns:        make(map[uuid.UUID]*models.Campaign),
		engines:          make(map[uuid.UUID]Converser),
	}
	w.batcher = dialogue.NewBatcher(dialogue.BatcherOptions{
		Wait:    opts.BatchWait,
		MaxWait: opts.BatchMaxWait,
		Logger:  w.logger,
		Now:     now,
	})
	return w, nil
}

// AccountID identifies the account this worker drives.
func (w *Worker) AccountID() uuid.UUID { return w.accountID }

// Run is the worker loop. It returns when ctx is cancelled or the
// account hit a terminal failure; cleanup (pending batches, stream,
// status flush) runs on every exit path.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker_started")
	defer w.teardown()

	if err := w.store.UpdateAccountStatus(ctx, w.accountID, models.AccountActive, ""); err != nil {
		return fmt.Errorf("activate account: %w", err)
	}

	stream, err := w.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { stream.Close() }()

	go w.readStream(ctx, stream)

	idle := time.NewTimer(0)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-w.turns:
			if err := w.handleTurn(ctx, job); err != nil {
				return err
			}
		case <-w.streamDown:
			stream.Close()
			next, err := w.reconnect(ctx)
			if err != nil {
				return err
			}
			stream = next
			go w.readStream(ctx, stream)
		case <-idle.C:
			if err := w.idleCycle(ctx); err != nil {
				return err
			}
			idle.Reset(w.jitteredIdle())
		}
	}
}

// connect opens the update stream. Auth and fatal failures end the run
// the same way as mid-run ones; transient failures fall through to the
// bounded reconnect loop.
func (w *Worker) connect(ctx context.Context) (Stream, error) {
	stream, err := w.openStream(ctx)
	if err == nil {
		return stream, nil
	}
	kind, _ := classifyFailure(err)
	if kind == failAuth || kind == failFatal || kind == failCanceled {
		return nil, w.fail(ctx, "stream_open_failed", err)
	}
	w.logger.Warn("stream_open_failed", "error", err.Error())
	if err := sleepContext(ctx, w.errorBackoff); err != nil {
		return nil, err
	}
	return w.reconnect(ctx)
}

// reconnect retries the stream with bounded backoff after it dropped.
func (w *Worker) reconnect(ctx context.Context) (Stream, error) {
	for attempt := 1; ; attempt++ {
		w.logger.Warn("stream_reconnecting", "attempt", attempt)
		stream, err := w.openStream(ctx)
		if err == nil {
			w.logger.Info("stream_reconnected", "attempt", attempt)
			return stream, nil
		}
		kind, _ := classifyFailure(err)
		if kind == failAuth || kind == failFatal || kind == failCanceled {
			return nil, w.fail(ctx, "stream_open_failed", err)
		}
		if attempt >= streamRetryLimit {
			return nil, fmt.Errorf("stream reconnect: %w", err)
		}
		if err := sleepContext(ctx, w.errorBackoff); err != nil {
			return nil, err
		}
	}
}

// readStream forwards inbound updates into the batcher until the stream
// ends, then signals the main loop.
func (w *Worker) readStream(ctx context.Context, stream Stream) {
	defer func() {
		select {
		case w.streamDown <- struct{}{}:
		default:
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-stream.Updates():
			if !ok {
				return
			}
			if upd.PeerID == 0 {
				continue
			}
			peerID := upd.PeerID
			w.batcher.Add(peerID, upd.Text, upd.MessageID, func(b dialogue.Batch) {
				select {
				case w.turns <- turnJob{peerID: peerID, batch: b}:
				case <-ctx.Done():
				}
			})
		}
	}
}

// idleCycle refreshes the account snapshot, delivers due follow-ups and
// claims the next pending target when budget allows.
func (w *Worker) idleCycle(ctx context.Context) error {
	now := w.now()
	if fresh, err := w.store.GetAccount(ctx, w.accountID); err == nil {
		w.account = fresh
	} else if ctx.Err() != nil {
		return ctx.Err()
	} else {
		w.logger.Warn("account_refresh_failed", "error", err.Error())
		return nil
	}

	if w.account.Terminal() {
		w.logger.Warn("account_terminal", "status", string(w.account.Status))
		return fmt.Errorf("account %s is %s", w.accountID, w.account.Status)
	}
	if !w.account.Workable(now) {
		return nil
	}
	if w.account.DailyBudgetLeft(now) <= 0 {
		w.logger.Debug("daily_budget_spent")
		return nil
	}

	if err := w.sendFollowUps(ctx); err != nil {
		return err
	}
	if w.account.DailyBudgetLeft(w.now()) <= 0 {
		return nil
	}
	return w.claimNext(ctx)
}

func (w *Worker) jitteredIdle() time.Duration {
	return w.claimInterval + rand.N(w.claimIntervalMax-w.claimInterval)
}

// fail classifies err, records the account consequence, and decides
// whether the loop stops (returned error non-nil) or continues (nil).
func (w *Worker) fail(ctx context.Context, event string, err error) error {
	kind, wait := classifyFailure(err)
	switch kind {
	case failCanceled:
		return err
	case failAuth:
		w.logger.Warn(event, "error", err.Error(), "kind", "auth_required")
		w.account.MarkError("auth required")
		w.updateStatus(models.AccountError, "auth required")
		return fmt.Errorf("auth required: %w", err)
	case failFatal:
		w.logger.Warn(event, "error", err.Error(), "kind", "fatal")
		note := outputfmt.FormatErrorForDisplay(err)
		w.account.MarkBanned(note)
		w.updateStatus(models.AccountBanned, note)
		return fmt.Errorf("account invalid: %w", err)
	case failFloodWait:
		w.logger.Warn(event, "error", err.Error(), "kind", "flood_wait", "wait", wait.String())
		if wait > cooldownThreshold {
			until := w.now().Add(wait)
			w.account.MarkCooldown(until, "flood wait")
			w.updateStatus(models.AccountCooldown, "flood wait")
			return nil
		}
		return sleepContext(ctx, wait)
	default:
		w.logger.Warn(event, "error", err.Error(), "kind", "transient")
		return sleepContext(ctx, w.errorBackoff)
	}
}

// updateStatus flushes a status change on a fresh context so it lands
// even when the loop context is already cancelled.
func (w *Worker) updateStatus(status models.AccountStatus, note string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTeardownTimeout)
	defer cancel()
	if err := w.store.UpdateAccountStatus(ctx, w.accountID, status, note); err != nil {
		w.logger.Error("account_status_update_failed", "status", string(status), "error", err.Error())
	}
}

// teardown runs on every exit path: pending batches are discarded and a
// still-healthy account is parked as paused so a later start resumes it.
func (w *Worker) teardown() {
	w.batcher.CancelAll()
	if !w.account.Terminal() && w.account.Status != models.AccountCooldown {
		w.updateStatus(models.AccountPaused, "worker stopped")
	}
	w.logger.Info("worker_stopped")
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
