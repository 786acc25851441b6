package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/knapabuse2-cmd/outreach/db/models"
	"github.com/knapabuse2-cmd/outreach/internal/dialogue"
	"github.com/knapabuse2-cmd/outreach/internal/gateway"
	"github.com/knapabuse2-cmd/outreach/internal/scenario"
	"github.com/knapabuse2-cmd/outreach/internal/store"
)

// claimNext picks one pending target and opens the conversation with a
// scripted opener. An empty pool is not an error; the idle timer brings
// the worker back.
func (w *Worker) claimNext(ctx context.Context) error {
	target, err := w.store.ClaimNext(ctx, w.accountID)
	if errors.Is(err, store.ErrNoPendingTargets) {
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("claim_failed", "error", err.Error())
		return nil
	}
	return w.openDialogue(ctx, target)
}

func (w *Worker) openDialogue(ctx context.Context, target *models.Target) error {
	if target.PeerID == 0 {
		if err := w.resolveTarget(ctx, target); err != nil {
			return err
		}
		if target.PeerID == 0 {
			return nil
		}
	}

	log := w.logger.With("target_id", target.ID.String(), "peer_id", target.PeerID)

	campaign, sc, conv, err := w.campaignScenario(ctx, target.CampaignID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("scenario_unavailable", "error", err.Error())
		return w.releaseTarget(ctx, target)
	}

	dlg, err := w.store.GetDialogueByPeer(ctx, w.accountID, target.PeerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		dlg = models.NewDialogue(w.accountID, target.ID, campaign.ID, target.PeerID)
		if err := w.store.CreateDialogue(ctx, dlg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("dialogue_create_failed", "error", err.Error())
			return w.releaseTarget(ctx, target)
		}
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("dialogue_lookup_failed", "error", err.Error())
		return w.releaseTarget(ctx, target)
	case dlg.Finished():
		// The peer was already worked to completion by an earlier run.
		log.Info("target_already_finished", "dialogue_status", string(dlg.Status))
		w.saveTarget(ctx, target, (*models.Target).MarkCompleted)
		return nil
	}

	next := w.now().Add(w.followUpDelay)
	dlg.NextActionAt = &next
	before := len(dlg.Messages)
	if _, err := conv.SendScripted(ctx, dlg, sc.Opener(), campaign.Links); err != nil {
		dlg.NextActionAt = nil
		w.releaseTarget(ctx, target)
		return w.fail(ctx, "opener_failed", err)
	}

	sent := len(dlg.Messages) - before
	w.recordSends(ctx, sent)
	w.saveTarget(ctx, target, (*models.Target).MarkContacted)
	w.bumpStats(ctx, campaign.ID, models.CampaignStatsDelta{Contacted: 1, MessagesSent: sent})
	log.Info("target_contacted", "dialogue_id", dlg.ID.String(), "messages", sent)
	return nil
}

// resolveTarget fills in the peer id of a username-imported target. A
// target that cannot be resolved is marked failed so the claim loop does
// not find it again.
func (w *Worker) resolveTarget(ctx context.Context, target *models.Target) error {
	log := w.logger.With("target_id", target.ID.String(), "username", target.Username)

	if target.Username == "" || w.resolve == nil {
		log.Warn("target_unresolvable")
		w.saveTarget(ctx, target, func(t *models.Target) { t.MarkFailed("no peer id") })
		return nil
	}

	peerID, err := w.resolve(ctx, target.Username)
	if err != nil {
		if kind, _ := classifyFailure(err); kind == failCanceled {
			return err
		}
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 &&
			!gateway.IsAuthRequired(err) && !gateway.IsFatal(err) {
			if _, flood := gateway.FloodWait(err); !flood {
				// The gateway understood the request and found no peer
				// behind the username.
				log.Warn("resolve_failed", "error", err.Error())
				w.saveTarget(ctx, target, func(t *models.Target) { t.MarkFailed("username not found") })
				return nil
			}
		}
		w.releaseTarget(ctx, target)
		return w.fail(ctx, "resolve_failed", err)
	}

	w.saveTarget(ctx, target, func(t *models.Target) { t.PeerID = peerID })
	log.Info("target_resolved", "peer_id", peerID)
	return nil
}

// handleTurn answers one batched burst of inbound messages.
func (w *Worker) handleTurn(ctx context.Context, job turnJob) error {
	log := w.logger.With("peer_id", job.peerID)

	dlg, err := w.store.GetDialogueByPeer(ctx, w.accountID, job.peerID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("inbound_without_dialogue")
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("dialogue_lookup_failed", "error", err.Error())
		return nil
	}
	if dlg.Finished() || dlg.Status == models.DialoguePaused {
		log.Debug("inbound_on_closed_dialogue", "status", string(dlg.Status))
		return nil
	}

	campaign, sc, conv, err := w.campaignScenario(ctx, dlg.CampaignID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("scenario_unavailable", "error", err.Error())
		return nil
	}

	firstReply := dlg.CountByRole(models.RoleUser) == 0
	before := len(dlg.Messages)

	prompt := sc.BuildSystemPrompt(len(dlg.Messages)+len(job.batch.Texts), dlg.GoalMessageSent, campaign.Links)
	dlg.NextActionAt = nil
	outcome, err := conv.RunTurn(ctx, dlg, prompt, campaign.Links, job.batch)
	if store.IsConflict(err) {
		err = w.resaveDialogue(ctx, dlg)
	}
	if err != nil {
		return w.fail(ctx, "turn_failed", err)
	}

	delta := models.CampaignStatsDelta{
		MessagesSent: dlg.CountByRole(models.RoleAccount) - countAccountMessages(dlg.Messages[:before]),
		TokensUsed:   sumTokens(dlg.Messages[before:]),
	}
	if firstReply {
		delta.Responded = 1
	}
	w.recordSends(ctx, delta.MessagesSent)
	w.applyOutcome(ctx, dlg, outcome, &delta)
	w.bumpStats(ctx, campaign.ID, delta)
	return nil
}

// resaveDialogue retries a version-conflicted save. The turn already
// went out on the wire, so the retry only persists: re-read the row for
// its current version and write our state over it. Last writer wins on
// the rare race with the reclaim cycle.
func (w *Worker) resaveDialogue(ctx context.Context, dlg *models.Dialogue) error {
	fresh, err := w.store.GetDialogueByPeer(ctx, w.accountID, dlg.PeerID)
	if err != nil {
		return fmt.Errorf("reload conflicted dialogue: %w", err)
	}
	dlg.Version = fresh.Version
	if err := w.store.SaveDialogue(ctx, dlg); err != nil {
		return fmt.Errorf("resave dialogue: %w", err)
	}
	w.logger.Info("dialogue_conflict_resolved", "dialogue_id", dlg.ID.String())
	return nil
}

// applyOutcome moves the target and campaign counters to match how the
// turn ended.
func (w *Worker) applyOutcome(ctx context.Context, dlg *models.Dialogue, outcome dialogue.Outcome, delta *models.CampaignStatsDelta) {
	target, err := w.store.GetTarget(ctx, dlg.TargetID)
	if err != nil {
		w.logger.Warn("target_lookup_failed", "target_id", dlg.TargetID.String(), "error", err.Error())
		target = nil
	}
	switch outcome {
	case dialogue.OutcomeGoalReached:
		delta.GoalReached = 1
		if target != nil {
			w.saveTarget(ctx, target, (*models.Target).MarkConverted)
		}
	case dialogue.OutcomeNegative:
		delta.Failed = 1
		if target != nil {
			w.saveTarget(ctx, target, (*models.Target).MarkCompleted)
		}
	case dialogue.OutcomeHandoff:
		w.logger.Info("dialogue_handed_off", "dialogue_id", dlg.ID.String())
		if target != nil && target.Status != models.TargetInProgress {
			w.saveTarget(ctx, target, (*models.Target).MarkInProgress)
		}
	default:
		if target != nil && (target.Status == models.TargetAssigned || target.Status == models.TargetContacted) {
			w.saveTarget(ctx, target, (*models.Target).MarkInProgress)
		}
	}
}

// sendFollowUps delivers the scripted second message to initiated
// dialogues whose follow-up timer came due without a reply.
func (w *Worker) sendFollowUps(ctx context.Context) error {
	now := w.now()
	due, err := w.store.ListDialoguesDue(ctx, w.accountID, now, followUpBatchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("follow_up_list_failed", "error", err.Error())
		return nil
	}
	for i := range due {
		if w.account.DailyBudgetLeft(w.now()) <= 0 {
			return nil
		}
		dlg := &due[i]
		if err := w.sendFollowUp(ctx, dlg); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) sendFollowUp(ctx context.Context, dlg *models.Dialogue) error {
	log := w.logger.With("dialogue_id", dlg.ID.String(), "peer_id", dlg.PeerID)

	campaign, sc, conv, err := w.campaignScenario(ctx, dlg.CampaignID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("scenario_unavailable", "error", err.Error())
		return nil
	}

	dlg.NextActionAt = nil
	text := sc.SecondMessage()
	if text == "" {
		// Nothing scripted to send; just stop the timer.
		if err := w.store.SaveDialogue(ctx, dlg); err != nil {
			log.Warn("dialogue_save_failed", "error", err.Error())
		}
		return nil
	}

	before := len(dlg.Messages)
	if _, err := conv.SendScripted(ctx, dlg, text, campaign.Links); err != nil {
		if store.IsConflict(err) {
			if rerr := w.resaveDialogue(ctx, dlg); rerr == nil {
				err = nil
			}
		}
		if err != nil {
			return w.fail(ctx, "follow_up_failed", err)
		}
	}

	sent := len(dlg.Messages) - before
	w.recordSends(ctx, sent)
	w.bumpStats(ctx, campaign.ID, models.CampaignStatsDelta{MessagesSent: sent})
	log.Info("follow_up_sent", "messages", sent)
	return nil
}

// campaignScenario resolves and caches the campaign row, its scenario
// file, and the converser driving it. All three are immutable for the
// life of a worker.
func (w *Worker) campaignScenario(ctx context.Context, id uuid.UUID) (*models.Campaign, *scenario.Scenario, Converser, error) {
	campaign, ok := w.campaigns[id]
	if !ok {
		fresh, err := w.store.GetCampaign(ctx, id)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load campaign %s: %w", id, err)
		}
		campaign = fresh
		w.campaigns[id] = fresh
	}
	sc, ok := w.scenarios[id]
	if !ok {
		loaded, err := w.loadScenario(campaign.ScenarioPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load scenario %q: %w", campaign.ScenarioPath, err)
		}
		sc = loaded
		w.scenarios[id] = loaded
	}
	conv, ok := w.engines[id]
	if !ok {
		conv = w.engine
		if w.newEngine != nil && (sc.Model != "" || len(sc.Parameters) > 0) {
			built, err := w.newEngine(sc)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("build converser for campaign %s: %w", campaign.Name, err)
			}
			conv = built
		}
		w.engines[id] = conv
	}
	return campaign, sc, conv, nil
}

// saveTarget applies the transition and saves, refetching once on an
// optimistic conflict. Target saves are best effort; the reclaim cycle
// repairs anything a lost write leaves behind.
func (w *Worker) saveTarget(ctx context.Context, target *models.Target, apply func(*models.Target)) {
	apply(target)
	err := w.store.SaveTarget(ctx, target)
	if err == nil {
		return
	}
	if !store.IsConflict(err) {
		w.logger.Warn("target_save_failed", "target_id", target.ID.String(), "error", err.Error())
		return
	}
	fresh, err := w.store.GetTarget(ctx, target.ID)
	if err != nil {
		w.logger.Warn("target_reload_failed", "target_id", target.ID.String(), "error", err.Error())
		return
	}
	apply(fresh)
	if err := w.store.SaveTarget(ctx, fresh); err != nil {
		w.logger.Warn("target_save_failed", "target_id", target.ID.String(), "error", err.Error())
		return
	}
	*target = *fresh
}

func (w *Worker) releaseTarget(ctx context.Context, target *models.Target) error {
	w.saveTarget(ctx, target, (*models.Target).Release)
	return nil
}

func (w *Worker) recordSends(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	w.account.CountSent(w.now(), n)
	if err := w.store.SaveAccountActivity(ctx, w.account); err != nil {
		w.logger.Warn("account_activity_save_failed", "error", err.Error())
	}
}

func (w *Worker) bumpStats(ctx context.Context, campaignID uuid.UUID, delta models.CampaignStatsDelta) {
	if err := w.store.UpdateCampaignStats(ctx, campaignID, delta); err != nil {
		w.logger.Warn("campaign_stats_update_failed", "campaign_id", campaignID.String(), "error", err.Error())
	}
}

func countAccountMessages(msgs []models.DialogueMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == models.RoleAccount {
			n++
		}
	}
	return n
}

func sumTokens(msgs []models.DialogueMessage) int {
	total := 0
	for _, m := range msgs {
		total += m.TokensUsed
	}
	return total
}
