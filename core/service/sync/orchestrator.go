// Package sync implements the mailbox ingestion pipeline. One run lists
// candidate messages, ingests the new ones and enriches them with a summary
// and a category.
package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mailsift/config"
	"mailsift/core/domain"
	"mailsift/core/port/in"
	"mailsift/core/port/out"
	"mailsift/core/service/enrich"
	"mailsift/core/service/extract"
	"mailsift/pkg/apperr"
	"mailsift/pkg/logger"
)

// Orchestrator drives sync runs. At most one run per account is active at a
// time, enforced by the lease manager.
type Orchestrator struct {
	provider   out.MailboxProvider
	creds      in.CredentialService
	emails     out.EmailRepository
	extractor  *extract.Extractor
	summarizer *enrich.Summarizer
	classifier *enrich.Classifier
	leases     *LeaseManager

	query        string
	pageSize     int64
	concurrency  int
	maxRetries   int
	retryBackoff time.Duration

	log *logger.Logger
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(
	cfg *config.Config,
	provider out.MailboxProvider,
	creds in.CredentialService,
	emails out.EmailRepository,
	extractor *extract.Extractor,
	summarizer *enrich.Summarizer,
	classifier *enrich.Classifier,
	leases *LeaseManager,
) *Orchestrator {
	concurrency := cfg.EnrichConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Orchestrator{
		provider:     provider,
		creds:        creds,
		emails:       emails,
		extractor:    extractor,
		summarizer:   summarizer,
		classifier:   classifier,
		leases:       leases,
		query:        cfg.SyncQuery,
		pageSize:     cfg.SyncPageSize,
		concurrency:  concurrency,
		maxRetries:   cfg.FetchMaxRetries,
		retryBackoff: cfg.FetchRetryBackoff,
		log:          logger.Default().WithField("component", "sync"),
	}
}

// run carries the mutable state of one sync run.
type run struct {
	o         *Orchestrator
	accountID uuid.UUID
	opts      in.SyncOptions
	token     string
	enrichers *errgroup.Group

	ingested atomic.Int64
	enriched atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// RunSync executes one full listing pass for the account. Listing is
// sequential; enrichment runs concurrently behind it with a bounded number of
// workers. A run that hits a terminal condition aborts but still reports the
// work finished before the abort.
func (o *Orchestrator) RunSync(ctx context.Context, accountID uuid.UUID, opts in.SyncOptions) (*domain.SyncReport, error) {
	ok, err := o.leases.Acquire(ctx, accountID)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	if !ok {
		return nil, apperr.SyncInProgress(accountID.String())
	}
	defer o.leases.Release(context.WithoutCancel(ctx), accountID)

	start := time.Now()
	log := o.log.WithField("account_id", accountID.String())
	log.Info("sync run started")

	r := &run{o: o, accountID: accountID, opts: opts, enrichers: &errgroup.Group{}}
	r.enrichers.SetLimit(o.concurrency)

	token, err := o.creds.GetValidAccessToken(ctx, accountID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		return r.finish(start, domain.RunAborted, "authorization failed: "+err.Error()), nil
	}
	r.token = token

	pageToken := ""
	for {
		var page *out.ListPage
		err := r.call(ctx, func(accessToken string) error {
			var callErr error
			page, callErr = o.provider.ListMessages(ctx, accessToken, &out.ListQuery{
				Query:     o.query,
				PageToken: pageToken,
				PageSize:  o.pageSize,
			})
			return callErr
		})
		if err != nil {
			log.WithError(err).Error("listing failed, aborting run")
			return r.finish(start, domain.RunAborted, "listing failed: "+err.Error()), nil
		}

		for _, messageID := range page.MessageIDs {
			if err := r.processMessage(ctx, messageID); err != nil {
				log.WithError(err).Error("terminal failure, aborting run")
				return r.finish(start, domain.RunAborted, err.Error()), nil
			}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	report := r.finish(start, domain.RunDone, "")
	log.WithFields(map[string]any{
		"ingested": report.Ingested,
		"enriched": report.Enriched,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	}).WithDuration(time.Duration(report.Duration) * time.Millisecond).Info("sync run finished")
	return report, nil
}

// finish waits for in-flight enrichment and assembles the report.
func (r *run) finish(start time.Time, state domain.RunState, reason string) *domain.SyncReport {
	_ = r.enrichers.Wait()
	return &domain.SyncReport{
		AccountID:     r.accountID,
		State:         state,
		Ingested:      int(r.ingested.Load()),
		Enriched:      int(r.enriched.Load()),
		Skipped:       int(r.skipped.Load()),
		Failed:        int(r.failed.Load()),
		AbortedReason: reason,
		Duration:      time.Since(start).Milliseconds(),
	}
}

// processMessage handles one candidate ID. A returned error is terminal for
// the whole run; per-message failures, storage failures included, are counted
// and swallowed so the rest of the batch continues.
func (r *run) processMessage(ctx context.Context, messageID string) error {
	exists, err := r.o.emails.Exists(ctx, r.accountID, messageID)
	if err != nil {
		r.failed.Add(1)
		r.o.log.WithFields(map[string]any{
			"account_id": r.accountID.String(),
			"message_id": messageID,
		}).WithError(err).Warn("existence check failed, skipping message")
		return nil
	}
	if exists && !r.opts.Reenrich {
		r.skipped.Add(1)
		return nil
	}

	var raw *out.ProviderMessage
	err = r.call(ctx, func(accessToken string) error {
		var callErr error
		raw, callErr = r.o.provider.GetMessage(ctx, accessToken, messageID)
		return callErr
	})
	if err != nil {
		if out.IsPermanent(err) {
			// This message alone is unfetchable; the rest of the batch goes on.
			r.failed.Add(1)
			r.o.log.WithFields(map[string]any{
				"account_id": r.accountID.String(),
				"message_id": messageID,
			}).WithError(err).Warn("permanent fetch failure, skipping message")
			return nil
		}
		return err
	}

	parsed := r.o.extractor.Parse(raw)

	if !exists {
		email := &domain.Email{
			MessageID:  parsed.MessageID,
			AccountID:  r.accountID,
			ReceivedAt: parsed.ReceivedAt,
			Subject:    parsed.Subject,
			Sender:     parsed.Sender,
			BodyText:   parsed.Body,
			CreatedAt:  time.Now(),
		}
		inserted, err := r.o.emails.Insert(ctx, email)
		if err != nil {
			r.failed.Add(1)
			r.o.log.WithFields(map[string]any{
				"account_id": r.accountID.String(),
				"message_id": messageID,
			}).WithError(err).Warn("insert failed, skipping message")
			return nil
		}
		if !inserted {
			// A concurrent writer got there first; its run owns enrichment.
			r.skipped.Add(1)
			return nil
		}
		r.ingested.Add(1)
	}

	r.enrichers.Go(func() error {
		r.enrichMessage(ctx, parsed)
		return nil
	})
	return nil
}

// enrichMessage runs summarization and classification for one message.
// The two calls are independent and run concurrently; either result is
// persisted even when the other fails.
func (r *run) enrichMessage(ctx context.Context, parsed *domain.ParsedMessage) {
	force := r.opts.Reenrich
	var failed atomic.Bool

	var wg stdsync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		summary, err := r.o.summarizer.Summarize(ctx, parsed)
		if err == nil {
			err = r.o.emails.SetSummary(ctx, r.accountID, parsed.MessageID, summary, force)
		}
		if err != nil {
			failed.Store(true)
			r.o.log.WithField("message_id", parsed.MessageID).WithError(err).Warn("summarization failed")
		}
	}()

	go func() {
		defer wg.Done()
		categoryID, err := r.o.classifier.Classify(ctx, r.accountID, parsed)
		if err == nil && categoryID != nil {
			err = r.o.emails.SetCategory(ctx, r.accountID, parsed.MessageID, *categoryID, force)
		}
		if err != nil {
			failed.Store(true)
			r.o.log.WithField("message_id", parsed.MessageID).WithError(err).Warn("classification failed")
		}
	}()

	wg.Wait()
	if failed.Load() {
		r.failed.Add(1)
	} else {
		r.enriched.Add(1)
	}
}

// call invokes a provider operation with the run's token, retrying transient
// failures with linear backoff. An auth rejection triggers exactly one forced
// refresh; a second rejection is terminal.
func (r *run) call(ctx context.Context, op func(accessToken string) error) error {
	refreshed := false
	for attempt := 0; ; attempt++ {
		err := op(r.token)
		if err == nil {
			return nil
		}

		if out.IsAuthError(err) {
			if refreshed {
				return err
			}
			token, refreshErr := r.o.creds.Invalidate(ctx, r.accountID)
			if refreshErr != nil {
				return refreshErr
			}
			r.token = token
			refreshed = true
			continue
		}

		if out.IsRetryable(err) && attempt < r.o.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.o.retryBackoff * time.Duration(attempt+1)):
			}
			continue
		}
		return err
	}
}

// Ensure Orchestrator implements in.SyncService
var _ in.SyncService = (*Orchestrator)(nil)
