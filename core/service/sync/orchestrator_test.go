package sync

import (
	"context"
	"encoding/base64"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsift/config"
	"mailsift/core/domain"
	"mailsift/core/port/in"
	"mailsift/core/port/out"
	"mailsift/core/service/enrich"
	"mailsift/core/service/extract"
	"mailsift/pkg/apperr"
)

// --- fakes ----------------------------------------------------------------

type fakeProvider struct {
	listFn func(accessToken string, q *out.ListQuery) (*out.ListPage, error)
	getFn  func(accessToken, messageID string) (*out.ProviderMessage, error)
}

func (p *fakeProvider) ListMessages(ctx context.Context, accessToken string, q *out.ListQuery) (*out.ListPage, error) {
	return p.listFn(accessToken, q)
}

func (p *fakeProvider) GetMessage(ctx context.Context, accessToken, messageID string) (*out.ProviderMessage, error) {
	return p.getFn(accessToken, messageID)
}

type fakeCreds struct {
	token         string
	refreshed     string
	invalidations int
}

func (c *fakeCreds) AuthCodeURL(state string) (string, error) { return "", nil }
func (c *fakeCreds) CompleteAuthorization(ctx context.Context, code string) (*domain.Account, error) {
	return nil, nil
}
func (c *fakeCreds) GetValidAccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	return c.token, nil
}
func (c *fakeCreds) Invalidate(ctx context.Context, accountID uuid.UUID) (string, error) {
	c.invalidations++
	return c.refreshed, nil
}

type fakeEmailRepo struct {
	mu     stdsync.Mutex
	emails map[string]*domain.Email
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{emails: make(map[string]*domain.Email)}
}

func (r *fakeEmailRepo) Exists(ctx context.Context, accountID uuid.UUID, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.emails[messageID]
	return ok, nil
}

func (r *fakeEmailRepo) Insert(ctx context.Context, email *domain.Email) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.emails[email.MessageID]; ok {
		return false, nil
	}
	copied := *email
	r.emails[email.MessageID] = &copied
	return true, nil
}

func (r *fakeEmailRepo) SetSummary(ctx context.Context, accountID uuid.UUID, messageID, summary string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[messageID]
	if !ok {
		return nil
	}
	if email.Summary != nil && !force {
		return nil
	}
	now := time.Now()
	email.Summary = &summary
	email.SummaryCreatedAt = &now
	return nil
}

func (r *fakeEmailRepo) SetCategory(ctx context.Context, accountID uuid.UUID, messageID string, categoryID uuid.UUID, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[messageID]
	if !ok {
		return nil
	}
	if email.CategoryID != nil && !force {
		return nil
	}
	email.CategoryID = &categoryID
	return nil
}

func (r *fakeEmailRepo) GetByID(ctx context.Context, accountID uuid.UUID, messageID string) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[messageID]
	if !ok {
		return nil, nil
	}
	copied := *email
	return &copied, nil
}

func (r *fakeEmailRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Email, error) {
	return nil, nil
}

func (r *fakeEmailRepo) summaryOf(messageID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if email, ok := r.emails[messageID]; ok && email.Summary != nil {
		return *email.Summary
	}
	return ""
}

type fakeGenerator struct {
	mu     stdsync.Mutex
	answer string
	fail   bool
	calls  int
}

func (g *fakeGenerator) Generate(ctx context.Context, systemInstruction, userContent string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail {
		return "", context.DeadlineExceeded
	}
	return g.answer, nil
}

type fakeCategoryRepo struct {
	categories []domain.Category
}

func (r *fakeCategoryRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Category, error) {
	return r.categories, nil
}
func (r *fakeCategoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	return nil, nil
}
func (r *fakeCategoryRepo) Create(ctx context.Context, category *domain.Category) error { return nil }
func (r *fakeCategoryRepo) Update(ctx context.Context, category *domain.Category) error { return nil }
func (r *fakeCategoryRepo) Delete(ctx context.Context, id uuid.UUID) error              { return nil }

// --- helpers --------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		SyncQuery:         "-in:archived",
		SyncPageSize:      10,
		SyncLeaseTTL:      time.Minute,
		EnrichConcurrency: 2,
		FetchMaxRetries:   2,
		FetchRetryBackoff: time.Millisecond,
	}
}

func providerMessage(id, subject, body string) *out.ProviderMessage {
	return &out.ProviderMessage{
		ID:           id,
		InternalDate: 1700000000000,
		Payload: &out.MessagePart{
			MimeType: "text/plain",
			Headers: []out.Header{
				{Name: "Subject", Value: subject},
				{Name: "From", Value: "sender@example.com"},
			},
			Data: base64.URLEncoding.EncodeToString([]byte(body)),
		},
	}
}

func singlePageProvider(messages map[string]*out.ProviderMessage, ids ...string) *fakeProvider {
	return &fakeProvider{
		listFn: func(accessToken string, q *out.ListQuery) (*out.ListPage, error) {
			return &out.ListPage{MessageIDs: ids}, nil
		},
		getFn: func(accessToken, messageID string) (*out.ProviderMessage, error) {
			msg, ok := messages[messageID]
			if !ok {
				return nil, out.NewProviderError("gmail", out.ProviderErrNotFound, "not found", nil, false)
			}
			return msg, nil
		},
	}
}

func newTestOrchestrator(cfg *config.Config, provider out.MailboxProvider, creds in.CredentialService, emails out.EmailRepository, gen out.TextGenerator, categories out.CategoryRepository) *Orchestrator {
	return NewOrchestrator(
		cfg,
		provider,
		creds,
		emails,
		extract.NewExtractor(),
		enrich.NewSummarizer(gen),
		enrich.NewClassifier(gen, categories),
		NewLeaseManager(nil, time.Minute),
	)
}

// --- tests ----------------------------------------------------------------

func TestRunSyncIngestsAndEnriches(t *testing.T) {
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body one"),
		"m2": providerMessage("m2", "Second", "body two"),
		"m3": providerMessage("m3", "Third", "body three"),
	}
	repo := newFakeEmailRepo()
	gen := &fakeGenerator{answer: "a summary"}
	o := newTestOrchestrator(testConfig(), singlePageProvider(messages, "m1", "m2", "m3"),
		&fakeCreds{token: "tok"}, repo, gen, &fakeCategoryRepo{})

	report, err := o.RunSync(context.Background(), uuid.New(), in.SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}

	if report.State != domain.RunDone {
		t.Errorf("State = %s, want done", report.State)
	}
	if report.Ingested != 3 || report.Enriched != 3 || report.Skipped != 0 || report.Failed != 0 {
		t.Errorf("counts = %+v, want 3 ingested, 3 enriched", report)
	}
	for id := range messages {
		if got := repo.summaryOf(id); got != "a summary" {
			t.Errorf("summary of %s = %q", id, got)
		}
	}
}

func TestRunSyncIsIdempotent(t *testing.T) {
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body"),
		"m2": providerMessage("m2", "Second", "body"),
	}
	repo := newFakeEmailRepo()
	gen := &fakeGenerator{answer: "a summary"}
	o := newTestOrchestrator(testConfig(), singlePageProvider(messages, "m1", "m2"),
		&fakeCreds{token: "tok"}, repo, gen, &fakeCategoryRepo{})

	accountID := uuid.New()
	if _, err := o.RunSync(context.Background(), accountID, in.SyncOptions{}); err != nil {
		t.Fatalf("first run error = %v", err)
	}

	report, err := o.RunSync(context.Background(), accountID, in.SyncOptions{})
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if report.Ingested != 0 || report.Skipped != 2 {
		t.Errorf("second run = %+v, want 0 ingested, 2 skipped", report)
	}
}

func TestRunSyncPermanentFailureIsIsolated(t *testing.T) {
	// m2 is not in the provider's store, so fetching it 404s.
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body"),
		"m3": providerMessage("m3", "Third", "body"),
	}
	repo := newFakeEmailRepo()
	gen := &fakeGenerator{answer: "a summary"}
	o := newTestOrchestrator(testConfig(), singlePageProvider(messages, "m1", "m2", "m3"),
		&fakeCreds{token: "tok"}, repo, gen, &fakeCategoryRepo{})

	report, err := o.RunSync(context.Background(), uuid.New(), in.SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if report.State != domain.RunDone {
		t.Errorf("State = %s, want done", report.State)
	}
	if report.Ingested != 2 || report.Failed != 1 {
		t.Errorf("counts = %+v, want 2 ingested, 1 failed", report)
	}
}

// failingInsertRepo rejects inserts for one message ID.
type failingInsertRepo struct {
	*fakeEmailRepo
	failID string
}

func (r *failingInsertRepo) Insert(ctx context.Context, email *domain.Email) (bool, error) {
	if email.MessageID == r.failID {
		return false, errors.New("connection reset by peer")
	}
	return r.fakeEmailRepo.Insert(ctx, email)
}

func TestRunSyncInsertFailureIsIsolated(t *testing.T) {
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body"),
		"m2": providerMessage("m2", "Second", "body"),
		"m3": providerMessage("m3", "Third", "body"),
	}
	repo := &failingInsertRepo{fakeEmailRepo: newFakeEmailRepo(), failID: "m2"}
	gen := &fakeGenerator{answer: "a summary"}
	o := newTestOrchestrator(testConfig(), singlePageProvider(messages, "m1", "m2", "m3"),
		&fakeCreds{token: "tok"}, repo, gen, &fakeCategoryRepo{})

	report, err := o.RunSync(context.Background(), uuid.New(), in.SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if report.State != domain.RunDone {
		t.Errorf("State = %s, want done", report.State)
	}
	if report.Ingested != 2 || report.Failed != 1 {
		t.Errorf("counts = %+v, want 2 ingested, 1 failed", report)
	}

	// The message after the failed one is still captured.
	email, _ := repo.GetByID(context.Background(), uuid.Nil, "m3")
	if email == nil {
		t.Fatal("message after the failed insert was not persisted")
	}
}

func TestRunSyncEnrichmentFailureKeepsBaseRow(t *testing.T) {
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body"),
	}
	repo := newFakeEmailRepo()
	gen := &fakeGenerator{fail: true}
	o := newTestOrchestrator(testConfig(), singlePageProvider(messages, "m1"),
		&fakeCreds{token: "tok"}, repo, gen, &fakeCategoryRepo{})

	report, err := o.RunSync(context.Background(), uuid.New(), in.SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if report.Ingested != 1 || report.Enriched != 0 || report.Failed != 1 {
		t.Errorf("counts = %+v, want 1 ingested, 0 enriched, 1 failed", report)
	}

	email, _ := repo.GetByID(context.Background(), uuid.Nil, "m1")
	if email == nil {
		t.Fatal("base row missing after enrichment failure")
	}
	if email.Summary != nil {
		t.Error("summary set despite backend failure")
	}
}

func TestRunSyncLeaseHeld(t *testing.T) {
	accountID := uuid.New()
	leases := NewLeaseManager(nil, time.Minute)
	if ok, _ := leases.Acquire(context.Background(), accountID); !ok {
		t.Fatal("could not acquire lease for setup")
	}

	o := NewOrchestrator(
		testConfig(),
		singlePageProvider(nil),
		&fakeCreds{token: "tok"},
		newFakeEmailRepo(),
		extract.NewExtractor(),
		enrich.NewSummarizer(&fakeGenerator{}),
		enrich.NewClassifier(&fakeGenerator{}, &fakeCategoryRepo{}),
		leases,
	)

	_, err := o.RunSync(context.Background(), accountID, in.SyncOptions{})
	if !apperr.IsCode(err, apperr.CodeSyncInProgress) {
		t.Fatalf("error = %v, want %s", err, apperr.CodeSyncInProgress)
	}

	// After release the account syncs normally.
	leases.Release(context.Background(), accountID)
	if _, err := o.RunSync(context.Background(), accountID, in.SyncOptions{}); err != nil {
		t.Fatalf("RunSync() after release error = %v", err)
	}
}

func TestRunSyncAuthErrorRefreshesOnce(t *testing.T) {
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body"),
	}
	creds := &fakeCreds{token: "stale", refreshed: "fresh"}
	provider := &fakeProvider{
		listFn: func(accessToken string, q *out.ListQuery) (*out.ListPage, error) {
			return &out.ListPage{MessageIDs: []string{"m1"}}, nil
		},
		getFn: func(accessToken, messageID string) (*out.ProviderMessage, error) {
			if accessToken != "fresh" {
				return nil, out.NewProviderError("gmail", out.ProviderErrAuth, "unauthorized", nil, false)
			}
			return messages[messageID], nil
		},
	}
	repo := newFakeEmailRepo()
	o := newTestOrchestrator(testConfig(), provider, creds, repo,
		&fakeGenerator{answer: "a summary"}, &fakeCategoryRepo{})

	report, err := o.RunSync(context.Background(), uuid.New(), in.SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if report.Ingested != 1 {
		t.Errorf("Ingested = %d, want 1", report.Ingested)
	}
	if creds.invalidations != 1 {
		t.Errorf("Invalidate called %d times, want 1", creds.invalidations)
	}
}

func TestRunSyncListingRetriesThenAborts(t *testing.T) {
	listCalls := 0
	provider := &fakeProvider{
		listFn: func(accessToken string, q *out.ListQuery) (*out.ListPage, error) {
			listCalls++
			return nil, out.NewProviderError("gmail", out.ProviderErrServer, "upstream down", nil, true)
		},
	}
	o := newTestOrchestrator(testConfig(), provider, &fakeCreds{token: "tok"},
		newFakeEmailRepo(), &fakeGenerator{}, &fakeCategoryRepo{})

	report, err := o.RunSync(context.Background(), uuid.New(), in.SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if report.State != domain.RunAborted {
		t.Fatalf("State = %s, want aborted", report.State)
	}
	if report.AbortedReason == "" {
		t.Error("AbortedReason is empty")
	}
	// Initial attempt plus the configured retries.
	if want := testConfig().FetchMaxRetries + 1; listCalls != want {
		t.Errorf("list called %d times, want %d", listCalls, want)
	}
}

func TestRunSyncPaginatesAllPages(t *testing.T) {
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body"),
		"m2": providerMessage("m2", "Second", "body"),
	}
	provider := &fakeProvider{
		listFn: func(accessToken string, q *out.ListQuery) (*out.ListPage, error) {
			if q.PageToken == "" {
				return &out.ListPage{MessageIDs: []string{"m1"}, NextPageToken: "page2"}, nil
			}
			return &out.ListPage{MessageIDs: []string{"m2"}}, nil
		},
		getFn: func(accessToken, messageID string) (*out.ProviderMessage, error) {
			return messages[messageID], nil
		},
	}
	repo := newFakeEmailRepo()
	o := newTestOrchestrator(testConfig(), provider, &fakeCreds{token: "tok"}, repo,
		&fakeGenerator{answer: "a summary"}, &fakeCategoryRepo{})

	report, err := o.RunSync(context.Background(), uuid.New(), in.SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync() error = %v", err)
	}
	if report.Ingested != 2 {
		t.Errorf("Ingested = %d, want 2", report.Ingested)
	}
}

func TestRunSyncReenrichOverwrites(t *testing.T) {
	messages := map[string]*out.ProviderMessage{
		"m1": providerMessage("m1", "First", "body"),
	}
	repo := newFakeEmailRepo()
	accountID := uuid.New()

	gen := &fakeGenerator{answer: "old summary"}
	o := newTestOrchestrator(testConfig(), singlePageProvider(messages, "m1"),
		&fakeCreds{token: "tok"}, repo, gen, &fakeCategoryRepo{})
	if _, err := o.RunSync(context.Background(), accountID, in.SyncOptions{}); err != nil {
		t.Fatalf("first run error = %v", err)
	}

	gen.mu.Lock()
	gen.answer = "new summary"
	gen.mu.Unlock()

	report, err := o.RunSync(context.Background(), accountID, in.SyncOptions{Reenrich: true})
	if err != nil {
		t.Fatalf("reenrich run error = %v", err)
	}
	if report.Ingested != 0 || report.Enriched != 1 {
		t.Errorf("reenrich counts = %+v, want 0 ingested, 1 enriched", report)
	}
	if got := repo.summaryOf("m1"); got != "new summary" {
		t.Errorf("summary = %q, want new summary", got)
	}

	// Without the flag an existing summary stays put.
	gen.mu.Lock()
	gen.answer = "third summary"
	gen.mu.Unlock()
	if _, err := o.RunSync(context.Background(), accountID, in.SyncOptions{}); err != nil {
		t.Fatalf("plain run error = %v", err)
	}
	if got := repo.summaryOf("m1"); got != "new summary" {
		t.Errorf("summary after plain run = %q, want new summary", got)
	}
}

func TestLeaseManagerLocal(t *testing.T) {
	leases := NewLeaseManager(nil, 50*time.Millisecond)
	accountID := uuid.New()
	ctx := context.Background()

	if ok, _ := leases.Acquire(ctx, accountID); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := leases.Acquire(ctx, accountID); ok {
		t.Fatal("second acquire succeeded while held")
	}

	other := uuid.New()
	if ok, _ := leases.Acquire(ctx, other); !ok {
		t.Error("lease for a different account blocked")
	}

	leases.Release(ctx, accountID)
	if ok, _ := leases.Acquire(ctx, accountID); !ok {
		t.Error("acquire after release failed")
	}

	// An unreleased lease expires on its own.
	time.Sleep(60 * time.Millisecond)
	if ok, _ := leases.Acquire(ctx, accountID); !ok {
		t.Error("acquire after TTL expiry failed")
	}
}
