package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

type memAlertStores struct {
	mu      sync.Mutex
	filing  *models.Filing
	company *models.Company
	diffs   []models.Diff
	watches []*models.Watchlist
	rules   []*models.AlertRule
	alerts  []*models.OutboxAlert
}

func (m *memAlertStores) CompanyStore() interfaces.CompanyStore     { return (*alertCompanyStore)(m) }
func (m *memAlertStores) FilingStore() interfaces.FilingStore       { return (*alertFilingStore)(m) }
func (m *memAlertStores) DiffStore() interfaces.DiffStore           { return (*alertDiffStore)(m) }
func (m *memAlertStores) JobQueueStore() interfaces.JobQueueStore   { return nil }
func (m *memAlertStores) WatchlistStore() interfaces.WatchlistStore { return (*alertWatchStore)(m) }
func (m *memAlertStores) AlertStore() interfaces.AlertStore         { return (*alertOutboxStore)(m) }
func (m *memAlertStores) DataPath() string                          { return "" }
func (m *memAlertStores) WriteRaw(subdir, key string, data []byte) error {
	return nil
}
func (m *memAlertStores) Close() error { return nil }

type alertCompanyStore memAlertStores

func (s *alertCompanyStore) Upsert(ctx context.Context, c *models.Company) (*models.Company, error) {
	return c, nil
}
func (s *alertCompanyStore) GetByID(ctx context.Context, id string) (*models.Company, error) {
	if s.company != nil && s.company.ID == id {
		return s.company, nil
	}
	return nil, nil
}
func (s *alertCompanyStore) GetByCIK(ctx context.Context, cik string) (*models.Company, error) {
	return nil, nil
}
func (s *alertCompanyStore) GetBySymbol(ctx context.Context, symbol string) (*models.Company, error) {
	if s.company != nil && s.company.Symbol == symbol {
		return s.company, nil
	}
	return nil, nil
}
func (s *alertCompanyStore) ListActive(ctx context.Context) ([]*models.Company, error) {
	return nil, nil
}
func (s *alertCompanyStore) SetLastPolled(ctx context.Context, cik string, ts time.Time) error {
	return nil
}
func (s *alertCompanyStore) Deactivate(ctx context.Context, cik string) error { return nil }

type alertFilingStore memAlertStores

func (s *alertFilingStore) Save(ctx context.Context, f *models.Filing) (*models.Filing, error) {
	return f, nil
}
func (s *alertFilingStore) GetByID(ctx context.Context, id string) (*models.Filing, error) {
	if s.filing != nil && s.filing.ID == id {
		return s.filing, nil
	}
	return nil, nil
}
func (s *alertFilingStore) GetByAccession(ctx context.Context, cik, acc string) (*models.Filing, error) {
	return nil, nil
}
func (s *alertFilingStore) List(ctx context.Context, f interfaces.FilingListFilter) ([]*models.Filing, error) {
	return nil, nil
}
func (s *alertFilingStore) PreviousComparable(ctx context.Context, companyID string, formTypes []string, before time.Time) (*models.Filing, error) {
	return nil, nil
}
func (s *alertFilingStore) SaveProcessed(ctx context.Context, f *models.Filing, sections []models.Section, diffs []models.Diff) error {
	return nil
}
func (s *alertFilingStore) GetSections(ctx context.Context, filingID string) ([]models.Section, error) {
	return nil, nil
}

type alertDiffStore memAlertStores

func (s *alertDiffStore) ListByFiling(ctx context.Context, filingID string, minScore float64) ([]models.Diff, error) {
	var out []models.Diff
	for _, d := range s.diffs {
		if d.FilingID == filingID && d.MaterialityScore >= minScore {
			out = append(out, d)
		}
	}
	return out, nil
}
func (s *alertDiffStore) CountByFiling(ctx context.Context, filingID string, minScore float64) (int, error) {
	list, _ := s.ListByFiling(ctx, filingID, minScore)
	return len(list), nil
}

type alertWatchStore memAlertStores

func (s *alertWatchStore) UpsertWatchlist(ctx context.Context, wl *models.Watchlist) (*models.Watchlist, error) {
	return wl, nil
}
func (s *alertWatchStore) GetWatchlist(ctx context.Context, userID, companyID string) (*models.Watchlist, error) {
	return nil, nil
}
func (s *alertWatchStore) ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*models.Watchlist, error) {
	var out []*models.Watchlist
	for _, wl := range s.watches {
		if wl.CompanyID != companyID {
			continue
		}
		if activeOnly && !wl.IsActive {
			continue
		}
		out = append(out, wl)
	}
	return out, nil
}
func (s *alertWatchStore) ListByUser(ctx context.Context, userID string) ([]*models.Watchlist, error) {
	return nil, nil
}
func (s *alertWatchStore) DeleteWatchlist(ctx context.Context, userID, companyID string) error {
	return nil
}
func (s *alertWatchStore) SaveRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	return rule, nil
}
func (s *alertWatchStore) ListRules(ctx context.Context, userID, alertType string) ([]*models.AlertRule, error) {
	var out []*models.AlertRule
	for _, r := range s.rules {
		if r.UserID == userID && r.AlertType == alertType {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *alertWatchStore) DeleteRule(ctx context.Context, id string) error { return nil }

type alertOutboxStore memAlertStores

func (s *alertOutboxStore) Append(ctx context.Context, alert *models.OutboxAlert) (*models.OutboxAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.alerts {
		if existing.DedupKey == alert.DedupKey {
			return existing, nil
		}
	}
	cp := *alert
	s.alerts = append(s.alerts, &cp)
	return &cp, nil
}
func (s *alertOutboxStore) Get(ctx context.Context, id string) (*models.OutboxAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}
func (s *alertOutboxStore) FindCoalescible(ctx context.Context, userID, method, alertType string, bucketStart, bucketEnd time.Time) (*models.OutboxAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.UserID == userID && a.Method == method && a.AlertType == alertType &&
			a.Status == models.AlertStatusPending &&
			!a.ScheduledFor.Before(bucketStart) && a.ScheduledFor.Before(bucketEnd) {
			return a, nil
		}
	}
	return nil, nil
}
func (s *alertOutboxStore) AppendBody(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			a.Body += text
			return nil
		}
	}
	return common.NewError(common.KindNotFound, "alert not found")
}
func (s *alertOutboxStore) MarkAttempt(ctx context.Context, id string, attempts int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			if a.Status == models.AlertStatusPending {
				a.Attempts = attempts
				a.ErrorMessage = errMsg
			}
			return nil
		}
	}
	return common.NewError(common.KindNotFound, "alert not found")
}
func (s *alertOutboxStore) MarkSent(ctx context.Context, id string, attempts int) error {
	return s.setStatus(id, models.AlertStatusSent, attempts, "")
}
func (s *alertOutboxStore) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	return s.setStatus(id, models.AlertStatusFailed, attempts, errMsg)
}
func (s *alertOutboxStore) setStatus(id, status string, attempts int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			a.Status = status
			a.Attempts = attempts
			a.ErrorMessage = errMsg
			return nil
		}
	}
	return common.NewError(common.KindNotFound, "alert not found")
}
func (s *alertOutboxStore) ListPending(ctx context.Context, limit int) ([]*models.OutboxAlert, error) {
	return nil, nil
}

type stubJobs struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (j *stubJobs) Start(ctx context.Context) error { return nil }
func (j *stubJobs) Stop(ctx context.Context) error  { return nil }
func (j *stubJobs) Submit(ctx context.Context, job *models.Job) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, existing := range j.jobs {
		if job.DedupKey != "" && existing.DedupKey == job.DedupKey {
			return existing.ID, nil
		}
	}
	job.ID = fmt.Sprintf("job:%d", len(j.jobs)+1)
	j.jobs = append(j.jobs, job)
	return job.ID, nil
}
func (j *stubJobs) Stats(ctx context.Context) (*models.QueueStats, error) { return nil, nil }
func (j *stubJobs) Subscribe(ch chan<- models.JobEvent) func()            { return func() {} }

type stubDispatcher struct {
	mu       sync.Mutex
	failures int  // transport failures before succeeding
	reject   bool // endpoint refuses every alert
	calls    int
}

func (d *stubDispatcher) Dispatch(ctx context.Context, alert *models.OutboxAlert) (*models.DispatchReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failures > 0 {
		d.failures--
		return nil, common.NewError(common.KindTransient, "smtp unavailable")
	}
	if d.reject {
		return &models.DispatchReceipt{Success: false, Error: "unknown recipient"}, nil
	}
	return &models.DispatchReceipt{Success: true, ProviderMessageID: "msg-1"}, nil
}

func seedStores() *memAlertStores {
	return &memAlertStores{
		filing: &models.Filing{
			ID: "filing:1", CompanyID: "company:1", CIK: "0000320193",
			FormType: "10-K", MaterialChanges: 1,
		},
		company: &models.Company{ID: "company:1", CIK: "0000320193", Symbol: "AAPL", Name: "Apple Inc."},
		diffs: []models.Diff{
			{FilingID: "filing:1", Section: models.SectionRiskFactors, ChangeType: models.ChangeModification,
				MaterialityScore: 0.85, Summary: "Risk Factors modified [HIGH]"},
			{FilingID: "filing:1", Section: models.SectionBusiness, ChangeType: models.ChangeModification,
				MaterialityScore: 0.5, Summary: "Business modified [MEDIUM]"},
		},
		watches: []*models.Watchlist{
			{ID: "wl:1", UserID: "user:1", CompanyID: "company:1", IsActive: true},
		},
		rules: []*models.AlertRule{
			{ID: "rule:1", UserID: "user:1", AlertType: models.AlertTypeMaterialChange,
				Method: models.MethodEmail, Recipient: "u1@example.com",
				IsEnabled: true, Frequency: models.FrequencyImmediate},
		},
	}
}

func newTestAlertService(stores *memAlertStores, dispatcher *stubDispatcher) (*Service, *stubJobs) {
	jobs := &stubJobs{}
	svc := NewService(stores, jobs, dispatcher)
	return svc, jobs
}

func TestFanOutCreatesAlertAndDeliverJob(t *testing.T) {
	stores := seedStores()
	svc, jobs := newTestAlertService(stores, &stubDispatcher{})

	created, err := svc.FanOut(context.Background(), "filing:1")
	if err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 alert, got %d", created)
	}

	alert := stores.alerts[0]
	if alert.UserID != "user:1" || alert.Method != models.MethodEmail {
		t.Errorf("unexpected alert routing: %+v", alert)
	}
	if !strings.Contains(alert.Title, "Apple Inc.") || !strings.Contains(alert.Title, "10-K") {
		t.Errorf("unexpected title: %s", alert.Title)
	}
	// Only the material diff appears in the body.
	if !strings.Contains(alert.Body, "RISK_FACTORS") {
		t.Errorf("body missing material section: %s", alert.Body)
	}
	if strings.Contains(alert.Body, "BUSINESS MODIFICATION") {
		t.Errorf("sub-threshold diff leaked into body: %s", alert.Body)
	}

	if len(jobs.jobs) != 1 || jobs.jobs[0].JobType != models.JobTypeDeliver {
		t.Fatalf("expected one DELIVER job, got %+v", jobs.jobs)
	}
	if jobs.jobs[0].DedupKey != "deliver:"+alert.ID {
		t.Errorf("unexpected deliver dedup key: %s", jobs.jobs[0].DedupKey)
	}
}

func TestFanOutTwiceIsAbsorbed(t *testing.T) {
	stores := seedStores()
	svc, jobs := newTestAlertService(stores, &stubDispatcher{})

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("first FanOut failed: %v", err)
	}
	created, err := svc.FanOut(context.Background(), "filing:1")
	if err != nil {
		t.Fatalf("second FanOut failed: %v", err)
	}

	if created != 0 {
		t.Errorf("expected repeat fan-out absorbed by dedup, got %d new alerts", created)
	}
	if len(stores.alerts) != 1 {
		t.Errorf("expected 1 outbox alert total, got %d", len(stores.alerts))
	}
	if len(jobs.jobs) != 1 {
		t.Errorf("expected 1 deliver job total, got %d", len(jobs.jobs))
	}
}

func TestFanOutWithoutMaterialDiffsIsNoop(t *testing.T) {
	stores := seedStores()
	stores.diffs = []models.Diff{
		{FilingID: "filing:1", Section: models.SectionBusiness, ChangeType: models.ChangeModification,
			MaterialityScore: 0.3},
	}
	svc, _ := newTestAlertService(stores, &stubDispatcher{})

	created, err := svc.FanOut(context.Background(), "filing:1")
	if err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	if created != 0 || len(stores.alerts) != 0 {
		t.Errorf("sub-threshold diffs must not alert: created=%d alerts=%d", created, len(stores.alerts))
	}
}

func TestQuietHoursDeferSchedule(t *testing.T) {
	stores := seedStores()
	stores.rules[0].QuietHours = &models.QuietHours{
		Enabled: true, Start: "22:00", End: "07:00", Timezone: "America/New_York",
	}
	svc, jobs := newTestAlertService(stores, &stubDispatcher{})

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 23:30 local, inside the window.
	svc.now = func() time.Time { return time.Date(2026, 8, 24, 23, 30, 0, 0, loc) }

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}

	alert := stores.alerts[0]
	want := time.Date(2026, 8, 25, 7, 0, 0, 0, loc)
	if !alert.ScheduledFor.Equal(want) {
		t.Errorf("expected delivery at quiet-window exit %v, got %v", want, alert.ScheduledFor)
	}
	if !jobs.jobs[0].ScheduledFor.Equal(want) {
		t.Errorf("deliver job not deferred: %v", jobs.jobs[0].ScheduledFor)
	}

	// Exit time itself is outside the window.
	if _, inside := quietExit(stores.rules[0].QuietHours, want); inside {
		t.Error("window exit must not be inside the quiet window")
	}
}

func TestQuietHoursOutsideWindowImmediate(t *testing.T) {
	stores := seedStores()
	stores.rules[0].QuietHours = &models.QuietHours{
		Enabled: true, Start: "22:00", End: "07:00", Timezone: "UTC",
	}
	svc, _ := newTestAlertService(stores, &stubDispatcher{})

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	if !stores.alerts[0].ScheduledFor.Equal(now) {
		t.Errorf("midday alert must be immediate, got %v", stores.alerts[0].ScheduledFor)
	}
}

func TestHourlyFrequencyCoalesces(t *testing.T) {
	stores := seedStores()
	stores.rules[0].Frequency = models.FrequencyHourly
	svc, jobs := newTestAlertService(stores, &stubDispatcher{})

	base := time.Date(2026, 8, 24, 14, 5, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("first FanOut failed: %v", err)
	}

	// A second material filing in the same hour merges into the pending alert.
	stores.filing = &models.Filing{ID: "filing:2", CompanyID: "company:1", CIK: "0000320193", FormType: "8-K"}
	stores.diffs = append(stores.diffs, models.Diff{
		FilingID: "filing:2", Section: models.SectionTriggeringEvents,
		ChangeType: models.ChangeAddition, MaterialityScore: 0.9,
		Summary: "Item 2.02 added [HIGH]",
	})
	svc.now = func() time.Time { return base.Add(20 * time.Minute) }

	created, err := svc.FanOut(context.Background(), "filing:2")
	if err != nil {
		t.Fatalf("second FanOut failed: %v", err)
	}
	if created != 0 {
		t.Errorf("coalesced merge must count zero, got %d", created)
	}
	if len(stores.alerts) != 1 {
		t.Fatalf("expected a single coalesced alert, got %d", len(stores.alerts))
	}
	if !strings.Contains(stores.alerts[0].Body, "TRIGGERING_EVENTS") {
		t.Errorf("second filing's summary not appended: %s", stores.alerts[0].Body)
	}
	if len(jobs.jobs) != 1 {
		t.Errorf("coalescing must not enqueue another deliver job, got %d", len(jobs.jobs))
	}
}

func TestDeliverMarksSent(t *testing.T) {
	stores := seedStores()
	dispatcher := &stubDispatcher{}
	svc, _ := newTestAlertService(stores, dispatcher)

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	alertID := stores.alerts[0].ID

	if err := svc.Deliver(context.Background(), alertID); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if stores.alerts[0].Status != models.AlertStatusSent {
		t.Errorf("expected SENT, got %s", stores.alerts[0].Status)
	}

	// Redelivery of a sent alert is a no-op.
	if err := svc.Deliver(context.Background(), alertID); err != nil {
		t.Fatalf("redelivery must be harmless: %v", err)
	}
	if dispatcher.calls != 1 {
		t.Errorf("sent alert must not be redispatched, got %d calls", dispatcher.calls)
	}
}

func TestDeliverRetriesWithinBudgetThenAbandons(t *testing.T) {
	stores := seedStores()
	dispatcher := &stubDispatcher{failures: 10}
	svc, _ := newTestAlertService(stores, dispatcher)

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	alertID := stores.alerts[0].ID

	// Attempts 1 and 2 fail retryably; the alert stays PENDING so the job
	// layer can redeliver it.
	for i := 0; i < 2; i++ {
		err := svc.Deliver(context.Background(), alertID)
		if err == nil {
			t.Fatalf("attempt %d should fail", i+1)
		}
		if !common.IsRetryable(err) {
			t.Fatalf("attempt %d should be retryable: %v", i+1, err)
		}
		if stores.alerts[0].Status != models.AlertStatusPending {
			t.Fatalf("attempt %d must keep the alert PENDING, got %s", i+1, stores.alerts[0].Status)
		}
		if stores.alerts[0].Attempts != i+1 {
			t.Errorf("attempt %d not recorded: attempts=%d", i+1, stores.alerts[0].Attempts)
		}
	}

	// Attempt 3 exhausts the budget: terminal, no error for the job layer.
	if err := svc.Deliver(context.Background(), alertID); err != nil {
		t.Fatalf("exhausted delivery must complete: %v", err)
	}
	if stores.alerts[0].Status != models.AlertStatusFailed {
		t.Errorf("expected FAILED after budget, got %s", stores.alerts[0].Status)
	}
	if stores.alerts[0].Attempts != 3 {
		t.Errorf("expected 3 attempts recorded, got %d", stores.alerts[0].Attempts)
	}

	// FAILED is terminal: redelivery must not dispatch again.
	if err := svc.Deliver(context.Background(), alertID); err != nil {
		t.Fatalf("redelivery of a failed alert must be harmless: %v", err)
	}
	if dispatcher.calls != 3 {
		t.Errorf("failed alert must not be redispatched, got %d calls", dispatcher.calls)
	}
}

func TestDeliverTransientFailureThenSends(t *testing.T) {
	stores := seedStores()
	dispatcher := &stubDispatcher{failures: 1}
	svc, _ := newTestAlertService(stores, dispatcher)

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	alertID := stores.alerts[0].ID

	if err := svc.Deliver(context.Background(), alertID); err == nil {
		t.Fatal("first attempt should fail")
	}
	if stores.alerts[0].Status != models.AlertStatusPending {
		t.Fatalf("in-budget failure must leave the alert PENDING, got %s", stores.alerts[0].Status)
	}
	if stores.alerts[0].Attempts != 1 {
		t.Errorf("expected 1 attempt recorded, got %d", stores.alerts[0].Attempts)
	}
	if stores.alerts[0].ErrorMessage == "" {
		t.Error("expected the last dispatch error recorded")
	}

	// The retry succeeds and the alert moves PENDING -> SENT.
	if err := svc.Deliver(context.Background(), alertID); err != nil {
		t.Fatalf("second attempt should deliver: %v", err)
	}
	if stores.alerts[0].Status != models.AlertStatusSent {
		t.Errorf("expected SENT after retry, got %s", stores.alerts[0].Status)
	}
	if stores.alerts[0].Attempts != 2 {
		t.Errorf("expected 2 attempts recorded, got %d", stores.alerts[0].Attempts)
	}
}

func TestDeliverRejectedReceiptFailsTerminally(t *testing.T) {
	stores := seedStores()
	dispatcher := &stubDispatcher{reject: true}
	svc, _ := newTestAlertService(stores, dispatcher)

	if _, err := svc.FanOut(context.Background(), "filing:1"); err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	alertID := stores.alerts[0].ID

	// A rejection is not retryable: the job completes, the alert fails.
	if err := svc.Deliver(context.Background(), alertID); err != nil {
		t.Fatalf("rejected delivery must complete without error: %v", err)
	}
	if stores.alerts[0].Status != models.AlertStatusFailed {
		t.Errorf("expected FAILED after rejection, got %s", stores.alerts[0].Status)
	}
	if stores.alerts[0].Attempts != 1 {
		t.Errorf("expected 1 attempt recorded, got %d", stores.alerts[0].Attempts)
	}
	if stores.alerts[0].ErrorMessage != "unknown recipient" {
		t.Errorf("expected rejection reason recorded, got %q", stores.alerts[0].ErrorMessage)
	}

	if err := svc.Deliver(context.Background(), alertID); err != nil {
		t.Fatalf("redelivery of a rejected alert must be harmless: %v", err)
	}
	if dispatcher.calls != 1 {
		t.Errorf("rejected alert must not be redispatched, got %d calls", dispatcher.calls)
	}
}

func TestEvaluatePriceChangeThreshold(t *testing.T) {
	stores := seedStores()
	stores.watches[0].PriceChangeThreshold = 5.0
	stores.rules = append(stores.rules, &models.AlertRule{
		ID: "rule:2", UserID: "user:1", AlertType: models.AlertTypePriceChange,
		Method: models.MethodPush, IsEnabled: true, Frequency: models.FrequencyImmediate,
	})
	svc, _ := newTestAlertService(stores, &stubDispatcher{})

	created, err := svc.EvaluatePriceChange(context.Background(), "AAPL", -6.2)
	if err != nil {
		t.Fatalf("EvaluatePriceChange failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 price alert, got %d", created)
	}
	if !strings.Contains(stores.alerts[0].Title, "down 6.20%") {
		t.Errorf("unexpected title: %s", stores.alerts[0].Title)
	}

	// Same-day repeat is absorbed.
	created, err = svc.EvaluatePriceChange(context.Background(), "AAPL", -7.5)
	if err != nil {
		t.Fatalf("repeat evaluation failed: %v", err)
	}
	if created != 0 || len(stores.alerts) != 1 {
		t.Errorf("same-day repeat must dedup: created=%d alerts=%d", created, len(stores.alerts))
	}
}

func TestEvaluatePriceChangeBelowThreshold(t *testing.T) {
	stores := seedStores()
	stores.watches[0].PriceChangeThreshold = 5.0
	stores.rules = append(stores.rules, &models.AlertRule{
		ID: "rule:2", UserID: "user:1", AlertType: models.AlertTypePriceChange,
		Method: models.MethodPush, IsEnabled: true,
	})
	svc, _ := newTestAlertService(stores, &stubDispatcher{})

	created, err := svc.EvaluatePriceChange(context.Background(), "AAPL", 2.1)
	if err != nil {
		t.Fatalf("EvaluatePriceChange failed: %v", err)
	}
	if created != 0 || len(stores.alerts) != 0 {
		t.Errorf("move under threshold must not alert: created=%d", created)
	}
}

func TestDisabledRuleSkipped(t *testing.T) {
	stores := seedStores()
	stores.rules[0].IsEnabled = false
	svc, _ := newTestAlertService(stores, &stubDispatcher{})

	created, err := svc.FanOut(context.Background(), "filing:1")
	if err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	if created != 0 || len(stores.alerts) != 0 {
		t.Errorf("disabled rule must produce nothing, got %d alerts", len(stores.alerts))
	}
}

func TestInactiveWatchlistSkipped(t *testing.T) {
	stores := seedStores()
	stores.watches[0].IsActive = false
	svc, _ := newTestAlertService(stores, &stubDispatcher{})

	created, err := svc.FanOut(context.Background(), "filing:1")
	if err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}
	if created != 0 {
		t.Errorf("inactive watchlist must produce nothing, got %d", created)
	}
}
