package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
	"github.com/bobmcallan/filingwatch/internal/services/analyze"
	"github.com/bobmcallan/filingwatch/internal/services/diffengine"
	"github.com/bobmcallan/filingwatch/internal/services/extract"
)

type fakeEdgar struct {
	mu          sync.Mutex
	info        *models.CompanyInfo
	metas       []models.FilingMeta
	content     map[string]*models.FilingContent // accession -> content
	contentErr  error
	submissions int
	fetches     int
}

func (e *fakeEdgar) GetSubmissions(ctx context.Context, cik string) (*models.CompanyInfo, []models.FilingMeta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submissions++
	if e.info == nil {
		return nil, nil, common.NewError(common.KindNotFound, "no such company")
	}
	return e.info, e.metas, nil
}

func (e *fakeEdgar) GetFilings(ctx context.Context, cik string, opts ...interfaces.FilingOption) ([]models.FilingMeta, error) {
	params := &interfaces.FilingParams{}
	for _, opt := range opts {
		opt(params)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.FilingMeta
	for _, m := range e.metas {
		if !params.After.IsZero() && !m.FiledDate.After(params.After) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *fakeEdgar) GetFilingContent(ctx context.Context, cik, accessionNo string) (*models.FilingContent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetches++
	if e.contentErr != nil {
		return nil, e.contentErr
	}
	content, ok := e.content[accessionNo]
	if !ok {
		return nil, common.NewError(common.KindNotFound, "filing not found")
	}
	return content, nil
}

func (e *fakeEdgar) SearchCompanies(ctx context.Context, query string) ([]models.CompanyMatch, error) {
	return nil, nil
}

type memStores struct {
	mu        sync.Mutex
	companies map[string]*models.Company // keyed by CIK
	filings   map[string]*models.Filing  // keyed by cik|accession
	sections  map[string][]models.Section
	diffs     map[string][]models.Diff
	nextID    int
}

func newMemStores() *memStores {
	return &memStores{
		companies: make(map[string]*models.Company),
		filings:   make(map[string]*models.Filing),
		sections:  make(map[string][]models.Section),
		diffs:     make(map[string][]models.Diff),
	}
}

func (m *memStores) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s:%d", prefix, m.nextID)
}

func (m *memStores) CompanyStore() interfaces.CompanyStore     { return (*memCompanyStore)(m) }
func (m *memStores) FilingStore() interfaces.FilingStore       { return (*memFilingStore)(m) }
func (m *memStores) DiffStore() interfaces.DiffStore           { return nil }
func (m *memStores) JobQueueStore() interfaces.JobQueueStore   { return nil }
func (m *memStores) WatchlistStore() interfaces.WatchlistStore { return nil }
func (m *memStores) AlertStore() interfaces.AlertStore         { return nil }
func (m *memStores) DataPath() string                          { return "" }
func (m *memStores) WriteRaw(subdir, key string, data []byte) error {
	return nil
}
func (m *memStores) Close() error { return nil }

type memCompanyStore memStores

func (s *memCompanyStore) Upsert(ctx context.Context, company *models.Company) (*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.companies[company.CIK]
	if !ok {
		company.ID = (*memStores)(s).id("company")
		cp := *company
		s.companies[company.CIK] = &cp
		out := cp
		return &out, nil
	}
	if company.Symbol != "" {
		existing.Symbol = company.Symbol
	}
	if company.Name != "" {
		existing.Name = company.Name
	}
	out := *existing
	return &out, nil
}

func (s *memCompanyStore) GetByID(ctx context.Context, id string) (*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memCompanyStore) GetByCIK(ctx context.Context, cik string) (*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[cik]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memCompanyStore) GetBySymbol(ctx context.Context, symbol string) (*models.Company, error) {
	return nil, nil
}

func (s *memCompanyStore) ListActive(ctx context.Context) ([]*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Company
	for _, c := range s.companies {
		if c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memCompanyStore) SetLastPolled(ctx context.Context, cik string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[cik]; ok {
		c.LastPolledAt = ts
	}
	return nil
}

func (s *memCompanyStore) Deactivate(ctx context.Context, cik string) error { return nil }

type memFilingStore memStores

func filingKey(cik, acc string) string { return cik + "|" + acc }

func (s *memFilingStore) Save(ctx context.Context, filing *models.Filing) (*models.Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := filingKey(filing.CIK, filing.AccessionNo)
	if existing, ok := s.filings[key]; ok {
		filing.ID = existing.ID
	}
	if filing.ID == "" {
		filing.ID = (*memStores)(s).id("filing")
	}
	cp := *filing
	s.filings[key] = &cp
	out := cp
	return &out, nil
}

func (s *memFilingStore) GetByID(ctx context.Context, id string) (*models.Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.filings {
		if f.ID == id {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memFilingStore) GetByAccession(ctx context.Context, cik, accessionNo string) (*models.Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filings[filingKey(cik, accessionNo)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (s *memFilingStore) List(ctx context.Context, filter interfaces.FilingListFilter) ([]*models.Filing, error) {
	return nil, nil
}

func (s *memFilingStore) PreviousComparable(ctx context.Context, companyID string, formTypes []string, before time.Time) (*models.Filing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Filing
	for _, f := range s.filings {
		if f.CompanyID != companyID || !f.IsProcessed || !f.FiledDate.Before(before) {
			continue
		}
		match := false
		for _, ft := range formTypes {
			if f.FormType == ft {
				match = true
			}
		}
		if !match {
			continue
		}
		if best == nil || f.FiledDate.After(best.FiledDate) {
			best = f
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *memFilingStore) SaveProcessed(ctx context.Context, filing *models.Filing, sections []models.Section, diffs []models.Diff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *filing
	s.filings[filingKey(filing.CIK, filing.AccessionNo)] = &cp
	s.sections[filing.ID] = sections
	s.diffs[filing.ID] = diffs
	return nil
}

func (s *memFilingStore) GetSections(ctx context.Context, filingID string) ([]models.Section, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sections[filingID], nil
}

// stubJobs records submissions without running anything.
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

func (j *stubJobs) byType(jobType string) []*models.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*models.Job
	for _, job := range j.jobs {
		if job.JobType == jobType {
			out = append(out, job)
		}
	}
	return out
}

const (
	testCIK = "0000320193"
	firstK  = "0000320193-23-000064"
	secondK = "0000320193-24-000081"
)

func newTestService() (*Service, *memStores, *fakeEdgar, *stubJobs) {
	stores := newMemStores()
	jobs := &stubJobs{}
	edgar := &fakeEdgar{
		info: &models.CompanyInfo{
			CIK:     testCIK,
			Name:    "Apple Inc.",
			SIC:     "3571",
			Tickers: []string{"AAPL"},
		},
		metas: []models.FilingMeta{
			{CIK: testCIK, AccessionNo: secondK, FormType: "10-K",
				FiledDate: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)},
			{CIK: testCIK, AccessionNo: firstK, FormType: "10-K",
				FiledDate: time.Date(2023, 11, 3, 0, 0, 0, 0, time.UTC)},
		},
		content: map[string]*models.FilingContent{
			firstK: {
				PrimaryURL:  "https://www.sec.gov/Archives/edgar/data/320193/a.htm",
				PrimaryText: "ITEM 1. BUSINESS\nWe sell phones.",
			},
			secondK: {
				PrimaryURL:  "https://www.sec.gov/Archives/edgar/data/320193/b.htm",
				PrimaryText: "ITEM 1. BUSINESS\nWe sell phones and have a material adverse litigation outstanding of $500,000,000.",
			},
		},
	}

	differ := diffengine.NewService(analyze.NewService())
	svc := NewService(stores, edgar, extract.NewService(common.NewSilentLogger()), differ, jobs)
	return svc, stores, edgar, jobs
}

func TestFirstIngest(t *testing.T) {
	svc, stores, _, jobs := newTestService()

	filing, err := svc.IngestFiling(context.Background(), testCIK, firstK, "10-K", false)
	if err != nil {
		t.Fatalf("IngestFiling failed: %v", err)
	}

	if !filing.IsProcessed {
		t.Error("expected filing marked processed")
	}
	if filing.MaterialChanges != 0 {
		t.Errorf("first ingest has no prior filing, expected 0 material changes, got %d", filing.MaterialChanges)
	}
	if len(stores.diffs[filing.ID]) != 0 {
		t.Errorf("expected no diffs on first ingest, got %d", len(stores.diffs[filing.ID]))
	}

	company, _ := stores.CompanyStore().GetByCIK(context.Background(), testCIK)
	if company == nil {
		t.Fatal("expected company created on first ingest")
	}
	if company.Symbol != "AAPL" || company.Name != "Apple Inc." {
		t.Errorf("company header not applied: %+v", company)
	}

	sections := stores.sections[filing.ID]
	if len(sections) != 1 || sections[0].Type != models.SectionBusiness {
		t.Errorf("expected one BUSINESS section, got %+v", sections)
	}

	if got := len(jobs.byType(models.JobTypeAlertFanout)); got != 0 {
		t.Errorf("no material changes, expected no fan-out jobs, got %d", got)
	}
}

func TestSubsequentIngestWithMaterialChange(t *testing.T) {
	svc, stores, _, jobs := newTestService()

	if _, err := svc.IngestFiling(context.Background(), testCIK, firstK, "10-K", false); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}

	filing, err := svc.IngestFiling(context.Background(), testCIK, secondK, "10-K", false)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}

	diffs := stores.diffs[filing.ID]
	if len(diffs) != 1 {
		t.Fatalf("expected exactly one diff, got %d", len(diffs))
	}
	d := diffs[0]
	if d.Section != models.SectionBusiness {
		t.Errorf("expected BUSINESS diff, got %s", d.Section)
	}
	if d.ChangeType != models.ChangeModification {
		t.Errorf("expected MODIFICATION, got %s", d.ChangeType)
	}
	if d.MaterialityScore < 0.9 {
		t.Errorf("expected score >= 0.9 (high keyword + numeric), got %.2f", d.MaterialityScore)
	}
	if filing.MaterialChanges != 1 {
		t.Errorf("expected 1 material change, got %d", filing.MaterialChanges)
	}
	if filing.BusinessChanges != 1 {
		t.Errorf("expected 1 business change, got %d", filing.BusinessChanges)
	}

	fanouts := jobs.byType(models.JobTypeAlertFanout)
	if len(fanouts) != 1 {
		t.Fatalf("expected one fan-out job, got %d", len(fanouts))
	}
	if fanouts[0].DedupKey != "fanout:"+filing.ID {
		t.Errorf("unexpected fan-out dedup key: %s", fanouts[0].DedupKey)
	}
}

func TestAlreadyProcessedShortCircuits(t *testing.T) {
	svc, _, edgar, _ := newTestService()

	if _, err := svc.IngestFiling(context.Background(), testCIK, firstK, "10-K", false); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}
	fetchesAfterFirst := edgar.fetches

	result, err := svc.HandleIngest(context.Background(), &models.Job{
		JobType: models.JobTypeIngest,
		Parameters: map[string]any{
			"cik": testCIK, "accession_no": firstK, "form_type": "10-K",
		},
	})
	if err != nil {
		t.Fatalf("HandleIngest failed: %v", err)
	}
	if result["already"] != true {
		t.Errorf("expected already:true, got %v", result)
	}
	if edgar.fetches != fetchesAfterFirst {
		t.Error("already-processed filing must not be refetched")
	}
}

func TestForceReprocessRefetches(t *testing.T) {
	svc, _, edgar, _ := newTestService()

	if _, err := svc.IngestFiling(context.Background(), testCIK, firstK, "10-K", false); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}
	before := edgar.fetches

	filing, err := svc.IngestFiling(context.Background(), testCIK, firstK, "10-K", true)
	if err != nil {
		t.Fatalf("forced ingest failed: %v", err)
	}
	if edgar.fetches != before+1 {
		t.Error("force must refetch content")
	}
	if !filing.IsProcessed {
		t.Error("expected reprocessed filing marked processed")
	}
}

func TestIngestIdempotent(t *testing.T) {
	svc, stores, _, _ := newTestService()

	if _, err := svc.IngestFiling(context.Background(), testCIK, firstK, "10-K", false); err != nil {
		t.Fatalf("seed ingest failed: %v", err)
	}
	first, _ := svc.IngestFiling(context.Background(), testCIK, secondK, "10-K", false)
	firstDiffs := stores.diffs[first.ID]

	second, err := svc.IngestFiling(context.Background(), testCIK, secondK, "10-K", true)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("reprocess must reuse the filing row: %s != %s", first.ID, second.ID)
	}
	secondDiffs := stores.diffs[second.ID]
	if len(firstDiffs) != len(secondDiffs) {
		t.Fatalf("diff count changed across reprocess: %d != %d", len(firstDiffs), len(secondDiffs))
	}
	for i := range firstDiffs {
		a, b := firstDiffs[i], secondDiffs[i]
		if a.Section != b.Section || a.ChangeType != b.ChangeType ||
			a.BeforeText != b.BeforeText || a.AfterText != b.AfterText ||
			a.MaterialityScore != b.MaterialityScore {
			t.Errorf("diff %d not identical across reprocess", i)
		}
	}
	if first.MaterialChanges != second.MaterialChanges {
		t.Errorf("counters changed across reprocess: %d != %d", first.MaterialChanges, second.MaterialChanges)
	}
}

func TestNotFoundIsTerminalSuccess(t *testing.T) {
	svc, _, _, _ := newTestService()

	result, err := svc.HandleIngest(context.Background(), &models.Job{
		JobType: models.JobTypeIngest,
		Parameters: map[string]any{
			"cik": testCIK, "accession_no": "0000320193-99-000001", "form_type": "10-K",
		},
	})
	if err != nil {
		t.Fatalf("missing filing must complete, not fail: %v", err)
	}
	if result["not_found"] != true {
		t.Errorf("expected not_found:true, got %v", result)
	}
}

func TestInvalidParamsAreValidationErrors(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.IngestFiling(context.Background(), "not-a-cik-at-all-99999999999", firstK, "10-K", false)
	if common.KindOf(err) != common.KindValidation {
		t.Errorf("expected validation error for bad CIK, got %v", err)
	}

	_, err = svc.IngestFiling(context.Background(), testCIK, "12345", "10-K", false)
	if common.KindOf(err) != common.KindValidation {
		t.Errorf("expected validation error for bad accession, got %v", err)
	}
}

func TestPollCompanyEnqueuesNewFilings(t *testing.T) {
	svc, stores, _, jobs := newTestService()

	if _, err := stores.CompanyStore().Upsert(context.Background(), &models.Company{
		CIK:          testCIK,
		Name:         "Apple Inc.",
		IsActive:     true,
		LastPolledAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed company failed: %v", err)
	}

	enqueued, err := svc.PollCompany(context.Background(), testCIK)
	if err != nil {
		t.Fatalf("PollCompany failed: %v", err)
	}
	// Only the 2024 filing is newer than the last poll.
	if enqueued != 1 {
		t.Fatalf("expected 1 new filing enqueued, got %d", enqueued)
	}

	ingests := jobs.byType(models.JobTypeIngest)
	if len(ingests) != 1 {
		t.Fatalf("expected 1 ingest job, got %d", len(ingests))
	}
	wantKey := fmt.Sprintf("ingest:%s:%s", testCIK, secondK)
	if ingests[0].DedupKey != wantKey {
		t.Errorf("dedup key = %s, want %s", ingests[0].DedupKey, wantKey)
	}

	company, _ := stores.CompanyStore().GetByCIK(context.Background(), testCIK)
	if !company.LastPolledAt.After(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected last-polled timestamp advanced")
	}
}

func TestPollCompanyRepeatAbsorbedByDedup(t *testing.T) {
	svc, stores, _, jobs := newTestService()

	if _, err := stores.CompanyStore().Upsert(context.Background(), &models.Company{
		CIK: testCIK, Name: "Apple Inc.", IsActive: true,
	}); err != nil {
		t.Fatalf("seed company failed: %v", err)
	}

	// Repeat polls must not stack duplicate ingests for the same accession.
	if _, err := svc.PollCompany(context.Background(), testCIK); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	if _, err := svc.PollCompany(context.Background(), testCIK); err != nil {
		t.Fatalf("second poll failed: %v", err)
	}

	ingests := jobs.byType(models.JobTypeIngest)
	if len(ingests) != 2 {
		t.Errorf("expected 2 distinct ingest jobs across repeat polls, got %d", len(ingests))
	}
}
