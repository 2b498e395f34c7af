// Package ingest orchestrates the filing pipeline: fetch from EDGAR, upsert
// the company, extract sections, diff against the previous comparable filing,
// and persist the processed snapshot in one transaction.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// materialThreshold is the score at or above which a diff counts as material
// and triggers alert fan-out.
const materialThreshold = 0.7

// Service implements the IngestService interface.
type Service struct {
	storage    interfaces.StorageManager
	edgar      interfaces.EdgarClient
	extractor  interfaces.ExtractService
	differ     interfaces.DiffService
	jobs       interfaces.JobManager
	summarizer interfaces.SummaryClient
	logger     *common.Logger
	now        func() time.Time
}

// Option configures the ingest service.
type Option func(*Service)

// WithSummarizer attaches an optional filing summarizer. Summarization
// failures are logged and never fail ingestion.
func WithSummarizer(client interfaces.SummaryClient) Option {
	return func(s *Service) {
		s.summarizer = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the ingestion workflow.
func NewService(storage interfaces.StorageManager, edgar interfaces.EdgarClient, extractor interfaces.ExtractService, differ interfaces.DiffService, jobs interfaces.JobManager, opts ...Option) *Service {
	s := &Service{
		storage:   storage,
		edgar:     edgar,
		extractor: extractor,
		differ:    differ,
		jobs:      jobs,
		logger:    common.NewSilentLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestFiling runs the full pipeline for one accession number.
func (s *Service) IngestFiling(ctx context.Context, cik, accessionNo, formType string, force bool) (*models.Filing, error) {
	filing, _, err := s.ingest(ctx, cik, accessionNo, formType, force, true)
	return filing, err
}

// ingest is the pipeline core. The already flag reports a processed filing
// that was skipped without refetching.
func (s *Service) ingest(ctx context.Context, cik, accessionNo, formType string, force, generateAlerts bool) (*models.Filing, bool, error) {
	normCIK := models.NormalizeCIK(cik)
	if normCIK == "" {
		return nil, false, common.NewError(common.KindValidation, "invalid CIK: "+cik)
	}
	normAcc := models.NormalizeAccession(accessionNo)
	if normAcc == "" {
		return nil, false, common.NewError(common.KindValidation, "invalid accession number: "+accessionNo)
	}

	existing, err := s.storage.FilingStore().GetByAccession(ctx, normCIK, normAcc)
	if err != nil && common.KindOf(err) != common.KindNotFound {
		return nil, false, err
	}
	if existing != nil && existing.IsProcessed && !force {
		s.logger.Debug().
			Str("cik", normCIK).
			Str("accession_no", normAcc).
			Msg("Filing already processed, skipping")
		return existing, true, nil
	}

	info, metas, err := s.edgar.GetSubmissions(ctx, normCIK)
	if err != nil {
		return nil, false, err
	}

	content, err := s.edgar.GetFilingContent(ctx, normCIK, normAcc)
	if err != nil {
		return nil, false, err
	}

	meta := findMeta(metas, normAcc)
	if formType == "" && meta != nil {
		formType = meta.FormType
	}

	company, err := s.upsertCompany(ctx, info)
	if err != nil {
		return nil, false, err
	}

	filing := &models.Filing{
		CompanyID:   company.ID,
		CIK:         normCIK,
		AccessionNo: normAcc,
		FormType:    formType,
		URL:         content.PrimaryURL,
		RawContent:  content.PrimaryText,
	}
	if existing != nil {
		filing.ID = existing.ID
		filing.CreatedAt = existing.CreatedAt
	}
	if meta != nil {
		filing.FiledDate = meta.FiledDate
		filing.ReportDate = meta.ReportDate
	}
	if filing.FiledDate.IsZero() {
		filing.FiledDate = s.now()
	}

	filing, err = s.storage.FilingStore().Save(ctx, filing)
	if err != nil {
		return nil, false, err
	}

	sections := s.extractor.ExtractSections(filing.FormType, filing.RawContent)
	for i := range sections {
		sections[i].FilingID = filing.ID
	}

	previous, prevSections, err := s.previousComparable(ctx, filing)
	if err != nil {
		return nil, false, err
	}

	comparison := s.differ.CompareFilings(filing, previous, sections, prevSections)

	var diffs []models.Diff
	if previous != nil {
		diffs = diffsFrom(comparison, filing.ID, previous.ID)
	}
	applyCounters(filing, comparison, previous != nil)

	s.summarize(ctx, filing, comparison)

	if err := s.storage.FilingStore().SaveProcessed(ctx, filing, sections, diffs); err != nil {
		return nil, false, err
	}

	s.logger.Info().
		Str("cik", normCIK).
		Str("accession_no", normAcc).
		Str("form_type", filing.FormType).
		Int("sections", len(sections)).
		Int("diffs", len(diffs)).
		Int("material_changes", filing.MaterialChanges).
		Msg("Filing ingested")

	if generateAlerts && filing.MaterialChanges > 0 {
		s.enqueueFanout(ctx, filing.ID)
	}

	return filing, false, nil
}

// upsertCompany creates or refreshes the company record from the EDGAR
// submissions header.
func (s *Service) upsertCompany(ctx context.Context, info *models.CompanyInfo) (*models.Company, error) {
	company := &models.Company{
		CIK:      models.NormalizeCIK(info.CIK),
		Symbol:   info.PrimaryTicker(),
		Name:     info.Name,
		SIC:      info.SIC,
		Industry: info.SICDescription,
		IsActive: true,
	}
	return s.storage.CompanyStore().Upsert(ctx, company)
}

// previousComparable finds the latest prior filing of a comparable form and
// loads its sections. 10-Q filings fall back to the last 10-K when no prior
// 10-Q exists.
func (s *Service) previousComparable(ctx context.Context, filing *models.Filing) (*models.Filing, []models.Section, error) {
	formTypes := []string{filing.FormType}
	if filing.FormType == models.Form10Q {
		formTypes = append(formTypes, models.Form10K)
	}

	previous, err := s.storage.FilingStore().PreviousComparable(ctx, filing.CompanyID, formTypes, filing.FiledDate)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if previous == nil || previous.ID == filing.ID {
		return nil, nil, nil
	}

	prevSections, err := s.storage.FilingStore().GetSections(ctx, previous.ID)
	if err != nil {
		return nil, nil, err
	}
	return previous, prevSections, nil
}

// summarize attaches an optional AI summary. Never fails the pipeline.
func (s *Service) summarize(ctx context.Context, filing *models.Filing, comparison *models.Comparison) {
	if s.summarizer == nil {
		return
	}
	summary, highlights, err := s.summarizer.SummarizeFiling(ctx, filing, comparison)
	if err != nil {
		s.logger.Warn().
			Str("accession_no", filing.AccessionNo).
			Err(err).
			Msg("Filing summarization failed, continuing without summary")
		return
	}
	filing.Summary = summary
	filing.KeyHighlights = highlights
}

// enqueueFanout queues alert fan-out for a material filing. Fan-out runs as
// its own job so its failures never block ingestion.
func (s *Service) enqueueFanout(ctx context.Context, filingID string) {
	params, err := models.EncodeParams(models.AlertFanoutParams{FilingID: filingID})
	if err != nil {
		s.logger.Warn().Str("filing_id", filingID).Err(err).Msg("Failed to encode fan-out parameters")
		return
	}
	if _, err := s.jobs.Submit(ctx, &models.Job{
		JobType:    models.JobTypeAlertFanout,
		Parameters: params,
		DedupKey:   "fanout:" + filingID,
	}); err != nil {
		s.logger.Warn().Str("filing_id", filingID).Err(err).Msg("Failed to enqueue alert fan-out")
	}
}

// PollCompany checks EDGAR for filings newer than the company's last poll
// and enqueues one INGEST job per new filing.
func (s *Service) PollCompany(ctx context.Context, cik string) (int, error) {
	normCIK := models.NormalizeCIK(cik)
	if normCIK == "" {
		return 0, common.NewError(common.KindValidation, "invalid CIK: "+cik)
	}

	company, err := s.storage.CompanyStore().GetByCIK(ctx, normCIK)
	if err != nil && common.KindOf(err) != common.KindNotFound {
		return 0, err
	}

	var since time.Time
	if company != nil {
		since = company.LastPolledAt
	}

	opts := []interfaces.FilingOption{}
	if !since.IsZero() {
		opts = append(opts, interfaces.WithAfter(since))
	}
	metas, err := s.edgar.GetFilings(ctx, normCIK, opts...)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, meta := range metas {
		if !monitoredForm(meta.FormType) {
			continue
		}
		params, err := models.EncodeParams(models.IngestParams{
			CIK:            normCIK,
			AccessionNo:    meta.AccessionNo,
			FormType:       meta.FormType,
			GenerateAlerts: true,
		})
		if err != nil {
			continue
		}
		if _, err := s.jobs.Submit(ctx, &models.Job{
			JobType:    models.JobTypeIngest,
			Parameters: params,
			DedupKey:   fmt.Sprintf("ingest:%s:%s", normCIK, meta.AccessionNo),
		}); err != nil {
			s.logger.Warn().
				Str("cik", normCIK).
				Str("accession_no", meta.AccessionNo).
				Err(err).
				Msg("Failed to enqueue ingest")
			continue
		}
		enqueued++
	}

	if err := s.storage.CompanyStore().SetLastPolled(ctx, normCIK, s.now()); err != nil {
		s.logger.Warn().Str("cik", normCIK).Err(err).Msg("Failed to advance last-polled timestamp")
	}

	s.logger.Debug().
		Str("cik", normCIK).
		Int("new_filings", enqueued).
		Msg("Company polled")
	return enqueued, nil
}

// monitoredForm reports whether a form type flows through ingestion.
func monitoredForm(formType string) bool {
	switch formType {
	case models.Form10K, models.Form10Q, models.Form8K:
		return true
	}
	return false
}

// findMeta locates the submissions entry for an accession number.
func findMeta(metas []models.FilingMeta, accessionNo string) *models.FilingMeta {
	for i := range metas {
		if metas[i].AccessionNo == accessionNo {
			return &metas[i]
		}
	}
	return nil
}

// diffsFrom materializes persistent diff records from a comparison. Only
// changed sections are stored.
func diffsFrom(comparison *models.Comparison, filingID, previousID string) []models.Diff {
	var diffs []models.Diff
	for _, sc := range comparison.Sections {
		if sc.ChangeType == models.ChangeUnchanged {
			continue
		}
		diffs = append(diffs, models.Diff{
			FilingID:         filingID,
			PreviousFilingID: previousID,
			Section:          sc.Section,
			ChangeType:       sc.ChangeType,
			Summary:          sc.Summary,
			Impact:           sc.Significance,
			MaterialityScore: sc.Score,
			BeforeText:       sc.OldContent,
			AfterText:        sc.NewContent,
			LineNumber:       sc.LineNumber,
		})
	}
	return diffs
}

// applyCounters recomputes the filing's change counters from a comparison.
// A first filing with no prior comparable has zero everywhere.
func applyCounters(filing *models.Filing, comparison *models.Comparison, hasPrevious bool) {
	filing.MaterialChanges = 0
	filing.RiskFactorChanges = 0
	filing.BusinessChanges = 0
	filing.IsProcessed = true

	if !hasPrevious {
		return
	}

	for _, sc := range comparison.Sections {
		if sc.ChangeType == models.ChangeUnchanged {
			continue
		}
		if sc.Score >= materialThreshold {
			filing.MaterialChanges++
		}
		switch sc.Section {
		case models.SectionRiskFactors:
			filing.RiskFactorChanges++
		case models.SectionBusiness:
			filing.BusinessChanges++
		}
	}
}

// Ensure Service implements IngestService
var _ interfaces.IngestService = (*Service)(nil)
