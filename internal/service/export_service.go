package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ludo-moderation-api/internal/dto"
	"github.com/noah-isme/ludo-moderation-api/internal/models"
	appErrors "github.com/noah-isme/ludo-moderation-api/pkg/errors"
	"github.com/noah-isme/ludo-moderation-api/pkg/export"
)

type exportStore interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.ModerationRequest, error)
}

type csvRenderer interface {
	Render(data export.Table) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Table, title string) ([]byte, error)
}

// ExportResult carries a rendered document and its HTTP metadata.
type ExportResult struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ExportService renders moderation history as downloadable documents.
type ExportService struct {
	repo   exportStore
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(repo exportStore, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{repo: repo, csv: csv, pdf: pdf, logger: logger}
}

var historyHeaders = []string{"ID", "Kind", "User", "Amount", "Status", "Settlement", "Attempts", "Decided By", "Decided At", "Created At"}

// ExportHistory renders the request history matching the query in the
// requested format (csv or pdf).
func (s *ExportService) ExportHistory(ctx context.Context, query dto.RequestQuery, format string) (*ExportResult, error) {
	requests, err := s.repo.List(ctx, models.RequestFilter{
		Kind:   query.Kind,
		Status: query.Status,
		UserID: query.UserID,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load request history")
	}

	table := export.Table{Headers: historyHeaders, Rows: make([]map[string]string, 0, len(requests))}
	for _, req := range requests {
		table.Rows = append(table.Rows, historyRow(req))
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	switch strings.ToLower(format) {
	case "csv":
		data, err := s.csv.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{Data: data, ContentType: "text/csv", Filename: fmt.Sprintf("moderation-history-%s.csv", stamp)}, nil
	case "pdf":
		data, err := s.pdf.Render(table, "Moderation History")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{Data: data, ContentType: "application/pdf", Filename: fmt.Sprintf("moderation-history-%s.pdf", stamp)}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func historyRow(req models.ModerationRequest) map[string]string {
	row := map[string]string{
		"ID":         req.ID,
		"Kind":       string(req.Kind),
		"User":       req.UserID,
		"Amount":     strconv.FormatInt(req.Amount, 10),
		"Status":     string(req.Status),
		"Created At": req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if req.Kind == models.RequestKindPayment {
		row["Settlement"] = string(req.SettlementState)
		row["Attempts"] = strconv.Itoa(req.SettlementAttempts)
	}
	if req.DecidedBy != nil {
		row["Decided By"] = *req.DecidedBy
	}
	if req.DecidedAt != nil {
		row["Decided At"] = req.DecidedAt.UTC().Format(time.RFC3339)
	}
	return row
}
