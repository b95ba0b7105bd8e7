package handlers

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/serroba/campaign-attribution/internal/aggregator"
	"github.com/serroba/campaign-attribution/internal/estimator"
	"go.uber.org/zap"
)

// JobsHandler exposes the scheduled jobs to the scheduler.
type JobsHandler struct {
	aggregator *aggregator.Aggregator
	reporter   *estimator.Reporter
	logger     *zap.Logger
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(agg *aggregator.Aggregator, reporter *estimator.Reporter, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{aggregator: agg, reporter: reporter, logger: logger}
}

// Aggregate runs the daily aggregator. A partial run still answers 200 with partial set.
func (h *JobsHandler) Aggregate(ctx context.Context, req *AggregateRequest) (*AggregateResponse, error) {
	from, err := parseTime("from", req.From, false)
	if err != nil {
		return nil, err
	}

	to, err := parseTime("to", req.To, true)
	if err != nil {
		return nil, err
	}

	summary, err := h.aggregator.Run(ctx, aggregator.Request{From: from, To: to, EntityID: req.EntityID})
	if err != nil {
		return nil, toHTTPError(h.logger, err)
	}

	return &AggregateResponse{Body: *summary}, nil
}

func (h *JobsHandler) Estimates(ctx context.Context, req *EstimatesRequest) (*EstimatesResponse, error) {
	w, err := parseWindow(req.From, req.To)
	if err != nil {
		return nil, err
	}

	report, err := h.reporter.Report(ctx, estimator.ReportFilter{TenantID: req.TenantID, Window: w})
	if err != nil {
		return nil, toHTTPError(h.logger, err)
	}

	if req.ReportOnly {
		return &EstimatesResponse{Body: report.Summary}, nil
	}

	var buf bytes.Buffer
	if err := estimator.WriteCSV(&buf, report.Estimates); err != nil {
		return nil, toHTTPError(h.logger, err)
	}

	filename := fmt.Sprintf("source-estimates-%s.csv", time.Now().UTC().Format("20060102-150405"))

	return &EstimatesResponse{
		ContentType:        "text/csv; charset=utf-8",
		ContentDisposition: `attachment; filename="` + filename + `"`,
		Body:               buf.Bytes(),
	}, nil
}
