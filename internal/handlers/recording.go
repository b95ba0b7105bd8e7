package handlers

import (
	"context"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/recorder"
	"go.uber.org/zap"
)

// RecordingHandler accepts landing page visits and registrations.
type RecordingHandler struct {
	recorder *recorder.Recorder
	logger   *zap.Logger
}

// NewRecordingHandler creates a recording handler.
func NewRecordingHandler(rec *recorder.Recorder, logger *zap.Logger) *RecordingHandler {
	return &RecordingHandler{recorder: rec, logger: logger}
}

// RecordVisit is public; the target's tenant owns the row.
func (h *RecordingHandler) RecordVisit(ctx context.Context, req *RecordVisitRequest) (*RecordVisitResponse, error) {
	meta := RequestMetaFromContext(ctx)

	referrer := req.Body.Referrer
	if referrer == "" {
		referrer = meta.Referrer
	}

	session := req.Body.SessionID
	if session == "" {
		session = req.SessionCookie
	}

	if session == "" {
		return nil, huma.Error400BadRequest("session_id is required")
	}

	entry, err := h.recorder.RecordVisit(ctx, recorder.VisitInput{
		TargetID:  req.TargetID,
		SessionID: session,
		LinkID:    req.Body.LinkID,
		CID:       req.Body.CID,
		UTM:       req.Body.UTM,
		Referrer:  referrer,
		UserAgent: meta.UserAgent,
		ClientIP:  meta.ClientIP,
		Source:    campaign.SourceLanding,
	})
	if err != nil {
		return nil, hideForeign(h.logger, err)
	}

	resp := &RecordVisitResponse{}
	resp.Body.ID = entry.ID

	return resp, nil
}

func (h *RecordingHandler) RecordConversion(
	ctx context.Context,
	req *RecordConversionRequest,
) (*RecordConversionResponse, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	var payload json.RawMessage
	if req.Body.Payload != nil {
		payload, err = json.Marshal(req.Body.Payload)
		if err != nil {
			return nil, huma.Error400BadRequest("payload is not serializable")
		}
	}

	in := recorder.ConversionInput{
		TenantID:  p.TenantID,
		TargetID:  req.TargetID,
		LinkID:    req.Body.LinkID,
		SessionID: req.Body.SessionID,
		Contact:   campaign.Contact{Email: req.Body.Email, Name: req.Body.Name, Phone: req.Body.Phone},
		Payload:   payload,
	}

	attr := campaign.Attribution{CID: req.Body.CID, UTM: req.Body.UTM.Normalize(), Referrer: req.Body.Referrer}
	if attr != (campaign.Attribution{}) {
		in.Attribution = &attr
	}

	conv, err := h.recorder.RecordConversion(ctx, in)
	if err != nil {
		return nil, toHTTPError(h.logger, err)
	}

	resp := &RecordConversionResponse{}
	resp.Body.ID = conv.ID
	resp.Body.TargetID = conv.TargetID
	resp.Body.LinkID = conv.LinkID
	resp.Body.CreatedAt = conv.CreatedAt

	return resp, nil
}
