package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Custom resource types the hook understands.
const (
	ResourceOneTimePassword = "Custom::OneTimePasswordGeneration"
	ResourceSiteURL         = "Custom::SiteURLRetrieval"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Event is a CloudFormation custom resource request.
type Event struct {
	RequestType        string                 `json:"RequestType"`
	ResourceType       string                 `json:"ResourceType"`
	ResponseURL        string                 `json:"ResponseURL"`
	StackID            string                 `json:"StackId"`
	RequestID          string                 `json:"RequestId"`
	LogicalResourceID  string                 `json:"LogicalResourceId"`
	PhysicalResourceID string                 `json:"PhysicalResourceId,omitempty"`
	ResourceProperties map[string]interface{} `json:"ResourceProperties,omitempty"`
}

// Response is the document PUT to the event's ResponseURL.
type Response struct {
	Status             string            `json:"Status"`
	Reason             string            `json:"Reason,omitempty"`
	PhysicalResourceID string            `json:"PhysicalResourceId"`
	StackID            string            `json:"StackId"`
	RequestID          string            `json:"RequestId"`
	LogicalResourceID  string            `json:"LogicalResourceId"`
	Data               map[string]string `json:"Data"`
}

// Hook dispatches custom resource events and reports their outcome.
type Hook struct {
	provisioner *Provisioner
	siteURL     string
	client      *http.Client
	log         *slog.Logger
}

// NewHook creates a hook. siteURL is returned for Custom::SiteURLRetrieval.
func NewHook(provisioner *Provisioner, siteURL string, log *slog.Logger) *Hook {
	return &Hook{
		provisioner: provisioner,
		siteURL:     siteURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
}

// Process handles the event and builds its response. Handler failures
// become a FAILED response with a reason, never an error.
func (h *Hook) Process(ctx context.Context, ev *Event) *Response {
	resp := &Response{
		Status:             StatusFailed,
		PhysicalResourceID: ev.PhysicalResourceID,
		StackID:            ev.StackID,
		RequestID:          ev.RequestID,
		LogicalResourceID:  ev.LogicalResourceID,
		Data:               map[string]string{},
	}
	if resp.PhysicalResourceID == "" {
		resp.PhysicalResourceID = defaultPhysicalID(ev)
	}

	log := h.log.With(slog.String("request_type", ev.RequestType), slog.String("resource_type", ev.ResourceType))
	log.Info("Handling custom resource event")

	switch ev.ResourceType {
	case ResourceOneTimePassword:
		res, err := h.provisioner.Handle(ctx, ev.RequestType)
		if err != nil {
			log.Error("Custom resource event failed", "err", err)
			resp.Reason = fmt.Sprintf("Custom resource event failed: %v", err)
			return resp
		}
		if res.PhysicalResourceID != "" {
			resp.PhysicalResourceID = res.PhysicalResourceID
			resp.Data["PhysicalResourceId"] = res.PhysicalResourceID
		}
		if res.Password != "" {
			resp.Data["Password"] = res.Password
		}
		resp.Status = StatusSuccess

	case ResourceSiteURL:
		if ev.RequestType != RequestDelete {
			resp.Data["URL"] = h.siteURL
		}
		resp.Status = StatusSuccess

	default:
		resp.Reason = fmt.Sprintf("Unknown resource type %s", ev.ResourceType)
	}

	return resp
}

func defaultPhysicalID(ev *Event) string {
	if name, ok := ev.ResourceProperties["StackName"].(string); ok && name != "" {
		return name + "-" + ev.LogicalResourceID
	}
	return ev.LogicalResourceID
}

// Run processes the event and delivers the response to its ResponseURL.
func (h *Hook) Run(ctx context.Context, ev *Event) (*Response, error) {
	resp := h.Process(ctx, ev)
	if err := h.send(ctx, ev.ResponseURL, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (h *Hook) send(ctx context.Context, url string, resp *Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid response URL: %w", err)
	}
	// Presigned response URLs are signed without a content type, so none is set
	req.ContentLength = int64(len(body))

	res, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send custom resource response: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	h.log.Info("Sent custom resource response", slog.String("status", resp.Status), slog.Int("http_status", res.StatusCode))
	if res.StatusCode >= 300 {
		return fmt.Errorf("custom resource response rejected: %s", res.Status)
	}
	return nil
}
