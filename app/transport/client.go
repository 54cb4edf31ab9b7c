// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the HTTP client for the media server: the
// multipart transfer call and the low-cost health probe. It owns status-code
// classification into error kinds; retry scheduling lives upstream in the
// orchestrator.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"github.com/nstephens/glowworm/app/config"
)

const (
	mediaAPIPath  = "/api/v1/media"
	healthAPIPath = "/api/v1/health"

	// responses are drained up to this many bytes when extracting an error
	// message
	maxErrorBodyBytes = 4096
)

// UploadRequest is the transfer submission for one file.
type UploadRequest struct {
	FileName    string
	MimeType    string
	Data        []byte
	AlbumID     string
	Tags        []string
	Title       string
	Description string
}

// UploadResult is the server-confirmed outcome of a successful transfer.
type UploadResult struct {
	RemoteID string `json:"id"`
	URL      string `json:"url"`
}

// ProgressFunc receives upload progress as a percentage in [0,100].
type ProgressFunc func(percent int)

// Uploader is the transfer collaborator contract the orchestrator depends
// on. The HTTP client below is the production implementation; tests use
// fakes.
type Uploader interface {
	Upload(ctx context.Context, req *UploadRequest, progress ProgressFunc) (*UploadResult, error)
}

// HealthProber performs one health probe, returning the observed round-trip
// latency.
type HealthProber interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// Client talks to the media server.
type Client struct {
	settings   *config.Settings
	HTTPClient *retryablehttp.Client
}

// NewClient creates the media server client.
func NewClient(ctx context.Context, settings *config.Settings) *Client {
	return &Client{
		settings:   settings,
		HTTPClient: NewHTTPClient(ctx, settings),
	}
}

var (
	_ Uploader     = (*Client)(nil)
	_ HealthProber = (*Client)(nil)
)

// Upload submits one file as a multipart request. A non-nil progress
// callback observes body consumption; it is guaranteed a final 100 only on
// success.
func (c *Client) Upload(ctx context.Context, req *UploadRequest, progress ProgressFunc) (*UploadResult, error) {
	base, err := c.settings.GetRemoteAPIBase()
	if err != nil {
		return nil, fmt.Errorf("failed to get the remote API base: %w", err)
	}
	base.Path += mediaAPIPath

	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode the multipart body: %w", err)
	}

	var reader io.Reader = bytes.NewReader(body)
	if progress != nil {
		reader = &progressReader{r: reader, total: int64(len(body)), fn: progress}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create the upload HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.settings.GetAPIKey())
	httpReq.ContentLength = int64(len(body))

	// the body streams through the progress reader, so bypass the retryable
	// wrapper (it buffers plain readers to make them rewindable) and go to
	// the underlying client; one attempt maps to one request either way
	resp, err := c.HTTPClient.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &TransferError{Kind: Classify(err), Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransferError{
			Kind:    KindFromStatus(resp.StatusCode),
			Message: readErrorMessage(resp),
		}
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to decode the upload response body")
		// the server accepted the file; an unreadable body is not a transfer
		// failure
		result = UploadResult{}
	}

	if progress != nil {
		progress(100)
	}
	return &result, nil
}

// Probe issues one GET against the health endpoint. The caller supplies the
// deadline through ctx.
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	base, err := c.settings.GetRemoteAPIBase()
	if err != nil {
		return 0, fmt.Errorf("failed to get the remote API base: %w", err)
	}
	base.Path += healthAPIPath

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create the probe HTTP request: %w", err)
	}

	started := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	latency := time.Since(started)
	if err != nil {
		return latency, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode != http.StatusOK {
		return latency, &TransferError{
			Kind:    KindFromStatus(resp.StatusCode),
			Message: fmt.Sprintf("health probe returned status %d", resp.StatusCode),
		}
	}
	return latency, nil
}

func encodeMultipart(req *UploadRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"mime_type":   req.MimeType,
		"album_id":    req.AlbumID,
		"tags":        strings.Join(req.Tags, ","),
		"title":       req.Title,
		"description": req.Description,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func readErrorMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}

	// the server reports errors as {"error": "..."} but plain text happens
	// on proxies
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(raw))
}

// progressReader reports consumption of the request body as a percentage.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    ProgressFunc
	last  int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		pct := int(p.read * 100 / p.total)
		if pct > 99 {
			// hold the final percent for the confirmed response
			pct = 99
		}
		if pct != p.last {
			p.last = pct
			p.fn(pct)
		}
	}
	return n, err
}
