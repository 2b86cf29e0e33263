package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"omip-curator/apperr"
	"omip-curator/providers"

	"go.uber.org/zap"
)

const (
	serviceName = "parser"
	userAgent   = "omip-curator/1.0"
	maxBodyLog  = 500
)

// userAgentTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type userAgentTransport struct {
	Transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return t.Transport.RoundTrip(req)
}

// Client spricht mit der HTTP-API der Parse-Engine (POST /parse, GET /schemas).
type Client struct {
	baseURL    string
	schema     string
	httpClient *http.Client
	Logger     *zap.Logger
}

var _ providers.Parser = (*Client)(nil)

// NewClient erstellt einen Client für baseURL mit dem OMIP-Schema.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		schema:  "omip",
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &userAgentTransport{Transport: http.DefaultTransport},
		},
		Logger: logger.With(zap.String("provider", serviceName)),
	}
}

// Name gibt den Namen des Providers zurück.
func (c *Client) Name() string {
	return serviceName
}

// Parse lädt das PDF als multipart/form-data hoch und gibt das JSON-Ergebnis zurück.
func (c *Client) Parse(ctx context.Context, doc providers.Document) (json.RawMessage, error) {
	log := c.Logger.With(zap.String("filename", doc.Filename), zap.Int("bytes", len(doc.Data)))

	body, contentType, err := multipartBody(doc, c.schema)
	if err != nil {
		return nil, apperr.NewPermanent(err)
	}

	q := url.Values{}
	q.Set("save_images", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse?"+q.Encode(), body)
	if err != nil {
		return nil, apperr.NewPermanent(err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("Anfrage an Parse-Engine fehlgeschlagen", zap.Error(err))
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.NewTransient(fmt.Errorf("read parser response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("Parse-Engine hat nicht-2xx-Status zurückgegeben",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), maxBodyLog)))
		return nil, &apperr.UpstreamStatusError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxBodyLog),
		}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return nil, apperr.NewPermanent(fmt.Errorf("unexpected content type %q from parser", resp.Header.Get("Content-Type")))
	}
	if !json.Valid(raw) {
		return nil, apperr.NewPermanent(errors.New("parser returned malformed JSON"))
	}

	log.Info("Dokument geparst", zap.Duration("took", time.Since(start)))
	return json.RawMessage(raw), nil
}

// Schemas fragt die verfügbaren Ausgabeschemata ab; dient als Erreichbarkeitsprüfung.
func (c *Client) Schemas(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/schemas", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &apperr.UpstreamStatusError{Service: serviceName, StatusCode: resp.StatusCode}
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode schemas: %w", err)
	}
	return out, nil
}

func multipartBody(doc providers.Document, schema string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := doc.Filename
	if filename == "" {
		filename = "document.pdf"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("schema", schema); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// classifyTransport keeps cancellation permanent and everything else
// (timeouts, refused or reset connections) transient.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return apperr.NewPermanent(err)
	}
	return apperr.NewTransient(fmt.Errorf("%s unreachable: %w", serviceName, err))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
