package datadog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// DEFAULT_AGENT_ENDPOINT is where a locally running trace-agent listens.
	DEFAULT_AGENT_ENDPOINT = "http://127.0.0.1:8126"

	// DEFAULT_SERVICE_NAME is used when no service is configured.
	DEFAULT_SERVICE_NAME = "OpenTelemetry"
)

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// HTTPClient is the outbound transport used to reach the agent. It is
// satisfied by *http.Client; callers with their own connection discipline can
// plug in anything that can execute a request.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Exporter sends completed spans to a Datadog trace-agent. Its configuration
// is fixed at construction; concurrent ExportSpans calls are independent and
// share nothing but the HTTP client.
type Exporter struct {
	client      HTTPClient
	requestUrl  string
	serviceName string
	version     ApiVersion
	logger      *Logger
}

type config struct {
	serviceName   string
	agentEndpoint string
	version       ApiVersion
	client        HTTPClient
}

// Option overrides one construction default of the Exporter.
type Option func(*config)

// WithServiceName assigns the service name under which to group traces.
func WithServiceName(name string) Option {
	return func(c *config) { c.serviceName = name }
}

// WithAgentEndpoint assigns the base URL of the trace-agent, without the
// version path suffix.
func WithAgentEndpoint(endpoint string) Option {
	return func(c *config) { c.agentEndpoint = endpoint }
}

// WithApiVersion selects the ingestion API the payload is encoded for.
func WithApiVersion(version ApiVersion) Option {
	return func(c *config) { c.version = version }
}

// WithHTTPClient replaces the default http.DefaultClient.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *config) { c.client = client }
}

// New builds an Exporter from the defaults and the given options, validating
// the endpoint once so no partially-configured exporter can exist.
func New(opts ...Option) (*Exporter, error) {
	cfg := config{
		serviceName:   DEFAULT_SERVICE_NAME,
		agentEndpoint: DEFAULT_AGENT_ENDPOINT,
		version:       Version05,
		client:        http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(cfg.agentEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid agent endpoint %q: %w", cfg.agentEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid agent endpoint %q: expected an absolute http(s) URL", cfg.agentEndpoint)
	}

	return &Exporter{
		client:      cfg.client,
		requestUrl:  strings.TrimSuffix(cfg.agentEndpoint, "/") + cfg.version.Path(),
		serviceName: cfg.serviceName,
		version:     cfg.version,
		logger:      newLogger(),
	}, nil
}

// ExportSpans encodes the batch into the configured API version's payload
// and POSTs it to the agent.
//
// This function is called synchronously by the SDK, so there is no
// concurrency safety requirement, but timeouts and cancellations contained
// in the passed context must be honored.
//
// A batch either fully encodes and sends or the whole export fails; there is
// no per-span granularity and no retry. Encoding failures mean the data
// cannot be represented in the wire format, and the SDK treats every error
// returned here as unrecoverable, so failures of both kinds surface as one
// opaque error per call.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	payload, err := e.version.Encode(e.serviceName, spans)
	if err != nil {
		e.logger.error("failed to encode spans:", err)
		return fmt.Errorf("failed to encode spans: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.requestUrl, bytes.NewReader(payload))
	if err != nil {
		e.logger.error("failed to build agent request:", err)
		return fmt.Errorf("failed to build agent request: %w", err)
	}
	req.Header.Set("Content-Type", e.version.ContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.error("failed to send spans to the agent:", err)
		return fmt.Errorf("failed to send spans to the agent: %w", err)
	}
	defer resp.Body.Close()
	// the response body is never parsed, but draining it keeps the
	// connection reusable
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.logger.error("agent rejected the payload with status", resp.StatusCode)
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	e.logger.debug("exported", len(spans), "spans to", e.requestUrl)
	return nil
}

// Shutdown notifies the exporter of a pending halt to operations. The
// exporter holds no resources of its own, so there is nothing to release; a
// cancelled context is still honored.
func (e *Exporter) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// InstallNewPipeline builds an Exporter, wraps it in a batching
// TracerProvider and registers that provider as the otel global. Additional
// provider options (sampler, id generator, resource) are passed through to
// the SDK unmodified. The returned provider must be shut down by the caller
// to flush pending spans.
func InstallNewPipeline(opts []Option, tpOpts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	exporter, err := New(opts...)
	if err != nil {
		return nil, err
	}

	tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}
