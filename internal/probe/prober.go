package probe

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/statuswatch/statuswatch/internal/registry"
	"github.com/statuswatch/statuswatch/internal/status"
)

// Prober runs a single health check against one service. Implementations
// never return an error; ordinary failures map to degraded/down/unknown in
// the resulting status.
type Prober interface {
	Probe(ctx context.Context, descriptor registry.Descriptor) status.ServiceStatus
}

// HTTPProber checks services with a GET against their configured URL+path.
type HTTPProber struct {
	logger   zerolog.Logger
	client   *retryablehttp.Client
	insecure *retryablehttp.Client
}

// NewHTTPProber builds an HTTP prober. Retries are disabled: the scheduler
// already re-probes on every cycle, so a failed check should surface
// immediately rather than blur the cycle's timing.
func NewHTTPProber(logger zerolog.Logger) *HTTPProber {
	return &HTTPProber{
		logger:   logger,
		client:   newProbeClient(nil),
		insecure: newProbeClient(&tls.Config{InsecureSkipVerify: true}),
	}
}

func newProbeClient(tlsConfig *tls.Config) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	client.HTTPClient = &http.Client{Transport: transport}

	return client
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, descriptor registry.Descriptor) status.ServiceStatus {
	result := baseStatus(descriptor)
	result.CheckedAt = time.Now().UTC()

	target, err := probeURL(descriptor)
	if err != nil {
		p.logger.Warn().Str("service", descriptor.ID).Err(err).Msg("invalid probe url")
		result.Status = status.StatusUnknown
		return result
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		p.logger.Warn().Str("service", descriptor.ID).Err(err).Msg("build probe request")
		result.Status = status.StatusUnknown
		return result
	}

	client := p.client
	if descriptor.InsecureSkipVerify {
		client = p.insecure
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		p.logger.Debug().Str("service", descriptor.ID).Err(err).Msg("probe transport failure")
		result.Status = status.StatusDown
		return result
	}
	defer resp.Body.Close()

	latency := time.Since(started).Milliseconds()
	result.LatencyMS = &latency
	result.Status = classify(resp.StatusCode, descriptor.HealthyStatusCodes)
	return result
}

func classify(code int, healthyCodes []int) status.Status {
	for _, healthy := range healthyCodes {
		if code == healthy {
			return status.StatusHealthy
		}
	}
	if code >= http.StatusInternalServerError {
		return status.StatusDown
	}
	return status.StatusDegraded
}

func probeURL(descriptor registry.Descriptor) (string, error) {
	base, err := url.Parse(descriptor.URL)
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", &url.Error{Op: "probe", URL: descriptor.URL, Err: errMissingSchemeOrHost}
	}
	joined := base.JoinPath(descriptor.Path)
	return joined.String(), nil
}

var errMissingSchemeOrHost = &missingSchemeOrHostError{}

type missingSchemeOrHostError struct{}

func (*missingSchemeOrHostError) Error() string { return "url must include scheme and host" }

func baseStatus(descriptor registry.Descriptor) status.ServiceStatus {
	return status.ServiceStatus{
		ID:          descriptor.ID,
		Name:        descriptor.Name,
		Group:       descriptor.Group,
		Status:      status.StatusUnknown,
		URL:         descriptor.URL,
		Description: descriptor.Description,
		Icon:        descriptor.Icon,
	}
}
