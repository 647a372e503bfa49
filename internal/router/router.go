// Package router implements the gateway orchestration: rate limiting,
// registry lookup, breaker-guarded forwarding, and result event publishing,
// with the correlation context propagated end to end.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/astra-platform/backbone/internal/apperr"
	"github.com/astra-platform/backbone/internal/breaker"
	"github.com/astra-platform/backbone/internal/config"
	"github.com/astra-platform/backbone/internal/correlation"
	"github.com/astra-platform/backbone/internal/eventlog"
	"github.com/astra-platform/backbone/internal/httputil"
	"github.com/astra-platform/backbone/internal/logging"
	"github.com/astra-platform/backbone/internal/metrics"
	"github.com/astra-platform/backbone/internal/ratelimit"
	"github.com/astra-platform/backbone/internal/registry"
)

// CallerHeader carries the caller identity used for quota bucketing.
const CallerHeader = "X-Caller-ID"

// Registry is the instance directory surface the router needs.
type Registry interface {
	ListHealthy(serviceName string) []registry.Registration
}

// Publisher is the event log surface the router needs.
type Publisher interface {
	Publish(ctx context.Context, topic, partitionKey string, payload []byte) (eventlog.Envelope, error)
}

// Router routes inbound gateway requests to domain services.
type Router struct {
	cfg      config.GatewayConfig
	services *config.ServicesConfig
	registry Registry
	policy   registry.Policy
	bank     *breaker.Bank
	limiter  *ratelimit.Limiter
	events   Publisher
	client   *httputil.Client
	log      *logging.Logger
}

// New wires a router from its explicit dependencies.
func New(
	cfg config.GatewayConfig,
	services *config.ServicesConfig,
	reg Registry,
	policy registry.Policy,
	bank *breaker.Bank,
	limiter *ratelimit.Limiter,
	events Publisher,
	client *httputil.Client,
	logger *logging.Logger,
) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	if policy == nil {
		policy = registry.NewRoundRobin()
	}
	if client == nil {
		client = httputil.NewClient()
	}
	return &Router{
		cfg:      cfg,
		services: services,
		registry: reg,
		policy:   policy,
		bank:     bank,
		limiter:  limiter,
		events:   events,
		client:   client,
		log:      logger.Component("router"),
	}
}

// ServeHTTP handles one inbound request: correlation, quotas, resolution,
// breaker-guarded call, result event, response. Every step is bounded by
// the per-request timeout.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, corrID := correlation.Ensure(extractCorrelation(r))
	w.Header().Set(correlation.Header, corrID)

	ctx, cancel := context.WithTimeout(ctx, rt.cfg.RequestTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	// Request logging happens in the correlation middleware, which wraps
	// every route including this one.
	rt.handle(ctx, w, r)
}

func (rt *Router) handle(ctx context.Context, w http.ResponseWriter, r *http.Request) int {
	domain, rest := splitDomain(r.URL.Path)
	if domain == "" {
		return rt.writeError(ctx, w, apperr.BadRequest("request path must start with a domain segment"))
	}
	serviceName, settings, ok := rt.services.ByDomain(domain)
	if !ok {
		return rt.writeError(ctx, w, &apperr.Error{
			Code:       apperr.CodeServiceUnavailable,
			Message:    fmt.Sprintf("no service registered for domain %q", domain),
			HTTPStatus: http.StatusNotFound,
		})
	}

	caller := rt.callerIdentity(r)
	if !rt.limiter.Allow("caller:"+caller, rt.cfg.CallerLimit, rt.cfg.CallerWindow) {
		metrics.RecordRateLimitRejection("caller")
		rt.log.LogSecurityEvent(ctx, "rate_limit_exceeded", map[string]any{
			"scope": "caller", "key": caller, "path": r.URL.Path,
		})
		metrics.RecordRoutedRequest(serviceName, apperr.CodeRateLimited)
		return rt.writeError(ctx, w, apperr.RateLimited("caller "+caller, rt.cfg.CallerLimit, rt.cfg.CallerWindow))
	}
	if !rt.limiter.Allow("service:"+serviceName, rt.cfg.ServiceLimit, rt.cfg.ServiceWindow) {
		metrics.RecordRateLimitRejection("service")
		metrics.RecordRoutedRequest(serviceName, apperr.CodeRateLimited)
		return rt.writeError(ctx, w, apperr.RateLimited("service "+serviceName, rt.cfg.ServiceLimit, rt.cfg.ServiceWindow))
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		return rt.writeError(ctx, w, apperr.BadRequest("unreadable request body"))
	}

	baseURL, usingFallback := rt.resolve(ctx, serviceName, settings)
	if baseURL == "" {
		metrics.RecordRoutedRequest(serviceName, apperr.CodeServiceUnavailable)
		return rt.writeError(ctx, w, apperr.ServiceUnavailable(serviceName))
	}
	if usingFallback {
		// Degraded mode: the fallback responder is not guarded by the
		// real service's breaker.
		return rt.forward(ctx, w, r, serviceName, settings, baseURL, rest, body, nil)
	}

	br := rt.bank.For(serviceName)
	if err := br.Allow(); err != nil {
		if settings.FallbackURL != "" {
			return rt.forward(ctx, w, r, serviceName, settings, settings.FallbackURL, rest, body, nil)
		}
		metrics.RecordRoutedRequest(serviceName, apperr.CodeCircuitOpen)
		return rt.writeError(ctx, w, apperr.CircuitOpen(serviceName))
	}

	return rt.forward(ctx, w, r, serviceName, settings, baseURL, rest, body, br)
}

// forward calls the downstream, reports the outcome to the breaker when one
// guards the call, publishes the result event, and relays the response.
func (rt *Router) forward(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	serviceName string,
	settings *config.ServiceSettings,
	baseURL, path string,
	body []byte,
	br *breaker.Breaker,
) int {
	resp, err := rt.client.Forward(ctx, baseURL, r.Method, path, r.URL.RawQuery, r.Header, body)
	if err != nil {
		if br != nil {
			br.RecordFailure()
		}
		if errors.Is(err, httputil.ErrTimeout) {
			metrics.RecordRoutedRequest(serviceName, apperr.CodeUpstreamTimeout)
			return rt.writeError(ctx, w, apperr.UpstreamTimeout(serviceName, rt.cfg.RequestTimeout))
		}
		metrics.RecordRoutedRequest(serviceName, apperr.CodeServiceUnavailable)
		return rt.writeError(ctx, w, apperr.ServiceUnavailable(serviceName).WithCause(err))
	}

	if br != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			br.RecordFailure()
		} else {
			br.RecordSuccess()
		}
	}

	if resp.StatusCode < http.StatusBadRequest {
		rt.publishResult(ctx, serviceName, settings, r, resp)
	}

	metrics.RecordRoutedRequest(serviceName, outcomeForStatus(resp.StatusCode))
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
	return resp.StatusCode
}

// outcomeForStatus maps a relayed downstream status to the routed-request
// outcome label.
func outcomeForStatus(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "upstream_error"
	case status >= http.StatusBadRequest:
		return "client_error"
	default:
		return "ok"
	}
}

// resolve picks a healthy instance, retrying a transient empty lookup with
// bounded backoff, then falls back to the static endpoint. Returns the base
// URL and whether it is the fallback.
func (rt *Router) resolve(ctx context.Context, serviceName string, settings *config.ServiceSettings) (string, bool) {
	const lookupAttempts = 3

	for attempt := 0; attempt < lookupAttempts; attempt++ {
		healthy := rt.registry.ListHealthy(serviceName)
		if len(healthy) > 0 {
			return instanceURL(rt.policy.Pick(serviceName, healthy)), false
		}
		if settings.FallbackURL != "" {
			// Degrade immediately rather than waiting out the retries.
			break
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}

	if settings.FallbackURL != "" {
		return settings.FallbackURL, true
	}
	return "", false
}

// publishResult emits the domain result event carrying the request's
// correlation ID. A publish failure degrades to a log line; the client
// response is already determined.
func (rt *Router) publishResult(ctx context.Context, serviceName string, settings *config.ServiceSettings, r *http.Request, resp *httputil.Response) {
	topic := fmt.Sprintf("%s.%s.v1", settings.Domain, settings.ResultEvent)

	partitionKey := correlation.FromContext(ctx)
	if settings.PartitionKeyPath != "" {
		if v := gjson.GetBytes(resp.Body, settings.PartitionKeyPath); v.Exists() {
			partitionKey = v.String()
		}
	}

	payload, err := json.Marshal(routedResult{
		Service: serviceName,
		Domain:  settings.Domain,
		Method:  r.Method,
		Path:    r.URL.Path,
		Status:  resp.StatusCode,
		Body:    jsonBody(resp.Body),
	})
	if err != nil {
		rt.log.WithError(err).Warnf("encode result event for %s", serviceName)
		return
	}

	if _, err := rt.events.Publish(ctx, topic, partitionKey, payload); err != nil {
		rt.log.WithError(err).Warnf("publish %s", topic)
	}
}

type routedResult struct {
	Service string          `json:"service"`
	Domain  string          `json:"domain"`
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Status  int             `json:"status"`
	Body    json.RawMessage `json:"body,omitempty"`
}

func jsonBody(b []byte) json.RawMessage {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}
	return quoted
}

// callerIdentity resolves who is calling for quota bucketing: the caller
// header, the subject of a bearer token, or the remote host. The token is
// parsed without verification; this is bucketing, not authentication.
func (rt *Router) callerIdentity(r *http.Request) string {
	if id := r.Header.Get(CallerHeader); id != "" {
		return id
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(auth[len("Bearer "):], claims); err == nil {
			if sub, err := claims.GetSubject(); err == nil && sub != "" {
				return sub
			}
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func (rt *Router) writeError(ctx context.Context, w http.ResponseWriter, err *apperr.Error) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:          err.Code,
		Message:       err.Message,
		CorrelationID: correlation.FromContext(ctx),
	})
	return err.HTTPStatus
}

type errorResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

func extractCorrelation(r *http.Request) context.Context {
	ctx := r.Context()
	if id := r.Header.Get(correlation.Header); id != "" {
		ctx = correlation.WithID(ctx, id)
	}
	return ctx
}

// splitDomain separates the leading domain segment from the downstream
// path. "/trading/orders/42" yields ("trading", "/orders/42").
func splitDomain(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", ""
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx], trimmed[idx:]
	}
	return trimmed, "/"
}

func instanceURL(reg registry.Registration) string {
	if strings.Contains(reg.Address, "://") {
		return reg.Address
	}
	return "http://" + reg.Address
}
