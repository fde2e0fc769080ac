package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/tidwall/sjson"

	"github.com/quietgrid/hlgateway/pkg/config"
	"github.com/quietgrid/hlgateway/pkg/metrics"
)

// forwardUserAgent replaces the caller's identity on every proxied request.
const forwardUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// builtinAliases maps short service names to upstream hosts. The host part may
// carry a path prefix; everything after the alias in the request path is
// appended to it.
var builtinAliases = map[string]string{
	"discord":        "discord.com/api",
	"telegram":       "api.telegram.org",
	"httpbin":        "httpbin.org",
	"openai":         "api.openai.com",
	"claude":         "api.anthropic.com",
	"gemini":         "generativelanguage.googleapis.com",
	"gemininothink":  "generativelanguage.googleapis.com",
	"meta":           "www.meta.ai/api",
	"groq":           "api.groq.com/openai",
	"xai":            "api.x.ai",
	"cohere":         "api.cohere.ai",
	"huggingface":    "api-inference.huggingface.co",
	"together":       "api.together.xyz",
	"novita":         "api.novita.ai",
	"portkey":        "api.portkey.ai",
	"fireworks":      "api.fireworks.ai",
	"targon":         "api.targon.com",
	"openrouter":     "openrouter.ai/api",
	"siliconflow":    "api.siliconflow.cn",
	"modelscope":     "api-inference.modelscope.cn",
	"gmi":            "api.gmi-serving.com",
	"azureinference": "models.inference.ai.azure.com",
	"githubai":       "models.github.ai/inference",
	"dmxcom":         "www.dmxapi.com",
	"dmxcn":          "www.dmxapi.cn",
	"light2api":      "light2api.deno.dev",
	"google":         "accounts.google.com",
}

// blacklistedHeaders never cross the proxy boundary. They leak the caller's
// address, edge infrastructure, or tracing context.
var blacklistedHeaders = map[string]struct{}{
	"cf-connecting-ip":   {},
	"cf-ipcountry":       {},
	"cf-ray":             {},
	"cf-visitor":         {},
	"cf-worker":          {},
	"cdn-loop":           {},
	"cf-ew-via":          {},
	"baggage":            {},
	"sb-request-id":      {},
	"x-amzn-trace-id":    {},
	"x-forwarded-for":    {},
	"x-forwarded-host":   {},
	"x-forwarded-proto":  {},
	"x-forwarded-server": {},
	"x-real-ip":          {},
	"x-original-host":    {},
	"forwarded":          {},
	"via":                {},
	"referer":            {},
	"x-request-id":       {},
	"x-correlation-id":   {},
	"x-trace-id":         {},
}

// bodyRewrite mutates a JSON request body for one alias before forwarding.
type bodyRewrite struct {
	alias   string
	rewrite func(body []byte) ([]byte, error)
}

// bodyRewrites holds the per-alias JSON mutations applied to POST bodies.
var bodyRewrites = []bodyRewrite{
	{
		// Same Gemini host as the plain alias, but thinking is forced off.
		alias: "gemininothink",
		rewrite: func(body []byte) ([]byte, error) {
			return sjson.SetBytes(body, "generationConfig.thinkingConfig.thinkingBudget", 0)
		},
	},
}

// Forwarder is the generic multi-host reverse proxy behind /api/{alias}/.
// Config-provided aliases overlay the built-in table.
type Forwarder struct {
	aliases map[string]string
	client  *http.Client
	scheme  string
}

func NewForwarder(extra []config.ProxyAlias) *Forwarder {
	aliases := make(map[string]string, len(builtinAliases)+len(extra))
	for k, v := range builtinAliases {
		aliases[k] = v
	}
	for _, a := range extra {
		aliases[a.Alias] = a.Host
	}
	return &Forwarder{
		aliases: aliases,
		scheme:  "https",
		client: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects pass through to the caller untouched.
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *Forwarder) aliasNames() []string {
	names := make([]string, 0, len(f.aliases))
	for k := range f.aliases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		handleCORSPreflight(w, r)
		return
	}
	alias := chi.URLParam(r, "alias")
	targetHost, ok := f.aliases[alias]
	if !ok {
		writeForwardError(w, http.StatusNotFound,
			fmt.Sprintf("Service alias '%s' not found", alias),
			"Available services: "+strings.Join(f.aliasNames(), ", "))
		return
	}

	rest := chi.URLParam(r, "*")
	targetURL := f.scheme + "://" + targetHost + "/" + rest
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	body, err := f.requestBody(alias, r)
	if err != nil {
		writeForwardError(w, http.StatusBadRequest, "Invalid JSON format in request body", "")
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, body)
	if err != nil {
		writeForwardError(w, http.StatusBadRequest, "Invalid proxied request: "+err.Error(), "")
		return
	}
	if body == io.Reader(r.Body) {
		// Unbuffered pass-through; keep the inbound length so the upstream
		// request is not forced to chunked encoding.
		out.ContentLength = r.ContentLength
	}

	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if _, blocked := blacklistedHeaders[lower]; blocked {
			continue
		}
		if strings.HasPrefix(lower, "sec-ch-ua") {
			continue
		}
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}
	hostOnly := targetHost
	if i := strings.IndexByte(hostOnly, '/'); i >= 0 {
		hostOnly = hostOnly[:i]
	}
	out.Host = hostOnly
	out.Header.Set("User-Agent", forwardUserAgent)
	if alias == "claude" && out.Header.Get("anthropic-version") == "" {
		out.Header.Set("anthropic-version", "2023-06-01")
	}

	resp, err := f.client.Do(out)
	if err != nil {
		kind, msg, status := classifyTransportError(err)
		log.Error("proxy request failed", "alias", alias, "target", targetURL, "kind", kind, "err", err)
		writeForwardError(w, status, msg, "Error type: "+kind)
		return
	}
	defer resp.Body.Close()
	log.Debug("proxied", "alias", alias, "method", r.Method, "target", targetURL, "status", resp.StatusCode)
	metrics.ProxyForwardsTotal.WithLabelValues(alias, strconv.Itoa(resp.StatusCode)).Inc()

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD, PATCH")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, anthropic-version, x-api-key")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// requestBody picks the outgoing body, applying the alias's JSON rewrite when
// one is registered and the request is a JSON POST.
func (f *Forwarder) requestBody(alias string, r *http.Request) (io.Reader, error) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil, nil
	}
	for _, br := range bodyRewrites {
		if br.alias != alias {
			continue
		}
		if r.Method != http.MethodPost || !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
			break
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		rewritten, err := br.rewrite(raw)
		if err != nil {
			return nil, err
		}
		return strings.NewReader(string(rewritten)), nil
	}
	return r.Body, nil
}

// classifyTransportError buckets a round-trip failure into the proxy's error
// vocabulary and picks the status the caller sees.
func classifyTransportError(err error) (kind, message string, status int) {
	msg := strings.ToLower(err.Error())
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(msg, "timeout"):
		return "TIMEOUT", "Request timeout - the target service took too long to respond", http.StatusGatewayTimeout
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"), strings.Contains(msg, "name resolution"):
		return "DNS", "DNS resolution failed - unable to resolve target hostname", http.StatusBadGateway
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connect"):
		return "CONNECTION", "Connection refused - target service is not accepting connections", http.StatusServiceUnavailable
	case strings.Contains(msg, "ssl"), strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"), strings.Contains(msg, "x509"):
		return "SSL", "SSL/TLS error - certificate or encryption issue", http.StatusBadGateway
	case strings.Contains(msg, "network"):
		return "NETWORK", "Network error - unable to reach the target service", http.StatusBadGateway
	default:
		return "UNKNOWN", "Unexpected error: " + err.Error(), http.StatusInternalServerError
	}
}

func writeForwardError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]any{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// handleCORSPreflight answers OPTIONS for every route with a permissive
// policy. Browsers drive the HTML console directly against the gateway.
func handleCORSPreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD, PATCH")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, anthropic-version, x-api-key")
	w.WriteHeader(http.StatusNoContent)
}
