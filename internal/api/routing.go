package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/hints"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/resolver"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/tracing"
)

type resolveRequest struct {
	Params  resolver.Params  `json:"params"`
	Signals resolver.Signals `json:"signals"`
}

type resolveResponse struct {
	resolver.Decision
	Target string `json:"target"`
}

func (s *Server) resolveRoute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	params := req.Params
	if mode, ok := resolver.ParseMode(string(params.Mode)); ok {
		params.Mode = mode
	} else {
		params.RawMode = strings.TrimSpace(string(params.Mode))
		params.Mode = resolver.ModeNone
	}

	decision := s.resolve(r.Context(), params, req.Signals)
	writeJSON(w, resolveResponse{Decision: decision, Target: s.target(decision, params)})
}

// openLink is the entry point deep links point at. It resolves the query
// parameters and redirects to where the link should land.
func (s *Server) openLink(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := resolver.ParseParams(query)
	signals := signalsFromRequest(r)

	if sessionID := strings.TrimSpace(query.Get("session")); sessionID != "" && s.hints != nil {
		if _, err := s.hints.SetSessionFlag(sessionID, hints.FlagOpenedFromEntryPoint, "true"); err != nil {
			log.Printf("api: set session flag session=%s: %v", sessionID, err)
		}
	}

	decision := s.resolve(r.Context(), params, signals)
	http.Redirect(w, r, s.target(decision, params), http.StatusFound)
}

func (s *Server) resolve(ctx context.Context, params resolver.Params, signals resolver.Signals) resolver.Decision {
	ctx, span := s.tracer.Start(ctx, "route.resolve")
	defer span.End()

	if s.hints != nil {
		enriched, err := s.hints.Enrich(ctx, params.Identity, signals)
		if err != nil {
			// A missing hint only lowers the heuristic score.
			log.Printf("api: install hint lookup failed identity=%s: %v", params.Identity, err)
			span.RecordError(err)
		}
		signals = enriched
	}

	decision := resolver.ResolveRoute(params, signals)
	span.SetAttributes(
		attribute.String(tracing.AttrMode, string(params.Mode)),
		attribute.String(tracing.AttrVerdict, string(decision.Verdict)),
		attribute.String(tracing.AttrConfidence, string(decision.Confidence)),
		attribute.StringSlice("route.reasons", decision.Reasons),
	)
	return decision
}

// target builds the landing URL for a decision, carrying the link's own
// parameters through.
func (s *Server) target(decision resolver.Decision, params resolver.Params) string {
	base := s.cfg.BrowserBaseURL
	switch decision.Verdict {
	case resolver.VerdictOpenInApp:
		base = s.cfg.AppBaseURL
	case resolver.VerdictShowInstallGuide:
		base = s.cfg.InstallGuideURL
	}

	target, err := url.Parse(base)
	if err != nil || base == "" {
		target = &url.URL{Path: "/"}
	}
	query := target.Query()
	if params.Identity != "" {
		query.Set("identity", params.Identity)
	}
	if params.ContentToken != "" {
		query.Set("contentToken", params.ContentToken)
	}
	if params.Source != "" {
		query.Set("source", params.Source)
	}
	if decision.Verdict == resolver.VerdictOpenInBrowser && decision.InstallSuggestion {
		query.Set("install", "suggested")
	}
	target.RawQuery = query.Encode()
	return target.String()
}

// signalsFromRequest reads environment observations the entry page forwards
// as query parameters, falling back to request headers where one exists.
func signalsFromRequest(r *http.Request) resolver.Signals {
	query := r.URL.Query()
	signals := resolver.Signals{
		DisplayModeStandalone:    queryBool(query, "standalone"),
		ReferrerFromInstalledApp: queryBool(query, "referrer_app"),
		Referrer:                 strings.TrimSpace(query.Get("referrer")),
		Platform:                 strings.TrimSpace(query.Get("platform")),
	}
	if value := strings.TrimSpace(query.Get("installed")); value != "" {
		if installed, err := strconv.ParseBool(value); err == nil {
			signals.InstalledApps = resolver.Bool(installed)
		}
	}
	if value := strings.TrimSpace(query.Get("chrome_height")); value != "" {
		if height, err := strconv.Atoi(value); err == nil {
			signals.ChromeHeight = resolver.Int(height)
		}
	}
	if value := strings.TrimSpace(query.Get("score")); value != "" {
		if score, err := strconv.Atoi(value); err == nil {
			signals.HeuristicScore = resolver.Int(score)
		}
	}
	if signals.Referrer == "" {
		signals.Referrer = strings.TrimSpace(r.Referer())
	}
	if signals.Platform == "" {
		signals.Platform = strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `" `)
	}
	if signals.Platform == "" {
		signals.Platform = r.UserAgent()
	}
	return signals
}

func queryBool(query url.Values, key string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(query.Get(key)))
	return err == nil && value
}
