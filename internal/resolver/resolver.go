// Package resolver decides where an incoming deep link should land: in the
// installed app, in a plain browser tab, or on the install guide.
//
// ResolveRoute is a pure function of its inputs. It reads no clock and no
// environment, so a decision can be replayed from the logged params and
// signals.
package resolver

import (
	"fmt"
	"net/url"
	"strings"
)

type Verdict string

const (
	VerdictOpenInApp        Verdict = "open-in-app"
	VerdictOpenInBrowser    Verdict = "open-in-browser"
	VerdictShowInstallGuide Verdict = "show-install-guide"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type Mode string

const (
	ModeNone             Mode = ""
	ModeForceBrowser     Mode = "force-browser"
	ModePWARequired      Mode = "pwa-required"
	ModeShowInstallGuide Mode = "show-install-guide"
)

const (
	// MaxHeuristicScore is the number of auxiliary signals the heuristic
	// branch can count.
	MaxHeuristicScore = 6
	// AppThreshold is the minimum heuristic score for open-in-app.
	AppThreshold = 3
	// ChromeHeightThreshold is the outer-minus-inner window height (px) below
	// which the window is assumed to have no browser toolbar.
	ChromeHeightThreshold = 40
)

type Params struct {
	Identity     string `json:"identity,omitempty"`
	Mode         Mode   `json:"mode,omitempty"`
	ContentToken string `json:"content_token,omitempty"`
	Source       string `json:"source,omitempty"`
	// RawMode keeps an unrecognised mode value so the decision can mention it.
	RawMode string `json:"-"`
}

// Signals are environment observations gathered by the caller. Pointer fields
// distinguish "not available" (nil) from a negative answer.
type Signals struct {
	DisplayModeStandalone    bool   `json:"display_mode_standalone,omitempty"`
	InstalledApps            *bool  `json:"installed_apps,omitempty"`
	ReferrerFromInstalledApp bool   `json:"referrer_from_installed_app,omitempty"`
	ChromeHeight             *int   `json:"chrome_height,omitempty"`
	Referrer                 string `json:"referrer,omitempty"`
	Platform                 string `json:"platform,omitempty"`
	LastInstallHint          *bool  `json:"last_install_hint,omitempty"`
	HeuristicScore           *int   `json:"heuristic_score,omitempty"`
}

type Decision struct {
	Verdict           Verdict    `json:"verdict"`
	Confidence        Confidence `json:"confidence"`
	Reasons           []string   `json:"reasons"`
	InstallSuggestion bool       `json:"install_suggestion,omitempty"`
	Score             int        `json:"score,omitempty"`
	MaxScore          int        `json:"max_score,omitempty"`
}

func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.TrimSpace(strings.ToLower(value))) {
	case ModeNone:
		return ModeNone, true
	case ModeForceBrowser:
		return ModeForceBrowser, true
	case ModePWARequired:
		return ModePWARequired, true
	case ModeShowInstallGuide:
		return ModeShowInstallGuide, true
	default:
		return ModeNone, false
	}
}

// ParseParams reads the deep-link parameter surface from a query string.
// "content" is accepted as an alias of "contentToken".
func ParseParams(values url.Values) Params {
	params := Params{
		Identity:     strings.TrimSpace(values.Get("identity")),
		ContentToken: strings.TrimSpace(firstNonEmpty(values.Get("contentToken"), values.Get("content"))),
		Source:       strings.TrimSpace(values.Get("source")),
	}
	raw := values.Get("mode")
	if mode, ok := ParseMode(raw); ok {
		params.Mode = mode
	} else {
		params.RawMode = strings.TrimSpace(raw)
	}
	return params
}

func ResolveRoute(params Params, signals Signals) Decision {
	reasons := []string{}
	if params.RawMode != "" {
		reasons = append(reasons, fmt.Sprintf("ignored-unknown-mode:%s", params.RawMode))
	}

	switch params.Mode {
	case ModeForceBrowser:
		return Decision{
			Verdict:    VerdictOpenInBrowser,
			Confidence: ConfidenceHigh,
			Reasons:    append(reasons, "override:force-browser"),
		}
	case ModePWARequired:
		return Decision{
			Verdict:    VerdictOpenInApp,
			Confidence: ConfidenceHigh,
			Reasons:    append(reasons, "override:pwa-required"),
		}
	case ModeShowInstallGuide:
		return Decision{
			Verdict:    VerdictShowInstallGuide,
			Confidence: ConfidenceHigh,
			Reasons:    append(reasons, "override:show-install-guide"),
		}
	}

	if signals.InstalledApps != nil {
		if *signals.InstalledApps {
			return Decision{
				Verdict:    VerdictOpenInApp,
				Confidence: ConfidenceHigh,
				Reasons:    append(reasons, "installed-apps:affirmative"),
			}
		}
		return Decision{
			Verdict:           VerdictOpenInBrowser,
			Confidence:        ConfidenceHigh,
			Reasons:           append(reasons, "installed-apps:negative"),
			InstallSuggestion: true,
		}
	}

	reasons = append(reasons, "installed-apps:unavailable")
	score, fired := heuristicScore(signals)
	reasons = append(reasons, fired...)
	reasons = append(reasons, fmt.Sprintf("heuristic-score:%d/%d", score, MaxHeuristicScore))

	if score >= AppThreshold {
		return Decision{
			Verdict:    VerdictOpenInApp,
			Confidence: ConfidenceMedium,
			Reasons:    reasons,
			Score:      score,
			MaxScore:   MaxHeuristicScore,
		}
	}
	return Decision{
		Verdict:           VerdictOpenInBrowser,
		Confidence:        ConfidenceLow,
		Reasons:           reasons,
		InstallSuggestion: true,
		Score:             score,
		MaxScore:          MaxHeuristicScore,
	}
}

func heuristicScore(signals Signals) (int, []string) {
	if signals.HeuristicScore != nil {
		score := clamp(*signals.HeuristicScore, 0, MaxHeuristicScore)
		return score, []string{"signal:precomputed-score"}
	}

	score := 0
	fired := []string{}
	if signals.DisplayModeStandalone {
		score++
		fired = append(fired, "signal:display-mode-standalone")
	}
	if signals.ReferrerFromInstalledApp {
		score++
		fired = append(fired, "signal:referrer-installed-app")
	}
	if signals.ChromeHeight != nil && *signals.ChromeHeight >= 0 && *signals.ChromeHeight < ChromeHeightThreshold {
		score++
		fired = append(fired, fmt.Sprintf("signal:chrome-height:%d", *signals.ChromeHeight))
	}
	if strings.TrimSpace(signals.Referrer) == "" {
		score++
		fired = append(fired, "signal:no-referrer")
	}
	if platform := installablePlatform(signals.Platform); platform != "" {
		score++
		fired = append(fired, "signal:platform:"+platform)
	}
	if signals.LastInstallHint != nil && *signals.LastInstallHint {
		score++
		fired = append(fired, "signal:last-install-hint")
	}
	return score, fired
}

// installablePlatform maps a free-form platform string to a platform family
// that supports installing the app, or "" when it does not.
func installablePlatform(platform string) string {
	value := strings.ToLower(strings.TrimSpace(platform))
	if value == "" {
		return ""
	}
	families := []struct {
		family  string
		needles []string
	}{
		{"android", []string{"android"}},
		{"ios", []string{"iphone", "ipad", "ios"}},
		{"chromeos", []string{"cros", "chromeos", "chrome os"}},
		{"macos", []string{"mac", "darwin"}},
		{"windows", []string{"win"}},
		{"linux", []string{"linux"}},
	}
	for _, candidate := range families {
		for _, needle := range candidate.needles {
			if strings.Contains(value, needle) {
				return candidate.family
			}
		}
	}
	return ""
}

func clamp(value, lower, upper int) int {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func Bool(value bool) *bool {
	return &value
}

func Int(value int) *int {
	return &value
}
