package intent

import (
	"regexp"
	"strconv"
	"strings"

	"sidekick/internal/config"
	"sidekick/internal/domain"
)

// Classifier turns free-form text into a typed Intent. Rules are evaluated
// in order and the first match wins; a rule may decline so the text falls
// through to the next tier. Classify is total: unmatched input yields an
// unknown intent with the raw text preserved.
type Classifier struct {
	rules []rule
}

type rule interface {
	// match receives the normalized text and the original raw text.
	match(t, raw string) (domain.Intent, bool)
}

// New builds a classifier from an injected vocabulary. The alias tables are
// scanned in declaration order, so table order is part of the contract.
func New(v config.Vocabulary) *Classifier {
	return &Classifier{rules: []rule{
		openRule{apps: v.Apps},
		toggleRule{settings: v.Settings, triggers: []string{"turn on", "enable", "switch on"}, action: "on"},
		toggleRule{settings: v.Settings, triggers: []string{"turn off", "disable", "switch off"}, action: "off"},
		adjustRule{adjustables: v.Adjustables},
	}}
}

// Classify never fails; callers must treat type "unknown" as a first-class
// outcome.
func (c *Classifier) Classify(text string) domain.Intent {
	t := Normalize(text)
	for _, r := range c.rules {
		if in, ok := r.match(t, text); ok {
			return in
		}
	}
	return domain.Intent{Type: "unknown", RawText: text}
}

// openRule handles "open <app>" / "launch <app>". When its prefix condition
// holds it always terminates matching: an unrecognized app name is passed
// through verbatim rather than falling to later tiers.
type openRule struct {
	apps []config.AliasEntry
}

func (r openRule) match(t, raw string) (domain.Intent, bool) {
	var name string
	switch {
	case strings.HasPrefix(t, "open "):
		name = strings.TrimPrefix(t, "open ")
	case strings.HasPrefix(t, "launch "):
		name = strings.TrimPrefix(t, "launch ")
	default:
		return domain.Intent{}, false
	}
	target := name
	for _, e := range r.apps {
		if containsString(e.Aliases, name) || strings.Contains(name, e.Key) {
			target = e.Key
			break
		}
	}
	return domain.Intent{
		Type:    "open_app",
		Target:  ptr(target),
		Action:  ptr("open"),
		RawText: raw,
	}, true
}

// toggleRule handles "turn on/off" style commands. A trigger phrase without
// a recognized setting alias falls through to lower tiers.
type toggleRule struct {
	settings []config.AliasEntry
	triggers []string
	action   string
}

func (r toggleRule) match(t, raw string) (domain.Intent, bool) {
	if !containsAny(t, r.triggers) {
		return domain.Intent{}, false
	}
	for _, e := range r.settings {
		if anyAliasIn(t, e.Aliases) {
			return domain.Intent{
				Type:    "toggle_setting",
				Target:  ptr(e.Key),
				Action:  ptr(r.action),
				RawText: raw,
			}, true
		}
	}
	return domain.Intent{}, false
}

var percentRe = regexp.MustCompile(`(\d+)%`)

// adjustRule handles increase/decrease/set commands over adjustable
// settings. Increase and decrease triggers take priority over the "set "
// prefix when both are present.
type adjustRule struct {
	adjustables []config.AliasEntry
}

func (r adjustRule) match(t, raw string) (domain.Intent, bool) {
	var action string
	switch {
	case containsAny(t, []string{"increase", "turn up", "raise"}):
		action = "increase"
	case containsAny(t, []string{"decrease", "turn down", "lower"}):
		action = "decrease"
	case strings.HasPrefix(t, "set "):
		action = "set"
	default:
		return domain.Intent{}, false
	}
	for _, e := range r.adjustables {
		if !anyAliasIn(t, e.Aliases) {
			continue
		}
		in := domain.Intent{
			Type:    "adjust_setting",
			Target:  ptr(e.Key),
			Action:  ptr(action),
			RawText: raw,
		}
		if m := percentRe.FindStringSubmatch(t); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				in.Value = &v
			}
		}
		return in, true
	}
	return domain.Intent{}, false
}

func containsAny(t string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

func anyAliasIn(t string, aliases []string) bool {
	for _, a := range aliases {
		if strings.Contains(t, a) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func ptr(s string) *string { return &s }
