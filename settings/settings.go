// Package settings persists the user's navigation preferences in SQLite
// and notifies consumers when they change.
//
// Each preference is stored as one JSON value under its key, with a
// monotonic version column. A reader polls MAX(version) to learn about
// writes made by other processes.
package settings

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// DefaultParamName is the page-number query parameter used when none is
// configured.
const DefaultParamName = "page"

// Settings are the preferences consumed by the navigator. The zero value is
// not the default; use Defaults.
type Settings struct {
	Enabled        bool     `json:"enabled"`
	VisualFeedback bool     `json:"visualFeedback"`
	CustomNextIDs  []string `json:"customNextIds"`
	CustomPrevIDs  []string `json:"customPrevIds"`
	URLNavigation  bool     `json:"urlNavigation"`
	URLParamName   string   `json:"urlParamName"`
	HrefScan       bool     `json:"hrefScan"`
	LoadMore       bool     `json:"loadMore"`
}

// Defaults returns every toggle on, no custom ids and the "page" parameter.
func Defaults() Settings {
	return Settings{
		Enabled:        true,
		VisualFeedback: true,
		CustomNextIDs:  []string{},
		CustomPrevIDs:  []string{},
		URLNavigation:  true,
		URLParamName:   DefaultParamName,
		HrefScan:       true,
		LoadMore:       true,
	}
}

// ParamName returns the configured page parameter, or the default.
func (s Settings) ParamName() string {
	if p := strings.TrimSpace(s.URLParamName); p != "" {
		return p
	}
	return DefaultParamName
}

// Normalize trims custom ids, drops empty ones and fills the parameter
// name. The returned value shares no slices with s.
func (s Settings) Normalize() Settings {
	s.CustomNextIDs = cleanIDs(s.CustomNextIDs)
	s.CustomPrevIDs = cleanIDs(s.CustomPrevIDs)
	s.URLParamName = s.ParamName()
	return s
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Patch is a partial update. Nil fields are left alone.
type Patch struct {
	Enabled        *bool     `json:"enabled,omitempty"`
	VisualFeedback *bool     `json:"visualFeedback,omitempty"`
	CustomNextIDs  *[]string `json:"customNextIds,omitempty"`
	CustomPrevIDs  *[]string `json:"customPrevIds,omitempty"`
	URLNavigation  *bool     `json:"urlNavigation,omitempty"`
	URLParamName   *string   `json:"urlParamName,omitempty"`
	HrefScan       *bool     `json:"hrefScan,omitempty"`
	LoadMore       *bool     `json:"loadMore,omitempty"`
}

// Apply returns s with the patch merged in.
func (p Patch) Apply(s Settings) Settings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.VisualFeedback != nil {
		s.VisualFeedback = *p.VisualFeedback
	}
	if p.CustomNextIDs != nil {
		s.CustomNextIDs = slices.Clone(*p.CustomNextIDs)
	}
	if p.CustomPrevIDs != nil {
		s.CustomPrevIDs = slices.Clone(*p.CustomPrevIDs)
	}
	if p.URLNavigation != nil {
		s.URLNavigation = *p.URLNavigation
	}
	if p.URLParamName != nil {
		s.URLParamName = *p.URLParamName
	}
	if p.HrefScan != nil {
		s.HrefScan = *p.HrefScan
	}
	if p.LoadMore != nil {
		s.LoadMore = *p.LoadMore
	}
	return s.Normalize()
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.values()) == 0
}

// values maps storage keys to the JSON encoding of each set field.
func (p Patch) values() map[string]any {
	m := make(map[string]any)
	put := func(key string, set bool, v any) {
		if set {
			m[key] = v
		}
	}
	put("enabled", p.Enabled != nil, p.Enabled)
	put("visualFeedback", p.VisualFeedback != nil, p.VisualFeedback)
	put("customNextIds", p.CustomNextIDs != nil, p.CustomNextIDs)
	put("customPrevIds", p.CustomPrevIDs != nil, p.CustomPrevIDs)
	put("urlNavigation", p.URLNavigation != nil, p.URLNavigation)
	put("urlParamName", p.URLParamName != nil, p.URLParamName)
	put("hrefScan", p.HrefScan != nil, p.HrefScan)
	put("loadMore", p.LoadMore != nil, p.LoadMore)
	return m
}

// PatchFrom builds a patch that sets every field of s.
func PatchFrom(s Settings) Patch {
	return Patch{
		Enabled:        &s.Enabled,
		VisualFeedback: &s.VisualFeedback,
		CustomNextIDs:  &s.CustomNextIDs,
		CustomPrevIDs:  &s.CustomPrevIDs,
		URLNavigation:  &s.URLNavigation,
		URLParamName:   &s.URLParamName,
		HrefScan:       &s.HrefScan,
		LoadMore:       &s.LoadMore,
	}
}

// decode applies one stored key to s. Unknown keys are ignored.
func decode(s *Settings, key string, raw []byte) error {
	var dst any
	switch key {
	case "enabled":
		dst = &s.Enabled
	case "visualFeedback":
		dst = &s.VisualFeedback
	case "customNextIds":
		dst = &s.CustomNextIDs
	case "customPrevIds":
		dst = &s.CustomPrevIDs
	case "urlNavigation":
		dst = &s.URLNavigation
	case "urlParamName":
		dst = &s.URLParamName
	case "hrefScan":
		dst = &s.HrefScan
	case "loadMore":
		dst = &s.LoadMore
	default:
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return nil
}
