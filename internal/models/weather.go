package models

import (
	"sort"
	"strings"
	"time"
)

// City identifies a weather reading. Name is the natural key.
type City struct {
	Name    string `json:"name" validate:"required"`
	Picture string `json:"picture" validate:"omitempty,url"`
}

// CityWeather is one reading as served by the upstream API.
// IsHidden is a presentation flag owned by the visibility toggle, never set here.
type CityWeather struct {
	City     City   `json:"city"`
	Date     string `json:"date" validate:"required"`
	Temp     string `json:"temp" validate:"required,numeric"`
	TempType Unit   `json:"tempType" validate:"oneof=C F K"`
	IsHidden bool   `json:"isHidden,omitempty"`
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ObservedAt parses Date using the layouts the upstream is known to emit.
func (w CityWeather) ObservedAt() (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, w.Date)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Dedupe drops later readings whose city name was already seen. Order is kept.
func Dedupe(in []CityWeather) []CityWeather {
	seen := make(map[string]struct{}, len(in))
	out := make([]CityWeather, 0, len(in))
	for _, w := range in {
		if _, ok := seen[w.City.Name]; ok {
			continue
		}
		seen[w.City.Name] = struct{}{}
		out = append(out, w)
	}
	return out
}

// SortByCity returns a copy ordered by city name, case-insensitively.
func SortByCity(in []CityWeather) []CityWeather {
	out := make([]CityWeather, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].City.Name) < strings.ToLower(out[j].City.Name)
	})
	return out
}

// FindCity returns the reading whose name matches name once whitespace is
// removed and case is folded, the form city names take in detail URLs.
func FindCity(in []CityWeather, name string) (CityWeather, bool) {
	want := compactName(name)
	for _, w := range in {
		if compactName(w.City.Name) == want {
			return w, true
		}
	}
	return CityWeather{}, false
}

func compactName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
