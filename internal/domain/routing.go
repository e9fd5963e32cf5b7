package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type RoutingCategory string

const (
	CategoryABTest   RoutingCategory = "ab_test"
	CategoryTime     RoutingCategory = "time"
	CategoryDevice   RoutingCategory = "device"
	CategoryGeo      RoutingCategory = "geo"
	CategoryReferrer RoutingCategory = "referrer"
	CategoryFallback RoutingCategory = "fallback"
)

// EditableCategories are the categories managed through the routing API.
// A/B tests have their own endpoint.
var EditableCategories = []RoutingCategory{CategoryDevice, CategoryGeo, CategoryReferrer, CategoryTime}

func ParseEditableCategory(s string) (RoutingCategory, bool) {
	for _, c := range EditableCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

const DefaultKey = "default"

// Routing is the optional bundle of conditional rules on a link. Each
// category is independent and is replaced as a whole on update.
type Routing struct {
	ABTest   []ABRule      `json:"ab_test,omitempty"`
	Time     []TimeRule    `json:"time,omitempty"`
	Device   *DeviceRule   `json:"device,omitempty"`
	Geo      *GeoRule      `json:"geo,omitempty"`
	Referrer *ReferrerRule `json:"referrer,omitempty"`
}

func (r *Routing) IsEmpty() bool {
	return len(r.ABTest) == 0 && len(r.Time) == 0 && r.Device == nil && r.Geo == nil && r.Referrer == nil
}

// unwrap returns the value under key when raw is an object whose only
// member is key, and raw unchanged otherwise.
func unwrap(raw json.RawMessage, key string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return raw
	}
	if inner, ok := obj[key]; ok {
		return inner
	}
	return raw
}

// Replace decodes raw as the rule type of category and swaps it in. Geo
// and referrer rules may be wrapped as {"routes": ...} and time rules as
// {"rules": [...]}.
func (r *Routing) Replace(category RoutingCategory, raw json.RawMessage) error {
	switch category {
	case CategoryGeo, CategoryReferrer:
		raw = unwrap(raw, "routes")
	case CategoryTime:
		raw = unwrap(raw, "rules")
	}

	switch category {
	case CategoryDevice:
		var rule DeviceRule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return &InvalidRoutingConfigError{Field: string(category), Reason: err.Error()}
		}
		r.Device = &rule
	case CategoryGeo:
		var rule GeoRule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return &InvalidRoutingConfigError{Field: string(category), Reason: err.Error()}
		}
		r.Geo = &rule
	case CategoryReferrer:
		var rule ReferrerRule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return &InvalidRoutingConfigError{Field: string(category), Reason: err.Error()}
		}
		r.Referrer = &rule
	case CategoryTime:
		var rules []TimeRule
		if err := json.Unmarshal(raw, &rules); err != nil {
			return &InvalidRoutingConfigError{Field: string(category), Reason: err.Error()}
		}
		r.Time = rules
	case CategoryABTest:
		var rules []ABRule
		if err := json.Unmarshal(raw, &rules); err != nil {
			return &InvalidRoutingConfigError{Field: string(category), Reason: err.Error()}
		}
		r.ABTest = rules
	default:
		return &InvalidRoutingConfigError{Field: string(category), Reason: "unknown routing category"}
	}
	return nil
}

func (r *Routing) Clear(category RoutingCategory) {
	switch category {
	case CategoryDevice:
		r.Device = nil
	case CategoryGeo:
		r.Geo = nil
	case CategoryReferrer:
		r.Referrer = nil
	case CategoryTime:
		r.Time = nil
	case CategoryABTest:
		r.ABTest = nil
	}
}

// Merge copies every category set on other into r.
func (r *Routing) Merge(other *Routing) {
	if other == nil {
		return
	}
	if other.ABTest != nil {
		r.ABTest = other.ABTest
	}
	if other.Time != nil {
		r.Time = other.Time
	}
	if other.Device != nil {
		r.Device = other.Device
	}
	if other.Geo != nil {
		r.Geo = other.Geo
	}
	if other.Referrer != nil {
		r.Referrer = other.Referrer
	}
}

// Destinations lists every URL the routing bundle can send a visitor to.
func (r *Routing) Destinations() []string {
	var out []string
	for _, ab := range r.ABTest {
		out = append(out, ab.Destination)
	}
	for _, t := range r.Time {
		out = append(out, t.Destination)
	}
	if r.Device != nil {
		for _, d := range []string{r.Device.Mobile, r.Device.Tablet, r.Device.Desktop} {
			if d != "" {
				out = append(out, d)
			}
		}
	}
	if r.Geo != nil {
		for _, d := range r.Geo.Countries {
			out = append(out, d)
		}
		if r.Geo.Default != "" {
			out = append(out, r.Geo.Default)
		}
	}
	if r.Referrer != nil {
		for _, e := range r.Referrer.Entries {
			out = append(out, e.Destination)
		}
		if r.Referrer.Default != "" {
			out = append(out, r.Referrer.Default)
		}
	}
	return out
}

type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
	DeviceBot     DeviceClass = "bot"
	DeviceUnknown DeviceClass = "unknown"
)

type DeviceRule struct {
	Mobile  string `json:"mobile,omitempty"`
	Tablet  string `json:"tablet,omitempty"`
	Desktop string `json:"desktop,omitempty"`
}

func (d *DeviceRule) For(class DeviceClass) string {
	switch class {
	case DeviceMobile:
		return d.Mobile
	case DeviceTablet:
		return d.Tablet
	case DeviceDesktop:
		return d.Desktop
	}
	return ""
}

// GeoRule maps ISO 3166-1 alpha-2 country codes to destinations. On the
// wire it is a flat object with an optional "default" key.
type GeoRule struct {
	Countries map[string]string
	Default   string
}

func (g GeoRule) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(g.Countries)+1)
	for k, v := range g.Countries {
		out[k] = v
	}
	if g.Default != "" {
		out[DefaultKey] = g.Default
	}
	return json.Marshal(out)
}

func (g *GeoRule) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.Countries = make(map[string]string, len(raw))
	for k, v := range raw {
		if strings.EqualFold(k, DefaultKey) {
			g.Default = v
			continue
		}
		g.Countries[strings.ToUpper(k)] = v
	}
	return nil
}

// MaxReferrerKeyLength is the longest DNS name.
const MaxReferrerKeyLength = 253

type ReferrerEntry struct {
	Domain      string
	Destination string
}

// ReferrerRule keeps its entries in declaration order, which decides
// which entry wins when several substrings match.
type ReferrerRule struct {
	Entries []ReferrerEntry
	Default string
}

func (r ReferrerRule) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(k, v string) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}
	for _, e := range r.Entries {
		if err := write(e.Domain, e.Destination); err != nil {
			return nil, err
		}
	}
	if r.Default != "" {
		if err := write(DefaultKey, r.Default); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *ReferrerRule) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("referrer rule must be an object")
	}
	r.Entries = nil
	r.Default = ""
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("referrer rule key must be a string")
		}
		var dest string
		if err := dec.Decode(&dest); err != nil {
			return fmt.Errorf("referrer %q: %w", key, err)
		}
		if strings.EqualFold(key, DefaultKey) {
			r.Default = dest
			continue
		}
		r.Entries = append(r.Entries, ReferrerEntry{Domain: strings.ToLower(key), Destination: dest})
	}
	_, err = dec.Token()
	return err
}

const (
	TimezoneSourceFixed   = "fixed"
	TimezoneSourceVisitor = "visitor"
)

// TimeRule matches when the request time, in the rule's timezone, falls on
// one of Days (0 = Sunday) within [StartHour, EndHour). A window with
// StartHour > EndHour wraps past midnight; StartHour == EndHour covers the
// whole day. An empty Days list means every day.
type TimeRule struct {
	Days           []int  `json:"days,omitempty"`
	StartHour      int    `json:"start_hour"`
	EndHour        int    `json:"end_hour"`
	Timezone       string `json:"timezone,omitempty"`
	TimezoneSource string `json:"timezone_source,omitempty"`
	Destination    string `json:"destination"`
}

type ABRule struct {
	Variant     string  `json:"variant,omitempty"`
	Weight      float64 `json:"weight"`
	Destination string  `json:"destination"`
}

// VariantName is the name clicks on the rule at index are counted under.
// Unnamed rules are lettered by position.
func (r ABRule) VariantName(index int) string {
	if r.Variant != "" {
		return r.Variant
	}
	if index >= 0 && index < 26 {
		return string(rune('a' + index))
	}
	return strconv.Itoa(index)
}

type ABTestRequest struct {
	VariantA string  `json:"variant_a" validate:"required,max=2048,httpurl"`
	VariantB string  `json:"variant_b" validate:"required,max=2048,httpurl"`
	Split    float64 `json:"split" validate:"omitempty,gt=0,lt=100"`
}

const DefaultABSplit = 50

// Rules converts a two-variant request into weighted A/B rules. Split is
// the percentage of traffic sent to variant A; zero means an even split.
func (r ABTestRequest) Rules() []ABRule {
	split := r.Split
	if split == 0 {
		split = DefaultABSplit
	}
	a := split / 100
	return []ABRule{
		{Variant: "a", Weight: a, Destination: r.VariantA},
		{Variant: "b", Weight: 1 - a, Destination: r.VariantB},
	}
}
