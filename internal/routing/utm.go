package routing

import (
	"net/url"
	"strings"
)

// ApplyUTM appends the pairs of template to dest's query string. Keys that
// dest already carries are left untouched, and existing parameter order is
// preserved.
func ApplyUTM(dest, template string) string {
	template = strings.TrimLeft(strings.TrimSpace(template), "?&")
	if template == "" {
		return dest
	}

	u, err := url.Parse(dest)
	if err != nil {
		return dest
	}

	existing := u.Query()
	added := make(map[string]bool)
	var extra []string
	for _, pair := range strings.Split(template, "&") {
		if pair == "" {
			continue
		}
		rawKey, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil || key == "" {
			continue
		}
		if existing.Has(key) || added[key] {
			continue
		}
		added[key] = true
		extra = append(extra, pair)
	}
	if len(extra) == 0 {
		return dest
	}

	if u.RawQuery == "" {
		u.RawQuery = strings.Join(extra, "&")
	} else {
		u.RawQuery = u.RawQuery + "&" + strings.Join(extra, "&")
	}
	u.ForceQuery = false
	return u.String()
}
