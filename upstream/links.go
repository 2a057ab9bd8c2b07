package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is a resource identifier. The API sends numeric ids on most resources and
// string ids on a few, so both decode into the same type.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integral ids as JSON numbers, everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

type Link struct {
	Href string `json:"href"`
}

type Links struct {
	Self *Link `json:"self,omitempty"`
}

// SelfID extracts the trailing path segment of the self link,
// e.g. "http://host/api/organizations/5{?projection}" -> "5".
func (l *Links) SelfID() ID {
	if l == nil || l.Self == nil {
		return ""
	}
	return IDFromHref(l.Self.Href)
}

func IDFromHref(href string) ID {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "?#{"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return ID(href)
}

// FirstID returns the first non-empty id.
func FirstID(ids ...ID) ID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
