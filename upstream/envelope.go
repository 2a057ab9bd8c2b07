package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Page is one page of a list response, whatever envelope it arrived in.
type Page[T any] struct {
	Items         []T   `json:"items"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalPages    int   `json:"totalPages"`
	TotalElements int64 `json:"totalElements"`
}

type pageMeta struct {
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Number        int   `json:"number"`
}

// DecodePage decodes a list response. Three envelopes are accepted:
//
//	[ ... ]                                         bare array
//	{"content": [...], "number": 0, ...}            Spring page
//	{"_embedded": {key: [...]}, "page": {...}}      HAL collection
//
// embeddedKey selects the HAL collection; it may be empty when _embedded holds a single key.
func DecodePage[T any](body []byte, embeddedKey string) (*Page[T], error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnexpectedShape)
	}

	switch trimmed[0] {
	case '[':
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: decode list: %v", ErrUnexpectedShape, err)
		}
		return singlePage(items), nil
	case '{':
	default:
		return nil, fmt.Errorf("%w: expected a list, got %q", ErrUnexpectedShape, truncate(trimmed))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrUnexpectedShape, err)
	}

	if content, ok := raw["content"]; ok {
		var items []T
		if err := decodeItems(content, &items); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
		var meta pageMeta
		if err := json.Unmarshal(trimmed, &meta); err != nil {
			return nil, fmt.Errorf("%w: decode page metadata: %v", ErrUnexpectedShape, err)
		}
		return withMeta(items, meta), nil
	}

	if embedded, ok := raw["_embedded"]; ok {
		var collections map[string]json.RawMessage
		if err := json.Unmarshal(embedded, &collections); err != nil {
			return nil, fmt.Errorf("%w: _embedded is not an object", ErrUnexpectedShape)
		}
		key, err := resolveEmbeddedKey(collections, embeddedKey)
		if err != nil {
			return nil, err
		}
		var items []T
		if err := decodeItems(collections[key], &items); err != nil {
			return nil, fmt.Errorf("decode _embedded.%s: %w", key, err)
		}
		return withPageMember(items, raw)
	}

	// HAL omits _embedded for empty collections.
	_, hasPage := raw["page"]
	_, hasLinks := raw["_links"]
	if hasPage || hasLinks {
		return withPageMember[T](nil, raw)
	}

	return nil, fmt.Errorf("%w: object has none of content, _embedded, page (keys: %v)", ErrUnexpectedShape, keysOf(raw))
}

// DecodeOne decodes a single resource object.
func DecodeOne[T any](body []byte) (*T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected an object, got %q", ErrUnexpectedShape, truncate(trimmed))
	}
	var out T
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("%w: decode object: %v", ErrUnexpectedShape, err)
	}
	return &out, nil
}

func resolveEmbeddedKey(collections map[string]json.RawMessage, embeddedKey string) (string, error) {
	if embeddedKey != "" {
		if _, ok := collections[embeddedKey]; ok {
			return embeddedKey, nil
		}
		return "", fmt.Errorf("%w: _embedded has no %q (keys: %v)", ErrUnexpectedShape, embeddedKey, keysOf(collections))
	}
	if len(collections) == 1 {
		for k := range collections {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: ambiguous _embedded (keys: %v)", ErrUnexpectedShape, keysOf(collections))
}

func decodeItems[T any](raw json.RawMessage, items *[]T) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '[' {
		return fmt.Errorf("%w: collection is not an array", ErrUnexpectedShape)
	}
	if err := json.Unmarshal(trimmed, items); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}

func withPageMember[T any](items []T, raw map[string]json.RawMessage) (*Page[T], error) {
	pageRaw, ok := raw["page"]
	if !ok {
		return singlePage(items), nil
	}
	var meta pageMeta
	if err := json.Unmarshal(pageRaw, &meta); err != nil {
		return nil, fmt.Errorf("%w: page is not an object", ErrUnexpectedShape)
	}
	return withMeta(items, meta), nil
}

func singlePage[T any](items []T) *Page[T] {
	if items == nil {
		items = []T{}
	}
	p := &Page[T]{Items: items, Size: len(items), TotalElements: int64(len(items))}
	if len(items) > 0 {
		p.TotalPages = 1
	}
	return p
}

func withMeta[T any](items []T, meta pageMeta) *Page[T] {
	if items == nil {
		items = []T{}
	}
	p := &Page[T]{
		Items:         items,
		Number:        meta.Number,
		Size:          meta.Size,
		TotalPages:    meta.TotalPages,
		TotalElements: meta.TotalElements,
	}
	if p.TotalPages == 0 && len(items) > 0 {
		p.TotalPages = p.Number + 1
	}
	if p.TotalElements == 0 && len(items) > 0 {
		p.TotalElements = int64(len(items))
	}
	return p
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
