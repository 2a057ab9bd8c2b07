package models

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
)

const (
	defaultPageSize = 10
	maxPageSize     = 200
)

// Entity is implemented by every resource the gateway proxies.
type Entity interface {
	// Normalize fills defaults and the id from the HAL self link.
	Normalize()
}

// Checker adds rules that struct tags cannot express.
type Checker interface {
	Check(ve *ValidationError)
}

// entityPtr lets the generic functions call pointer-receiver methods on T.
type entityPtr[T any] interface {
	*T
	Entity
}

// ResourceSpec describes one upstream collection.
type ResourceSpec struct {
	Name        string
	Path        string
	CreatePath  string
	EmbeddedKey string
	Methods     []string
}

func (s ResourceSpec) Allows(method string) bool {
	for _, m := range s.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (s ResourceSpec) itemPath(id upstream.ID) string {
	return s.Path + "/" + url.PathEscape(id.String())
}

func (s ResourceSpec) createPath() string {
	if s.CreatePath != "" {
		return s.CreatePath
	}
	return s.Path
}

type ListQuery struct {
	Page int
	Size int
	Sort string
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	page := max(q.Page, 0)
	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	v.Set("page", strconv.Itoa(page))
	v.Set("size", strconv.Itoa(size))
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	return v
}

func ListResources[T any, PT entityPtr[T]](ctx context.Context, spec ResourceSpec, q ListQuery) (*upstream.Page[T], error) {
	body, err := upstream.Default().Get(ctx, spec.Path, q.values())
	if err != nil {
		return nil, err
	}
	page, err := upstream.DecodePage[T](body, spec.EmbeddedKey)
	if err != nil {
		return nil, err
	}
	for i := range page.Items {
		PT(&page.Items[i]).Normalize()
	}
	return page, nil
}

func GetResource[T any, PT entityPtr[T]](ctx context.Context, spec ResourceSpec, id upstream.ID) (*T, error) {
	if id == "" {
		return nil, NewValidationError("id", "is required")
	}
	body, err := upstream.Default().Get(ctx, spec.itemPath(id), nil)
	if err != nil {
		return nil, notFound(err, spec.Name, id)
	}
	result, err := upstream.DecodeOne[T](body)
	if err != nil {
		return nil, err
	}
	PT(result).Normalize()
	return result, nil
}

// validateEntity runs tag validation plus the entity's own checks.
func validateEntity(v any) error {
	ve := &ValidationError{}
	if err := validateInput(v); err != nil {
		fields, ok := err.(*ValidationError)
		if !ok {
			return err
		}
		ve = fields
	}
	if c, ok := v.(Checker); ok {
		c.Check(ve)
	}
	return ve.orNil()
}

func CreateResource[T any, PT entityPtr[T]](ctx context.Context, spec ResourceSpec, input *T) (*T, error) {
	if err := validateEntity(input); err != nil {
		return nil, err
	}
	body, err := upstream.Default().PostJSON(ctx, spec.createPath(), input)
	if err != nil {
		return nil, err
	}
	result, err := decodeMutation[T, PT](body, input)
	if err != nil {
		return nil, err
	}
	afterMutation(ctx, spec, AuditActionCreate, idOf(result), input)
	return result, nil
}

func UpdateResource[T any, PT entityPtr[T]](ctx context.Context, spec ResourceSpec, id upstream.ID, input *T) (*T, error) {
	if id == "" {
		return nil, NewValidationError("id", "is required")
	}
	if err := validateEntity(input); err != nil {
		return nil, err
	}
	body, err := upstream.Default().PutJSON(ctx, spec.itemPath(id), input)
	if err != nil {
		return nil, err
	}
	result, err := decodeMutation[T, PT](body, input)
	if err != nil {
		return nil, err
	}
	afterMutation(ctx, spec, AuditActionUpdate, id.String(), input)
	return result, nil
}

// PatchResource sends a partial update. Only the named fields change upstream,
// so there is no whole-entity validation.
func PatchResource[T any, PT entityPtr[T]](ctx context.Context, spec ResourceSpec, id upstream.ID, fields map[string]any) (*T, error) {
	if id == "" {
		return nil, NewValidationError("id", "is required")
	}
	if len(fields) == 0 {
		return nil, NewValidationError("body", "no fields to update")
	}
	for _, readOnly := range []string{"id", "_links"} {
		delete(fields, readOnly)
	}
	body, err := upstream.Default().PatchJSON(ctx, spec.itemPath(id), fields)
	if err != nil {
		return nil, err
	}
	var empty T
	result, err := decodeMutation[T, PT](body, &empty)
	if err != nil {
		return nil, err
	}
	afterMutation(ctx, spec, AuditActionPatch, id.String(), fields)
	return result, nil
}

func DeleteResource(ctx context.Context, spec ResourceSpec, id upstream.ID) error {
	if id == "" {
		return NewValidationError("id", "is required")
	}
	if err := upstream.Default().Delete(ctx, spec.itemPath(id)); err != nil {
		return err
	}
	afterMutation(ctx, spec, AuditActionDelete, id.String(), nil)
	return nil
}

// decodeMutation decodes the echoed entity. An empty body (204, or 201 without
// content) yields the submitted input.
func decodeMutation[T any, PT entityPtr[T]](body []byte, input *T) (*T, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		PT(input).Normalize()
		return input, nil
	}
	result, err := upstream.DecodeOne[T](body)
	if err != nil {
		return nil, err
	}
	PT(result).Normalize()
	return result, nil
}

func afterMutation(ctx context.Context, spec ResourceSpec, action AuditAction, referenceID string, payload any) {
	if spec.Name == OrganizationResource.Name {
		removeOrganizationsCache(ctx)
	}
	RecordAudit(ctx, action, spec.Name, referenceID, redact(payload))
}

// idOf reads the "id" member of an entity's JSON form.
func idOf(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var withID struct {
		ID upstream.ID `json:"id"`
	}
	if err := json.Unmarshal(b, &withID); err != nil {
		return ""
	}
	return withID.ID.String()
}

// redact keeps secrets out of the audit trail.
func redact(payload any) any {
	if payload == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return payload
	}
	for k := range fields {
		if strings.Contains(strings.ToLower(k), "password") {
			fields[k] = "***"
		}
	}
	return fields
}

var (
	readWrite       = []string{http.MethodGet, http.MethodPost, http.MethodPut}
	readWriteDelete = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}
	readWritePatch  = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch}
)
