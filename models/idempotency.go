package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/config"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

const idempotencyTTL = 24 * time.Hour

var ErrIdempotencyInProgress = errors.New("a request with this idempotency key is still being processed")

// IdempotentResponse is what a POST answered the first time its key was used.
type IdempotentResponse struct {
	Status      IdempotencyStatus `json:"status"`
	StatusCode  int               `json:"statusCode,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

/*
caches:
	Idempotency:$username:$method:$path:$key   24h
*/

// IdempotencyScope ties a key to one user and one endpoint.
type IdempotencyScope struct {
	Username string
	Method   string
	Path     string
}

func (s IdempotencyScope) cacheKey(key string) string {
	return "Idempotency:" + s.Username + ":" + s.Method + ":" + s.Path + ":" + key
}

// ClaimIdempotencyKey marks key as in use. It returns the stored response when
// the key already completed, and ErrIdempotencyInProgress while the first
// request is still running. A nil response means the caller owns the key.
func ClaimIdempotencyKey(ctx context.Context, scope IdempotencyScope, key string) (*IdempotentResponse, error) {
	started, err := json.Marshal(IdempotentResponse{Status: IdempotencyStatusStarted})
	if err != nil {
		return nil, err
	}
	cacheKey := scope.cacheKey(key)
	claimed, err := config.SetRedisValueNX(ctx, cacheKey, string(started), idempotencyTTL)
	if err != nil || claimed {
		return nil, err
	}

	var prev IdempotentResponse
	exists, err := config.GetRedisObject(ctx, cacheKey, &prev)
	if err != nil {
		return nil, err
	}
	if !exists {
		// expired between the two calls; the next claim wins
		return ClaimIdempotencyKey(ctx, scope, key)
	}
	if prev.Status != IdempotencyStatusSucceeded {
		return nil, ErrIdempotencyInProgress
	}
	return &prev, nil
}

// CompleteIdempotencyKey stores the final response. Server errors release the
// key so the client can retry.
func CompleteIdempotencyKey(ctx context.Context, scope IdempotencyScope, key string, resp IdempotentResponse) error {
	if resp.StatusCode >= 500 {
		return ReleaseIdempotencyKey(ctx, scope, key)
	}
	resp.Status = IdempotencyStatusSucceeded
	return config.SetRedisObject(ctx, scope.cacheKey(key), resp, idempotencyTTL)
}

// ReleaseIdempotencyKey forgets a claimed key without storing a response.
func ReleaseIdempotencyKey(ctx context.Context, scope IdempotencyScope, key string) error {
	return config.RemoveRedisKey(ctx, scope.cacheKey(key))
}
