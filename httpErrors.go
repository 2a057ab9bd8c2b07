package main

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"github.com/gin-gonic/gin"
)

// writeError maps domain and upstream errors to a status and the {"error": ...} body.
func writeError(c *gin.Context, err error) {
	var ve *models.ValidationError
	var apiErr *upstream.APIError
	var urlErr *url.Error

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": ve.Fields})
	case errors.Is(err, models.ErrNoLoanSelected), errors.Is(err, models.ErrRecoveryInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNoSession):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, models.ErrAuditUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
		c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
	case errors.As(err, &apiErr), errors.As(err, &urlErr), errors.Is(err, upstream.ErrUnexpectedShape):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "SimplERP API request failed"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// bindError answers a malformed request body.
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(name, "must be a whole number")
	}
	return n, nil
}

func listQuery(c *gin.Context) (models.ListQuery, error) {
	page, err := queryInt(c, "page", 0)
	if err != nil {
		return models.ListQuery{}, err
	}
	size, err := queryInt(c, "size", 0)
	if err != nil {
		return models.ListQuery{}, err
	}
	return models.ListQuery{Page: page, Size: size, Sort: c.Query("sort")}, nil
}

func pathID(c *gin.Context) upstream.ID {
	return upstream.ID(strings.TrimSpace(c.Param("id")))
}

func currentSession(c *gin.Context) *models.Session {
	s, _ := models.SessionFromContext(c.Request.Context())
	return s
}
