package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/middlewares"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/models/reports"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
	"github.com/gin-gonic/gin"
)

const multipartMemory = 32 << 20 // 32 MB

func registerHandLoanRoutes(api *gin.RouterGroup) {
	loans := api.Group("/handloans")
	loans.GET("", listHandLoansHandler())
	loans.POST("", createHandLoanHandler())
	loans.GET("/summary", handLoanSummaryHandler())
	loans.GET("/balance", currentBalanceHandler())
	loans.GET("/export", exportHandLoansHandler())

	loans.GET("/view", getHandLoanViewHandler())
	loans.PUT("/view/mode", updateHandLoanViewHandler(setViewMode))
	loans.PUT("/view/page", updateHandLoanViewHandler(setViewPage))
	loans.PUT("/view/organization", updateHandLoanViewHandler(setViewOrganization))
	loans.PUT("/view/selection", updateHandLoanViewHandler(setViewSelection))

	loans.GET("/:id", getHandLoanHandler())
	loans.GET("/:id/recoveries", handLoanRecoveriesHandler())
	loans.POST("/:id/recover", recoverHandLoanHandler())
}

func listHandLoansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mode, err := models.ParseViewMode(c.Query("view"))
		if err != nil {
			writeError(c, err)
			return
		}
		q, err := listQuery(c)
		if err != nil {
			writeError(c, err)
			return
		}
		orgID := upstream.ID(strings.TrimSpace(c.Query("organizationId")))
		page, err := models.FetchHandLoans(c.Request.Context(), mode, orgID, q.Page, q.Size)
		if err != nil {
			writeError(c, err)
			return
		}
		resp := gin.H{
			"items":         page.Items,
			"page":          page.Number,
			"size":          page.Size,
			"totalPages":    page.TotalPages,
			"totalElements": page.TotalElements,
			"summary":       models.SummarizeHandLoans(page.Items),
		}
		if c.Query("include") == "recoveries" {
			recoveries, err := pageRecoveries(c, page.Items)
			if err != nil {
				writeError(c, err)
				return
			}
			resp["recoveries"] = recoveries
		}
		c.JSON(http.StatusOK, resp)
	}
}

// pageRecoveries loads the recoveries of every loan on the page that has been
// partly or fully paid back. Loans with nothing recovered map to an empty list.
func pageRecoveries(c *gin.Context, loans []models.HandLoan) (map[upstream.ID][]models.RecoveryTransaction, error) {
	out := make(map[upstream.ID][]models.RecoveryTransaction, len(loans))
	var ids []upstream.ID
	for _, l := range loans {
		if l.ID.IsZero() {
			continue
		}
		out[l.ID] = []models.RecoveryTransaction{}
		if l.RecoveredAmount().IsPositive() {
			ids = append(ids, l.ID)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}
	loaded, err := middlewares.GetRecoveriesForLoans(c.Request.Context(), ids)
	if err != nil {
		return nil, err
	}
	for id, recoveries := range loaded {
		out[id] = recoveries
	}
	return out, nil
}

func handLoanSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mode, err := models.ParseViewMode(c.Query("view"))
		if err != nil {
			writeError(c, err)
			return
		}
		orgID := upstream.ID(strings.TrimSpace(c.Query("organizationId")))
		summary, err := models.FullHandLoanSummary(c.Request.Context(), mode, orgID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func currentBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := upstream.ID(strings.TrimSpace(c.Query("organizationId")))
		if orgID.IsZero() {
			orgID = currentSession(c).OrganizationID
		}
		date := strings.TrimSpace(c.Query("date"))
		if date == "" {
			date = time.Now().Format(time.DateOnly)
		}
		balance, err := models.FetchCurrentBalance(c.Request.Context(), orgID, date)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"organizationId": orgID, "date": date, "balance": balance})
	}
}

func exportHandLoansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mode, err := models.ParseViewMode(c.Query("view"))
		if err != nil {
			writeError(c, err)
			return
		}
		orgID := upstream.ID(strings.TrimSpace(c.Query("organizationId")))
		export, err := reports.ExportHandLoans(c.Request.Context(), mode, orgID)
		if err != nil {
			writeError(c, err)
			return
		}
		if export.URL != "" {
			c.JSON(http.StatusOK, export)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName))
		c.Data(http.StatusOK, reports.XlsxContentType, export.Data)
	}
}

func getHandLoanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		loan, err := models.FetchHandLoan(c.Request.Context(), pathID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, loan)
	}
}

func handLoanRecoveriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recoveries, err := middlewares.GetRecoveries(c.Request.Context(), pathID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": recoveries})
	}
}

// createHandLoanHandler accepts multipart (a "handLoan" JSON part plus an optional
// "file") or a plain JSON body.
func createHandLoanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewHandLoan
		var attachment *models.Attachment

		if strings.HasPrefix(c.ContentType(), "multipart/") {
			if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
				bindError(c, err)
				return
			}
			raw, err := multipartJSON(c, "handLoan")
			if err != nil {
				bindError(c, err)
				return
			}
			if err := json.Unmarshal(raw, &input); err != nil {
				bindError(c, err)
				return
			}
			if attachment, err = formAttachment(c, "file"); err != nil {
				writeError(c, err)
				return
			}
		} else if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}

		loan, err := models.CreateHandLoan(c.Request.Context(), &input, attachment)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, loan)
	}
}

func recoverHandLoanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRecovery
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		recovery, err := models.RecoverHandLoan(c.Request.Context(), pathID(c), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, recovery)
	}
}

// multipartJSON reads a JSON part sent either as a form field or as a file part.
func multipartJSON(c *gin.Context, name string) ([]byte, error) {
	if v, ok := c.GetPostForm(name); ok && strings.TrimSpace(v) != "" {
		return []byte(v), nil
	}
	header, err := c.FormFile(name)
	if err != nil {
		return nil, fmt.Errorf("missing %q part", name)
	}
	return readFormFile(header, utils.MaxAttachmentSizeBytes)
}

// formAttachment returns nil when the part is absent.
func formAttachment(c *gin.Context, name string) (*models.Attachment, error) {
	header, err := c.FormFile(name)
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewValidationError(name, "could not be read")
	}
	if header.Size > utils.MaxAttachmentSizeBytes {
		return nil, models.NewValidationError(name, fmt.Sprintf("must be at most %d MB", utils.MaxAttachmentSizeBytes>>20))
	}
	data, err := readFormFile(header, utils.MaxAttachmentSizeBytes)
	if err != nil {
		return nil, models.NewValidationError(name, "could not be read")
	}
	return &models.Attachment{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFormFile(header *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

type viewUpdate struct {
	Mode           string      `json:"mode"`
	Page           *int        `json:"page"`
	OrganizationID upstream.ID `json:"organizationId"`
	LoanID         upstream.ID `json:"loanId"`
}

type viewUpdater func(c *gin.Context, v *models.HandLoanView, u viewUpdate) error

func setViewMode(c *gin.Context, v *models.HandLoanView, u viewUpdate) error {
	mode, err := models.ParseViewMode(u.Mode)
	if err != nil {
		return err
	}
	return v.SetMode(c.Request.Context(), mode)
}

func setViewPage(c *gin.Context, v *models.HandLoanView, u viewUpdate) error {
	if u.Page == nil {
		return models.NewValidationError("page", "is required")
	}
	return v.GoToPage(c.Request.Context(), *u.Page)
}

func setViewOrganization(c *gin.Context, v *models.HandLoanView, u viewUpdate) error {
	return v.SetOrganization(c.Request.Context(), u.OrganizationID)
}

func setViewSelection(c *gin.Context, v *models.HandLoanView, u viewUpdate) error {
	return v.Select(c.Request.Context(), u.LoanID)
}

// getHandLoanViewHandler reloads the stored view so the screen always shows fresh data.
func getHandLoanViewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		s := currentSession(c)
		v, err := models.LoadHandLoanView(ctx, s)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := v.Refresh(ctx); err != nil {
			writeError(c, err)
			return
		}
		if err := models.SaveHandLoanView(ctx, s, v); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func updateHandLoanViewHandler(update viewUpdater) gin.HandlerFunc {
	return func(c *gin.Context) {
		var u viewUpdate
		if err := c.ShouldBindJSON(&u); err != nil {
			bindError(c, err)
			return
		}
		ctx := c.Request.Context()
		s := currentSession(c)
		v, err := models.LoadHandLoanView(ctx, s)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := update(c, v, u); err != nil {
			writeError(c, err)
			return
		}
		if err := models.SaveHandLoanView(ctx, s, v); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}
