package models_test

import (
	"context"
	"net/http"
	"testing"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJobContent(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodGet, "/jobs/content/html/4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<h1>report</h1>"))
	})

	content, err := models.GetJobContent(context.Background(), "HTML", "4")
	require.NoError(t, err)
	assert.Equal(t, models.JobContentHTML, content.Kind)
	assert.Equal(t, "text/html", content.ContentType)
	assert.Equal(t, "<h1>report</h1>", string(content.Body))

	_, err = models.GetJobContent(context.Background(), "exe", "4")
	assert.True(t, models.IsValidationError(err))
	assert.Equal(t, 1, fake.total())
}

func TestListJobsAndUploads(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.respond(http.MethodGet, "/jobs", http.StatusOK, `{"_embedded":{"jobs":[{"name":"Nightly","_links":{"self":{"href":"/api/jobs/4"}}}]},"page":{"number":0,"size":10,"totalPages":1,"totalElements":1}}`)
	fake.respond(http.MethodGet, "/jobs/file-uploads/4", http.StatusOK, `[{"id":1,"fileName":"a.csv"}]`)

	jobs, err := models.ListJobs(context.Background(), models.ListQuery{})
	require.NoError(t, err)
	require.Len(t, jobs.Items, 1)
	assert.Equal(t, upstream.ID("4"), jobs.Items[0].ID)

	uploads, err := models.ListJobFileUploads(context.Background(), "4")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, upstream.ID("4"), uploads[0].JobID)
}

func TestUploadJobFile(t *testing.T) {
	fake := newFakeUpstream(t)
	fake.handle(http.MethodPost, "/jobs/file-uploads/4", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["file"]
		require.Len(t, files, 1)
		assert.Equal(t, "data.csv", files[0].Filename)
		_, _ = w.Write([]byte(`{"id":8,"fileName":"data.csv","status":"PENDING"}`))
	})

	_, err := models.UploadJobFile(context.Background(), "4", nil)
	assert.True(t, models.IsValidationError(err))

	upload, err := models.UploadJobFile(context.Background(), "4", &models.Attachment{FileName: "data.csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n")})
	require.NoError(t, err)
	assert.Equal(t, upstream.ID("8"), upload.ID)
	assert.Equal(t, upstream.ID("4"), upload.JobID)
	assert.Equal(t, "PENDING", upload.Status)
}
