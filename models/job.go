package models

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"bitbucket.org/mmdatafocus/simplerp_gateway/utils"
)

var JobResource = ResourceSpec{Name: "jobs", Path: "/jobs", EmbeddedKey: "jobs", Methods: []string{http.MethodGet}}

type Job struct {
	ID          upstream.ID     `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Status      string          `json:"status,omitempty"`
	CreatedDate string          `json:"createdDate,omitempty"`
	Links       *upstream.Links `json:"_links,omitempty"`
}

func (j *Job) Normalize() {
	j.ID = upstream.FirstID(j.ID, j.Links.SelfID())
	j.Links = nil
}

type JobFileUpload struct {
	ID           upstream.ID     `json:"id"`
	JobID        upstream.ID     `json:"jobId,omitempty"`
	FileName     string          `json:"fileName"`
	Status       string          `json:"status,omitempty"`
	UploadedDate string          `json:"uploadedDate,omitempty"`
	Links        *upstream.Links `json:"_links,omitempty"`
}

func (f *JobFileUpload) Normalize() {
	f.ID = upstream.FirstID(f.ID, f.Links.SelfID())
	f.Links = nil
}

// JobContent is a job's generated artefact, passed through untouched.
type JobContent struct {
	Kind        JobContentKind
	ContentType string
	Body        []byte
}

func ListJobs(ctx context.Context, q ListQuery) (*upstream.Page[Job], error) {
	return ListResources[Job](ctx, JobResource, q)
}

func GetJob(ctx context.Context, id upstream.ID) (*Job, error) {
	return GetResource[Job](ctx, JobResource, id)
}

func ListJobFileUploads(ctx context.Context, jobID upstream.ID) ([]JobFileUpload, error) {
	if jobID == "" {
		return nil, NewValidationError("id", "is required")
	}
	body, err := upstream.Default().Get(ctx, "/jobs/file-uploads/"+url.PathEscape(jobID.String()), nil)
	if err != nil {
		return nil, err
	}
	page, err := upstream.DecodePage[JobFileUpload](body, "")
	if err != nil {
		return nil, err
	}
	for i := range page.Items {
		page.Items[i].Normalize()
		if page.Items[i].JobID == "" {
			page.Items[i].JobID = jobID
		}
	}
	return page.Items, nil
}

func GetJobContent(ctx context.Context, kind string, jobID upstream.ID) (*JobContent, error) {
	k, err := ParseJobContentKind(kind)
	if err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, NewValidationError("id", "is required")
	}
	resp, err := upstream.Default().GetRaw(ctx, "/jobs/content/"+string(k)+"/"+url.PathEscape(jobID.String()), nil)
	if err != nil {
		return nil, err
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = defaultContentType(k)
	}
	return &JobContent{Kind: k, ContentType: contentType, Body: resp.Body}, nil
}

func defaultContentType(k JobContentKind) string {
	switch k {
	case JobContentHTML:
		return "text/html; charset=utf-8"
	case JobContentSchema:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// UploadJobFile attaches a data file to a job.
func UploadJobFile(ctx context.Context, jobID upstream.ID, file *Attachment) (*JobFileUpload, error) {
	if jobID == "" {
		return nil, NewValidationError("id", "is required")
	}
	if file == nil || len(file.Data) == 0 {
		return nil, NewValidationError("file", "is required")
	}
	if int64(len(file.Data)) > utils.MaxAttachmentSizeBytes {
		return nil, NewValidationError("file", utils.ErrAttachmentTooLarge.Error())
	}
	name := strings.TrimSpace(file.FileName)
	if name == "" {
		name = utils.GenerateUniqueFilename()
	}

	body, err := upstream.Default().PostMultipart(ctx, "/jobs/file-uploads/"+url.PathEscape(jobID.String()), []upstream.Part{{
		FieldName:   "file",
		FileName:    name,
		ContentType: file.ContentType,
		Data:        file.Data,
	}})
	if err != nil {
		return nil, err
	}
	upload := JobFileUpload{JobID: jobID, FileName: name}
	result, err := decodeMutation[JobFileUpload](body, &upload)
	if err != nil {
		return nil, err
	}
	if result.JobID == "" {
		result.JobID = jobID
	}
	RecordAudit(ctx, AuditActionUpload, "jobs", jobID.String(), map[string]any{"fileName": name, "size": len(file.Data)})
	return result, nil
}
