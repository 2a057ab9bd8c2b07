package main

import (
	"net/http"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/gin-gonic/gin"
)

func registerJobRoutes(api *gin.RouterGroup) {
	jobs := api.Group("/jobs")
	jobs.GET("", listJobsHandler())
	jobs.GET("/:id", getJobHandler())
	jobs.GET("/:id/file-uploads", listJobFileUploadsHandler())
	jobs.POST("/:id/file-uploads", uploadJobFileHandler())
	jobs.GET("/:id/content/:kind", jobContentHandler())
}

func listJobsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := listQuery(c)
		if err != nil {
			writeError(c, err)
			return
		}
		page, err := models.ListJobs(c.Request.Context(), q)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func getJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := models.GetJob(c.Request.Context(), pathID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func listJobFileUploadsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		uploads, err := models.ListJobFileUploads(c.Request.Context(), pathID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": uploads})
	}
}

func uploadJobFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
			bindError(c, err)
			return
		}
		file, err := formAttachment(c, "file")
		if err != nil {
			writeError(c, err)
			return
		}
		if file == nil {
			writeError(c, models.NewValidationError("file", "is required"))
			return
		}
		upload, err := models.UploadJobFile(c.Request.Context(), pathID(c), file)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, upload)
	}
}

// jobContentHandler passes the stored artifact through with its own content type.
func jobContentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		content, err := models.GetJobContent(c.Request.Context(), c.Param("kind"), pathID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, content.ContentType, content.Body)
	}
}
