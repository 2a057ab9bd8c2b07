package main

import (
	"net/http"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/gin-gonic/gin"
)

type entity[T any] interface {
	*T
	models.Entity
}

func registerResourceRoutes(api *gin.RouterGroup) {
	registerResource[models.Organization](api, models.OrganizationResource, listOrganizationsHandler())
	registerResource[models.Employee](api, models.EmployeeResource, nil)
	registerResource[models.Expense](api, models.ExpenseResource, nil)
	registerResource[models.ExpenseTypeMaster](api, models.ExpenseTypeResource, nil)
	registerResource[models.PettyCashDayClosing](api, models.DayClosingResource, nil)
	registerResource[models.Role](api, models.RoleResource, nil)
	registerResource[models.Permission](api, models.PermissionResource, nil)
	registerResource[models.User](api, models.UserResource, nil)
	registerResource[models.Holiday](api, models.HolidayResource, nil)

	api.GET("/audit", listAuditHandler())
}

// registerResource mounts the methods a resource allows under /<name>.
// list replaces the generic list handler when set.
func registerResource[T any, PT entity[T]](api *gin.RouterGroup, spec models.ResourceSpec, list gin.HandlerFunc) {
	g := api.Group("/" + spec.Name)
	if spec.Allows(http.MethodGet) {
		if list == nil {
			list = listResourceHandler[T, PT](spec)
		}
		g.GET("", list)
		g.GET("/:id", getResourceHandler[T, PT](spec))
	}
	if spec.Allows(http.MethodPost) {
		g.POST("", createResourceHandler[T, PT](spec))
	}
	if spec.Allows(http.MethodPut) {
		g.PUT("/:id", updateResourceHandler[T, PT](spec))
	}
	if spec.Allows(http.MethodPatch) {
		g.PATCH("/:id", patchResourceHandler[T, PT](spec))
	}
	if spec.Allows(http.MethodDelete) {
		g.DELETE("/:id", deleteResourceHandler(spec))
	}
}

func listResourceHandler[T any, PT entity[T]](spec models.ResourceSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := listQuery(c)
		if err != nil {
			writeError(c, err)
			return
		}
		page, err := models.ListResources[T, PT](c.Request.Context(), spec, q)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func getResourceHandler[T any, PT entity[T]](spec models.ResourceSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := models.GetResource[T, PT](c.Request.Context(), spec, pathID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func createResourceHandler[T any, PT entity[T]](spec models.ResourceSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input T
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		item, err := models.CreateResource[T, PT](c.Request.Context(), spec, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func updateResourceHandler[T any, PT entity[T]](spec models.ResourceSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input T
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		item, err := models.UpdateResource[T, PT](c.Request.Context(), spec, pathID(c), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func patchResourceHandler[T any, PT entity[T]](spec models.ResourceSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields map[string]any
		if err := c.ShouldBindJSON(&fields); err != nil {
			bindError(c, err)
			return
		}
		item, err := models.PatchResource[T, PT](c.Request.Context(), spec, pathID(c), fields)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func deleteResourceHandler(spec models.ResourceSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.DeleteResource(c.Request.Context(), spec, pathID(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgs, err := models.ListOrganizations(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": orgs})
	}
}

func listAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := listQuery(c)
		if err != nil {
			writeError(c, err)
			return
		}
		entries, total, err := models.ListAuditEntries(c.Request.Context(), models.AuditFilter{
			Resource:    c.Query("resource"),
			ReferenceID: c.Query("referenceId"),
			Username:    c.Query("username"),
			Page:        q.Page,
			Size:        q.Size,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries, "totalElements": total})
	}
}
