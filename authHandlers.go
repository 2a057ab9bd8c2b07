package main

import (
	"net/http"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"github.com/gin-gonic/gin"
)

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds models.Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			bindError(c, err)
			return
		}
		info, err := models.Login(c.Request.Context(), creds.Username, creds.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewRegistration
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		if err := models.Register(c.Request.Context(), &input); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"username": input.Username})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("all") == "true" {
			n, err := models.LogoutAll(c.Request.Context())
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"loggedOut": true, "sessions": n})
			return
		}
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"loggedOut": ok})
	}
}

func sessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, currentSession(c).LoginInfo())
	}
}
