package main

import (
	"log"
	"lovia/src/common"
	"lovia/src/db"
	"lovia/src/types"
	"net/http"

	"github.com/gin-gonic/gin"
)

// settingHandlers manages persisted settings. Values are never echoed back.
func settingHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/settings", func(ctx *gin.Context) {
			var body types.CreateSettingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			setting, err := common.SaveSetting(ctx.Request.Context(), db.GetDb(), &body)
			if err != nil {
				log.Printf("Error saving setting %s: %s\n", body.Key, err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": setting})
		}).
		GET("/settings", func(ctx *gin.Context) {
			settings, err := common.ListSettings(ctx.Request.Context(), db.GetDb(), ctx.Query("group"))
			if err != nil {
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": settings})
		})
	return g
}
