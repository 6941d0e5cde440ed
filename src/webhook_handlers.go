package main

import (
	"io"
	"log"
	"lovia/src/common"
	"lovia/src/lib"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// webhookHandlers answers ECPay in plain text. Anything but "1|OK" makes
// ECPay retry the notification.
func webhookHandlers(g *gin.RouterGroup, payments *common.Payments) *gin.RouterGroup {
	ecpay := func(ctx *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
		if err != nil {
			log.Printf("[ECPay] Error reading notification: %s\n", err.Error())
			ctx.String(http.StatusOK, string(lib.AckFail))
			return
		}
		ack := payments.HandleCardCallback(ctx.Request.Context(), raw)
		ctx.String(http.StatusOK, string(ack))
	}
	webhooks := g.Group("/webhooks/ecpay")
	webhooks.POST("/callback", ecpay)
	webhooks.POST("/atm", ecpay)
	return g
}
