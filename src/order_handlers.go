package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"lovia/src/common"
	"lovia/src/lib"
	"lovia/src/types"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func respondError(ctx *gin.Context, err error) {
	var verr *common.ValidationError
	switch {
	case errors.As(err, &verr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, lib.ErrUnsupportedMethod), errors.Is(err, lib.ErrMalformedCallback):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrForbidden):
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrOrderNotFound),
		errors.Is(err, common.ErrUserNotFound),
		errors.Is(err, common.ErrPlanNotFound),
		errors.Is(err, common.ErrProjectNotFound),
		errors.Is(err, common.ErrPaymentURLNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrOrderNotPending),
		errors.Is(err, common.ErrOrderConflict),
		errors.Is(err, common.ErrAmountMismatch):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, lib.ErrGatewayUnavailable):
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable", "retryable": true})
	case errors.Is(err, lib.ErrGatewayRejected):
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway rejected the request", "retryable": false})
	default:
		log.Printf("Unhandled error: %s\n", err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// qrCodeUploader moves a rendered QR code off the local disk.
type qrCodeUploader interface {
	Upload(ctx context.Context, name string, filePath string) (string, error)
}

func bindOrderUUID(ctx *gin.Context) (uuid.UUID, bool) {
	var params types.OrderURIParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(params.OrderID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, false
	}
	return id, true
}

func orderHandlers(g *gin.RouterGroup, payments *common.Payments, qrcodes qrCodeUploader) *gin.RouterGroup {
	g.
		POST("/orders", func(ctx *gin.Context) {
			var body types.CheckoutRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			order, err := payments.Checkout(ctx.Request.Context(), ctx.GetUint("id"), &body)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": order})
		}).
		GET("/orders/mine", func(ctx *gin.Context) {
			var query types.PaginationQuery
			if err := ctx.ShouldBindQuery(&query); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			orders, total, err := payments.ListMine(ctx.Request.Context(), ctx.GetUint("id"), query.Page, query.Limit)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{
				"data":  orders,
				"total": total,
				"page":  query.Page,
				"limit": query.Limit,
			})
		}).
		POST("/orders/:orderId/payment", func(ctx *gin.Context) {
			orderUUID, ok := bindOrderUUID(ctx)
			if !ok {
				return
			}
			var body types.PaymentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			art, err := payments.RequestPayment(ctx.Request.Context(), ctx.GetUint("id"), orderUUID, body.Method)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": art})
		}).
		GET("/orders/:orderId/payment/result", func(ctx *gin.Context) {
			orderUUID, ok := bindOrderUUID(ctx)
			if !ok {
				return
			}
			result, err := payments.PaymentResult(ctx.Request.Context(), ctx.GetUint("id"), orderUUID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": result})
		}).
		GET("/orders/:orderId/payment/qrcode", func(ctx *gin.Context) {
			orderUUID, ok := bindOrderUUID(ctx)
			if !ok {
				return
			}
			paymentURL, err := payments.PaymentURL(ctx.Request.Context(), ctx.GetUint("id"), orderUUID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			dir := os.Getenv("TEMP_DIR")
			if dir == "" {
				dir = path.Join(os.TempDir(), "lovia-qrcodes")
			}
			filePath, err := lib.SaveQRCode(paymentURL, dir, orderUUID.String())
			if err != nil {
				respondError(ctx, err)
				return
			}
			defer os.Remove(filePath)
			if qrcodes != nil {
				link, err := qrcodes.Upload(ctx.Request.Context(), orderUUID.String(), filePath)
				if err != nil {
					log.Printf("[QRCode] Upload failed for %s: %s\n", orderUUID, err.Error())
					ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not store qr code"})
					return
				}
				ctx.Redirect(http.StatusFound, link)
				return
			}
			ctx.File(filePath)
		})
	return g
}

func publicOrderHandlers(g *gin.RouterGroup, payments *common.Payments, siteURL string) *gin.RouterGroup {
	g.
		GET("/orders/:orderId/status", func(ctx *gin.Context) {
			orderUUID, ok := bindOrderUUID(ctx)
			if !ok {
				return
			}
			status, err := payments.GetOrderStatus(ctx.Request.Context(), orderUUID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": status})
		})

	linepay := g.Group("/orders/linepay")
	linepay.
		GET("/confirm", func(ctx *gin.Context) {
			var query types.WalletReturnQuery
			if err := ctx.ShouldBindQuery(&query); err != nil {
				log.Printf("[LINEPay] Invalid return query: %s\n", err.Error())
				ctx.Redirect(http.StatusFound, siteURL+"/#/payment/linepay/cancel")
				return
			}
			order, err := payments.ConfirmWalletReturn(ctx.Request.Context(), []byte(ctx.Request.URL.RawQuery))
			if err != nil {
				log.Printf("[LINEPay] Confirm failed for %s: %s\n", query.OrderID, err.Error())
				ctx.Redirect(http.StatusFound, siteURL+"/#/payment/linepay/cancel")
				return
			}
			q := url.Values{}
			q.Set("transactionId", query.TransactionID)
			q.Set("orderId", order.OrderUUID.String())
			ctx.Redirect(http.StatusFound, fmt.Sprintf("%s/#/payment/linepay/success?%s", siteURL, q.Encode()))
		}).
		GET("/cancel", func(ctx *gin.Context) {
			ctx.Redirect(http.StatusFound, siteURL+"/transaction-result?status=cancel")
		})
	return g
}
