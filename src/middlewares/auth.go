package middlewares

import (
	"errors"
	"log"
	"lovia/src/db"
	"lovia/src/models"
	"lovia/src/types"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

var jwtKey = []byte(os.Getenv("JWT_SECRET"))

// SetJWTKey replaces the signing key read from JWT_SECRET.
func SetJWTKey(key []byte) {
	jwtKey = key
}

func AuthMiddleware(ctx *gin.Context) {
	bearerToken := ctx.Request.Header.Get("Authorization")
	reqToken, ok := strings.CutPrefix(bearerToken, "Bearer ")
	if !ok || strings.TrimSpace(reqToken) == "" {
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	claims := &types.Claims{}
	tkn, err := jwt.ParseWithClaims(reqToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtKey, nil
	})
	if err != nil || !tkn.Valid {
		if err != nil {
			log.Printf("token error: %s\n", err.Error())
		}
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		log.Println("error parsing claims:", err.Error())
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var user models.User
	if err := db.GetDb().
		Model(&models.User{}).
		Where(&models.User{ID: uint(uid)}).
		First(&user).
		Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Error loading user %d: %s\n", uid, err.Error())
		}
		ctx.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ctx.Set("email", user.Email)
	ctx.Set("id", user.ID)
	ctx.Set("role", user.Role)
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetString("role") != role {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		ctx.Next()
	}
}

func SecureHeaders(ctx *gin.Context) {
	h := ctx.Writer.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	if types.Environment(os.Getenv("API_ENV")) == types.Production {
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	}
	ctx.Next()
}
