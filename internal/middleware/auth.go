package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/services"
)

func Auth(authService *services.AuthService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "MISSING_AUTHORIZATION",
					"message": "Authorization header is required",
				},
			})
			c.Abort()
			return
		}

		// Check for Bearer token format
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_AUTHORIZATION_FORMAT",
					"message": "Authorization header must be in format 'Bearer <token>'",
				},
			})
			c.Abort()
			return
		}

		tokenString := tokenParts[1]

		// Check if it's an API key (simple heuristic: no dots means API key)
		if !strings.Contains(tokenString, ".") {
			// Handle API key authentication
			tier, err := authService.ValidateAPIKey(tokenString)
			if err != nil {
				logger.WithError(err).Warn("Invalid API key")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": gin.H{
						"code":    "INVALID_API_KEY",
						"message": "Invalid API key",
					},
				})
				c.Abort()
				return
			}

			// API key callers identify the acting customer by header;
			// storefront jobs without one get a throwaway identity
			customerKey := c.GetHeader("X-Customer-Key")
			if customerKey == "" {
				customerKey = uuid.NewString()
			}

			c.Set("customer_key", customerKey)
			c.Set("tier", tier)
			c.Set("api_key", tokenString)
			c.Next()
			return
		}

		// Handle JWT token authentication
		claims, err := authService.ValidateToken(tokenString)
		if err != nil {
			logger.WithError(err).Warn("Invalid JWT token")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_TOKEN",
					"message": "Invalid or expired token",
				},
			})
			c.Abort()
			return
		}

		c.Set("customer_key", claims.CustomerKey)
		c.Set("tier", claims.Tier)
		c.Set("api_key", claims.APIKey)
		c.Next()
	}
}

func GetCallerFromContext(c *gin.Context) (string, string, string) {
	customerKey, _ := c.Get("customer_key")
	tier, _ := c.Get("tier")
	apiKey, _ := c.Get("api_key")

	return customerKey.(string), tier.(string), apiKey.(string)
}
