package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andeslabs/campus"
	"github.com/andeslabs/campus/api/middleware"
	"github.com/andeslabs/campus/config"
)

type Api struct {
	campus *campus.Campus
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/provision", a.SubmitProvisioning)
	router.GET("/provision/:id/status", a.GetProvisioningStatus)

	// Variant canonical strings embed the payment secret, so this route is
	// secret-key guarded even when the rest of the surface is open.
	diagnostics := router.Group("/payments", middleware.SecretKeyAuthMiddleware())
	diagnostics.GET("/signature-variants", a.SignatureVariants)

	router.GET("/events", a.GetEvents)
	router.GET("/events/search", a.SearchEvents)

	return a.router
}

func NewAPI(c *campus.Campus) (*Api, error) {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	a := &Api{campus: c, router: r}

	// The gateway authenticates with its payment signature, not the secret
	// key, so the notification route stays outside the auth middleware.
	r.POST("/payments/notify", a.PaymentNotification)

	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	return a, nil
}
