/*
Copyright 2024 Andes Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/andeslabs/campus"
	model2 "github.com/andeslabs/campus/api/model"
	"github.com/andeslabs/campus/config"
	"github.com/andeslabs/campus/internal/apierror"
	"github.com/andeslabs/campus/model"
)

// PaymentNotification ingests a gateway callback. Callers are throttled by
// the admission limiter before any parsing happens; admissions spent on
// notifications that later fail verification are not refunded.
func (a Api) PaymentNotification(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := a.campus.Limiter().Check(*conf.RateLimit.AdmitPerWindow, notificationCaller(c)); err != nil {
		if errors.Is(err, campus.ErrRateExceeded) {
			c.JSON(http.StatusTooManyRequests, apierror.NewAPIError(apierror.ErrRateLimited, "too many notifications, retry later", err))
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var notification model.PaymentNotification
	if err := c.ShouldBind(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	receipt, err := a.campus.ProcessPaymentNotification(c.Request.Context(), &notification)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The gateway redelivers anything that is not acknowledged, so even a
	// signature mismatch gets a 200. The receipt carries the verdict.
	c.JSON(http.StatusOK, receipt)
}

// SignatureVariants recomputes the digest under every canonicalization the
// engine knows, for debugging mismatches against a gateway.
func (a Api) SignatureVariants(c *gin.Context) {
	var query model2.SignatureVariants
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := query.ValidateSignatureVariants(); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid signature query", err))
		return
	}

	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	variants := a.campus.Signer().EnumerateVariants(conf.Payment.ApiKey, query.MerchantID, query.ReferenceCode, query.Amount, query.Currency, query.StatusCode)
	c.JSON(http.StatusOK, gin.H{"variants": variants})
}

// notificationCaller picks the identity the limiter counts against. The
// merchant id from the form is preferred so one noisy merchant cannot starve
// others behind the same proxy; the client IP is the fallback.
func notificationCaller(c *gin.Context) string {
	if merchant := c.PostForm("merchantId"); merchant != "" {
		return merchant
	}
	return c.ClientIP()
}
