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
)

// SubmitProvisioning accepts a provisioning request. Admission is checked
// before the body is even parsed; a caller that gets throttled keeps burning
// its quota on retries.
func (a Api) SubmitProvisioning(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := a.campus.Limiter().Check(*conf.RateLimit.AdmitPerWindow, c.ClientIP()); err != nil {
		if errors.Is(err, campus.ErrRateExceeded) {
			c.JSON(http.StatusTooManyRequests, apierror.NewAPIError(apierror.ErrRateLimited, "too many provisioning requests, retry later", err))
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var newProvisioning model2.CreateProvisioning
	if err := c.ShouldBindJSON(&newProvisioning); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newProvisioning.ValidateCreateProvisioning(); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid provisioning request", err))
		return
	}

	job := newProvisioning.ToProvisioningJob()
	if err := a.campus.SubmitProvisioning(c.Request.Context(), job); err != nil {
		if errors.Is(err, campus.ErrDuplicateJob) {
			c.JSON(http.StatusConflict, apierror.NewAPIError(apierror.ErrConflict, "a provisioning job for this identity is already queued", err))
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func (a Api) GetProvisioningStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	status := a.campus.Orchestrator().JobStatus(id)
	if status == "" {
		c.JSON(http.StatusNotFound, apierror.NewAPIError(apierror.ErrNotFound, "provisioning job not found", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": status})
}
