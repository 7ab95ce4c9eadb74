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
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/andeslabs/campus/api/model"
	"github.com/andeslabs/campus/model"
)

// GetEvents returns the most recent ledger events, newest first. The limit
// query parameter caps the result; it defaults to the whole retained window.
func (a Api) GetEvents(c *gin.Context) {
	limit := a.campus.Ledger().Len()
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	events := make([]model.PaymentEvent, 0, limit)
	for event := range a.campus.Ledger().Recent(limit) {
		events = append(events, event)
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "retained": a.campus.Ledger().Len()})
}

func (a Api) SearchEvents(c *gin.Context) {
	var query model2.SearchEvents
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	events := make([]model.PaymentEvent, 0)
	for event := range a.campus.Ledger().Find(query.ToEventFilter()) {
		events = append(events, event)
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
