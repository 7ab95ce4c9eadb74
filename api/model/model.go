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
package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/andeslabs/campus/model"
)

// CreateProvisioning is the request body for submitting a provisioning job.
type CreateProvisioning struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Password      string `json:"password"`
	CourseID      string `json:"course_id"`
	MaxRetries    int    `json:"max_retries"`
	RetryDelaySec int    `json:"retry_delay_sec"`
}

// SignatureVariants is the query for the signature diagnostics endpoint.
type SignatureVariants struct {
	MerchantID    string  `form:"merchantId"`
	ReferenceCode string  `form:"referenceCode"`
	Amount        float64 `form:"amount"`
	Currency      string  `form:"currency"`
	StatusCode    string  `form:"statusCode"`
}

// SearchEvents is the query for filtering the payment event ledger.
type SearchEvents struct {
	Type      string `form:"type"`
	UserID    string `form:"user_id"`
	Reference string `form:"reference"`
	From      string `form:"from"`
	To        string `form:"to"`
}

func (p *CreateProvisioning) ValidateCreateProvisioning() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.UserID, validation.Required),
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
		validation.Field(&p.Username, validation.Required),
		validation.Field(&p.FirstName, validation.Required),
		validation.Field(&p.MaxRetries, validation.Min(0)),
		validation.Field(&p.RetryDelaySec, validation.Min(0)),
	)
}

func (s *SignatureVariants) ValidateSignatureVariants() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.MerchantID, validation.Required),
		validation.Field(&s.ReferenceCode, validation.Required),
		validation.Field(&s.Amount, validation.Required),
		validation.Field(&s.Currency, validation.Required),
	)
}

func (p *CreateProvisioning) ToProvisioningJob() *model.ProvisioningJob {
	return &model.ProvisioningJob{
		UserID:     p.UserID,
		Email:      p.Email,
		Username:   p.Username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Password:   p.Password,
		CourseID:   p.CourseID,
		MaxRetries: p.MaxRetries,
		RetryDelay: time.Duration(p.RetryDelaySec) * time.Second,
	}
}

// ToEventFilter parses the query into a ledger filter. Timestamps use
// RFC 3339; unparseable bounds are ignored rather than rejected.
func (s *SearchEvents) ToEventFilter() model.EventFilter {
	filter := model.EventFilter{
		TypeContains:      s.Type,
		UserID:            s.UserID,
		ReferenceContains: s.Reference,
	}
	if t, err := time.Parse(time.RFC3339, s.From); err == nil {
		filter.From = t
	}
	if t, err := time.Parse(time.RFC3339, s.To); err == nil {
		filter.To = t
	}
	return filter
}
