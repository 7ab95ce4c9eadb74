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

package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoMoodleToken reports missing LMS credentials. It is a configuration
// error and is never retried.
var ErrNoMoodleToken = errors.New("moodle web service token is not configured")

// studentRoleID is Moodle's default role id for manually enrolled students.
const studentRoleID = "5"

// AccountRequest carries the fields the LMS needs to create an account.
// CourseID is optional; when set the new account is also enrolled.
type AccountRequest struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Email     string
	CourseID  string
}

// AccountResult is the outcome of a create-account call. AlreadyExists marks
// the idempotent short-circuit: the account was there before the call.
type AccountResult struct {
	RemoteID      string `json:"remote_id"`
	AlreadyExists bool   `json:"already_exists"`
}

// EnrollmentReport lists the per-course outcome of a category enrollment.
type EnrollmentReport struct {
	Enrolled []string          `json:"enrolled"`
	Failures map[string]string `json:"failures,omitempty"`
}

// RemoteError is a classified failure from the LMS. Retryable marks transient
// conditions (network, 5xx, rate limiting); everything else is terminal for
// the attempt sequence.
type RemoteError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("moodle: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("moodle: %s", e.Message)
}

// AccountProvisioner is the remote account provisioning collaborator the
// retry orchestrator drives. Duplicate accounts must be a distinguishable
// outcome, not a generic failure.
type AccountProvisioner interface {
	CreateAccount(ctx context.Context, req AccountRequest) (*AccountResult, error)
	EnrollInCategory(ctx context.Context, remoteUserID, categoryID string) (*EnrollmentReport, error)
}

// MoodleClient talks to a Moodle-style LMS over its REST web service
// protocol: token and function name in the query string, parameters as an
// urlencoded form, JSON responses.
type MoodleClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMoodleClient(baseURL, token string, client *http.Client) *MoodleClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &MoodleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// moodleException is the error envelope Moodle returns in place of a result.
type moodleException struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// CreateAccount creates the user via core_user_create_users. A duplicate
// username or email resolves to the existing account and is reported through
// AlreadyExists rather than as an error. When CourseID is set the account is
// enrolled best-effort; a failed enrollment is logged, not surfaced, because
// the account side effect has already happened.
func (m *MoodleClient) CreateAccount(ctx context.Context, req AccountRequest) (*AccountResult, error) {
	params := url.Values{}
	params.Set("users[0][username]", strings.ToLower(req.Username))
	if req.Password != "" {
		params.Set("users[0][password]", req.Password)
	} else {
		// Moodle generates a password and mails it to the new user.
		params.Set("users[0][createpassword]", "1")
	}
	params.Set("users[0][firstname]", req.FirstName)
	params.Set("users[0][lastname]", req.LastName)
	params.Set("users[0][email]", strings.ToLower(req.Email))

	var created []struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	err := m.call(ctx, "core_user_create_users", params, &created)
	if err != nil {
		var rerr *RemoteError
		if errors.As(err, &rerr) && isDuplicateAccount(rerr) {
			existing, lookupErr := m.findUserByEmail(ctx, req.Email)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &AccountResult{RemoteID: existing, AlreadyExists: true}, nil
		}
		return nil, err
	}
	if len(created) == 0 {
		return nil, &RemoteError{Message: "create_users returned no account", Retryable: true}
	}

	result := &AccountResult{RemoteID: strconv.FormatInt(created[0].ID, 10)}

	if req.CourseID != "" {
		if err := m.enrollInCourse(ctx, result.RemoteID, req.CourseID); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id":   result.RemoteID,
				"course_id": req.CourseID,
			}).Warnf("account created but course enrollment failed: %v", err)
		}
	}
	return result, nil
}

// EnrollInCategory enrolls the user in every course under a category and
// reports successes and failures individually.
func (m *MoodleClient) EnrollInCategory(ctx context.Context, remoteUserID, categoryID string) (*EnrollmentReport, error) {
	params := url.Values{}
	params.Set("field", "category")
	params.Set("value", categoryID)

	var listing struct {
		Courses []struct {
			ID       int64  `json:"id"`
			FullName string `json:"fullname"`
		} `json:"courses"`
	}
	if err := m.call(ctx, "core_course_get_courses_by_field", params, &listing); err != nil {
		return nil, err
	}

	report := &EnrollmentReport{Failures: map[string]string{}}
	for _, course := range listing.Courses {
		courseID := strconv.FormatInt(course.ID, 10)
		if err := m.enrollInCourse(ctx, remoteUserID, courseID); err != nil {
			report.Failures[courseID] = err.Error()
			continue
		}
		report.Enrolled = append(report.Enrolled, courseID)
	}
	return report, nil
}

func (m *MoodleClient) enrollInCourse(ctx context.Context, remoteUserID, courseID string) error {
	params := url.Values{}
	params.Set("enrolments[0][roleid]", studentRoleID)
	params.Set("enrolments[0][userid]", remoteUserID)
	params.Set("enrolments[0][courseid]", courseID)
	return m.call(ctx, "enrol_manual_enrol_users", params, nil)
}

func (m *MoodleClient) findUserByEmail(ctx context.Context, email string) (string, error) {
	params := url.Values{}
	params.Set("field", "email")
	params.Set("values[0]", strings.ToLower(email))

	var users []struct {
		ID int64 `json:"id"`
	}
	if err := m.call(ctx, "core_user_get_users_by_field", params, &users); err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", &RemoteError{Message: fmt.Sprintf("duplicate reported but no account found for %s", email), Retryable: true}
	}
	return strconv.FormatInt(users[0].ID, 10), nil
}

// call posts a web service function and decodes the result into out. Moodle
// reports application errors as a JSON exception envelope with HTTP 200, so
// both the status code and the body shape are inspected.
func (m *MoodleClient) call(ctx context.Context, wsfunction string, params url.Values, out interface{}) error {
	if m.token == "" {
		return ErrNoMoodleToken
	}

	endpoint := fmt.Sprintf("%s/webservice/rest/server.php?wstoken=%s&wsfunction=%s&moodlewsrestformat=json",
		m.baseURL, url.QueryEscape(m.token), url.QueryEscape(wsfunction))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return errors.Wrap(err, "building moodle request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return &RemoteError{Message: err.Error(), Retryable: true}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return &RemoteError{
			Code:      strconv.Itoa(resp.StatusCode),
			Message:   fmt.Sprintf("%s returned status %d", wsfunction, resp.StatusCode),
			Retryable: true,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{Message: err.Error(), Retryable: true}
	}

	// "null" is a valid success body for mutation functions.
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	var exc moodleException
	if err := json.Unmarshal(body, &exc); err == nil && exc.Exception != "" {
		return classifyException(exc)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RemoteError{Message: fmt.Sprintf("decoding %s response: %v", wsfunction, err), Retryable: true}
	}
	return nil
}

func classifyException(exc moodleException) *RemoteError {
	code := strings.ToLower(exc.ErrorCode)
	msg := strings.ToLower(exc.Message)

	retryable := strings.Contains(code, "ratelimit") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout")

	return &RemoteError{
		Code:      exc.ErrorCode,
		Message:   exc.Message,
		Retryable: retryable,
	}
}

func isDuplicateAccount(err *RemoteError) bool {
	code := strings.ToLower(err.Code)
	msg := strings.ToLower(err.Message)
	for _, marker := range []string{"alreadyexists", "already exists", "emailtaken", "usernametaken", "duplicate"} {
		if strings.Contains(code, marker) || strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
