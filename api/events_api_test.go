package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andeslabs/campus/internal/request"
)

func TestGetEvents(t *testing.T) {
	router, _, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	// Seed the ledger through the notification endpoint.
	payload := validSignedNotification()
	payloadBytes, _ := request.ToJsonReq(&payload)
	var receipt map[string]interface{}
	resp, _ := SetUpTestRequest(TestRequest{
		Payload: payloadBytes, Response: &receipt, Method: "POST", Route: "/payments/notify", Router: router,
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	var response map[string]interface{}
	resp, _ = SetUpTestRequest(TestRequest{
		Response: &response, Method: "GET", Route: "/events", Router: router,
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	events, ok := response["events"].([]interface{})
	assert.True(t, ok)
	assert.NotEmpty(t, events)
}

func TestGetEventsLimit(t *testing.T) {
	router, _, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	var response map[string]interface{}
	resp, _ := SetUpTestRequest(TestRequest{
		Response: &response, Method: "GET", Route: "/events?limit=abc", Router: router,
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSearchEvents(t *testing.T) {
	router, _, err := setupRouter(t)
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	payload := validSignedNotification()
	payloadBytes, _ := request.ToJsonReq(&payload)
	var receipt map[string]interface{}
	resp, _ := SetUpTestRequest(TestRequest{
		Payload: payloadBytes, Response: &receipt, Method: "POST", Route: "/payments/notify", Router: router,
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	var response map[string]interface{}
	resp, _ = SetUpTestRequest(TestRequest{
		Response: &response, Method: "GET", Route: "/events/search?type=notification", Router: router,
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	events, ok := response["events"].([]interface{})
	assert.True(t, ok)
	assert.Len(t, events, 1)

	resp, _ = SetUpTestRequest(TestRequest{
		Response: &response, Method: "GET", Route: "/events/search?reference=ORD-9999", Router: router,
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	events, ok = response["events"].([]interface{})
	assert.True(t, ok)
	assert.Empty(t, events)
}
