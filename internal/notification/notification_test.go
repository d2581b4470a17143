/*
Copyright 2024 Blnk Finance Authors.

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

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/outreach/config"
)

const webhookURL = "https://hooks.slack.test/services/T000/B000/XXX"

func TestSlackPayload(t *testing.T) {
	at := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	msg := slackPayload("Outreach", "capture-sync", errors.New("ERR_CAPTURE_SYNC_CRM sync_failed"), at)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Run failed in Outreach")
	assert.Contains(t, string(data), "ERR_CAPTURE_SYNC_CRM sync_failed")
	assert.Contains(t, string(data), "capture-sync")
}

func TestSlackNotification_RetriesThenSucceeds(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", webhookURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusInternalServerError, "busy"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	err := SlackNotification(context.Background(), webhookURL, "Outreach", "ops-report", errors.New("boom"))
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSlackNotification_GivesUp(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", webhookURL, httpmock.NewStringResponder(http.StatusForbidden, "invalid_token"))

	err := SlackNotification(context.Background(), webhookURL, "Outreach", "ops-report", errors.New("boom"))
	assert.Error(t, err)
	assert.Equal(t, maxAttempts, httpmock.GetTotalCallCount())
}

func TestNotifyError_WithoutWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{ProjectName: "Outreach"})
	NotifyError(context.Background(), "capture-sync", errors.New("boom"))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestNotifyError_PostsToWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", webhookURL, httpmock.NewStringResponder(http.StatusOK, "ok"))

	config.MockConfig(&config.Configuration{
		ProjectName:  "Outreach",
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: webhookURL}},
	})
	NotifyError(context.Background(), "capture-sync", errors.New("boom"))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}
