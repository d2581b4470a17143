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
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/internal/request"
)

const maxAttempts = 3

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(project, command string, err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("Run failed in %s", project), Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Command:*\n%s", command)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", at.UTC().Format(time.RFC822))}}},
	}}
}

// SlackNotification posts err to the webhook, retrying with exponential backoff.
func SlackNotification(ctx context.Context, webhookURL, project, command string, err error) error {
	data, marshalErr := json.Marshal(slackPayload(project, command, err, time.Now()))
	if marshalErr != nil {
		return marshalErr
	}

	operation := func() error {
		payload, err := request.ToJsonReq(json.RawMessage(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		_, err = request.Call(req, nil)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1), ctx)
	return backoff.Retry(operation, policy)
}

// NotifyError logs a fatal run error and, when a Slack webhook is configured,
// posts it before returning. Delivery failures are logged, never returned.
func NotifyError(ctx context.Context, command string, systemError error) {
	logrus.WithField("command", command).Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.Debug(err)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}
	if err := SlackNotification(ctx, conf.Notification.Slack.WebhookUrl, conf.ProjectName, command, systemError); err != nil {
		logrus.Warnf("slack notification failed: %v", err)
	}
}
