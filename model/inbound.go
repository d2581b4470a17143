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

package model

// InboundSignal is one row of the inbox triage feed. Category has already been
// assigned upstream; Action is diagnostic only.
type InboundSignal struct {
	RawTimestamp     string `json:"timestamp"`
	InboundMessageID string `json:"message_id"`
	FromEmail        string `json:"from_email"`
	Subject          string `json:"subject"`
	Category         string `json:"category"`
	Action           string `json:"action"`
}
