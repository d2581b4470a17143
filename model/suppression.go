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

import "time"

const (
	SuppressionSourceCaptureSync = "capture_sync"
	SuppressionSourceCRM         = "crm_admin"
	SuppressionSourceTable       = "suppression_table"
	SuppressionSourceCSV         = "suppression_csv"
)

// SuppressionEntry is one address on the do-not-send list. Writers upsert by
// normalized email; the last write wins on reason and timestamp.
type SuppressionEntry struct {
	Email     string    `json:"email"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"ts"`
	Source    string    `json:"source"`

	// EvidenceMsgID is the inbound message that caused the entry. Only the
	// csv mirror records it.
	EvidenceMsgID string `json:"evidence_msg_id,omitempty"`

	// HasTimestamp is false when a feed row carried no parseable timestamp.
	HasTimestamp bool `json:"-"`
}

// SuppressionEvidence is a row of the suppression feed as read by capture sync:
// the message that produced the suppression and the address it applies to.
type SuppressionEvidence struct {
	Email         string
	EvidenceMsgID string
}
