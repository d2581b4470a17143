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
	StatusNew          = "new"
	StatusReplied      = "replied"
	StatusDoNotContact = "do_not_contact"
	StatusBounced      = "bounced"
	StatusTrialStarted = "trial_started"
	StatusConverted    = "converted"
)

// Prospect is a contactable CRM record. Only Status is mutated by the engine.
type Prospect struct {
	ProspectID      string     `json:"prospect_id"`
	Firm            string     `json:"firm"`
	ContactName     string     `json:"contact_name"`
	Email           string     `json:"email"`
	Title           string     `json:"title"`
	City            string     `json:"city"`
	State           string     `json:"state"`
	Website         string     `json:"website"`
	Source          string     `json:"source"`
	Score           int        `json:"score"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
}
