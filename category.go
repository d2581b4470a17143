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

package outreach

import (
	"strings"

	"github.com/blnkfinance/outreach/model"
)

// Category is the label the upstream inbox triage assigned to an inbound message.
type Category string

const (
	CategoryHotInterest Category = "hot_interest"
	CategoryQuestion    Category = "question"
	CategoryUnsubscribe Category = "unsubscribe"
	CategoryObjection   Category = "objection"
	CategoryBounce      Category = "bounce"
)

// Transition is the lifecycle change a category maps to.
type Transition struct {
	EventType  model.EventType
	NextStatus string
}

func (t Transition) SuppressionWorthy() bool {
	return t.EventType.IsSuppressionWorthy()
}

var categoryTransitions = map[Category]Transition{
	CategoryHotInterest: {EventType: model.EventReplied, NextStatus: model.StatusReplied},
	CategoryQuestion:    {EventType: model.EventReplied, NextStatus: model.StatusReplied},
	CategoryUnsubscribe: {EventType: model.EventDoNotContact, NextStatus: model.StatusDoNotContact},
	CategoryObjection:   {EventType: model.EventDoNotContact, NextStatus: model.StatusDoNotContact},
	CategoryBounce:      {EventType: model.EventBounced, NextStatus: model.StatusBounced},
}

// ParseCategory trims and lowercases a triage label.
func ParseCategory(raw string) Category {
	return Category(strings.ToLower(strings.TrimSpace(raw)))
}

// Transition returns the mapped transition; ok is false for labels outside the map.
func (c Category) Transition() (Transition, bool) {
	t, ok := categoryTransitions[c]
	return t, ok
}

// UsesSuppressionEvidence reports whether the subject address may be recovered
// from the suppression feed instead of the sender address.
func (c Category) UsesSuppressionEvidence() bool {
	switch c {
	case CategoryUnsubscribe, CategoryObjection, CategoryBounce:
		return true
	}
	return false
}
