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

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	UnknownBatch = "UNKNOWN"
	UnknownState = "UNKNOWN"
)

var (
	twoLetterState = regexp.MustCompile(`^[A-Z]{2}$`)
	batchState     = regexp.MustCompile(`_([A-Z]{2})$`)
)

// timestampLayouts lists the layouts accepted for stored and feed timestamps, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// NormalizeEmail trims and lowercases an email address. Suppression entries and
// prospect lookups are keyed by this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the lowercased domain part of an email, or "" when there is none.
func EmailDomain(email string) string {
	e := NormalizeEmail(email)
	at := strings.Index(e, "@")
	if at < 0 {
		return ""
	}
	return strings.TrimSpace(e[at+1:])
}

// ParseTimestamp parses a stored or feed timestamp and returns it in UTC.
// Values without a zone are treated as UTC. The boolean is false for empty or
// unparseable input.
func ParseTimestamp(raw string) (time.Time, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders a time the way the store persists it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// IsTwoLetterState reports whether s is exactly two uppercase ASCII letters.
// No case folding is applied: "tx" is not a state.
func IsTwoLetterState(s string) bool {
	return twoLetterState.MatchString(s)
}

// StateFromBatch extracts a trailing "_XX" state code from a batch id such as "2026-02-01_TX".
func StateFromBatch(batchID string) string {
	m := batchState.FindStringSubmatch(strings.TrimSpace(batchID))
	if m == nil {
		return ""
	}
	return m[1]
}

// CaptureKey derives the idempotence key of an inbound signal. The inbound
// message id is preferred; rows without one fall back to the raw feed timestamp.
func CaptureKey(inboundMessageID, eventType, matchedEmail, rawTimestamp, source string) string {
	anchor := strings.TrimSpace(inboundMessageID)
	if anchor == "" {
		anchor = rawTimestamp
	}
	seed := fmt.Sprintf("%s|%s|%s|%s", anchor, eventType, matchedEmail, source)
	hash := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(hash[:])
}
