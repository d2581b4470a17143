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
	"regexp"
	"strings"
	"time"

	"github.com/blnkfinance/outreach/model"
)

var validEmail = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// roleLocalParts are shared inbox names that rarely reach a decision maker.
var roleLocalParts = map[string]bool{
	"admin": true, "billing": true, "careers": true, "contact": true,
	"customerservice": true, "enquiries": true, "hello": true, "help": true,
	"hr": true, "info": true, "inquiries": true, "jobs": true,
	"marketing": true, "office": true, "sales": true, "service": true,
	"support": true, "team": true,
}

func IsValidEmail(email string) bool {
	return validEmail.MatchString(model.NormalizeEmail(email))
}

// IsRoleBasedInbox reports whether the local part, ignoring any +tag, is a role name.
func IsRoleBasedInbox(email string) bool {
	local, _, ok := strings.Cut(model.NormalizeEmail(email), "@")
	if !ok {
		return false
	}
	local, _, _ = strings.Cut(local, "+")
	return roleLocalParts[local]
}

// buildListQuality measures the prospects created inside each report window.
func buildListQuality(prospects []model.Prospect, now time.Time) map[string]model.ListQuality {
	out := make(map[string]model.ListQuality, len(ReportWindows))
	for _, w := range ReportWindows {
		start := now.Add(-time.Duration(w.Days) * 24 * time.Hour)

		total, valid, role := 0, 0, 0
		domains := make(map[string]int)
		for _, p := range prospects {
			if !inWindow(p.CreatedAt, start, now) {
				continue
			}
			total++
			if IsValidEmail(p.Email) {
				valid++
			}
			if IsRoleBasedInbox(p.Email) {
				role++
			}
			if domain := model.EmailDomain(p.Email); domain != "" {
				domains[domain]++
			}
		}

		duplicates := 0
		for _, c := range domains {
			if c > 1 {
				duplicates += c - 1
			}
		}
		out[w.Name] = model.ListQuality{
			NewProspectsCount:      total,
			ValidEmailFormatPct:    rate(valid, total),
			DuplicateDomainRows:    duplicates,
			DuplicateDomainPct:     rate(duplicates, total),
			RoleBasedInboxSharePct: rate(role, total),
		}
	}
	return out
}
