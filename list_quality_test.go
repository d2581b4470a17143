package outreach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/outreach/model"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"owner@x.com", true},
		{" Owner@Example.CO.uk ", true},
		{"owner@x", false},
		{"owner x@x.com", false},
		{"@x.com", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidEmail(tt.email), tt.email)
	}
}

func TestIsRoleBasedInbox(t *testing.T) {
	assert.True(t, IsRoleBasedInbox("info@acme.com"))
	assert.True(t, IsRoleBasedInbox("Sales+leads@acme.com"))
	assert.False(t, IsRoleBasedInbox("jane@acme.com"))
	assert.False(t, IsRoleBasedInbox("info"))
}

func TestBuildListQuality(t *testing.T) {
	prospects := []model.Prospect{
		{ProspectID: "a", Email: "jane@acme.com", CreatedAt: testNow.Add(-1 * day)},
		{ProspectID: "b", Email: "info@acme.com", CreatedAt: testNow.Add(-2 * day)},
		{ProspectID: "c", Email: "bob@acme.com", CreatedAt: testNow.Add(-20 * day)},
		{ProspectID: "d", Email: "not-an-email", CreatedAt: testNow.Add(-20 * day)},
		{ProspectID: "e", Email: "old@acme.com", CreatedAt: testNow.Add(-90 * day)},
		{ProspectID: "f", Email: "nodate@acme.com"},
	}

	quality := buildListQuality(prospects, testNow)

	week := quality["7d"]
	assert.Equal(t, 2, week.NewProspectsCount)
	assert.Equal(t, 1.0, week.ValidEmailFormatPct)
	assert.Equal(t, 1, week.DuplicateDomainRows)
	assert.Equal(t, 0.5, week.DuplicateDomainPct)
	assert.Equal(t, 0.5, week.RoleBasedInboxSharePct)

	month := quality["30d"]
	assert.Equal(t, 4, month.NewProspectsCount)
	assert.Equal(t, 0.75, month.ValidEmailFormatPct)
	assert.Equal(t, 2, month.DuplicateDomainRows)
	assert.Equal(t, 0.5, month.DuplicateDomainPct)
	assert.Equal(t, 0.25, month.RoleBasedInboxSharePct)

	empty := buildListQuality(nil, time.Time{})
	assert.Equal(t, model.ListQuality{}, empty["30d"])
}
