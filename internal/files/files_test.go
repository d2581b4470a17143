package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCSV(t *testing.T) {
	data := "\ufefftimestamp,Message_ID,from_email,category\n" +
		"2026-02-03T10:00:00Z,<m1>,Owner@X.com,hot_interest\n" +
		"2026-02-03T11:00:00Z,,b@y.com\n"

	var rows []Row
	headers, err := ProcessCSV(context.Background(), strings.NewReader(data), []string{"category"}, func(line int, row Row) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "Message_ID", "from_email", "category"}, headers)
	require.Len(t, rows, 2)
	assert.Equal(t, "<m1>", rows[0].Get("message_id"))
	assert.Equal(t, "Owner@X.com", rows[0].Get("from_email"))
	assert.Equal(t, "", rows[1].Get("category"))
	assert.Equal(t, "2026-02-03T11:00:00Z", rows[1].Get("ts", "timestamp"))
}

func TestProcessCSV_MissingRequiredColumn(t *testing.T) {
	_, err := ProcessCSV(context.Background(), strings.NewReader("a,b\n1,2\n"), []string{"email"}, func(int, Row) error { return nil })
	assert.Error(t, err)
}

func TestProcessCSV_Empty(t *testing.T) {
	headers, err := ProcessCSV(context.Background(), strings.NewReader(""), nil, func(int, Row) error { return nil })
	assert.NoError(t, err)
	assert.Nil(t, headers)
}

func TestReadWriteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds", "suppression.csv")

	_, err := ReadTable(context.Background(), path)
	assert.True(t, os.IsNotExist(err))

	table := &Table{
		Headers: []string{"email", "reason", "Evidence_Msg_ID"},
		Rows: []Row{
			{"email": "a@x.com", "reason": "unsubscribe", "evidence_msg_id": "<m1>"},
			{"email": "b@x.com", "reason": "hard bounce, mailbox full"},
		},
	}
	require.NoError(t, WriteTable(path, table))

	read, err := ReadTable(context.Background(), path, "email")
	require.NoError(t, err)
	assert.Equal(t, table.Headers, read.Headers)
	require.Len(t, read.Rows, 2)
	assert.Equal(t, "<m1>", read.Rows[0].Get("evidence_msg_id"))
	assert.Equal(t, "hard bounce, mailbox full", read.Rows[1].Get("reason"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
