package recovery

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAlerterAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts", "escalations.jsonl")
	alerter := NewFileAlerter(path)

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		err := alerter.Alert(ctx, Alert{
			SessionID: "sess-1",
			Reason:    "recovery budget exhausted",
			Attempts:  i,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var alerts []Alert
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a Alert
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &a))
		alerts = append(alerts, a)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, alerts, 2)
	assert.Equal(t, "sess-1", alerts[0].SessionID)
	assert.Equal(t, 1, alerts[0].Attempts)
	assert.Equal(t, 2, alerts[1].Attempts)
}

func TestFileAlerterRespectsDeadline(t *testing.T) {
	alerter := NewFileAlerter(filepath.Join(t.TempDir(), "alerts.jsonl"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, alerter.Alert(ctx, Alert{SessionID: "s", Timestamp: time.Now()}))
}
