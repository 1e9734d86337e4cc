package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "debug", "json")

	logger.WithFields(logrus.Fields{"op": "create_sale", "sale_id": 7}).Info("audit")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "audit", entry["msg"])
	require.Equal(t, "create_sale", entry["op"])
	require.Equal(t, float64(7), entry["sale_id"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewWithOutput(&bytes.Buffer{}, "loud", "text")
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
