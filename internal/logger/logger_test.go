package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	log := InitWithOutput("debug", "json", &buf)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	WithComponent("fetcher").WithField("game_id", "g1").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fetcher", line["component"])
	assert.Equal(t, "g1", line["game_id"])
	assert.Equal(t, "hello", line["msg"])
}

func TestInitInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	log := InitWithOutput("loud", "text", &buf)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "invalid_level=loud")
}
