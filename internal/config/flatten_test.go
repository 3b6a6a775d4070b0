package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenUnflatten(t *testing.T) {
	nested := map[string]any{
		"log_level": "info",
		"llm": map[string]any{
			"model":       "gemini-2.0-flash",
			"temperature": 0.7,
		},
		"session": map[string]any{
			"insights": true,
			"reaper":   map[string]any{"schedule": "@every 5m"},
		},
		"empty": map[string]any{},
	}

	flat := Flatten(nested)
	assert.Equal(t, map[string]any{
		"log_level":               "info",
		"llm.model":               "gemini-2.0-flash",
		"llm.temperature":         0.7,
		"session.insights":        true,
		"session.reaper.schedule": "@every 5m",
	}, flat)
	assert.Equal(t, []string{"llm.model", "llm.temperature", "log_level", "session.insights", "session.reaper.schedule"}, Keys(flat))

	delete(nested, "empty")
	assert.Equal(t, nested, Unflatten(flat))
	assert.Empty(t, Flatten(map[string]any{}))
	assert.Empty(t, Unflatten(map[string]any{}))
}

func TestIsSecretKey(t *testing.T) {
	for key, want := range map[string]bool{
		"llm.api_key":      true,
		"telegram.token":   true,
		"llm.max_tokens":   false,
		"crisis.alert_key": false,
		"api.addr":         false,
	} {
		assert.Equal(t, want, IsSecretKey(key), key)
	}
}

func TestMaskSecrets(t *testing.T) {
	flat := map[string]any{
		"llm.api_key":    "sk-1234567890abcdef",
		"telegram.token": "abc",
		"llm.model":      "gemini-2.0-flash",
	}
	got := MaskSecrets(flat)

	assert.Equal(t, "****cdef", got["llm.api_key"])
	assert.Equal(t, "****", got["telegram.token"])
	assert.Equal(t, "gemini-2.0-flash", got["llm.model"])
	assert.Equal(t, "sk-1234567890abcdef", flat["llm.api_key"], "input is not modified")

	assert.Equal(t, "", MaskSecrets(map[string]any{"llm.api_key": ""})["llm.api_key"])
	assert.Equal(t, "****ñóç!", MaskSecrets(map[string]any{"telegram.token": "tökeñóç!"})["telegram.token"])
}
