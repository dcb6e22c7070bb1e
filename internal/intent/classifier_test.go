package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/config"
)

func newClassifier(t *testing.T) *Classifier {
	t.Helper()
	return New(config.Default().Vocabulary)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "open whatsapp", Normalize("  Open   WhatsApp  "))
	assert.Equal(t, "turn on wifi", Normalize("Turn ON\tWiFi"))
	assert.Equal(t, "", Normalize("   "))
}

func TestClassifyOpenApp(t *testing.T) {
	c := newClassifier(t)

	in := c.Classify("Open WhatsApp")
	require.Equal(t, "open_app", in.Type)
	require.NotNil(t, in.Target)
	assert.Equal(t, "whatsapp", *in.Target)
	assert.Equal(t, "open", *in.Action)
	assert.Equal(t, "Open WhatsApp", in.RawText)
}

func TestClassifyOpenAppAliasResolution(t *testing.T) {
	c := newClassifier(t)

	// Multi-word alias resolves to the canonical key.
	in := c.Classify("open whats app")
	require.Equal(t, "open_app", in.Type)
	assert.Equal(t, "whatsapp", *in.Target)

	in = c.Classify("launch insta")
	require.Equal(t, "open_app", in.Type)
	assert.Equal(t, "instagram", *in.Target)
}

func TestClassifyOpenUnknownAppPassesVerbatim(t *testing.T) {
	c := newClassifier(t)

	in := c.Classify("open foobar")
	require.Equal(t, "open_app", in.Type)
	assert.Equal(t, "foobar", *in.Target)
}

func TestClassifyToggle(t *testing.T) {
	c := newClassifier(t)

	tests := []struct {
		text   string
		target string
		action string
	}{
		{"turn on wifi", "wifi", "on"},
		{"please turn on wifi now", "wifi", "on"},
		{"Turn Off Bluetooth", "bluetooth", "off"},
		{"enable do not disturb", "dnd", "on"},
		{"switch off the torch", "flashlight", "off"},
		{"disable mobile data", "data", "off"},
	}
	for _, tc := range tests {
		in := c.Classify(tc.text)
		require.Equal(t, "toggle_setting", in.Type, tc.text)
		assert.Equal(t, tc.target, *in.Target, tc.text)
		assert.Equal(t, tc.action, *in.Action, tc.text)
	}
}

func TestClassifyToggleTriggerWithoutSettingFallsThrough(t *testing.T) {
	c := newClassifier(t)

	// "turn on" matches the toggle trigger but no setting alias, so the
	// text drops through every tier and ends unknown.
	in := c.Classify("turn on the oven")
	assert.Equal(t, "unknown", in.Type)
	assert.Equal(t, "turn on the oven", in.RawText)
}

func TestClassifyAdjust(t *testing.T) {
	c := newClassifier(t)

	in := c.Classify("increase volume to 40%")
	require.Equal(t, "adjust_setting", in.Type)
	assert.Equal(t, "volume", *in.Target)
	assert.Equal(t, "increase", *in.Action)
	require.NotNil(t, in.Value)
	assert.Equal(t, 40, *in.Value)

	in = c.Classify("turn down the brightness")
	require.Equal(t, "adjust_setting", in.Type)
	assert.Equal(t, "brightness", *in.Target)
	assert.Equal(t, "decrease", *in.Action)
	assert.Nil(t, in.Value)

	in = c.Classify("set volume to 25%")
	require.Equal(t, "adjust_setting", in.Type)
	assert.Equal(t, "set", *in.Action)
	require.NotNil(t, in.Value)
	assert.Equal(t, 25, *in.Value)
}

func TestClassifyAdjustIncreaseWinsOverSetPrefix(t *testing.T) {
	c := newClassifier(t)

	in := c.Classify("set the volume higher and increase brightness")
	require.Equal(t, "adjust_setting", in.Type)
	assert.Equal(t, "increase", *in.Action)
}

func TestClassifyUnknown(t *testing.T) {
	c := newClassifier(t)

	for _, text := range []string{
		"do a barrel roll",
		"what's the weather",
		"",
	} {
		in := c.Classify(text)
		assert.Equal(t, "unknown", in.Type, text)
		assert.Equal(t, text, in.RawText, text)
		assert.Nil(t, in.Target, text)
	}
}

func TestClassifyUsesVocabularyOrder(t *testing.T) {
	// Two entries whose aliases both occur in the text; the first declared
	// entry wins.
	v := config.Vocabulary{
		Apps: []config.AliasEntry{{Key: "x", Aliases: []string{"x"}}},
		Settings: []config.AliasEntry{
			{Key: "first", Aliases: []string{"light"}},
			{Key: "second", Aliases: []string{"lights"}},
		},
		Adjustables: []config.AliasEntry{{Key: "volume", Aliases: []string{"volume"}}},
	}
	c := New(v)
	in := c.Classify("turn on the lights")
	require.Equal(t, "toggle_setting", in.Type)
	assert.Equal(t, "first", *in.Target)
}

func TestToAction(t *testing.T) {
	c := newClassifier(t)

	a := ToAction(c.Classify("open camera"))
	require.NotNil(t, a)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "open_app", a.Kind)
	assert.Equal(t, "camera", a.Target)
	assert.Equal(t, "open", *a.Action)
	assert.Equal(t, "pending", a.Status)

	a = ToAction(c.Classify("turn off wifi"))
	require.NotNil(t, a)
	assert.Equal(t, "toggle", a.Kind)
	assert.Equal(t, "off", *a.Action)

	a = ToAction(c.Classify("increase volume to 80%"))
	require.NotNil(t, a)
	assert.Equal(t, "adjust", a.Kind)
	require.NotNil(t, a.Value)
	assert.Equal(t, 80, *a.Value)
}

func TestToActionUnknownIsNil(t *testing.T) {
	c := newClassifier(t)
	assert.Nil(t, ToAction(c.Classify("do a barrel roll")))
}

func TestToActionFreshIDs(t *testing.T) {
	c := newClassifier(t)
	in := c.Classify("open camera")
	a1 := ToAction(in)
	a2 := ToAction(in)
	require.NotNil(t, a1)
	require.NotNil(t, a2)
	assert.NotEqual(t, a1.ID, a2.ID)
}
