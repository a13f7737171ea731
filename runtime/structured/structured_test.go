package structured

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject_PrefersFencedBlock(t *testing.T) {
	text := "Here is the answer:\n```json\n{\"a\":1}\n```\nThanks."
	obj, ok := ExtractJSONObject(text)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, obj)
}

func TestExtractJSONObject_BareBracesWithSurroundingProse(t *testing.T) {
	text := "I think the result is {\"a\": \"b}c\", \"n\": 2} and that's it."
	obj, ok := ExtractJSONObject(text)
	assert.True(t, ok)
	assert.Equal(t, `{"a": "b}c", "n": 2}`, obj)
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	_, ok := ExtractJSONObject("just some prose, no braces here")
	assert.False(t, ok)
}

func TestExtractJSONObject_UnfencedLanguageIgnored(t *testing.T) {
	text := "```python\nprint('hi')\n```\n{\"a\":1}"
	obj, ok := ExtractJSONObject(text)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, obj)
}

type sample struct {
	A int `json:"a"`
}

func TestParse_Success(t *testing.T) {
	got := Parse[sample]("```json\n{\"a\":7}\n```", nil)
	if assert.NotNil(t, got) {
		assert.Equal(t, 7, got.A)
	}
}

func TestParse_ValidationFailureReturnsNil(t *testing.T) {
	got := Parse[sample]("{\"a\":7}", func(s *sample) error {
		return errors.New("always invalid")
	})
	assert.Nil(t, got)
}

func TestParse_MalformedReturnsNil(t *testing.T) {
	got := Parse[sample]("no json here", nil)
	assert.Nil(t, got)
}
