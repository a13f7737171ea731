package stageoutput

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePM(t *testing.T) {
	assert.Error(t, ValidatePM(&PM{}))
	assert.Error(t, ValidatePM(&PM{Summary: "s", Plan: []string{"p"}}))
	assert.NoError(t, ValidatePM(&PM{Summary: "s", AcceptanceCriteria: []string{"a"}, Plan: []string{"p"}}))
}

func TestValidateDev(t *testing.T) {
	assert.NoError(t, ValidateDev(&Dev{}))
	assert.Error(t, ValidateDev(&Dev{Files: []DevFile{{Path: ""}}}))
	assert.NoError(t, ValidateDev(&Dev{Files: []DevFile{{Path: "a.go"}}}))
}

func TestValidateQA(t *testing.T) {
	assert.Error(t, ValidateQA(&QA{Verdict: "bogus"}))
	assert.NoError(t, ValidateQA(&QA{Verdict: VerdictPass}))
}

func TestFallbackPM_ContainsSentinel(t *testing.T) {
	fb := FallbackPM("I think we should add dark mode.")
	assert.Contains(t, fb.Assumptions, DegradedSentinel)
	assert.True(t, strings.HasPrefix(fb.Summary, "I think we should add dark mode."))
}

func TestFallbackDev_ContainsSentinel(t *testing.T) {
	fb := FallbackDev("oops")
	assert.Empty(t, fb.Files)
	assert.Contains(t, fb.Notes, DegradedSentinel)
}

func TestFallbackQA_NeedsHuman(t *testing.T) {
	fb := FallbackQA("oops")
	assert.Equal(t, VerdictNeedsHuman, fb.Verdict)
	assert.Contains(t, fb.SuggestedChanges, DegradedSentinel)
}

func TestTruncate_500Chars(t *testing.T) {
	long := strings.Repeat("x", 600)
	fb := FallbackPM(long)
	assert.Len(t, fb.Summary, 500)
}
