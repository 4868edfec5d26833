package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"importbot/pkg/sheet"
)

func TestClassifyIntent(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"": `{"is_user_upload": true}`,
	}})

	ok, err := a.ClassifyIntent(context.Background(), "Please import users", "see attachment")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClassifyIntentToleratesProseWrapping(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"": "Sure! Here is the answer:\n```json\n{\"is_user_upload\": false}\n```",
	}})

	ok, err := a.ClassifyIntent(context.Background(), "Renew my license", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassifyIntentRejectsMissingField(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"": `{"verdict": "yes"}`,
	}})

	_, err := a.ClassifyIntent(context.Background(), "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract")
}

func TestClassifyIntentClientError(t *testing.T) {
	a := NewAdapter(&StubClient{Err: errors.New("rate limited")})

	_, err := a.ClassifyIntent(context.Background(), "x", "y")
	assert.Error(t, err)
}

func TestMapHeaders(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"Vorname": `{"mapping": {"Vorname": "first name"}, "unmapped": ["last name"]}`,
	}})

	mapping, still, err := a.MapHeaders(context.Background(), []string{"Vorname"}, []string{"first name", "last name"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Vorname": "first name"}, mapping)
	assert.Equal(t, []string{"last name"}, still)
}

func TestLocateSheet(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"workbook": `{"sheet_name": "Staff", "header_row": 2, "data_start_row": 3, "confidence": "high", "reasoning": "header terms on row 2"}`,
	}})

	loc, err := a.LocateSheet(context.Background(), []sheet.SheetPreview{
		{Name: "Cover", Rows: [][]string{{"ACME onboarding"}}},
		{Name: "Staff", Rows: [][]string{{}, {}, {"Email", "First Name"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Staff", loc.SheetName)
	assert.Equal(t, 2, loc.HeaderRow)
	assert.Equal(t, 3, loc.DataStartRow)
	assert.Equal(t, "high", loc.Confidence)
}

func TestLocateSheetRejectsBadConfidence(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"": `{"sheet_name": "Staff", "header_row": 0, "data_start_row": 1, "confidence": "certain"}`,
	}})

	_, err := a.LocateSheet(context.Background(), []sheet.SheetPreview{{Name: "Staff"}})
	assert.Error(t, err)
}

func TestLocateSheetRejectsMissingRows(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"": `{"sheet_name": "Staff", "confidence": "high"}`,
	}})

	_, err := a.LocateSheet(context.Background(), []sheet.SheetPreview{{Name: "Staff"}})
	assert.Error(t, err)
}

func TestSummarizeErrors(t *testing.T) {
	a := NewAdapter(&StubClient{Responses: map[string]string{
		"validation": `{"summary": "3 rows have malformed emails", "bullet_points": ["rows 4-6: invalid email format"]}`,
	}})

	sum, err := a.SummarizeErrors(context.Background(),
		map[string]int{"invalid email format": 3},
		[]string{"row 4: email: invalid email format"})
	require.NoError(t, err)
	assert.Equal(t, "3 rows have malformed emails", sum.Summary)
	assert.Len(t, sum.BulletPoints, 1)
}

func TestNewClientSelectsProviderByModel(t *testing.T) {
	c, err := NewClient("key", "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.IsType(t, &anthropicClient{}, c)

	c, err = NewClient("key", "gpt-4o-mini")
	require.NoError(t, err)
	assert.IsType(t, &openaiClient{}, c)

	_, err = NewClient("", "gpt-4o-mini")
	assert.Error(t, err)
}
