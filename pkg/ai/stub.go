package ai

import (
	"context"
	"fmt"
	"strings"
)

// StubClient returns canned responses per task, matched on a marker string in
// the user prompt. Tests use it to script the adapter deterministically.
type StubClient struct {
	// Responses maps a substring of the user prompt to the raw response.
	Responses map[string]string
	// Err, when set, fails every call.
	Err error

	Calls []string
}

// Complete returns the first canned response whose key appears in the user
// prompt.
func (s *StubClient) Complete(_ context.Context, _ string, user string) (string, error) {
	s.Calls = append(s.Calls, user)
	if s.Err != nil {
		return "", s.Err
	}
	for key, resp := range s.Responses {
		if key == "" || strings.Contains(user, key) {
			return resp, nil
		}
	}
	return "", fmt.Errorf("stub client: no response scripted for prompt")
}

// ModelName identifies the stub in logs.
func (s *StubClient) ModelName() string {
	return "stub"
}
