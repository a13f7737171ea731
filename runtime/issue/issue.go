// Package issue defines the canonical Issue record and its parsing and
// validation rules. An Issue is immutable after construction: callers parse
// or construct one up front and never mutate it afterward.
package issue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"agentpipeline.dev/core/runtime/perr"
)

// Source tags where an Issue originated.
type Source string

const (
	SourceMock   Source = "mock"
	SourceRemote Source = "remote"
	SourceFile   Source = "file"
	SourceManual Source = "manual"
)

func (s Source) valid() bool {
	switch s {
	case SourceMock, SourceRemote, SourceFile, SourceManual:
		return true
	default:
		return false
	}
}

// Issue is the canonical work-item record threaded through the pipeline.
// Zero value is not valid; construct via Parse.
type Issue struct {
	IssueID     string   `json:"issue_id"`
	Repo        string   `json:"repo"`
	IssueNumber int      `json:"issue_number"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Labels      []string `json:"labels"`
	URL         string   `json:"url"`
	Source      Source   `json:"source"`
}

// wireIssue mirrors Issue's JSON shape for strict decoding: its exact field
// set is enforced via DisallowUnknownFields so unrecognized properties are
// rejected rather than silently ignored.
type wireIssue struct {
	IssueID     string   `json:"issue_id"`
	Repo        string   `json:"repo"`
	IssueNumber int      `json:"issue_number"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Labels      []string `json:"labels"`
	URL         string   `json:"url"`
	Source      Source   `json:"source"`
}

// Parse decodes and validates an Issue from canonical JSON, rejecting
// unknown fields. It never returns a partially valid Issue.
func Parse(data []byte) (*Issue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireIssue
	if err := dec.Decode(&w); err != nil {
		return nil, perr.Wrap(perr.KindInvalidInput, err, "malformed issue JSON")
	}

	iss := &Issue{
		IssueID:     strings.TrimSpace(w.IssueID),
		Repo:        strings.TrimSpace(w.Repo),
		IssueNumber: w.IssueNumber,
		Title:       strings.TrimSpace(w.Title),
		Body:        w.Body,
		Labels:      dedupeLabels(w.Labels),
		URL:         strings.TrimSpace(w.URL),
		Source:      w.Source,
	}
	if err := iss.validate(); err != nil {
		return nil, err
	}
	return iss, nil
}

func dedupeLabels(labels []string) []string {
	if len(labels) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func (iss *Issue) validate() error {
	switch {
	case iss.IssueID == "":
		return perr.New(perr.KindInvalidInput, "issue_id is required")
	case iss.Repo == "":
		return perr.New(perr.KindInvalidInput, "repo is required")
	case iss.IssueNumber < 1:
		return perr.New(perr.KindInvalidInput, "issue_number must be >= 1")
	case iss.Title == "":
		return perr.New(perr.KindInvalidInput, "title is required")
	case iss.URL == "":
		return perr.New(perr.KindInvalidInput, "url is required")
	case !iss.Source.valid():
		return perr.New(perr.KindInvalidInput, fmt.Sprintf("source %q is not one of mock|remote|file|manual", iss.Source))
	}
	return nil
}

// MarshalJSON serializes the Issue in the canonical field order with labels
// sorted, so that re-serializing a parsed Issue is stable modulo label
// ordering — labels form a set, not a sequence.
func (iss Issue) MarshalJSON() ([]byte, error) {
	labels := append([]string(nil), iss.Labels...)
	sort.Strings(labels)
	if labels == nil {
		labels = []string{}
	}
	w := wireIssue{
		IssueID:     iss.IssueID,
		Repo:        iss.Repo,
		IssueNumber: iss.IssueNumber,
		Title:       iss.Title,
		Body:        iss.Body,
		Labels:      labels,
		URL:         iss.URL,
		Source:      iss.Source,
	}
	return json.Marshal(w)
}

// UnmarshalJSON delegates to Parse's validation so that Issue satisfies
// json.Unmarshaler consistently with Parse, rejecting unknown fields and
// invalid records.
func (iss *Issue) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*iss = *parsed
	return nil
}
