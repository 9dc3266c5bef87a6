/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rules

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/harekrishnarai/flowscope/pkg/constants"
)

// Severity is the effective severity of a finding
type Severity string

const (
	Error   Severity = constants.SeverityError
	Warning Severity = constants.SeverityWarning
	Info    Severity = constants.SeverityInfo
)

// Valid reports whether s is one of error, warning, info
func (s Severity) Valid() bool {
	_, ok := constants.SeverityLevels[string(s)]
	return ok
}

// Rank orders severities: info < warning < error. Unknown severities rank below info.
func (s Severity) Rank() int {
	if r, ok := constants.SeverityLevels[string(s)]; ok {
		return r
	}
	return -1
}

// ParseSeverity accepts error/warning/info case-insensitively, plus the
// critical/high/medium/low scale used by external policies
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "critical", "high":
		return Error, true
	case "warning", "warn", "medium":
		return Warning, true
	case "info", "low", "informational":
		return Info, true
	default:
		return "", false
	}
}

// Category groups findings by concern
type Category string

const (
	Security     Category = "security"
	Performance  Category = "performance"
	BestPractice Category = "best-practice"
	Dependency   Category = "dependency"
	Structure    Category = "structure"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case Security, Performance, BestPractice, Dependency, Structure:
		return true
	}
	return false
}

// Location pins a finding inside a document. Any field may be unset.
type Location struct {
	Line      int    `json:"line,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	StepIndex *int   `json:"step_index,omitempty"`
}

// StepAt returns a pointer suitable for Location.StepIndex
func StepAt(index int) *int {
	return &index
}

// Snippet is an excerpt of the raw document around the offending line
type Snippet struct {
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	Content       string `json:"content"`
	HighlightLine int    `json:"highlight_line"`
}

// Finding is one reported issue
type Finding struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FilePath    string    `json:"file"`
	Location    *Location `json:"location,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
	References  []string  `json:"references,omitempty"`
	Snippet     *Snippet  `json:"snippet,omitempty"`

	// Evidence is the matched text; used for ignore filters and line lookup
	Evidence string `json:"evidence,omitempty"`
}

// JobID returns the location's job, or ""
func (f Finding) JobID() string {
	if f.Location == nil {
		return ""
	}
	return f.Location.JobID
}

// StepIndex returns the location's step index and whether it is set
func (f Finding) StepIndex() (int, bool) {
	if f.Location == nil || f.Location.StepIndex == nil {
		return 0, false
	}
	return *f.Location.StepIndex, true
}

// Line returns the location's line, or 0
func (f Finding) Line() int {
	if f.Location == nil {
		return 0
	}
	return f.Location.Line
}

// Fingerprint hashes the identifying fields of a finding. Two runs over the
// same document produce the same fingerprint.
func (f Finding) Fingerprint() string {
	h := blake3.New()
	step := ""
	if idx, ok := f.StepIndex(); ok {
		step = strconv.Itoa(idx)
	}
	for _, part := range []string{f.RuleID, f.FilePath, f.JobID(), step, strconv.Itoa(f.Line()), f.Title, f.Evidence} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EnsureID assigns a fingerprint-derived ID when the finding has none
func (f *Finding) EnsureID() {
	if f.ID == "" {
		f.ID = strings.ToLower(f.RuleID) + "-" + f.Fingerprint()[:12]
	}
}
