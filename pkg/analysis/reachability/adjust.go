package reachability

import (
	"strings"

	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// ScoredFinding is a finding after contextual re-scoring. It is a separate
// type from rules.Finding so a scored finding cannot be scored again.
type ScoredFinding struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"rule_id"`
	Category         rules.Category  `json:"category"`
	Severity         rules.Severity  `json:"severity"`
	OriginalSeverity rules.Severity  `json:"original_severity"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	FilePath         string          `json:"file"`
	Location         *rules.Location `json:"location,omitempty"`
	Remediation      string          `json:"remediation,omitempty"`
	References       []string        `json:"references,omitempty"`
	Snippet          *rules.Snippet  `json:"snippet,omitempty"`
	Evidence         string          `json:"evidence,omitempty"`
	Reachability     *Info           `json:"reachability,omitempty"`
}

// Line returns the location's line, or 0
func (s ScoredFinding) Line() int {
	if s.Location == nil {
		return 0
	}
	return s.Location.Line
}

// JobID returns the location's job, or ""
func (s ScoredFinding) JobID() string {
	if s.Location == nil {
		return ""
	}
	return s.Location.JobID
}

// Adjusted reports whether re-scoring changed the severity
func (s ScoredFinding) Adjusted() bool {
	return s.Severity != s.OriginalSeverity
}

// Adjust applies a reachability verdict to a raw finding. A nil verdict
// passes the finding through with its severity unchanged.
func Adjust(f rules.Finding, info *Info) ScoredFinding {
	sf := ScoredFinding{
		ID:               f.ID,
		RuleID:           f.RuleID,
		Category:         f.Category,
		Severity:         f.Severity,
		OriginalSeverity: f.Severity,
		Title:            f.Title,
		Description:      f.Description,
		FilePath:         f.FilePath,
		Location:         f.Location,
		Remediation:      f.Remediation,
		References:       f.References,
		Snippet:          f.Snippet,
		Evidence:         f.Evidence,
		Reachability:     info,
	}
	if info == nil {
		return sf
	}

	if !info.Reachable {
		sf.Severity = rules.Info
		reason := info.Reason
		if reason == "" {
			reason = "its conditions never hold"
		}
		sf.Description = appendSentence(sf.Description, "Not reachable: "+reason+".")
	} else {
		sf.Severity = severityFor(info.Risk, f.Severity)
	}

	if len(info.MitigatingFactors) > 0 {
		sf.Remediation = appendSentence(sf.Remediation,
			"Mitigating factors: "+strings.Join(info.MitigatingFactors, "; ")+".")
	}

	return sf
}

// severityFor maps a risk tier to an effective severity. Medium risk only
// softens an error; other severities keep their value.
func severityFor(risk RiskTier, original rules.Severity) rules.Severity {
	switch risk {
	case High:
		return rules.Error
	case Medium:
		if original == rules.Error {
			return rules.Warning
		}
		return original
	default:
		return rules.Info
	}
}

func appendSentence(text, sentence string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return sentence
	}
	return text + " " + sentence
}

// Stats aggregates reachability verdicts
type Stats struct {
	Total     int `json:"total"`
	Reachable int `json:"reachable"`
	HighRisk  int `json:"high_risk"`
	Mitigated int `json:"mitigated"`
}

// Add folds one scored finding into the stats. Findings without a verdict
// are not counted.
func (s *Stats) Add(sf ScoredFinding) {
	info := sf.Reachability
	if info == nil {
		return
	}
	s.Total++
	if info.Reachable {
		s.Reachable++
		if info.Risk == High {
			s.HighRisk++
		}
	}
	if len(info.MitigatingFactors) > 0 {
		s.Mitigated++
	}
}

// Merge adds other into s
func (s *Stats) Merge(other Stats) {
	s.Total += other.Total
	s.Reachable += other.Reachable
	s.HighRisk += other.HighRisk
	s.Mitigated += other.Mitigated
}
