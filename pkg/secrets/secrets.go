package secrets

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/linenum"
	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// RuleID identifies hardcoded secret findings
const RuleID = "HARDCODED_SECRET"

// Detector is a lightweight secrets detector combining token patterns with
// an entropy check over environment values
type Detector struct {
	// Custom patterns in addition to the defaults
	CustomPatterns []*regexp.Regexp
	// Entropy threshold for environment values (bits per character)
	EntropyThreshold float64
	// Substrings that mark a value as a placeholder
	IgnorePatterns []string
}

// NewDetector creates a new secrets detector
func NewDetector() *Detector {
	return &Detector{
		EntropyThreshold: 4.5,
		IgnorePatterns:   constants.DefaultIgnorePatterns,
	}
}

// AddCustomPattern adds a custom regex pattern to detect secrets
func (d *Detector) AddCustomPattern(pattern *regexp.Regexp) {
	d.CustomPatterns = append(d.CustomPatterns, pattern)
}

// Rule wraps the detector as a rule for the rule engine
func (d *Detector) Rule() rules.Rule {
	return rules.Rule{
		ID:          RuleID,
		Title:       rules.TitleHardcodedSecret,
		Description: "Detects credentials written directly into the workflow",
		Severity:    rules.Error,
		Category:    rules.Security,
		Check:       d.Detect,
	}
}

var defaultPatterns = []*regexp.Regexp{
	// AWS
	regexp.MustCompile(`(AKIA[0-9A-Z]{16})`),
	regexp.MustCompile(`(?i)aws[_-]?(?:access[_-]?key|secret[_-]?key)["\s]*[:=]["\s]*['"]([a-zA-Z0-9/+]{16,64})['"]`),
	// GitHub tokens
	regexp.MustCompile(`(gh[pousr]_[a-zA-Z0-9_]{36,255})`),
	regexp.MustCompile(`(github_pat_[a-zA-Z0-9_]{22,255})`),
	// Google
	regexp.MustCompile(`(AIza[a-zA-Z0-9_\-]{35})`),
	// Slack
	regexp.MustCompile(`(xox[baprs]-[a-zA-Z0-9-]{10,})`),
	// NPM
	regexp.MustCompile(`(npm_[a-zA-Z0-9]{36})`),
	// Private keys
	regexp.MustCompile(`-----BEGIN( RSA| OPENSSH| DSA| EC)? PRIVATE KEY-----`),
	// Keyed assignments of quoted literals
	regexp.MustCompile(`(?i)(?:secret|token|password|passwd|api[_-]?key)["\s]*[:=]\s*['"]([a-zA-Z0-9_\-\.$+=/]{8,64})['"]`),
	// Credentials in connection strings
	regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|mongodb(?:\+srv)?)://[^:\s/]+:([^@\s]{4,})@`),
}

// Detect scans a workflow file for hardcoded secrets. At most one finding is
// reported per line.
func (d *Detector) Detect(workflow parser.WorkflowFile) []rules.Finding {
	content := stripComments(string(workflow.Content))
	lm := linenum.NewLineMapperFromString(content)

	byLine := make(map[int]rules.Finding)
	patterns := append(append([]*regexp.Regexp{}, defaultPatterns...), d.CustomPatterns...)

	for _, pattern := range patterns {
		for _, m := range pattern.FindAllStringSubmatchIndex(content, -1) {
			match := content[m[0]:m[1]]
			if strings.Contains(match, "${{") {
				continue
			}

			value := match
			if len(m) >= 4 && m[len(m)-2] >= 0 {
				value = content[m[len(m)-2]:m[len(m)-1]]
			}
			if d.isPlaceholder(value) {
				continue
			}

			line := lm.CharToLine(m[0])
			if _, seen := byLine[line]; seen || line == 0 {
				continue
			}
			byLine[line] = d.finding(workflow, &rules.Location{Line: line}, match,
				"Credential-shaped literal found in workflow text")
		}
	}

	for _, f := range d.detectByEntropy(workflow, lm) {
		if _, seen := byLine[f.Line()]; !seen {
			byLine[f.Line()] = f
		}
	}

	lines := make([]int, 0, len(byLine))
	for line := range byLine {
		lines = append(lines, line)
	}
	sort.Ints(lines)

	findings := make([]rules.Finding, 0, len(lines))
	for _, line := range lines {
		findings = append(findings, byLine[line])
	}
	return findings
}

// detectByEntropy checks env values at workflow, job and step level
func (d *Detector) detectByEntropy(workflow parser.WorkflowFile, lm *linenum.LineMapper) []rules.Finding {
	var findings []rules.Finding

	check := func(env map[string]string, loc rules.Location) {
		names := make([]string, 0, len(env))
		for name := range env {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			value := env[name]
			if !d.highEntropy(value) {
				continue
			}
			l := loc
			if res := lm.FindLineNumber(linenum.FindPattern{Key: name, Value: value}); res != nil {
				l.Line = res.LineNumber
			}
			findings = append(findings, d.finding(workflow, &l, name+": "+value,
				fmt.Sprintf("Environment variable %s holds a high-entropy literal", name)))
		}
	}

	check(workflow.Workflow.Env, rules.Location{})
	for _, jobID := range workflow.JobIDs() {
		job := workflow.Workflow.Jobs[jobID]
		check(job.Env, rules.Location{JobID: jobID})
		for i, step := range job.Steps {
			check(step.Env, rules.Location{JobID: jobID, StepIndex: rules.StepAt(i)})
		}
	}

	return findings
}

func (d *Detector) finding(workflow parser.WorkflowFile, loc *rules.Location, evidence, description string) rules.Finding {
	return rules.Finding{
		RuleID:      RuleID,
		Category:    rules.Security,
		Severity:    rules.Error,
		Title:       rules.TitleHardcodedSecret,
		Description: description,
		FilePath:    workflow.Path,
		Location:    loc,
		Remediation: "Move the value to an encrypted secret and reference it with ${{ secrets.NAME }}",
		References:  []string{"https://docs.github.com/en/actions/security-guides/using-secrets-in-github-actions"},
		Evidence:    sanitizeEvidence(evidence),
	}
}

func (d *Detector) highEntropy(value string) bool {
	if len(value) < 20 || strings.ContainsAny(value, " \t/") || strings.Contains(value, "${{") {
		return false
	}
	if d.isPlaceholder(value) {
		return false
	}
	return calculateEntropy(value) > d.EntropyThreshold
}

func (d *Detector) isPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, p := range d.IgnorePatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// stripComments blanks YAML comments while keeping offsets and line breaks intact
func stripComments(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		for j := 0; j < len(line); j++ {
			if line[j] == '#' && (j == 0 || line[j-1] == ' ' || line[j-1] == '\t') {
				lines[i] = line[:j] + strings.Repeat(" ", len(line)-j)
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// calculateEntropy calculates the Shannon entropy of a string
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	charFreq := make(map[rune]float64)
	for _, char := range s {
		charFreq[char]++
	}

	entropy := 0.0
	length := float64(len(s))
	for _, freq := range charFreq {
		probability := freq / length
		entropy -= probability * math.Log2(probability)
	}

	return entropy
}

// sanitizeEvidence masks the middle of a potential secret for display
func sanitizeEvidence(evidence string) string {
	if len(evidence) < 12 {
		return evidence
	}
	visible := 4
	return evidence[:visible] + strings.Repeat("*", len(evidence)-visible*2) + evidence[len(evidence)-visible:]
}
