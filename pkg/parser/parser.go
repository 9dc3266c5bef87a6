package parser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// WorkflowFile is one workflow document: its identity, raw text and decoded structure
type WorkflowFile struct {
	Path     string
	Name     string
	Content  []byte
	Workflow Workflow

	// Declaration order of jobs and trigger keys, taken from the YAML node tree
	JobOrder     []string
	TriggerOrder []string

	// 1-based source lines of job keys and of each step's first line
	JobLines  map[string]int
	StepLines map[string][]int
}

// Workflow represents the parsed structure of a GitHub Actions workflow file
type Workflow struct {
	Name        string                 `yaml:"name"`
	On          interface{}            `yaml:"on"`
	Env         map[string]string      `yaml:"env,omitempty"`
	Jobs        map[string]Job         `yaml:"jobs"`
	Permissions interface{}            `yaml:"permissions,omitempty"`
	Defaults    map[string]interface{} `yaml:"defaults,omitempty"`
}

// Job represents a job in a GitHub Actions workflow
type Job struct {
	Name            string                 `yaml:"name,omitempty"`
	RunsOn          interface{}            `yaml:"runs-on"`
	Permissions     interface{}            `yaml:"permissions,omitempty"`
	Needs           interface{}            `yaml:"needs,omitempty"`
	If              string                 `yaml:"if,omitempty"`
	Steps           []Step                 `yaml:"steps"`
	Env             map[string]string      `yaml:"env,omitempty"`
	Defaults        map[string]interface{} `yaml:"defaults,omitempty"`
	ContinueOnError interface{}            `yaml:"continue-on-error,omitempty"`
	TimeoutMinutes  interface{}            `yaml:"timeout-minutes,omitempty"`
	Container       interface{}            `yaml:"container,omitempty"`
	Services        map[string]interface{} `yaml:"services,omitempty"`
	Strategy        map[string]interface{} `yaml:"strategy,omitempty"`
	Outputs         map[string]string      `yaml:"outputs,omitempty"`
	Uses            string                 `yaml:"uses,omitempty"`

	// Inputs and secrets passed to a reusable workflow. Secrets is either a
	// map or the string "inherit".
	With    map[string]interface{} `yaml:"with,omitempty"`
	Secrets interface{}            `yaml:"secrets,omitempty"`
}

// Step represents a step in a GitHub Actions job
type Step struct {
	Name             string                 `yaml:"name,omitempty"`
	ID               string                 `yaml:"id,omitempty"`
	If               string                 `yaml:"if,omitempty"`
	Uses             string                 `yaml:"uses,omitempty"`
	Run              string                 `yaml:"run,omitempty"`
	Shell            string                 `yaml:"shell,omitempty"`
	With             map[string]interface{} `yaml:"with,omitempty"`
	Env              map[string]string      `yaml:"env,omitempty"`
	ContinueOnError  interface{}            `yaml:"continue-on-error,omitempty"`
	WorkingDirectory string                 `yaml:"working-directory,omitempty"`
}

// StepKind discriminates what a step invokes
type StepKind int

const (
	// StepUnspecified has neither uses nor run
	StepUnspecified StepKind = iota
	// StepAction invokes an action through uses
	StepAction
	// StepCommand runs an inline script
	StepCommand
)

func (k StepKind) String() string {
	switch k {
	case StepAction:
		return "action"
	case StepCommand:
		return "command"
	default:
		return "unspecified"
	}
}

// Kind classifies the step. A step setting both uses and run is treated as an action.
func (s Step) Kind() StepKind {
	switch {
	case strings.TrimSpace(s.Uses) != "":
		return StepAction
	case strings.TrimSpace(s.Run) != "":
		return StepCommand
	default:
		return StepUnspecified
	}
}

// Label returns the step name, or a positional label when unnamed
func (s Step) Label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("step %d", index)
}

// WithString returns the with-parameter as a string, or "" if missing or not a scalar
func (s Step) WithString(key string) string {
	if s.With == nil {
		return ""
	}
	switch v := s.With[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ActionRef is a parsed uses: reference
type ActionRef struct {
	Raw    string
	Owner  string
	Repo   string
	Path   string
	Ref    string
	Local  bool
	Docker bool
}

// Name returns owner/repo[/path] without the ref
func (a ActionRef) Name() string {
	if a.Local || a.Docker {
		return a.Raw
	}
	name := a.Owner + "/" + a.Repo
	if a.Path != "" {
		name += "/" + a.Path
	}
	return name
}

// ParseActionRef splits a uses: value into its parts
func ParseActionRef(uses string) ActionRef {
	uses = strings.TrimSpace(uses)
	ref := ActionRef{Raw: uses}

	switch {
	case strings.HasPrefix(uses, "./") || strings.HasPrefix(uses, "../"):
		ref.Local = true
		return ref
	case strings.HasPrefix(uses, "docker://"):
		ref.Docker = true
		return ref
	}

	name := uses
	if at := strings.LastIndex(uses, "@"); at >= 0 {
		name = uses[:at]
		ref.Ref = uses[at+1:]
	}

	parts := strings.SplitN(name, "/", 3)
	ref.Owner = parts[0]
	if len(parts) > 1 {
		ref.Repo = parts[1]
	}
	if len(parts) > 2 {
		ref.Path = parts[2]
	}
	return ref
}

// NeedsList normalizes needs, which may be a single value or a list
func (j Job) NeedsList() []string {
	switch needs := j.Needs.(type) {
	case string:
		if needs == "" {
			return nil
		}
		return []string{needs}
	case []interface{}:
		out := make([]string, 0, len(needs))
		for _, n := range needs {
			if s, ok := n.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return needs
	default:
		return nil
	}
}

// HasMatrix reports whether the job declares a matrix strategy
func (j Job) HasMatrix() bool {
	if j.Strategy == nil {
		return false
	}
	_, ok := j.Strategy["matrix"]
	return ok
}

// RunnerLabels flattens runs-on into a list of labels
func (j Job) RunnerLabels() []string {
	switch runsOn := j.RunsOn.(type) {
	case string:
		return []string{runsOn}
	case []interface{}:
		var labels []string
		for _, l := range runsOn {
			if s, ok := l.(string); ok {
				labels = append(labels, s)
			}
		}
		return labels
	case map[string]interface{}:
		var labels []string
		switch l := runsOn["labels"].(type) {
		case string:
			labels = append(labels, l)
		case []interface{}:
			for _, v := range l {
				if s, ok := v.(string); ok {
					labels = append(labels, s)
				}
			}
		}
		if g, ok := runsOn["group"].(string); ok {
			labels = append(labels, g)
		}
		return labels
	default:
		return nil
	}
}

// JobIDs returns job identifiers in declaration order. Documents built in
// memory without an order fall back to sorted identifiers.
func (wf WorkflowFile) JobIDs() []string {
	if len(wf.JobOrder) == len(wf.Workflow.Jobs) {
		return wf.JobOrder
	}
	ids := make([]string, 0, len(wf.Workflow.Jobs))
	for id := range wf.Workflow.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Triggers normalizes on: (a string, a list, or a map of trigger to config)
// into a flat list of trigger names
func (wf WorkflowFile) Triggers() []string {
	switch on := wf.Workflow.On.(type) {
	case string:
		if on == "" {
			return nil
		}
		return []string{on}
	case []interface{}:
		var triggers []string
		for _, t := range on {
			if s, ok := t.(string); ok {
				triggers = append(triggers, s)
			}
		}
		return triggers
	case map[string]interface{}:
		if len(wf.TriggerOrder) == len(on) {
			return append([]string(nil), wf.TriggerOrder...)
		}
		triggers := make([]string, 0, len(on))
		for t := range on {
			triggers = append(triggers, t)
		}
		sort.Strings(triggers)
		return triggers
	default:
		return nil
	}
}

// StepLine returns the source line of a step, or 0 if unknown
func (wf WorkflowFile) StepLine(jobID string, index int) int {
	lines := wf.StepLines[jobID]
	if index < 0 || index >= len(lines) {
		return 0
	}
	return lines[index]
}

// Parse decodes a workflow document held in memory
func Parse(path string, content []byte) (WorkflowFile, error) {
	wf := WorkflowFile{
		Path:      path,
		Name:      filepath.Base(path),
		Content:   content,
		JobLines:  make(map[string]int),
		StepLines: make(map[string][]int),
	}

	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return wf, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if root.Kind == 0 {
		return wf, nil
	}
	if err := root.Decode(&wf.Workflow); err != nil {
		return wf, fmt.Errorf("failed to decode workflow: %w", err)
	}

	indexNodes(&wf, &root)
	return wf, nil
}

// ParseWorkflowYAML re-parses a workflow file's content in place
func ParseWorkflowYAML(workflow *WorkflowFile) error {
	parsed, err := Parse(workflow.Path, workflow.Content)
	if err != nil {
		return err
	}
	*workflow = parsed
	return nil
}

func indexNodes(wf *WorkflowFile, root *yaml.Node) {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, value := doc.Content[i], doc.Content[i+1]
		switch key.Value {
		case "on":
			if value.Kind == yaml.MappingNode {
				for j := 0; j+1 < len(value.Content); j += 2 {
					wf.TriggerOrder = append(wf.TriggerOrder, value.Content[j].Value)
				}
			}
		case "jobs":
			if value.Kind != yaml.MappingNode {
				continue
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				jobKey, jobNode := value.Content[j], value.Content[j+1]
				wf.JobOrder = append(wf.JobOrder, jobKey.Value)
				wf.JobLines[jobKey.Value] = jobKey.Line
				wf.StepLines[jobKey.Value] = stepLines(jobNode)
			}
		}
	}
}

func stepLines(job *yaml.Node) []int {
	if job.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(job.Content); i += 2 {
		if job.Content[i].Value != "steps" || job.Content[i+1].Kind != yaml.SequenceNode {
			continue
		}
		var lines []int
		for _, step := range job.Content[i+1].Content {
			lines = append(lines, step.Line)
		}
		return lines
	}
	return nil
}

// FindWorkflows searches for workflow files under .github/workflows, skipping
// paths that match any exclude glob. Documents that fail to parse are left out
// of the result and reported through the returned error; the rest are still returned.
func FindWorkflows(repoPath string, exclude ...string) ([]WorkflowFile, error) {
	workflowsDir := filepath.Join(repoPath, ".github", "workflows")

	if _, err := os.Stat(workflowsDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("no .github/workflows directory found in %s", repoPath)
	}

	var workflows []WorkflowFile
	var parseErrs []error
	err := filepath.WalkDir(workflowsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(d.Name()) {
			return nil
		}

		rel, _ := filepath.Rel(repoPath, path)
		if excluded(filepath.ToSlash(rel), exclude) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read workflow file %s: %w", path, err)
		}

		wf, err := Parse(path, content)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		workflows = append(workflows, wf)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error searching for workflow files: %w", err)
	}

	if len(workflows) == 0 && len(parseErrs) == 0 {
		return nil, fmt.Errorf("no workflow files found in %s", workflowsDir)
	}

	return workflows, errors.Join(parseErrs...)
}

// LoadSingleWorkflow loads and parses a single workflow file
func LoadSingleWorkflow(filePath string) ([]WorkflowFile, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("workflow file not found: %s", filePath)
	}

	if !isYAML(filePath) {
		return nil, fmt.Errorf("file %s does not have a YAML extension (.yml or .yaml)", filePath)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", filePath, err)
	}

	wf, err := Parse(filePath, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", filePath, err)
	}

	return []WorkflowFile{wf}, nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
