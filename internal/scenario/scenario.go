// Package scenario describes projects and their deferred actions in YAML and
// replays them against real staged queues, recording the execution order.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/davidroman0O/stagequeue"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoProjects is returned for a scenario without projects
	ErrNoProjects = errors.New("scenario has no projects")

	// ErrDuplicateProject is returned when two projects share a name
	ErrDuplicateProject = errors.New("duplicate project name")

	// ErrUnnamedAction is returned for an action without a name
	ErrUnnamedAction = errors.New("action has no name")
)

// Scenario is the root of a scenario document.
type Scenario struct {
	Name     string    `yaml:"name" json:"name"`
	Projects []Project `yaml:"projects" json:"projects"`
}

// Project describes one project evaluation.
type Project struct {
	Name string `yaml:"name" json:"name"`

	// Plugins are applied, in order, by a configuration block.
	Plugins []string `yaml:"plugins,omitempty" json:"plugins,omitempty"`

	// DeferringPlugins overrides the queue's deferring plugin ids.
	DeferringPlugins []string `yaml:"deferringPlugins,omitempty" json:"deferringPlugins,omitempty"`

	// Listeners are named after-evaluate listeners registered before the queue.
	Listeners []string `yaml:"listeners,omitempty" json:"listeners,omitempty"`

	// EvaluateFirst evaluates the project before the queue exists.
	EvaluateFirst bool `yaml:"evaluateFirst,omitempty" json:"evaluateFirst,omitempty"`

	Actions []Action `yaml:"actions" json:"actions"`
}

// Action is a deferred action. Then lists actions it schedules while running.
type Action struct {
	Name  string           `yaml:"name" json:"name"`
	Stage stagequeue.Stage `yaml:"stage" json:"stage"`
	Fail  string           `yaml:"fail,omitempty" json:"fail,omitempty"`
	Then  []Action         `yaml:"then,omitempty" json:"then,omitempty"`
}

// Parse decodes and validates a scenario document. Unknown fields are errors.
func Parse(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}

// Validate checks project names and action names.
func (s *Scenario) Validate() error {
	if len(s.Projects) == 0 {
		return ErrNoProjects
	}
	seen := make(map[string]bool, len(s.Projects))
	for i, p := range s.Projects {
		if p.Name == "" {
			return fmt.Errorf("project %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateProject, p.Name)
		}
		seen[p.Name] = true
		if err := validateActions(p.Name, p.Actions); err != nil {
			return err
		}
	}
	return nil
}

func validateActions(project string, actions []Action) error {
	for _, a := range actions {
		if a.Name == "" {
			return fmt.Errorf("%w in project %s", ErrUnnamedAction, project)
		}
		if err := validateActions(project, a.Then); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of actions in the tree, nested ones included.
func Count(actions []Action) int {
	n := len(actions)
	for _, a := range actions {
		n += Count(a.Then)
	}
	return n
}
