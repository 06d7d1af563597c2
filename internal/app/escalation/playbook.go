package escalation

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/PabloGalante/equalizer/internal/domain"
)

//go:embed playbooks.yaml
var defaultPlaybooks []byte

type stepSpec struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Action      domain.ActionKind `yaml:"action"`
	Params      map[string]string `yaml:"params"`

	tmpl *template.Template
}

type playbookSpec struct {
	Extends string     `yaml:"extends"`
	Steps   []stepSpec `yaml:"steps"`
}

// Catalog maps an escalation type to its fixed, ordered step list.
type Catalog struct {
	playbooks   map[string][]stepSpec
	defaultType string
}

// DefaultCatalog is the embedded playbook set.
func DefaultCatalog(defaultType string) (*Catalog, error) {
	return ParseCatalog(defaultPlaybooks, defaultType)
}

// LoadCatalogFile reads playbooks from a YAML file on disk.
func LoadCatalogFile(path, defaultType string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playbooks: read %s: %w", path, err)
	}
	c, err := ParseCatalog(data, defaultType)
	if err != nil {
		return nil, fmt.Errorf("playbooks: %s: %w", path, err)
	}
	return c, nil
}

func ParseCatalog(data []byte, defaultType string) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("playbooks: payload is empty")
	}
	var raw map[string]playbookSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("playbooks: decode: %w", err)
	}

	c := &Catalog{playbooks: make(map[string][]stepSpec, len(raw)), defaultType: defaultType}
	for name := range raw {
		steps, err := resolve(raw, name, nil)
		if err != nil {
			return nil, err
		}
		if len(steps) == 0 {
			return nil, fmt.Errorf("playbooks: %q has no steps", name)
		}
		c.playbooks[name] = steps
	}
	if _, ok := c.playbooks[defaultType]; !ok {
		return nil, fmt.Errorf("playbooks: default type %q is not defined", defaultType)
	}
	return c, nil
}

// resolve flattens extends chains and compiles description templates.
func resolve(raw map[string]playbookSpec, name string, seen []string) ([]stepSpec, error) {
	if slices.Contains(seen, name) {
		return nil, fmt.Errorf("playbooks: extends cycle %s", strings.Join(append(seen, name), " -> "))
	}
	pb, ok := raw[name]
	if !ok {
		return nil, fmt.Errorf("playbooks: unknown playbook %q", name)
	}

	var steps []stepSpec
	if pb.Extends != "" {
		base, err := resolve(raw, pb.Extends, append(seen, name))
		if err != nil {
			return nil, err
		}
		steps = append(steps, base...)
	}

	for _, s := range pb.Steps {
		if s.ID == "" || s.Action == "" {
			return nil, fmt.Errorf("playbooks: %q: every step needs an id and an action", name)
		}
		if slices.ContainsFunc(steps, func(o stepSpec) bool { return o.ID == s.ID }) {
			return nil, fmt.Errorf("playbooks: %q: duplicate step id %q", name, s.ID)
		}
		t, err := template.New(s.ID).Option("missingkey=error").Parse(s.Description)
		if err != nil {
			return nil, fmt.Errorf("playbooks: %q: step %q: %w", name, s.ID, err)
		}
		s.tmpl = t
		steps = append(steps, s)
	}
	return steps, nil
}

// Types lists the known escalation types.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.playbooks))
	for name := range c.playbooks {
		types = append(types, name)
	}
	slices.Sort(types)
	return types
}

// Steps materializes the pending step list for facts. An empty escalation
// type selects the default playbook.
func (c *Catalog) Steps(facts domain.CaseFacts) ([]domain.EscalationStep, error) {
	kind := facts.EscalationType
	if kind == "" {
		kind = c.defaultType
	}
	specs, ok := c.playbooks[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown escalation_type %q (known: %s)",
			domain.ErrInvalidInput, kind, strings.Join(c.Types(), ", "))
	}

	steps := make([]domain.EscalationStep, 0, len(specs))
	for _, s := range specs {
		var desc strings.Builder
		if err := s.tmpl.Execute(&desc, facts); err != nil {
			return nil, fmt.Errorf("rendering description of %s: %w", s.ID, err)
		}
		params := make(domain.Params, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		steps = append(steps, domain.EscalationStep{
			ID:          s.ID,
			Name:        s.Name,
			Description: desc.String(),
			ActionKind:  s.Action,
			Params:      params,
			Status:      domain.StepPending,
		})
	}
	return steps, nil
}
