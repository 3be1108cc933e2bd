package params

import (
	"fmt"
	"os"

	"github.com/nvandessel/abm/internal/models"
	"gopkg.in/yaml.v3"
)

// Scenario is one named parameter set in a scenario file. Fields not given
// keep their Default values. Model, Transitions and Parameters are applied
// in that order, the same way the run command applies its flags.
type Scenario struct {
	Parameters `yaml:",inline"`

	Model       string   `yaml:"model,omitempty"`
	Transitions []string `yaml:"transitions,omitempty"`
	Overrides   []string `yaml:"parameters,omitempty"`
}

type scenarioFile struct {
	Scenarios []yaml.Node `yaml:"scenarios"`
}

// LoadScenarios reads a YAML scenario file and returns one validated
// Parameters value per scenario, in file order.
//
//	scenarios:
//	  - name: baseline
//	    agents: 1000
//	  - name: contacts
//	    model: covid
//	    parameters: ["contacts:8", "isolation:0.2"]
//	    transitions: ["YV:0.05"]
func LoadScenarios(path string) ([]Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return ParseScenarios(data)
}

// ParseScenarios decodes scenario YAML.
func ParseScenarios(data []byte) ([]Parameters, error) {
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing scenario file: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("%w: scenario file defines no scenarios", ErrInvalidParameters)
	}

	out := make([]Parameters, 0, len(file.Scenarios))
	for i := range file.Scenarios {
		sc := Scenario{Parameters: Default()}
		sc.Risks = nil
		sc.Exposure = ""
		if err := file.Scenarios[i].Decode(&sc); err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		p, err := sc.Resolve()
		if err != nil {
			return nil, fmt.Errorf("scenario %d (%s): %w", i, sc.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Resolve applies the model, transition and parameter overrides and
// validates the result. An empty exposure is inferred from contacts: a
// positive value selects random contacts, otherwise homogeneous mixing.
func (sc Scenario) Resolve() (Parameters, error) {
	p := sc.Parameters.Clone()
	if p.Exposure == "" {
		p.Exposure = Homogeneous
		if p.ContactsPerIteration > 0 {
			p.Exposure = RandomContacts
		}
	}
	switch {
	case sc.Model != "" && p.Risks != nil:
		return Parameters{}, fmt.Errorf("%w: model and risks are mutually exclusive", ErrInvalidParameters)
	case sc.Model != "":
		if err := p.SetModel(sc.Model); err != nil {
			return Parameters{}, err
		}
	case p.Risks == nil:
		if err := p.SetModel(models.DefaultPreset); err != nil {
			return Parameters{}, err
		}
	}
	for _, t := range sc.Transitions {
		if err := p.SetTransition(t); err != nil {
			return Parameters{}, err
		}
	}
	for _, o := range sc.Overrides {
		if err := p.SetParameter(o); err != nil {
			return Parameters{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}
