package compiler

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aescanero/runnerd/internal/domain"
)

// ManifestFile is the service descriptor expected at the root of a service.
const ManifestFile = "mesg.yml"

type manifest struct {
	Sid           string                `yaml:"sid"`
	Name          string                `yaml:"name"`
	Description   string                `yaml:"description"`
	Repository    string                `yaml:"repository"`
	Configuration configuration         `yaml:"configuration"`
	Dependencies  map[string]dependency `yaml:"dependencies"`
	Tasks         map[string]task       `yaml:"tasks"`
	Events        map[string]event      `yaml:"events"`
}

type configuration struct {
	Volumes     []string `yaml:"volumes"`
	VolumesFrom []string `yaml:"volumesFrom"`
	Ports       []string `yaml:"ports"`
	Args        []string `yaml:"args"`
	Command     string   `yaml:"command"`
	Env         []string `yaml:"env"`
}

type dependency struct {
	Image         string `yaml:"image"`
	configuration `yaml:",inline"`
}

type parameter struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Optional bool   `yaml:"optional"`
	Repeated bool   `yaml:"repeated"`
}

type task struct {
	Name    string               `yaml:"name"`
	Inputs  map[string]parameter `yaml:"inputs"`
	Outputs map[string]parameter `yaml:"outputs"`
}

type event struct {
	Name string               `yaml:"name"`
	Data map[string]parameter `yaml:"data"`
}

// ParseManifest decodes a mesg.yml document. Map entries are emitted sorted
// by key so the same file always yields the same definition.
func ParseManifest(data []byte) (*domain.ServiceDefinition, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}

	if strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("%s: name is required", ManifestFile)
	}
	if m.Sid == "" {
		m.Sid = strings.ToLower(strings.Join(strings.Fields(m.Name), "-"))
	}

	def := &domain.ServiceDefinition{
		Sid:           m.Sid,
		Name:          m.Name,
		Description:   m.Description,
		Repository:    m.Repository,
		Configuration: m.Configuration.toDomain(),
	}

	for _, key := range sortedKeys(m.Dependencies) {
		d := m.Dependencies[key]
		if d.Image == "" {
			return nil, fmt.Errorf("%s: dependency %q requires an image", ManifestFile, key)
		}
		def.Dependencies = append(def.Dependencies, domain.Dependency{
			Key:           key,
			Image:         d.Image,
			Configuration: d.configuration.toDomain(),
		})
	}
	for _, key := range sortedKeys(m.Tasks) {
		t := m.Tasks[key]
		def.Tasks = append(def.Tasks, domain.Task{
			Key:     key,
			Name:    t.Name,
			Inputs:  parameters(t.Inputs),
			Outputs: parameters(t.Outputs),
		})
	}
	for _, key := range sortedKeys(m.Events) {
		e := m.Events[key]
		def.Events = append(def.Events, domain.ServiceEvent{
			Key:  key,
			Name: e.Name,
			Data: parameters(e.Data),
		})
	}

	return def, nil
}

func (c configuration) toDomain() domain.Configuration {
	return domain.Configuration{
		Volumes:     c.Volumes,
		VolumesFrom: c.VolumesFrom,
		Ports:       c.Ports,
		Args:        c.Args,
		Command:     c.Command,
		Env:         c.Env,
	}
}

func parameters(in map[string]parameter) []domain.Parameter {
	var out []domain.Parameter
	for _, key := range sortedKeys(in) {
		p := in[key]
		out = append(out, domain.Parameter{
			Key:      key,
			Name:     p.Name,
			Type:     p.Type,
			Optional: p.Optional,
			Repeated: p.Repeated,
		})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
