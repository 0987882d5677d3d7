package agent

import (
	"fmt"
	"sort"

	"friday/internal/llm"
	"friday/internal/metrics"
)

// RunnerFactory builds scoped runners from agent profiles.
type RunnerFactory struct {
	provider       llm.Provider
	globalRegistry *Registry
	profiles       map[string]*AgentProfile
	recorder       Recorder
	metrics        *metrics.Metrics
}

func NewRunnerFactory(provider llm.Provider, registry *Registry, profiles map[string]*AgentProfile, recorder Recorder, m *metrics.Metrics) *RunnerFactory {
	return &RunnerFactory{
		provider:       provider,
		globalRegistry: registry,
		profiles:       profiles,
		recorder:       recorder,
		metrics:        m,
	}
}

// Build creates a ReactRunner scoped to the given profile.
func (f *RunnerFactory) Build(profileName string) (Runner, error) {
	profile, ok := f.profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("unknown agent profile: %s", profileName)
	}

	registry, err := f.globalRegistry.Scope(profile.Tools)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profileName, err)
	}

	opts := []RunnerOption{
		WithName(profile.Name),
		WithMaxSteps(profile.MaxSteps),
		WithMetrics(f.metrics),
	}
	if profile.SystemPrompt != "" {
		opts = append(opts, WithSystemPrompt(profile.SystemPrompt))
	}
	if f.recorder != nil {
		opts = append(opts, WithRecorder(f.recorder))
	}

	return NewReactRunner(f.provider, registry, opts...)
}

// Profiles returns the names of all registered profiles, sorted.
func (f *RunnerFactory) Profiles() []string {
	names := make([]string, 0, len(f.profiles))
	for name := range f.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
