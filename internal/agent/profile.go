package agent

// AgentProfile defines a named route configuration with a scoped toolset.
type AgentProfile struct {
	Name         string
	SystemPrompt string
	Tools        []string // tool names; empty = no tools
	MaxSteps     int
}
