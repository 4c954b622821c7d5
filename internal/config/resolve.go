package config

import "strings"

// ResolvedAgentConfig is the outcome of layered agent resolution for one
// status group. Empty Model/Instructions mean "none".
type ResolvedAgentConfig struct {
	Agent        string
	Model        string
	Instructions string
}

// ResolveAgentConfig consults, in order: the project's per-status override,
// the project default agent, the global per-status override, and the global
// default agent. A partial project status override inherits its missing
// agent from the next layer down.
//
// projectConfig is the project's opaque agent_config object.
func ResolveAgentConfig(global *GlobalConfig, projectConfig map[string]any, statusGroup string) ResolvedAgentConfig {
	groupKey := strings.ToLower(statusGroup)

	// 1. Project-level status override.
	if sc, ok := projectStatusConfig(projectConfig, groupKey); ok {
		agent := stringField(sc, "agent")
		model := stringField(sc, "model")
		instructions := stringField(sc, "instructions")
		if agent != "" || model != "" || instructions != "" {
			if agent == "" {
				agent = projectDefaultAgent(global, projectConfig)
			}
			return ResolvedAgentConfig{Agent: agent, Model: model, Instructions: instructions}
		}
	}

	// 2. Project-level default.
	if agent := stringField(projectConfig, "agent"); agent != "" {
		return ResolvedAgentConfig{Agent: agent}
	}

	// 3. Global status override.
	if sc, ok := global.Defaults.Status[groupKey]; ok {
		agent := sc.Agent
		if agent == "" {
			agent = global.Defaults.Agent
		}
		return ResolvedAgentConfig{Agent: agent, Model: sc.Model, Instructions: sc.Instructions}
	}

	// 4. Global default.
	return ResolvedAgentConfig{Agent: global.Defaults.Agent}
}

func projectDefaultAgent(global *GlobalConfig, projectConfig map[string]any) string {
	if agent := stringField(projectConfig, "agent"); agent != "" {
		return agent
	}
	return global.Defaults.Agent
}

func projectStatusConfig(projectConfig map[string]any, groupKey string) (map[string]any, bool) {
	statuses, ok := projectConfig["status"].(map[string]any)
	if !ok {
		return nil, false
	}
	sc, ok := statuses[groupKey].(map[string]any)
	return sc, ok
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
