package classifier

import (
	"strings"

	"github.com/xaenox/agent-router/internal/models"
)

var domainKeywords = map[models.AgentKind][]string{
	models.KindArchitect: {"architecture", "design", "microservice", "scalab", "pattern", "component", "diagram", "infrastructure", "monolith"},
	models.KindAnalyst:   {"requirement", "analysis", "analyz", "analys", "user story", "stakeholder", "business", "metric", "kpi"},
	models.KindPM:        {"deadline", "timeline", "sprint", "milestone", "roadmap", "priorit", "estimate", "schedule", "backlog"},
	models.KindDBA:       {"database", "sql", "query", "index", "schema", "postgres", "mysql", "table", "migration", "nosql"},
	models.KindTechnical: {"code", "bug", "implement", "function", "api", "error", "debug", "library", "deploy", "compile"},
}

var followUpPhrases = []string{
	"continue", "go on", "more", "why", "and then", "then what", "ok", "okay",
	"thanks", "yes", "no", "what about", "elaborate", "explain", "example", "and?", "really",
}

// keywordHits lists the keywords of kind found in the lower-cased text
func keywordHits(kind models.AgentKind, text string) []string {
	var hits []string
	for _, kw := range domainKeywords[kind] {
		if strings.Contains(text, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

// customHits matches the words of a custom agent's name
func customHits(agent models.AgentProfile, text string) []string {
	var hits []string
	for _, w := range strings.Fields(strings.ToLower(agent.Name)) {
		if len(w) >= 4 && strings.Contains(text, w) {
			hits = append(hits, w)
		}
	}
	return hits
}

func hitsFor(agent models.AgentProfile, text string) []string {
	if agent.Kind == models.KindCustom {
		return customHits(agent, text)
	}
	return keywordHits(agent.Kind, text)
}

func looksLikeFollowUp(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, p := range followUpPhrases {
		if text == p || strings.HasPrefix(text, p+" ") || strings.HasPrefix(text, p+",") ||
			strings.HasPrefix(text, p+".") || strings.HasPrefix(text, p+"?") || strings.HasPrefix(text, p+"!") {
			return true
		}
	}
	return false
}
