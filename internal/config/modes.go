package config

// ModelsConfig selects the Gemini model used by each dispatch mode.
// Every field is a bare model identifier; ModelFor qualifies it with the
// googleai provider prefix expected by Genkit.
type ModelsConfig struct {
	Chat     string `mapstructure:"chat" json:"chat"`
	Search   string `mapstructure:"search" json:"search"`
	Research string `mapstructure:"research" json:"research"`
	Think    string `mapstructure:"think" json:"think"`
	Image    string `mapstructure:"image" json:"image"`
	Canvas   string `mapstructure:"canvas" json:"canvas"`
	Project  string `mapstructure:"project" json:"project"`
	Study    string `mapstructure:"study" json:"study"`
}

// providerPrefix is the Genkit plugin prefix for Gemini models.
const providerPrefix = "googleai/"

// ModelFor returns the provider-qualified model name for a dispatch mode key
// ("chat", "search", ...). Unknown keys fall back to the chat model.
func (m ModelsConfig) ModelFor(mode string) string {
	name := m.Chat
	switch mode {
	case "search":
		name = m.Search
	case "research":
		name = m.Research
	case "think":
		name = m.Think
	case "image":
		name = m.Image
	case "canvas":
		name = m.Canvas
	case "project":
		name = m.Project
	case "study":
		name = m.Study
	}
	if name == "" {
		name = m.Chat
	}
	return providerPrefix + name
}

// all returns the model fields with their mode keys, for validation.
func (m ModelsConfig) all() map[string]string {
	return map[string]string{
		"chat":     m.Chat,
		"search":   m.Search,
		"research": m.Research,
		"think":    m.Think,
		"image":    m.Image,
		"canvas":   m.Canvas,
		"project":  m.Project,
		"study":    m.Study,
	}
}
