package scenario

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is the per-campaign conversation script: the persona prompt
// the reply generator runs under, plus the scripted message pools the
// worker draws from. Loaded from the YAML file a campaign points at.
type Scenario struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`

	// Openers are first-contact messages; one is picked at random.
	Openers []string `yaml:"openers"`
	// SecondMessages follow an unanswered opener; one is picked at random.
	SecondMessages []string `yaml:"second_messages"`

	Model      string         `yaml:"model"`
	Parameters map[string]any `yaml:"parameters"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		return fmt.Errorf("system_prompt is required")
	}
	if len(s.Openers) == 0 {
		return fmt.Errorf("at least one opener is required")
	}
	return nil
}

// Opener picks one first-contact message. Varied on purpose so accounts
// do not all open the same way.
func (s *Scenario) Opener() string {
	return pick(s.Openers)
}

// SecondMessage picks one scripted follow-up, empty if the scenario has
// none.
func (s *Scenario) SecondMessage() string {
	return pick(s.SecondMessages)
}

func pick(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.IntN(len(pool))]
}

// BuildSystemPrompt extends the persona prompt with the current dialogue
// state so the generator knows what already happened.
func (s *Scenario) BuildSystemPrompt(messageCount int, linksSent bool, links []string) string {
	var b strings.Builder
	b.WriteString(s.SystemPrompt)
	fmt.Fprintf(&b, "\n\n---\nDialogue state:\n- messages so far: %d\n", messageCount)
	if linksSent {
		b.WriteString("- links were already sent, do not repeat [SEND_LINKS]\n")
	} else {
		b.WriteString("- links not sent yet\n")
		if len(links) > 0 {
			b.WriteString("\nLinks to deliver on [SEND_LINKS]:\n")
			for _, link := range links {
				b.WriteString(link)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
