package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleScenario = `name: crypto_outreach
system_prompt: |
  Ты обычный трейдер, общаешься коротко и неформально.
openers:
  - "привет"
  - "хай"
  - "здарова"
second_messages:
  - "давно торгуешь?"
model: gpt-4o-mini
parameters:
  temperature: 0.8
  max_tokens: 300
`

func writeScenario(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestLoadScenario(t *testing.T) {
	sc, err := Load(writeScenario(t, sampleScenario))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sc.Name != "crypto_outreach" {
		t.Errorf("Name = %q", sc.Name)
	}
	if sc.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", sc.Model)
	}
	if len(sc.Openers) != 3 {
		t.Errorf("Openers = %v", sc.Openers)
	}
	if temp, ok := sc.Parameters["temperature"]; !ok || temp != 0.8 {
		t.Errorf("Parameters[temperature] = %v", temp)
	}
}

func TestLoadScenarioValidates(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{"missing name", "system_prompt: x\nopeners: [a]\n"},
		{"missing prompt", "name: x\nopeners: [a]\n"},
		{"no openers", "name: x\nsystem_prompt: y\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeScenario(t, tc.contents)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpenerDrawsFromPool(t *testing.T) {
	sc := &Scenario{Openers: []string{"привет", "хай"}}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		op := sc.Opener()
		if op != "привет" && op != "хай" {
			t.Fatalf("Opener() = %q, not in pool", op)
		}
		seen[op] = true
	}
	if len(seen) < 2 {
		t.Error("Opener() never varied across 100 draws")
	}
}

func TestSecondMessageEmptyPool(t *testing.T) {
	sc := &Scenario{}
	if got := sc.SecondMessage(); got != "" {
		t.Errorf("SecondMessage() = %q, want empty", got)
	}
}

func TestBuildSystemPromptStatesLinks(t *testing.T) {
	sc := &Scenario{SystemPrompt: "персона"}
	links := []string{"https://t.me/alpha"}

	fresh := sc.BuildSystemPrompt(2, false, links)
	if !strings.Contains(fresh, "персона") {
		t.Error("persona prompt missing")
	}
	if !strings.Contains(fresh, "https://t.me/alpha") {
		t.Error("links block missing before goal")
	}
	if !strings.Contains(fresh, "messages so far: 2") {
		t.Error("message count missing")
	}

	done := sc.BuildSystemPrompt(7, true, links)
	if strings.Contains(done, "https://t.me/alpha") {
		t.Error("links block still present after goal")
	}
	if !strings.Contains(done, "do not repeat") {
		t.Error("repeat warning missing after goal")
	}
}
