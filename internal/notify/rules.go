package notify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules are the handoff-detection patterns. Phrases are regular
// expressions evaluated against the accent-stripped, lowercased reply;
// Keywords is the fallback set where any two distinct hits in one reply
// fire an alert.
type Rules struct {
	Phrases  []string `yaml:"phrases"`
	Keywords []string `yaml:"keywords"`
}

// DefaultRules covers the confirmation and advisor-handoff phrasings the
// bot is known to produce, in English and Spanish.
func DefaultRules() Rules {
	return Rules{
		Phrases: []string{
			`your appointment (is|has been) confirmed`,
			`appointment is confirmed for`,
			`we have scheduled your appointment`,
			`an? (advisor|agent|specialist) will (contact|call) you`,
			`someone from our team will (contact|reach out to) you`,
			`tu cita (esta|ha sido|queda) confirmada`,
			`hemos agendado tu cita`,
			`un asesor (se pondra en contacto|te contactara|te llamara)`,
			`en breve (te contactamos|nos pondremos en contacto)`,
		},
		Keywords: []string{
			"appointment", "confirmed", "scheduled", "advisor", "agent",
			"cita", "confirmada", "agendada", "asesor", "contacto",
		},
	}
}

// LoadRules reads a YAML rules file. Missing sections fall back to the
// defaults so an override file can replace just the keywords.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("cannot read rules file %s: %w", path, err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("cannot parse rules file %s: %w", path, err)
	}

	defaults := DefaultRules()
	if len(rules.Phrases) == 0 {
		rules.Phrases = defaults.Phrases
	}
	if len(rules.Keywords) == 0 {
		rules.Keywords = defaults.Keywords
	}
	return rules, nil
}
