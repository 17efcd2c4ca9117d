package config

import (
	"io"
	"os"

	"github.com/ignatij/steward/pkg/models"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Seed is a TOML file of notification templates, notification rules and
// workflow definitions to load into an empty installation.
//
//	[[templates]]
//	id = "birthday-sms"
//	name = "Birthday SMS"
//	type = "BIRTHDAY"
//	body = "Happy Birthday, {first_name}!"
//	channels = ["SMS"]
//	active = true
//
//	[[rules]]
//	id = "birthdays"
//	name = "Birthday wishes"
//	type = "BIRTHDAY"
//	enabled = true
//	channels = ["SMS"]
//	template_id = "birthday-sms"
type Seed struct {
	Templates []models.NotificationTemplate `toml:"templates"`
	Rules     []models.NotificationRule     `toml:"rules"`
	Workflows []WorkflowSeed                `toml:"workflows"`
}

// WorkflowSeed describes a workflow definition to create, optionally activated.
type WorkflowSeed struct {
	Name         string        `toml:"name"`
	Category     string        `toml:"category"`
	TriggerEvent string        `toml:"trigger_event"`
	Description  string        `toml:"description"`
	Activate     bool          `toml:"activate"`
	Steps        []models.Step `toml:"steps"`
}

// LoadSeed parses the seed file at path.
func LoadSeed(path string) (Seed, error) {
	file, err := os.Open(path)
	if err != nil {
		return Seed{}, errors.Wrap(err, "open seed file")
	}
	defer file.Close()
	return DecodeSeed(file)
}

// DecodeSeed parses a seed document. Unknown keys are rejected so typos in a
// rule do not silently disable it.
func DecodeSeed(r io.Reader) (Seed, error) {
	var seed Seed
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&seed); err != nil {
		return Seed{}, errors.Wrap(err, "parse seed file")
	}
	return seed, nil
}
