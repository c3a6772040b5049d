package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MaxNameBytes is the longest name a one-byte length prefix can carry.
const MaxNameBytes = 255

var submissionValidate *validator.Validate

func init() {
	submissionValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = submissionValidate.RegisterValidation("savemode", validateSaveMode)
	_ = submissionValidate.RegisterValidation("namelen", validateNameLen)
}

func validateSaveMode(fl validator.FieldLevel) bool {
	switch SaveMode(fl.Field().Uint()) {
	case SaveModeFull, SaveModeStandard, SaveModeStandardLight, SaveModeRoundless,
		SaveModeAgentlessTyped, SaveModeAgentless, SaveModePerformance, SaveModeDebug:
		return true
	}
	return false
}

// validateNameLen checks the UTF-8 byte length, not the rune count.
func validateNameLen(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxNameBytes
}

// Validate checks field ranges of a standard run request.
func (c *RunConfig) Validate() error {
	return submissionValidate.Struct(c)
}

// Validate checks field ranges and that every neighbor references a
// declared agent and agent names are unique.
func (c *CustomNetworkConfig) Validate() error {
	if err := submissionValidate.Struct(c); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if _, dup := names[a.Name]; dup {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		names[a.Name] = struct{}{}
	}
	for i, n := range c.Neighbors {
		if _, ok := names[n.Source]; !ok {
			return fmt.Errorf("neighbor %d: unknown source agent %q", i, n.Source)
		}
		if _, ok := names[n.Target]; !ok {
			return fmt.Errorf("neighbor %d: unknown target agent %q", i, n.Target)
		}
	}
	return nil
}
