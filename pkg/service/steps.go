package service

import (
	"slices"
	"strings"

	"github.com/ignatij/steward/pkg/models"
)

// Direction is the way MoveStep shifts a step.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// MoveStep swaps the step with the given id with its neighbour in direction.
// Moving the first step up, the last step down, or an unknown id returns the
// steps unchanged; callers must not expect an error. The input is not modified.
func MoveStep(steps []models.Step, id int, direction Direction) []models.Step {
	out := slices.Clone(steps)
	i := slices.IndexFunc(out, func(s models.Step) bool { return s.ID == id })
	if i < 0 {
		return out
	}
	j := i - 1
	if direction == Down {
		j = i + 1
	} else if direction != Up {
		return out
	}
	if j < 0 || j >= len(out) {
		return out
	}
	out[i], out[j] = out[j], out[i]
	return out
}

// AddStep validates step and appends it with ID max(existing IDs)+1.
func AddStep(steps []models.Step, step models.Step) ([]models.Step, error) {
	step.Title = strings.TrimSpace(step.Title)
	step.AssignedToRole = strings.TrimSpace(step.AssignedToRole)
	if err := validateStruct(step); err != nil {
		return steps, err
	}
	maxID := 0
	for _, s := range steps {
		maxID = max(maxID, s.ID)
	}
	step.ID = maxID + 1
	return append(slices.Clone(steps), step), nil
}

// RemoveStep drops the step with the given id. A workflow keeps at least one
// step, so removing the only step is rejected.
func RemoveStep(steps []models.Step, id int) ([]models.Step, error) {
	i := slices.IndexFunc(steps, func(s models.Step) bool { return s.ID == id })
	if i < 0 {
		return steps, newValidationError("step_id", "step %d does not exist", id)
	}
	if len(steps) == 1 {
		return steps, newValidationError("steps", "at least one step must remain")
	}
	out := slices.Clone(steps)
	return slices.Delete(out, i, i+1), nil
}

// UpdateStep replaces the step that has step.ID, keeping its position.
func UpdateStep(steps []models.Step, step models.Step) ([]models.Step, error) {
	i := slices.IndexFunc(steps, func(s models.Step) bool { return s.ID == step.ID })
	if i < 0 {
		return steps, newValidationError("step_id", "step %d does not exist", step.ID)
	}
	step.Title = strings.TrimSpace(step.Title)
	step.AssignedToRole = strings.TrimSpace(step.AssignedToRole)
	if err := validateStruct(step); err != nil {
		return steps, err
	}
	out := slices.Clone(steps)
	out[i] = step
	return out, nil
}
