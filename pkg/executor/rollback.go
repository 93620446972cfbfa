package executor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// RollbackAction is one compensating closure with a label for logs.
type RollbackAction struct {
	// Name describes what the action undoes, e.g. "delete volume raw_DEV".
	Name string

	// Run performs the compensation.
	Run func(ctx context.Context) error
}

// RollbackStack is a per-executor LIFO ledger of compensating actions.
// Successful creates push a delete of the just-created resource; Rollback
// pops and runs the actions in reverse order. The stack is not
// transactional across executors; callers composing multi-resource
// workflows order their executors' rollbacks themselves.
type RollbackStack struct {
	actions         []RollbackAction
	continueOnError bool
	logger          zerolog.Logger
}

// NewRollbackStack creates an empty stack. With continueOnError set a
// failing compensation is logged and the stack keeps popping; otherwise
// the failure is returned and the failing action plus everything below it
// stay on the stack so a second Rollback call can retry them.
func NewRollbackStack(continueOnError bool, logger zerolog.Logger) *RollbackStack {
	return &RollbackStack{
		continueOnError: continueOnError,
		logger:          logger,
	}
}

// Push records a compensating action.
func (s *RollbackStack) Push(name string, run func(ctx context.Context) error) {
	s.actions = append(s.actions, RollbackAction{Name: name, Run: run})
}

// Len returns the number of pending actions.
func (s *RollbackStack) Len() int {
	return len(s.actions)
}

// Rollback pops and runs the recorded actions in reverse creation order.
func (s *RollbackStack) Rollback(ctx context.Context) error {
	for len(s.actions) > 0 {
		top := s.actions[len(s.actions)-1]
		s.logger.Info().Str("action", top.Name).Msg("running rollback action")

		if err := top.Run(ctx); err != nil {
			if !s.continueOnError {
				return fmt.Errorf("rollback action %q failed: %w", top.Name, err)
			}
			s.logger.Error().Err(err).Str("action", top.Name).Msg("rollback action failed, continuing")
		}
		s.actions = s.actions[:len(s.actions)-1]
	}
	return nil
}
