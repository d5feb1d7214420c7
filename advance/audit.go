package advance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// event appends a plan event in the current transaction, so a rolled back
// operation leaves no trace in the log.
func (s *session) event(ctx context.Context, id AdvanceID, action EventAction, format string, args ...any) error {
	e := PlanEvent{
		ID:        uuid.NewString(),
		AdvanceID: id,
		Action:    action,
		Detail:    fmt.Sprintf(format, args...),
		At:        s.now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("append plan event: %w", err)
	}
	return nil
}
