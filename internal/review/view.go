package review

import (
	"errors"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/scanning"
	"github.com/zombor/cashtos/internal/ticket"
)

// View is a snapshot of a session for display
type View struct {
	ID            string         `json:"id"`
	State         State          `json:"state"`
	Progress      int            `json:"progress"`
	Record        *ticket.Record `json:"record,omitempty"`
	RunningTotal  *ticket.Money  `json:"runningTotal,omitempty"`
	HasImage      bool           `json:"hasImage"`
	Torch         bool           `json:"torch"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     string         `json:"errorKind,omitempty"`
	SavedTicketID string         `json:"savedTicketId,omitempty"`
}

// View returns a copy of the session state. The record is only present
// while awaiting confirmation or editing.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:            s.id,
		State:         s.state,
		Progress:      s.progress,
		HasImage:      s.image != nil,
		Torch:         s.torch,
		SavedTicketID: s.savedID,
	}
	if s.state == AwaitingConfirmation || s.state == Editing {
		record := s.record.Clone()
		total := record.RunningTotal()
		v.Record = &record
		v.RunningTotal = &total
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
		v.ErrorKind = errorKind(s.lastErr)
	}
	return v
}

func errorKind(err error) string {
	if isDeviceError(err) {
		return "device"
	}
	return scanning.Kind(err)
}

func isDeviceError(err error) bool {
	var dae *capture.DeviceAccessError
	return errors.As(err, &dae)
}
