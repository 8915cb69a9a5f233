package hardware

type State string

const (
	Disconnected    State = "disconnected"
	Connecting      State = "connecting"
	Ready           State = "ready"
	RequiresAppOpen State = "requires-app-open"
	Error           State = "error"
)

var allStates = []string{
	string(Disconnected),
	string(Connecting),
	string(Ready),
	string(RequiresAppOpen),
	string(Error),
}

// StatusChanged is the signal sent on every state transition.
const StatusChanged = "hardware.status-changed"

type Status struct {
	State State `json:"state"`
	// App is the app running on the device, empty on the dashboard.
	App string `json:"app,omitempty"`
	// RequiredApp is set in RequiresAppOpen when an operation asked for an app that is not running.
	RequiredApp string `json:"requiredApp,omitempty"`
	Version     string `json:"version,omitempty"`
	Transport   string `json:"transport,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func NewStatus() *Status {
	status := &Status{}
	status.Reset()
	return status
}

func (s *Status) Reset() {
	s.State = Disconnected
	s.App = ""
	s.RequiredApp = ""
	s.Version = ""
	s.Reason = ""
}

// Connected reports whether commands can be sent to the device.
func (s Status) Connected() bool {
	return s.State == Ready || s.State == RequiresAppOpen
}
