package ota

// State is the position of the sequencer in an update session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateFetchingManifest
	StateValidatingManifest
	StateStreaming
	StateVerifyingComplete
	StateCommitting
	StateRebooting
	StateAborted
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateConnecting:         "connecting",
	StateFetchingManifest:   "fetching_manifest",
	StateValidatingManifest: "validating_manifest",
	StateStreaming:          "streaming",
	StateVerifyingComplete:  "verifying_complete",
	StateCommitting:         "committing",
	StateRebooting:          "rebooting",
	StateAborted:            "aborted",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
