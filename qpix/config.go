package qpix

// Config is the value object a REGREQ write-op may replace wholesale at an
// ASIC: the only parameters a DAQ-issued register write can mutate.
type Config struct {
	DirMask        Direction
	Timeout        int // ticks held in TRANSMIT_REMOTE before giving up and returning to IDLE
	PushTimeout    int // ticks; unused unless PushEnable is set
	ManualRoute    bool
	SendEnable     bool
	ReceiveEnable  bool
	RegisterEnable bool
	PushEnable     bool
	SendRemote     bool
}

// DefaultConfig builds the configuration every freshly constructed ASIC
// starts with: dynamic (non-manual) reverse-path routing out of dir, send/
// receive/register enabled, push disabled, and SendRemote enabled so a
// node returns from TRANSMIT_REMOTE to IDLE as soon as its remote FIFO
// empties rather than waiting out config.Timeout.
func DefaultConfig(dir Direction, timeout, pushTimeout int) Config {
	return Config{
		DirMask:        dir,
		Timeout:        timeout,
		PushTimeout:    pushTimeout,
		ManualRoute:    false,
		SendEnable:     true,
		ReceiveEnable:  true,
		RegisterEnable: true,
		PushEnable:     false,
		SendRemote:     true,
	}
}
