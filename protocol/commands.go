package protocol

// Axis command codes. The same code is used with ClassQuery to read a
// quantity and with ClassCommand to write it; devices push ClassEvent
// frames with CmdStatus or CmdPosition while monitoring is enabled.
const (
	CmdStatus          uint8 = 0x01 // query: status (4); event: status (4) [+ position (4)]
	CmdPosition        uint8 = 0x02 // query/event: position (4)
	CmdSetPosition     uint8 = 0x03 // command: mode (1) position (4)
	CmdSetRelative     uint8 = 0x04 // command: mode (1) distance (4)
	CmdStop            uint8 = 0x05
	CmdLock            uint8 = 0x06 // command: 1 lock, 0 unlock
	CmdLowerStop       uint8 = 0x07 // query: position (4)
	CmdUpperStop       uint8 = 0x08 // query: position (4)
	CmdVelocity        uint8 = 0x09 // query/command: velocity (4)
	CmdAcceleration    uint8 = 0x0A // query/command: acceleration (4)
	CmdMonitor         uint8 = 0x0B // command: 1 enable pushes, 0 disable
	CmdApplicationName uint8 = 0x0C // query: NUL-terminated name
)

// LongSize is the wire size of a Long or ULong.
const LongSize = 4
