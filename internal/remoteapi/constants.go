package remoteapi

import (
	"fmt"
	"strings"
)

// ClientID identifies one remote API connection inside the client library.
type ClientID int32

// Handle is a simulator-assigned integer naming a scene object.
type Handle int32

// ReturnCode is the status word returned by every remote call.
// Zero means ok, anything else is a combination of the flags below.
type ReturnCode int32

const (
	ReturnOK              ReturnCode = 0x00
	ReturnNoValue         ReturnCode = 0x01
	ReturnTimeout         ReturnCode = 0x02
	ReturnIllegalOpMode   ReturnCode = 0x04
	ReturnRemoteError     ReturnCode = 0x08
	ReturnSplitProgress   ReturnCode = 0x10
	ReturnLocalError      ReturnCode = 0x20
	ReturnInitializeError ReturnCode = 0x40
)

var returnFlagNames = []struct {
	flag ReturnCode
	name string
}{
	{ReturnNoValue, "novalue"},
	{ReturnTimeout, "timeout"},
	{ReturnIllegalOpMode, "illegal_opmode"},
	{ReturnRemoteError, "remote_error"},
	{ReturnSplitProgress, "split_progress"},
	{ReturnLocalError, "local_error"},
	{ReturnInitializeError, "initialize_error"},
}

// OK reports whether the code equals the ok sentinel.
func (c ReturnCode) OK() bool { return c == ReturnOK }

func (c ReturnCode) String() string {
	if c == ReturnOK {
		return "ok"
	}
	var parts []string
	rest := c
	for _, f := range returnFlagNames {
		if c&f.flag != 0 {
			parts = append(parts, f.name)
			rest &^= f.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", int32(rest)))
	}
	return strings.Join(parts, "|")
}

// OpMode selects how a command is sent to the server.
type OpMode int32

const (
	OpModeOneshot        OpMode = 0x000000
	OpModeOneshotWait    OpMode = 0x010000
	OpModeStreaming      OpMode = 0x020000
	OpModeOneshotSplit   OpMode = 0x030000
	OpModeStreamingSplit OpMode = 0x040000
	OpModeDiscontinue    OpMode = 0x050000
	OpModeBuffer         OpMode = 0x060000
	OpModeRemove         OpMode = 0x070000

	// Blocking waits for the server reply before returning.
	Blocking = OpModeOneshotWait
)

func (m OpMode) String() string {
	switch m {
	case OpModeOneshot:
		return "oneshot"
	case OpModeOneshotWait:
		return "oneshot_wait"
	case OpModeStreaming:
		return "streaming"
	case OpModeOneshotSplit:
		return "oneshot_split"
	case OpModeStreamingSplit:
		return "streaming_split"
	case OpModeDiscontinue:
		return "discontinue"
	case OpModeBuffer:
		return "buffer"
	case OpModeRemove:
		return "remove"
	default:
		return fmt.Sprintf("opmode(0x%x)", int32(m))
	}
}

const (
	// NoClient is the connection id before a handshake and after a failed one.
	NoClient ClientID = -1

	// AllClients passed to Finish closes every open connection.
	AllClients ClientID = -1

	// HandleAll selects every object of the scene.
	HandleAll Handle = -2

	// WorldFrame is the reference frame used when none is given.
	WorldFrame Handle = -1
)

// ObjectType filters GetObjects. ObjectTypeAll matches every type.
type ObjectType int32

const (
	ObjectTypeAll         ObjectType = ObjectType(HandleAll)
	ObjectTypeShape       ObjectType = 0
	ObjectTypeJoint       ObjectType = 1
	ObjectTypeGraph       ObjectType = 2
	ObjectTypeCamera      ObjectType = 3
	ObjectTypeDummy       ObjectType = 4
	ObjectTypeProximity   ObjectType = 5
	ObjectTypePath        ObjectType = 8
	ObjectTypeVision      ObjectType = 9
	ObjectTypeMill        ObjectType = 11
	ObjectTypeForceSensor ObjectType = 12
	ObjectTypeLight       ObjectType = 13
	ObjectTypeMirror      ObjectType = 14
)

// Vec3 is an (x, y, z) triple: a position, Euler angles, a velocity,
// a force or a torque depending on the call.
type Vec3 [3]float32
