// Package remoteapi is the typed surface of the simulator's remote API.
//
// Every operation takes the connection id first and returns its payload
// followed by a ReturnCode. Use Unwrap or Check to turn a non-ok code into
// an error; the session package does that for its callers.
package remoteapi

import (
	"context"
	"time"
)

// StartOptions configures the connection handshake.
// Connections never reconnect once dropped.
type StartOptions struct {
	// Timeout bounds the dial and the hello round-trip.
	Timeout time.Duration
	// CommThreadCycle is forwarded to the server as its reply pacing hint.
	CommThreadCycle time.Duration
}

// DefaultStartOptions matches what the session uses for every attempt.
func DefaultStartOptions() StartOptions {
	return StartOptions{
		Timeout:         1000 * time.Millisecond,
		CommThreadCycle: 5 * time.Millisecond,
	}
}

// ForceSensorState is the state word of a force sensor reading.
// Bit 0 set means no data is available yet.
type ForceSensorState uint8

// NotReady reports whether the low bit is set.
func (s ForceSensorState) NotReady() bool { return s&1 == 1 }

// API lists the remote operations used by this module.
type API interface {
	// Start performs the connection handshake and returns the new id,
	// or NoClient with an error.
	Start(ctx context.Context, address string, port int, opts StartOptions) (ClientID, error)

	// Finish closes one connection, or all of them with AllClients.
	Finish(ctx context.Context, client ClientID)

	GetObjects(ctx context.Context, client ClientID, objectType ObjectType, mode OpMode) ([]Handle, ReturnCode)
	AddStatusbarMessage(ctx context.Context, client ClientID, message string, mode OpMode) ReturnCode

	// LoadScene loads a scene file. options 0 means the path is resolved
	// on the server side, 1 on the client side.
	LoadScene(ctx context.Context, client ClientID, path string, options uint8, mode OpMode) ReturnCode

	GetObjectHandle(ctx context.Context, client ClientID, name string, mode OpMode) (Handle, ReturnCode)
	GetObjectPosition(ctx context.Context, client ClientID, object, relativeTo Handle, mode OpMode) (Vec3, ReturnCode)
	GetObjectOrientation(ctx context.Context, client ClientID, object, relativeTo Handle, mode OpMode) (Vec3, ReturnCode)
	GetObjectVelocity(ctx context.Context, client ClientID, object Handle, mode OpMode) (linear, angular Vec3, code ReturnCode)
	ReadForceSensor(ctx context.Context, client ClientID, sensor Handle, mode OpMode) (state ForceSensorState, force, torque Vec3, code ReturnCode)

	Synchronous(ctx context.Context, client ClientID, enable bool) ReturnCode
	SynchronousTrigger(ctx context.Context, client ClientID) ReturnCode
	StartSimulation(ctx context.Context, client ClientID, mode OpMode) ReturnCode
	StopSimulation(ctx context.Context, client ClientID, mode OpMode) ReturnCode

	GetPingTime(ctx context.Context, client ClientID) (time.Duration, ReturnCode)
}

// CallObserver is notified after every remote call issued by a Client.
type CallObserver func(fn string, code ReturnCode, elapsed time.Duration)
