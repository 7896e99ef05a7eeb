package session

import (
	"context"
	"fmt"

	"github.com/psantana5/vrepper/internal/remoteapi"
)

// Object is a scene object handle bound to the session that resolved it.
// Every accessor is one blocking remote call.
type Object struct {
	session *Session
	handle  remoteapi.Handle
}

// ForceReading is a force sensor sample.
type ForceReading struct {
	Force  remoteapi.Vec3
	Torque remoteapi.Vec3
}

// Handle is the simulator-assigned handle.
func (o *Object) Handle() remoteapi.Handle { return o.handle }

// Session is the session the handle belongs to.
func (o *Object) Session() *Session { return o.session }

func (o *Object) String() string {
	return fmt.Sprintf("object(%d)", o.handle)
}

// frameOf maps a nil reference object to the world frame.
func frameOf(relativeTo *Object) remoteapi.Handle {
	if relativeTo == nil {
		return remoteapi.WorldFrame
	}
	return relativeTo.handle
}

// Orientation returns Euler angles relative to relativeTo, or to the world
// frame when relativeTo is nil.
func (o *Object) Orientation(ctx context.Context, relativeTo *Object) (remoteapi.Vec3, error) {
	id, err := o.session.client()
	if err != nil {
		return remoteapi.Vec3{}, err
	}
	v, code := o.session.api.GetObjectOrientation(ctx, id, o.handle, frameOf(relativeTo), remoteapi.Blocking)
	if err := remoteapi.CheckCall("simxGetObjectOrientation", code); err != nil {
		return remoteapi.Vec3{}, err
	}
	return v, nil
}

// Position returns the position relative to relativeTo, or to the world
// frame when relativeTo is nil.
func (o *Object) Position(ctx context.Context, relativeTo *Object) (remoteapi.Vec3, error) {
	id, err := o.session.client()
	if err != nil {
		return remoteapi.Vec3{}, err
	}
	v, code := o.session.api.GetObjectPosition(ctx, id, o.handle, frameOf(relativeTo), remoteapi.Blocking)
	if err := remoteapi.CheckCall("simxGetObjectPosition", code); err != nil {
		return remoteapi.Vec3{}, err
	}
	return v, nil
}

// Velocity returns the linear and angular velocity as the server sent them.
func (o *Object) Velocity(ctx context.Context) (linear, angular remoteapi.Vec3, err error) {
	id, err := o.session.client()
	if err != nil {
		return linear, angular, err
	}
	linear, angular, code := o.session.api.GetObjectVelocity(ctx, id, o.handle, remoteapi.Blocking)
	if err := remoteapi.CheckCall("simxGetObjectVelocity", code); err != nil {
		return remoteapi.Vec3{}, remoteapi.Vec3{}, err
	}
	return linear, angular, nil
}

// ReadForceSensor returns nil, nil while the sensor has no data yet.
func (o *Object) ReadForceSensor(ctx context.Context) (*ForceReading, error) {
	id, err := o.session.client()
	if err != nil {
		return nil, err
	}
	state, force, torque, code := o.session.api.ReadForceSensor(ctx, id, o.handle, remoteapi.Blocking)
	if err := remoteapi.CheckCall("simxReadForceSensor", code); err != nil {
		return nil, err
	}
	if state.NotReady() {
		return nil, nil
	}
	return &ForceReading{Force: force, Torque: torque}, nil
}
