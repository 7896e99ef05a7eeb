// Package fakeapi is an in-memory remoteapi.API and launcher.Process, used by
// tests and by the --dry-run mode of the CLI.
package fakeapi

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/vrepper/internal/remoteapi"
)

// ErrRefused is returned by Start while connection attempts are failing.
var ErrRefused = errors.New("fakeapi: connection refused")

// Object is one scene object of the fake simulator.
type Object struct {
	Name        string
	Position    remoteapi.Vec3
	Orientation remoteapi.Vec3
	Linear      remoteapi.Vec3
	Angular     remoteapi.Vec3
	ForceState  remoteapi.ForceSensorState
	Force       remoteapi.Vec3
	Torque      remoteapi.Vec3
}

// Sim records every call and answers from its object table.
// FailStarts controls the handshake: the first FailStarts attempts fail,
// and a negative value makes every attempt fail.
type Sim struct {
	mu sync.Mutex

	FailStarts int
	// Codes forces the return code of a call by its remote name.
	Codes map[string]remoteapi.ReturnCode
	// StepDt is the simulated time advanced per synchronous trigger.
	StepDt float32

	objects       map[remoteapi.Handle]*Object
	nextHandle    remoteapi.Handle
	nextClient    remoteapi.ClientID
	open          map[remoteapi.ClientID]bool
	calls         []string
	startAttempts int
	scene         string
	synchronous   bool
	running       bool
	steps         int
}

var _ remoteapi.API = (*Sim)(nil)

// New returns an empty fake with a 10 ms step.
func New() *Sim {
	return &Sim{
		Codes:      make(map[string]remoteapi.ReturnCode),
		StepDt:     0.01,
		objects:    make(map[remoteapi.Handle]*Object),
		nextHandle: 10,
		open:       make(map[remoteapi.ClientID]bool),
	}
}

// AddObject places an object in the scene and returns its handle.
func (s *Sim) AddObject(obj Object) remoteapi.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.nextHandle
	s.nextHandle++
	o := obj
	s.objects[h] = &o
	return h
}

// Object returns a copy of the object behind h.
func (s *Sim) Object(h remoteapi.Handle) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[h]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

// Calls returns the remote names of every call so far, in order.
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount counts calls to fn.
func (s *Sim) CallCount(fn string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == fn {
			n++
		}
	}
	return n
}

// StartAttempts is the number of handshakes tried.
func (s *Sim) StartAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAttempts
}

// Scene is the last successfully loaded scene path.
func (s *Sim) Scene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene
}

// Steps is the number of synchronous triggers served while running.
func (s *Sim) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Running reports whether the simulation is started.
func (s *Sim) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsSynchronous reports the synchronous mode flag.
func (s *Sim) IsSynchronous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synchronous
}

// OpenClients counts connections not yet finished.
func (s *Sim) OpenClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// enter logs the call and resolves its forced or connection code.
// Callers hold s.mu.
func (s *Sim) enter(fn string, client remoteapi.ClientID) remoteapi.ReturnCode {
	s.calls = append(s.calls, fn)
	if !s.open[client] {
		return remoteapi.ReturnLocalError
	}
	if code, ok := s.Codes[fn]; ok {
		return code
	}
	return remoteapi.ReturnOK
}

func (s *Sim) Start(ctx context.Context, address string, port int, opts remoteapi.StartOptions) (remoteapi.ClientID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "simxStart")
	s.startAttempts++
	if s.FailStarts < 0 || s.startAttempts <= s.FailStarts {
		return remoteapi.NoClient, ErrRefused
	}
	id := s.nextClient
	s.nextClient++
	s.open[id] = true
	return id, nil
}

func (s *Sim) Finish(ctx context.Context, client remoteapi.ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "simxFinish")
	if client == remoteapi.AllClients {
		s.open = make(map[remoteapi.ClientID]bool)
		return
	}
	delete(s.open, client)
}

func (s *Sim) GetObjects(ctx context.Context, client remoteapi.ClientID, objectType remoteapi.ObjectType, mode remoteapi.OpMode) ([]remoteapi.Handle, remoteapi.ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code := s.enter("simxGetObjects", client); !code.OK() {
		return nil, code
	}
	handles := make([]remoteapi.Handle, 0, len(s.objects))
	for h := range s.objects {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles, remoteapi.ReturnOK
}

func (s *Sim) AddStatusbarMessage(ctx context.Context, client remoteapi.ClientID, message string, mode remoteapi.OpMode) remoteapi.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code := s.enter("simxAddStatusbarMessage", client); !code.OK() {
		return code
	}
	if mode == remoteapi.OpModeOneshot {
		return remoteapi.ReturnNoValue
	}
	return remoteapi.ReturnOK
}

func (s *Sim) LoadScene(ctx context.Context, client remoteapi.ClientID, path string, options uint8, mode remoteapi.OpMode) remoteapi.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.enter("simxLoadScene", client)
	if code.OK() {
		s.scene = path
	}
	return code
}

func (s *Sim) GetObjectHandle(ctx context.Context, client remoteapi.ClientID, name string, mode remoteapi.OpMode) (remoteapi.Handle, remoteapi.ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code := s.enter("simxGetObjectHandle", client); !code.OK() {
		return 0, code
	}
	for h, o := range s.objects {
		if o.Name == name {
			return h, remoteapi.ReturnOK
		}
	}
	return 0, remoteapi.ReturnRemoteError
}

func (s *Sim) lookup(fn string, client remoteapi.ClientID, h remoteapi.Handle) (*Object, remoteapi.ReturnCode) {
	if code := s.enter(fn, client); !code.OK() {
		return nil, code
	}
	o, ok := s.objects[h]
	if !ok {
		return nil, remoteapi.ReturnRemoteError
	}
	return o, remoteapi.ReturnOK
}

// relative subtracts the frame's vector; WorldFrame leaves v unchanged.
func (s *Sim) relative(v remoteapi.Vec3, frame remoteapi.Handle, pick func(*Object) remoteapi.Vec3) (remoteapi.Vec3, remoteapi.ReturnCode) {
	if frame == remoteapi.WorldFrame {
		return v, remoteapi.ReturnOK
	}
	ref, ok := s.objects[frame]
	if !ok {
		return remoteapi.Vec3{}, remoteapi.ReturnRemoteError
	}
	r := pick(ref)
	return remoteapi.Vec3{v[0] - r[0], v[1] - r[1], v[2] - r[2]}, remoteapi.ReturnOK
}

func (s *Sim) GetObjectPosition(ctx context.Context, client remoteapi.ClientID, object, relativeTo remoteapi.Handle, mode remoteapi.OpMode) (remoteapi.Vec3, remoteapi.ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, code := s.lookup("simxGetObjectPosition", client, object)
	if !code.OK() {
		return remoteapi.Vec3{}, code
	}
	return s.relative(o.Position, relativeTo, func(r *Object) remoteapi.Vec3 { return r.Position })
}

func (s *Sim) GetObjectOrientation(ctx context.Context, client remoteapi.ClientID, object, relativeTo remoteapi.Handle, mode remoteapi.OpMode) (remoteapi.Vec3, remoteapi.ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, code := s.lookup("simxGetObjectOrientation", client, object)
	if !code.OK() {
		return remoteapi.Vec3{}, code
	}
	return s.relative(o.Orientation, relativeTo, func(r *Object) remoteapi.Vec3 { return r.Orientation })
}

func (s *Sim) GetObjectVelocity(ctx context.Context, client remoteapi.ClientID, object remoteapi.Handle, mode remoteapi.OpMode) (remoteapi.Vec3, remoteapi.Vec3, remoteapi.ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, code := s.lookup("simxGetObjectVelocity", client, object)
	if !code.OK() {
		return remoteapi.Vec3{}, remoteapi.Vec3{}, code
	}
	return o.Linear, o.Angular, remoteapi.ReturnOK
}

func (s *Sim) ReadForceSensor(ctx context.Context, client remoteapi.ClientID, sensor remoteapi.Handle, mode remoteapi.OpMode) (remoteapi.ForceSensorState, remoteapi.Vec3, remoteapi.Vec3, remoteapi.ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, code := s.lookup("simxReadForceSensor", client, sensor)
	if !code.OK() {
		return 0, remoteapi.Vec3{}, remoteapi.Vec3{}, code
	}
	return o.ForceState, o.Force, o.Torque, remoteapi.ReturnOK
}

func (s *Sim) Synchronous(ctx context.Context, client remoteapi.ClientID, enable bool) remoteapi.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.enter("simxSynchronous", client)
	if code.OK() {
		s.synchronous = enable
	}
	return code
}

// SynchronousTrigger integrates every object's velocity over one step.
func (s *Sim) SynchronousTrigger(ctx context.Context, client remoteapi.ClientID) remoteapi.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.enter("simxSynchronousTrigger", client)
	if !code.OK() {
		return code
	}
	if !s.synchronous {
		return remoteapi.ReturnRemoteError
	}
	if !s.running {
		return remoteapi.ReturnOK
	}
	s.steps++
	for _, o := range s.objects {
		for i := 0; i < 3; i++ {
			o.Position[i] += o.Linear[i] * s.StepDt
			o.Orientation[i] += o.Angular[i] * s.StepDt
		}
	}
	return remoteapi.ReturnOK
}

func (s *Sim) StartSimulation(ctx context.Context, client remoteapi.ClientID, mode remoteapi.OpMode) remoteapi.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.enter("simxStartSimulation", client)
	if code.OK() {
		s.running = true
	}
	return code
}

func (s *Sim) StopSimulation(ctx context.Context, client remoteapi.ClientID, mode remoteapi.OpMode) remoteapi.ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.enter("simxStopSimulation", client)
	if code.OK() {
		s.running = false
	}
	return code
}

func (s *Sim) GetPingTime(ctx context.Context, client remoteapi.ClientID) (time.Duration, remoteapi.ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code := s.enter("simxGetPingTime", client); !code.OK() {
		return 0, code
	}
	return time.Millisecond, remoteapi.ReturnOK
}
