// Package ptz dispatches pan-tilt-zoom motion commands to cameras. Actual
// protocol work (ONVIF/SOAP) belongs to the Resolver collaborator; this
// package owns command sequencing, pacing and the overshoot compensation.
package ptz

import "context"

// Direction is a PTZ move direction from the operator's point of view.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionLeft, DirectionRight, DirectionUp, DirectionDown:
		return true
	}
	return false
}

// horizontal reports whether the move pans rather than tilts.
func (d Direction) horizontal() bool {
	return d == DirectionLeft || d == DirectionRight
}

// Velocity is a continuous-move velocity vector, each axis in -1..1.
type Velocity struct {
	Pan  float64
	Tilt float64
	Zoom float64
}

// Mover is one camera's motion service, resolved once per IP and cached.
type Mover interface {
	ContinuousMove(ctx context.Context, v Velocity) error
	Stop(ctx context.Context) error
}

// Resolver discovers the motion service of a camera. Implementations talk
// ONVIF (or whatever the camera speaks); resolution failures are treated as
// "camera has no PTZ" and silently disable motion for that IP.
type Resolver interface {
	Resolve(ctx context.Context, ip string, port int, username, password string) (Mover, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, ip string, port int, username, password string) (Mover, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, ip string, port int, username, password string) (Mover, error) {
	return f(ctx, ip, port, username, password)
}

// Target identifies the camera a move is addressed to.
type Target struct {
	Index    int
	IP       string
	Username string
	Password string
}
