package emitter

import (
	"math"

	"grimm.is/touchpad/internal/logging"
)

// Status is the lifecycle state of one pointer sample within a batch.
type Status int

const (
	Down Status = iota
	Move
	Up
)

// String returns the lowercase label used in log fields and metrics.
func (s Status) String() string {
	switch s {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	default:
		return "unknown"
	}
}

// TouchPoint is one pointer sample handed to the emitter. Slot and
// TrackingID are carried separately because Up always outputs
// TrackingID=-1 regardless of what the input side sent.
type TouchPoint struct {
	Slot       uint32
	TrackingID int32
	X, Y       int32
	Status     Status
}

// TuneSetting adjusts emitter behavior without touching any slot's
// position state.
type TuneSetting struct {
	Sensitivity float64
	InvertX     bool
	InvertY     bool
}

// Event is the tagged union carried on the touch-event channel: exactly
// one of Point or Tune is set.
type Event struct {
	Point *TouchPoint
	Tune  *TuneSetting
}

type point struct{ X, Y int32 }

// Emitter owns the virtual input device and every slot's position state.
// It is not safe for concurrent use — the single-consumer rule from
// spec §4.4/§9 is the caller's responsibility, not this type's.
type Emitter struct {
	dev Device

	touched    map[uint32]bool
	lastInput  map[uint32]point
	lastOutput map[uint32]point

	sensitivity float64
	invertX     bool
	invertY     bool
}

// New wraps an already-opened Device with fresh, empty slot state.
func New(dev Device) *Emitter {
	return &Emitter{
		dev:         dev,
		touched:     make(map[uint32]bool),
		lastInput:   make(map[uint32]point),
		lastOutput:  make(map[uint32]point),
		sensitivity: 1.0,
	}
}

// SetSensitivity, SetInvertX and SetInvertY mutate emitter state only;
// per spec §4.4 they never retroactively adjust already-touched slots.
func (e *Emitter) SetSensitivity(f float64) { e.sensitivity = f }
func (e *Emitter) SetInvertX(b bool)        { e.invertX = b }
func (e *Emitter) SetInvertY(b bool)        { e.invertY = b }

func (e *Emitter) applyTune(t TuneSetting) {
	e.SetSensitivity(t.Sensitivity)
	e.SetInvertX(t.InvertX)
	e.SetInvertY(t.InvertY)
}

// ApplyBatch processes a batch of events against the single emitter
// worker's state, then emits tool-count transitions implied by the net
// change in touched-slot count, then exactly one SYN_REPORT — unless the
// batch produced no device writes at all, in which case the SYN_REPORT is
// elided (see DESIGN.md OQ-2).
func (e *Emitter) ApplyBatch(events []Event) error {
	before := len(e.touched)
	wrote := false

	for _, ev := range events {
		switch {
		case ev.Point != nil:
			if e.applyPoint(*ev.Point) {
				wrote = true
			}
		case ev.Tune != nil:
			e.applyTune(*ev.Tune)
		}
	}

	after := len(e.touched)
	if e.emitToolCountTransitions(before, after) {
		wrote = true
	}

	if !wrote {
		return nil
	}
	return e.dev.SyncReport()
}

// applyPoint runs the per-event algorithm from spec §4.4 for one point,
// reporting whether it produced any device writes (an Unspecified/unknown
// event type produces none and is silently skipped).
func (e *Emitter) applyPoint(p TouchPoint) bool {
	switch p.Status {
	case Down:
		e.touched[p.Slot] = true
		e.lastInput[p.Slot] = point{p.X, p.Y}
		e.lastOutput[p.Slot] = point{p.X, p.Y}
		e.emitMT(p.Slot, p.TrackingID, p.X, p.Y)
		return true

	case Up:
		delete(e.touched, p.Slot)
		delete(e.lastInput, p.Slot)
		delete(e.lastOutput, p.Slot)
		e.emit(evAbs, absMTSlot, int32(p.Slot))
		e.emit(evAbs, absMTTrackID, -1)
		return true

	case Move:
		in, ok := e.lastInput[p.Slot]
		if !ok {
			// Move without a prior Down: treat the sample as the new baseline
			// rather than dividing by an absent origin.
			e.touched[p.Slot] = true
			e.lastInput[p.Slot] = point{p.X, p.Y}
			e.lastOutput[p.Slot] = point{p.X, p.Y}
			e.emitMT(p.Slot, p.TrackingID, p.X, p.Y)
			return true
		}
		out := e.lastOutput[p.Slot]

		dx := float64(p.X - in.X)
		dy := float64(p.Y - in.Y)
		sx := dx * e.sensitivity
		sy := dy * e.sensitivity
		if e.invertX {
			sx = -sx
		}
		if e.invertY {
			sy = -sy
		}

		newOut := point{
			X: int32(math.Round(float64(out.X) + sx)),
			Y: int32(math.Round(float64(out.Y) + sy)),
		}

		e.lastInput[p.Slot] = point{p.X, p.Y}
		e.lastOutput[p.Slot] = newOut

		if len(e.touched) > 1 {
			e.emit(evAbs, absMTSlot, int32(p.Slot))
			e.emit(evAbs, absMTTrackID, p.TrackingID)
		}
		e.emit(evAbs, absMTPosX, newOut.X)
		e.emit(evAbs, absMTPosY, newOut.Y)
		e.emit(evAbs, absX, newOut.X)
		e.emit(evAbs, absY, newOut.Y)
		return true
	}
	return false
}

func (e *Emitter) emitMT(slot uint32, trackingID, x, y int32) {
	e.emit(evAbs, absMTSlot, int32(slot))
	e.emit(evAbs, absMTTrackID, trackingID)
	e.emit(evAbs, absMTPosX, x)
	e.emit(evAbs, absMTPosY, y)
	e.emit(evAbs, absX, x)
	e.emit(evAbs, absY, y)
}

func (e *Emitter) emit(evType, code uint16, value int32) {
	// Emit errors are logged per the EmitError policy (spec §7); the batch
	// continues for remaining events regardless.
	if err := e.dev.Emit(evType, code, value); err != nil {
		logging.Warn("emit event failed", "type", evType, "code", code, "value", value, "error", err)
	}
}

// toolKeys maps a touched-slot count (1..5) to its BTN_TOOL_* code.
// Count 0 is handled separately via BTN_TOUCH.
var toolKeys = map[int]uint16{
	1: btnToolFinger,
	2: btnToolDouble,
	3: btnToolTriple,
	4: btnToolQuad,
	5: btnToolQuint,
}

// emitToolCountTransitions compares before/after touched-slot counts and
// emits exactly the key events §4.4 implies: BTN_TOUCH on the 0<->k>=1
// edge, and the matching BTN_TOOL_* pressed/released pair for any count
// in 1..5 that was left or entered. Counts above 5 produce no event.
func (e *Emitter) emitToolCountTransitions(before, after int) bool {
	wrote := false

	if before == 0 && after > 0 {
		e.emit(evKey, btnTouch, 1)
		wrote = true
	} else if before > 0 && after == 0 {
		e.emit(evKey, btnTouch, 0)
		wrote = true
	}

	if code, ok := toolKeys[before]; ok && before != after {
		e.emit(evKey, code, 0)
		wrote = true
	}
	if code, ok := toolKeys[after]; ok && before != after {
		e.emit(evKey, code, 1)
		wrote = true
	}

	return wrote
}

// Close releases the underlying virtual device.
func (e *Emitter) Close() error {
	return e.dev.Close()
}
