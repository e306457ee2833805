// Package canlink mirrors every accepted actuation command onto a CAN bus
// for a downstream drive-by-wire ECU. Signals are little-endian packed with
// factor/offset scaling and clamped to their physical range before encode.
package canlink

import (
	"fmt"
	"math"

	"go.einride.tech/can"
)

// SignalDef describes one scaled signal inside a frame payload.
type SignalDef struct {
	Name      string
	StartBit  int
	BitLength int
	Signed    bool
	Factor    float64
	Offset    float64
	Min       float64
	Max       float64
}

// FrameDef describes one transmit frame.
type FrameDef struct {
	ID      uint32
	Name    string
	DLC     int
	Signals []SignalDef
}

// ActuatorCommandFrame is the fixed layout the controller transmits:
// steering in radians at 1e-4 resolution, normalized throttle at 1e-3, an
// enable flag, and a rolling counter so the ECU can detect stale commands.
func ActuatorCommandFrame() FrameDef {
	return FrameDef{
		ID:   0x210,
		Name: "ACTUATOR_CMD",
		DLC:  8,
		Signals: []SignalDef{
			{Name: "steer_cmd_rad", StartBit: 0, BitLength: 16, Signed: true, Factor: 1e-4, Min: -3.2, Max: 3.2},
			{Name: "throttle_cmd", StartBit: 16, BitLength: 16, Signed: true, Factor: 1e-3, Min: -1, Max: 1},
			{Name: "system_enable", StartBit: 32, BitLength: 1, Factor: 1, Min: 0, Max: 1},
			{Name: "counter", StartBit: 40, BitLength: 8, Factor: 1, Min: 0, Max: 255},
		},
	}
}

// Encode packs physical signal values into a transmit-ready frame. Values
// outside a signal's range clamp rather than wrap.
func Encode(fd FrameDef, values map[string]float64) (can.Frame, error) {
	if fd.DLC <= 0 || fd.DLC > 8 {
		return can.Frame{}, fmt.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}

	var payload uint64
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			return can.Frame{}, fmt.Errorf("frame %s missing signal %q", fd.Name, s.Name)
		}
		v = clamp(v, s.Min, s.Max)

		raw := int64(math.Round((v - s.Offset) / s.Factor))
		raw = clampRaw(raw, s.BitLength, s.Signed)
		payload = setBits(payload, s.StartBit, s.BitLength, rawToUnsigned(raw, s.BitLength))
	}

	var f can.Frame
	f.ID = fd.ID
	f.Length = uint8(fd.DLC)
	for i := 0; i < fd.DLC; i++ {
		f.Data[i] = byte((payload >> (8 * i)) & 0xFF)
	}
	return f, nil
}

// Decode unpacks a frame payload back into physical values.
func Decode(fd FrameDef, data []byte) (map[string]float64, error) {
	if len(data) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", fd.ID, fd.DLC, len(data))
	}

	var payload uint64
	for i := 0; i < fd.DLC && i < 8; i++ {
		payload |= uint64(data[i]) << (8 * i)
	}

	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		raw := unsignedToRaw(getBits(payload, s.StartBit, s.BitLength), s.BitLength, s.Signed)
		out[s.Name] = float64(raw)*s.Factor + s.Offset
	}
	return out, nil
}

func getBits(payload uint64, startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return 0
	}
	mask := uint64((1 << bitLen) - 1)
	return (payload >> startBit) & mask
}

func setBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return payload
	}
	mask := uint64((1 << bitLen) - 1)
	payload &^= mask << startBit
	payload |= (value & mask) << startBit
	return payload
}

func unsignedToRaw(u uint64, bitLen int, signed bool) int64 {
	if !signed {
		return int64(u)
	}
	signBit := uint64(1) << (bitLen - 1)
	if (u & signBit) == 0 {
		return int64(u)
	}
	fullMask := uint64((1 << bitLen) - 1)
	twos := (^u + 1) & fullMask
	return -int64(twos)
}

func rawToUnsigned(raw int64, bitLen int) uint64 {
	if raw >= 0 {
		return uint64(raw)
	}
	fullMask := uint64((1 << bitLen) - 1)
	u := uint64(-raw)
	return (^u + 1) & fullMask
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	if !signed {
		max := int64((1 << bitLen) - 1)
		if raw < 0 {
			return 0
		}
		if raw > max {
			return max
		}
		return raw
	}
	min := -int64(1 << (bitLen - 1))
	max := int64((1 << (bitLen - 1)) - 1)
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}
