package sabiana

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Register blob layout. The backend reports device status as an
// 80-character hexadecimal string; fields live at fixed character
// offsets (all 0-indexed, end exclusive).
const (
	// RegisterLen is the exact length of a status register blob.
	RegisterLen = 80

	offFanSpeed    = 8  // [8,10) fan word, (value-10)/10 -> speed
	offMode        = 11 // single digit: 0 cooling, 1 heating, 3 fan
	offNight       = 14 // single hex digit, >= 0xA means night mode
	offPower       = 15 // '0' off, anything else on
	offCurrentTemp = 21 // [21,24) current temperature, value/10 °C
	offCoolingTgt  = 25 // [25,28) cooling target, value/10 °C
	offHeatingTgt  = 29 // [29,32) heating target, value/10 °C
)

// Command payload layout: FS + "0" + MS + "0" + TS + filler + NS where
// FS is the fan word, MS the mode digit, TS the temperature word and
// NS the night digit. The filler bytes never vary.
const commandFiller = "FF00FFFF000"

// Temperature limits accepted by the units.
const (
	MinTemp = 10.0
	MaxTemp = 30.0
)

var (
	ErrMalformedRecord = errors.New("malformed register record")
	ErrUnknownMode     = errors.New("unknown mode")
	ErrUnsupportedMode = errors.New("unsupported mode")
	ErrOutOfRange      = errors.New("value out of range")
)

// Register holds the fields decoded from a status register blob.
type Register struct {
	Mode          Mode
	On            bool
	Night         bool
	FanSpeed      float64
	FanAuto       bool
	CurrentTemp   float64
	CoolingTarget float64
	HeatingTarget float64
}

// DecodeRegister parses an 80-character hexadecimal register blob into
// its typed fields. It fails with ErrMalformedRecord for a blob of the
// wrong length or with non-hex characters in a numeric field, and with
// ErrUnknownMode for an unrecognized status code.
func DecodeRegister(blob string) (Register, error) {
	if len(blob) != RegisterLen {
		return Register{}, fmt.Errorf("%w: got %d characters, want %d", ErrMalformedRecord, len(blob), RegisterLen)
	}

	var r Register
	switch blob[offMode] {
	case '0':
		r.Mode = ModeCooling
	case '1':
		r.Mode = ModeHeating
	case '3':
		r.Mode = ModeFan
	default:
		return Register{}, fmt.Errorf("%w: status code %q", ErrUnknownMode, blob[offMode])
	}

	r.On = blob[offPower] != '0'

	night, err := hexField(blob, offNight, 1)
	if err != nil {
		return Register{}, err
	}
	r.Night = night >= 10

	fanRaw, err := hexField(blob, offFanSpeed, 2)
	if err != nil {
		return Register{}, err
	}
	r.FanSpeed = (float64(fanRaw) - 10) / 10
	if r.FanSpeed <= 0 {
		r.FanAuto = true
		r.FanSpeed = 0
	}

	current, err := hexField(blob, offCurrentTemp, 3)
	if err != nil {
		return Register{}, err
	}
	r.CurrentTemp = float64(current) / 10

	cooling, err := hexField(blob, offCoolingTgt, 3)
	if err != nil {
		return Register{}, err
	}
	r.CoolingTarget = float64(cooling) / 10

	heating, err := hexField(blob, offHeatingTgt, 3)
	if err != nil {
		return Register{}, err
	}
	r.HeatingTarget = float64(heating) / 10

	return r, nil
}

// EncodeCommand produces the command payload the backend expects for
// the given settings. Temperatures are quantized to 0.1°C; a
// temperature outside MinTemp..MaxTemp or a fan speed outside 0.0-1.0
// fails with ErrOutOfRange instead of being truncated on the wire.
func EncodeCommand(mode Mode, temperature, fanSpeed float64, night bool) (string, error) {
	var ms string
	switch mode {
	case ModeCooling:
		ms = "0"
	case ModeHeating:
		ms = "1"
	case ModeAuto:
		ms = "2"
	case ModeFan:
		ms = "3"
	case ModeOff:
		ms = "4"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}

	if temperature < MinTemp || temperature > MaxTemp {
		return "", fmt.Errorf("%w: temperature %.1f°C outside %.0f-%.0f", ErrOutOfRange, temperature, MinTemp, MaxTemp)
	}
	if fanSpeed < 0 || fanSpeed > 1 {
		return "", fmt.Errorf("%w: fan speed %.1f outside 0.0-1.0", ErrOutOfRange, fanSpeed)
	}

	fs := "04"
	if fanSpeed != 0 {
		fs = fmt.Sprintf("%02X", int(math.Round(fanSpeed*10))+10)
	}
	ts := fmt.Sprintf("%03X", int(math.Round(temperature*10)))
	ns := "0"
	if night {
		ns = "2"
	}

	return fs + "0" + ms + "0" + ts + commandFiller + ns, nil
}

func hexField(blob string, off, width int) (int, error) {
	word := blob[off : off+width]
	v, err := strconv.ParseUint(word, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad hex word %q at offset %d", ErrMalformedRecord, word, off)
	}
	return int(v), nil
}
