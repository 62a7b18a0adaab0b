package engine

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hupe1980/fishdbc/model"
)

// MaxRefLen bounds the length of a precise reference in bytes.
const MaxRefLen = 1024

func validateRecord(r model.Record, dim int) error {
	reject := func(format string, args ...any) error {
		return &MalformedInputError{ID: r.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if r.ID == "" {
		return reject("empty id")
	}
	if len(r.Coarse) != dim {
		return reject("coarse vector has dimension %d, want %d", len(r.Coarse), dim)
	}
	for i, v := range r.Coarse {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return reject("coarse component %d is not finite", i)
		}
	}

	switch {
	case r.PreciseRef == "":
		return reject("empty precise reference")
	case len(r.PreciseRef) > MaxRefLen:
		return reject("precise reference longer than %d bytes", MaxRefLen)
	case !utf8.ValidString(r.PreciseRef):
		return reject("precise reference is not valid UTF-8")
	case strings.ContainsFunc(r.PreciseRef, unicode.IsControl):
		return reject("precise reference contains control characters")
	}
	return nil
}
