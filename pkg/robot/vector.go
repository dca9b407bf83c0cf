package robot

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Vector holds one value per joint. A NaN component means "unset".
type Vector []float64

// NewVector returns a zero vector for n joints.
func NewVector(n int) Vector {
	return make(Vector, n)
}

// Constant returns a vector for n joints with every component set to v.
func Constant(n int, v float64) Vector {
	out := make(Vector, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// NaNVector returns a vector for n joints with every component unset.
func NaNVector(n int) Vector {
	return Constant(n, math.NaN())
}

// Clone returns a copy of v. A nil vector stays nil.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// AllNaN reports whether every component is unset.
func (v Vector) AllNaN() bool {
	for _, x := range v {
		if !math.IsNaN(x) {
			return false
		}
	}
	return true
}

// HasNaN reports whether any component is unset.
func (v Vector) HasNaN() bool {
	return floats.HasNaN(v)
}

// IsZero reports whether every component is exactly zero.
func (v Vector) IsZero() bool {
	return len(v) == 0 || floats.Norm(v, math.Inf(1)) == 0
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	return floats.SubTo(make(Vector, len(v)), v, o)
}

// Abs returns the component-wise absolute value.
func (v Vector) Abs() Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}

// AllBelow reports whether every component is strictly below limit.
func (v Vector) AllBelow(limit float64) bool {
	for _, x := range v {
		if !(x < limit) {
			return false
		}
	}
	return true
}

// Within reports whether lower <= v <= upper holds for every component.
func (v Vector) Within(lower, upper Vector) bool {
	for i, x := range v {
		if !(lower[i] <= x && x <= upper[i]) {
			return false
		}
	}
	return true
}

// Clamp limits every component to [-limit, limit] in place and returns v.
func (v Vector) Clamp(limit float64) Vector {
	for i, x := range v {
		v[i] = math.Max(-limit, math.Min(limit, x))
	}
	return v
}

// String formats the components with three decimals.
func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("% .3f", x)
	}
	return strings.Join(parts, " ")
}
