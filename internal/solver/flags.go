package solver

import (
	"fmt"
	"strings"
)

// Flags restrict which intrinsics the solver may change. Bit values follow
// the OpenCV calibration flags so reports stay comparable.
type Flags int

const (
	UseIntrinsicGuess Flags = 1 << 0
	FixAspectRatio    Flags = 1 << 1
	FixPrincipalPoint Flags = 1 << 2
	ZeroTangentDist   Flags = 1 << 3
	FixFocalLength    Flags = 1 << 4
	FixK1             Flags = 1 << 5
	FixK2             Flags = 1 << 6
	FixK3             Flags = 1 << 7
	UseLU             Flags = 1 << 17
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{UseIntrinsicGuess, "use_intrinsic_guess"},
	{FixAspectRatio, "fix_aspect_ratio"},
	{FixPrincipalPoint, "fix_principal_point"},
	{ZeroTangentDist, "zero_tangent_dist"},
	{FixFocalLength, "fix_focal_length"},
	{FixK1, "fix_k1"},
	{FixK2, "fix_k2"},
	{FixK3, "fix_k3"},
	{UseLU, "use_lu"},
}

// Has reports whether every bit of o is set.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

// Names lists the known flags that are set.
func (f Flags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

// String formats the flags as "+name+name", followed by the raw value and
// any bits without a name.
func (f Flags) String() string {
	var sb strings.Builder
	unknown := f
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			sb.WriteString("+")
			sb.WriteString(fn.name)
			unknown &^= fn.flag
		}
	}
	fmt.Fprintf(&sb, " (%d)", int(f))
	if unknown != 0 {
		fmt.Fprintf(&sb, " unknown=%d", int(unknown))
	}
	return sb.String()
}
