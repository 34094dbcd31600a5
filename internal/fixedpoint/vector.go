package fixedpoint

// Fixed2 is a deterministic 2D vector of Q32.32 scalars.
type Fixed2 struct {
	X, Y Fixed
}

// Vec2 constructs a Fixed2 from two Fixed scalars.
func Vec2(x, y Fixed) Fixed2 {
	return Fixed2{X: x, Y: y}
}

// Add returns a+b component-wise.
func (a Fixed2) Add(b Fixed2) Fixed2 {
	return Fixed2{Add(a.X, b.X), Add(a.Y, b.Y)}
}

// Sub returns a-b component-wise.
func (a Fixed2) Sub(b Fixed2) Fixed2 {
	return Fixed2{Sub(a.X, b.X), Sub(a.Y, b.Y)}
}

// Scale returns a scaled by s.
func (a Fixed2) Scale(s Fixed) Fixed2 {
	return Fixed2{Mul(a.X, s), Mul(a.Y, s)}
}

// Dot returns the dot product of a and b.
func (a Fixed2) Dot(b Fixed2) Fixed {
	return Add(Mul(a.X, b.X), Mul(a.Y, b.Y))
}

// LengthSquared returns |a|^2, avoiding the square root.
func (a Fixed2) LengthSquared() Fixed {
	return a.Dot(a)
}

// Length returns |a|.
func (a Fixed2) Length() (Fixed, error) {
	return Length(a.X, a.Y)
}

// Normalise returns a unit vector in the direction of a. The zero vector
// normalises to itself rather than failing, since "no direction" is a
// legitimate simulation state (e.g. a stationary entity).
func (a Fixed2) Normalise() (Fixed2, error) {
	lenSq := a.LengthSquared()
	if lenSq == 0 {
		return Fixed2{}, nil
	}
	length, err := Sqrt(lenSq)
	if err != nil {
		return Fixed2{}, err
	}
	if length == 0 {
		return Fixed2{}, nil
	}
	x, err := Div(a.X, length)
	if err != nil {
		return Fixed2{}, err
	}
	y, err := Div(a.Y, length)
	if err != nil {
		return Fixed2{}, err
	}
	return Fixed2{x, y}, nil
}

// DistanceSquared returns |a-b|^2.
func (a Fixed2) DistanceSquared(b Fixed2) Fixed {
	return a.Sub(b).LengthSquared()
}
