package voltage

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

const (
	// Tolerance is the convergence threshold on the largest correction, in pu or radians
	Tolerance = 1e-9
	// MaxIterations bounds the Newton-Raphson loop
	MaxIterations = 200
)

// ErrSingularJacobian is returned when a Newton-Raphson step cannot be solved
var ErrSingularJacobian = errors.New("singular jacobian")

// Bus is one bus of a power flow problem. Bus 0 is the slack bus: its voltage
// magnitude is VMag and its angle is fixed at zero.
type Bus struct {
	// Regulated marks a PV bus holding VMag
	Regulated bool
	VMag      float64
	Gen       complex128
	Load      complex128
}

// Problem is a power flow problem
type Problem struct {
	Y     [][]complex128
	Buses []Bus
	// Initial optionally seeds the bus voltages
	Initial []complex128
}

// Solution is the result of Solve
type Solution struct {
	V          []complex128
	S          []complex128
	Converged  bool
	Iterations int
}

func (p Problem) validate() error {
	n := len(p.Y)
	if n < 2 {
		return fmt.Errorf("power flow needs at least 2 buses, got %d", n)
	}
	for i, row := range p.Y {
		if len(row) != n {
			return fmt.Errorf("admittance matrix must be square: row %d has %d entries, want %d", i, len(row), n)
		}
	}
	if len(p.Buses) != n {
		return fmt.Errorf("bus count mismatch: %d buses for %d-bus admittance matrix", len(p.Buses), n)
	}
	if p.Initial != nil && len(p.Initial) != n {
		return fmt.Errorf("initial voltage count mismatch: %d for %d buses", len(p.Initial), n)
	}
	return nil
}

// Solve runs a polar Newton-Raphson power flow. Non-convergence within
// MaxIterations is reported through Solution.Converged, not as an error.
func Solve(p Problem) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{}, err
	}

	n := len(p.Y)
	ymag := make([][]float64, n)
	yang := make([][]float64, n)
	for i := range p.Y {
		ymag[i] = make([]float64, n)
		yang[i] = make([]float64, n)
		for j, y := range p.Y[i] {
			ymag[i][j] = cmplx.Abs(y)
			yang[i][j] = cmplx.Phase(y)
		}
	}

	vmag := make([]float64, n)
	vang := make([]float64, n)
	for i, b := range p.Buses {
		switch {
		case p.Initial != nil && (i == 0 || b.Regulated):
			vmag[i], vang[i] = b.VMag, cmplx.Phase(p.Initial[i])
		case p.Initial != nil:
			vmag[i], vang[i] = cmplx.Abs(p.Initial[i]), cmplx.Phase(p.Initial[i])
		case i == 0 || b.Regulated:
			vmag[i] = b.VMag
		default:
			vmag[i] = p.Buses[0].VMag
		}
	}
	vang[0] = 0

	size := 2 * (n - 1)
	sol := Solution{}
	for sol.Iterations < MaxIterations {
		v := phasors(vmag, vang)
		s := injections(p.Y, v)

		mismatch := make([]float64, size)
		for i := 1; i < n; i++ {
			serr := p.Buses[i].Gen - p.Buses[i].Load - s[i]
			mismatch[i-1] = real(serr)
			if !p.Buses[i].Regulated {
				mismatch[i+n-2] = imag(serr)
			}
		}

		jac := jacobian(ymag, yang, vmag, vang, p.Buses)
		delta, err := solveLinear(jac, mismatch)
		if err != nil {
			return Solution{}, fmt.Errorf("iteration %d: %w", sol.Iterations+1, err)
		}

		largest := 0.0
		for i := 1; i < n; i++ {
			vang[i] += delta[i-1]
			if !p.Buses[i].Regulated {
				vmag[i] += delta[i+n-2]
			}
		}
		for _, d := range delta {
			largest = math.Max(largest, math.Abs(d))
		}

		sol.Iterations++
		if largest <= Tolerance {
			sol.Converged = true
			break
		}
	}

	sol.V = phasors(vmag, vang)
	sol.S = injections(p.Y, sol.V)
	return sol, nil
}

func phasors(vmag, vang []float64) []complex128 {
	v := make([]complex128, len(vmag))
	for i := range vmag {
		v[i] = cmplx.Rect(vmag[i], vang[i])
	}
	return v
}

// injections returns S = V * conj(Y V) per bus
func injections(y [][]complex128, v []complex128) []complex128 {
	s := make([]complex128, len(v))
	for i := range y {
		var current complex128
		for j := range y[i] {
			current += y[i][j] * v[j]
		}
		s[i] = v[i] * cmplx.Conj(current)
	}
	return s
}

// jacobian builds the polar Jacobian over the non-slack buses. Rows and
// columns of regulated buses' voltage magnitudes are replaced by identity so
// their corrections stay zero.
func jacobian(ymag, yang [][]float64, vmag, vang []float64, buses []Bus) [][]float64 {
	n := len(vmag)
	size := 2 * (n - 1)
	jac := make([][]float64, size)
	for i := range jac {
		jac[i] = make([]float64, size)
	}

	for i := 1; i < n; i++ {
		for j := 1; j < n; j++ {
			pr, qr := i-1, i+n-2
			ac, mc := j-1, j+n-2

			if i == j {
				var dpda, dqda float64
				dpdv := vmag[i] * ymag[i][i] * math.Cos(yang[i][i])
				dqdv := -vmag[i] * ymag[i][i] * math.Sin(yang[i][i])
				for k := 0; k < n; k++ {
					theta := vang[i] - vang[k] - yang[i][k]
					if k != i {
						dpda += ymag[i][k] * vmag[k] * math.Sin(theta)
						dqda += ymag[i][k] * vmag[k] * math.Cos(theta)
					}
					dpdv += ymag[i][k] * vmag[k] * math.Cos(theta)
					dqdv += ymag[i][k] * vmag[k] * math.Sin(theta)
				}
				jac[pr][ac] = -vmag[i] * dpda
				jac[pr][mc] = dpdv
				jac[qr][ac] = vmag[i] * dqda
				jac[qr][mc] = dqdv
				continue
			}

			theta := vang[i] - vang[j] - yang[i][j]
			jac[pr][ac] = vmag[i] * ymag[i][j] * vmag[j] * math.Sin(theta)
			jac[pr][mc] = vmag[i] * ymag[i][j] * math.Cos(theta)
			jac[qr][ac] = -vmag[i] * ymag[i][j] * vmag[j] * math.Cos(theta)
			jac[qr][mc] = vmag[i] * ymag[i][j] * math.Sin(theta)
		}
	}

	for i := 1; i < n; i++ {
		if !buses[i].Regulated {
			continue
		}
		q := i + n - 2
		for k := 0; k < size; k++ {
			jac[q][k] = 0
			jac[k][q] = 0
		}
		jac[q][q] = 1
	}
	return jac
}

// solveLinear solves a x = b by Gaussian elimination with partial pivoting
func solveLinear(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = make([]float64, n+1)
		copy(m[i], a[i])
		m[i][n] = b[i]
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-14 {
			return nil, ErrSingularJacobian
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := m[r][n]
		for c := r + 1; c < n; c++ {
			sum -= m[r][c] * x[c]
		}
		x[r] = sum / m[r][r]
	}
	return x, nil
}
