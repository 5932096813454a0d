// Package solver implements the camera calibration primitive: closed-form
// initialization from planar homographies followed by Levenberg-Marquardt
// refinement of the intrinsics and every view's extrinsics.
package solver

import (
	"errors"
	"fmt"
	"image"
	"math"

	"pose-calib/internal/camera"
	"pose-calib/pkg/geometry"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewPoints is returned when a view or the whole problem has too
	// few correspondences.
	ErrTooFewPoints = errors.New("too few points for calibration")

	// ErrDegenerate is returned when no initial estimate can be formed.
	ErrDegenerate = errors.New("degenerate calibration problem")
)

// Criteria terminates the refinement.
type Criteria struct {
	MaxIterations int
	Epsilon       float64
}

// Request is one calibration problem. ObjectPoints and ImagePoints hold one
// slice per view; object points lie on the Z=0 plane.
type Request struct {
	ObjectPoints [][]r3.Vector
	ImagePoints  [][]geometry.Point2D
	ImageSize    image.Point
	InitialK     camera.Matrix
	Flags        Flags
	Criteria     Criteria
}

// Result is the refined model with per-view poses.
type Result struct {
	RMS        float64
	Model      camera.Model
	Rvecs      []r3.Vector
	Tvecs      []r3.Vector
	StdDev     [camera.NumIntrinsics]float64
	Iterations int
}

// LM is a Levenberg-Marquardt calibration solver with a numeric Jacobian.
type LM struct {
	// Verbose prints one summary line per calibration.
	Verbose bool
}

// NewLM creates a solver.
func NewLM() *LM {
	return &LM{Verbose: true}
}

// Calibrate estimates intrinsics, distortion and per-view poses.
func (s *LM) Calibrate(req Request) (Result, error) {
	nPts, err := validate(req)
	if err != nil {
		return Result{}, err
	}

	k := initialMatrix(req)
	model := camera.Model{K: k}

	views := len(req.ObjectPoints)
	p := &problem{
		obj:  req.ObjectPoints,
		img:  req.ImagePoints,
		nPts: nPts,
		full: make([]float64, camera.NumIntrinsics+6*views),
	}
	intr := model.Intrinsics()
	copy(p.full, intr[:])

	for v := 0; v < views; v++ {
		rvec, tvec, err := model.SolvePlanarPose(req.ObjectPoints[v], req.ImagePoints[v])
		if err != nil {
			return Result{}, fmt.Errorf("initial pose of view %d: %w", v, err)
		}
		off := camera.NumIntrinsics + 6*v
		copy(p.full[off:], []float64{rvec.X, rvec.Y, rvec.Z, tvec.X, tvec.Y, tvec.Z})
	}

	p.setFree(req.Flags, k)
	if len(p.free) > 2*nPts {
		return Result{}, fmt.Errorf("%d unknowns for %d residuals: %w", len(p.free), 2*nPts, ErrTooFewPoints)
	}

	crit := req.Criteria
	if crit.MaxIterations <= 0 {
		crit.MaxIterations = 30
	}

	x, iters := p.minimize(p.pack(), crit)
	full := p.expand(x)

	res := Result{Iterations: iters}
	var in [camera.NumIntrinsics]float64
	copy(in[:], full[:camera.NumIntrinsics])
	res.Model = camera.ModelFromIntrinsics(in)

	r := make([]float64, 2*nPts)
	p.residuals(r, x)
	cost := floats.Dot(r, r)
	res.RMS = math.Sqrt(cost / float64(nPts))
	if math.IsNaN(res.RMS) || math.IsInf(res.RMS, 0) {
		return Result{}, fmt.Errorf("refinement diverged: %w", ErrDegenerate)
	}

	for v := 0; v < views; v++ {
		off := camera.NumIntrinsics + 6*v
		res.Rvecs = append(res.Rvecs, r3.Vector{X: full[off], Y: full[off+1], Z: full[off+2]})
		res.Tvecs = append(res.Tvecs, r3.Vector{X: full[off+3], Y: full[off+4], Z: full[off+5]})
	}

	res.StdDev = p.stdDev(x, cost)

	if s.Verbose {
		fmt.Printf("[Solver] %d views, %d points, %d unknowns: rms %.4f after %d iterations (%s)\n",
			views, nPts, len(p.free), res.RMS, iters, req.Flags)
	}
	return res, nil
}

func validate(req Request) (int, error) {
	if len(req.ObjectPoints) == 0 {
		return 0, fmt.Errorf("no views: %w", ErrTooFewPoints)
	}
	if len(req.ObjectPoints) != len(req.ImagePoints) {
		return 0, fmt.Errorf("view count mismatch: %d object vs %d image", len(req.ObjectPoints), len(req.ImagePoints))
	}
	if req.ImageSize.X <= 0 || req.ImageSize.Y <= 0 {
		return 0, fmt.Errorf("invalid image size %v", req.ImageSize)
	}
	n := 0
	for v := range req.ObjectPoints {
		if len(req.ObjectPoints[v]) != len(req.ImagePoints[v]) {
			return 0, fmt.Errorf("view %d: %d object vs %d image points", v, len(req.ObjectPoints[v]), len(req.ImagePoints[v]))
		}
		if len(req.ObjectPoints[v]) < 4 {
			return 0, fmt.Errorf("view %d has %d points: %w", v, len(req.ObjectPoints[v]), ErrTooFewPoints)
		}
		n += len(req.ObjectPoints[v])
	}
	return n, nil
}

// initialMatrix centers the principal point and estimates the focal length
// from the view homographies unless the caller's guess is to be used.
func initialMatrix(req Request) camera.Matrix {
	k := req.InitialK
	if req.Flags.Has(UseIntrinsicGuess) {
		return k
	}
	center := camera.DefaultMatrix(k.Fx, req.ImageSize)
	k.Cx, k.Cy = center.Cx, center.Cy

	if req.Flags.Has(FixFocalLength) {
		return k
	}

	aspect := 1.0
	if k.Fx > 0 && k.Fy > 0 {
		aspect = k.Fy / k.Fx
	}
	fx, fy, ok := estimateFocal(req, k.Cx, k.Cy, aspect, req.Flags.Has(FixAspectRatio))
	if ok {
		k.Fx, k.Fy = fx, fy
	}
	return k
}

// estimateFocal solves the orthogonality constraints of the homography
// columns for 1/fx^2 and 1/fy^2 with the principal point known.
func estimateFocal(req Request, cx, cy, aspect float64, tie bool) (float64, float64, bool) {
	var a [][2]float64
	var b []float64
	for v := range req.ObjectPoints {
		src := make([]geometry.Point2D, len(req.ObjectPoints[v]))
		for i, p := range req.ObjectPoints[v] {
			src[i] = geometry.Point2D{X: p.X, Y: p.Y}
		}
		h, err := camera.FindHomography(src, req.ImagePoints[v])
		if err != nil {
			continue
		}
		for j := 0; j < 3; j++ {
			h[0][j] -= cx * h[2][j]
			h[1][j] -= cy * h[2][j]
		}
		h1, h2 := h.Col(0), h.Col(1)
		a = append(a, [2]float64{h1.X * h2.X, h1.Y * h2.Y})
		b = append(b, -h1.Z*h2.Z)
		a = append(a, [2]float64{h1.X*h1.X - h2.X*h2.X, h1.Y*h1.Y - h2.Y*h2.Y})
		b = append(b, -(h1.Z*h1.Z - h2.Z*h2.Z))
	}
	if len(a) == 0 {
		return 0, 0, false
	}

	var ia, ib float64
	if tie {
		// 1/fy^2 = (1/fx^2) / aspect^2
		var num, den float64
		for i := range a {
			c := a[i][0] + a[i][1]/(aspect*aspect)
			num += c * b[i]
			den += c * c
		}
		if den == 0 {
			return 0, 0, false
		}
		ia = num / den
		ib = ia / (aspect * aspect)
	} else {
		if len(a) < 2 {
			return 0, 0, false
		}
		data := make([]float64, 0, 2*len(a))
		for _, row := range a {
			data = append(data, row[0], row[1])
		}
		var x mat.VecDense
		if err := x.SolveVec(mat.NewDense(len(a), 2, data), mat.NewVecDense(len(b), b)); err != nil {
			return 0, 0, false
		}
		ia, ib = x.AtVec(0), x.AtVec(1)
	}
	if ia <= 0 || ib <= 0 {
		return 0, 0, false
	}
	return 1 / math.Sqrt(ia), 1 / math.Sqrt(ib), true
}

// problem is the least-squares reprojection problem over the parameter
// vector [fx fy cx cy k1 k2 p1 p2 k3 | rvec tvec per view].
type problem struct {
	obj  [][]r3.Vector
	img  [][]geometry.Point2D
	nPts int

	full      []float64 // fixed parameters keep their value here
	free      []int     // indices of full that are optimized
	tieAspect bool
	aspect    float64
}

func (p *problem) setFree(flags Flags, k camera.Matrix) {
	fixed := map[int]bool{}
	if flags.Has(FixFocalLength) {
		fixed[camera.Fx] = true
		fixed[camera.Fy] = true
	}
	if flags.Has(FixAspectRatio) && !flags.Has(FixFocalLength) {
		fixed[camera.Fy] = true
		p.tieAspect = true
		p.aspect = k.Fy / k.Fx
	}
	if flags.Has(FixPrincipalPoint) {
		fixed[camera.Cx] = true
		fixed[camera.Cy] = true
	}
	if flags.Has(ZeroTangentDist) {
		fixed[camera.P1] = true
		fixed[camera.P2] = true
		p.full[camera.P1] = 0
		p.full[camera.P2] = 0
	}
	if flags.Has(FixK1) {
		fixed[camera.K1] = true
	}
	if flags.Has(FixK2) {
		fixed[camera.K2] = true
	}
	if flags.Has(FixK3) {
		fixed[camera.K3] = true
	}

	p.free = p.free[:0]
	for i := range p.full {
		if !fixed[i] {
			p.free = append(p.free, i)
		}
	}
}

func (p *problem) pack() []float64 {
	x := make([]float64, len(p.free))
	for i, idx := range p.free {
		x[i] = p.full[idx]
	}
	return x
}

func (p *problem) expand(x []float64) []float64 {
	full := make([]float64, len(p.full))
	copy(full, p.full)
	for i, idx := range p.free {
		full[idx] = x[i]
	}
	if p.tieAspect {
		full[camera.Fy] = full[camera.Fx] * p.aspect
	}
	return full
}

// residuals writes projected minus observed pixel coordinates.
func (p *problem) residuals(dst, x []float64) {
	full := p.expand(x)
	var in [camera.NumIntrinsics]float64
	copy(in[:], full[:camera.NumIntrinsics])
	m := camera.ModelFromIntrinsics(in)

	k := 0
	for v := range p.obj {
		off := camera.NumIntrinsics + 6*v
		rvec := r3.Vector{X: full[off], Y: full[off+1], Z: full[off+2]}
		tvec := r3.Vector{X: full[off+3], Y: full[off+4], Z: full[off+5]}
		for i, q := range m.ProjectPoints(p.obj[v], rvec, tvec) {
			dst[k] = q.X - p.img[v][i].X
			dst[k+1] = q.Y - p.img[v][i].Y
			k += 2
		}
	}
}

func (p *problem) jacobian(x []float64) *mat.Dense {
	J := mat.NewDense(2*p.nPts, len(x), nil)
	fd.Jacobian(J, p.residuals, x, &fd.JacobianSettings{Formula: fd.Central})
	return J
}

// minimize runs damped Gauss-Newton steps with Marquardt diagonal scaling.
func (p *problem) minimize(x []float64, crit Criteria) ([]float64, int) {
	n := len(x)
	m := 2 * p.nPts

	r := make([]float64, m)
	p.residuals(r, x)
	cost := floats.Dot(r, r)

	lambda := 1e-3
	xn := make([]float64, n)
	rn := make([]float64, m)

	iter := 0
	for iter < crit.MaxIterations {
		iter++
		J := p.jacobian(x)
		var jtj mat.SymDense
		jtj.SymOuterK(1, J.T())
		var g mat.VecDense
		g.MulVec(J.T(), mat.NewVecDense(m, r))

		accepted := false
		var stepNorm, prevCost float64
		for tries := 0; tries < 16 && !accepted; tries++ {
			a := mat.NewSymDense(n, nil)
			a.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				a.SetSym(i, i, d+lambda*math.Max(d, 1e-12))
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(a); !ok {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, &g); err != nil {
				lambda *= 10
				continue
			}
			for i := 0; i < n; i++ {
				xn[i] = x[i] - delta.AtVec(i)
			}
			p.residuals(rn, xn)
			costN := floats.Dot(rn, rn)
			if costN < cost && !math.IsNaN(costN) {
				stepNorm = mat.Norm(&delta, 2)
				prevCost = cost
				copy(x, xn)
				copy(r, rn)
				cost = costN
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
			} else {
				lambda *= 10
			}
		}
		if !accepted {
			break
		}
		if prevCost-cost <= crit.Epsilon*prevCost || stepNorm <= crit.Epsilon*(floats.Norm(x, 2)+crit.Epsilon) {
			break
		}
	}
	return x, iter
}

// stdDev returns the standard deviation of each intrinsic from the diagonal
// of the parameter covariance sigma^2 * (J^T J)^-1. Fixed intrinsics get 0.
func (p *problem) stdDev(x []float64, cost float64) [camera.NumIntrinsics]float64 {
	var out [camera.NumIntrinsics]float64

	J := p.jacobian(x)
	var jtj mat.SymDense
	jtj.SymOuterK(1, J.T())

	var svd mat.SVD
	if ok := svd.Factorize(&jtj, mat.SVDThin); !ok {
		return out
	}
	vals := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	tol := 0.0
	if len(vals) > 0 {
		tol = vals[0] * 1e-15
	}

	dof := 2*p.nPts - len(x)
	if dof < 1 {
		dof = 1
	}
	sigma2 := cost / float64(dof)

	for i, idx := range p.free {
		if idx >= camera.NumIntrinsics {
			break
		}
		var d float64
		for k, s := range vals {
			if s > tol {
				e := v.At(i, k)
				d += e * e / s
			}
		}
		out[idx] = math.Sqrt(d * sigma2)
	}
	return out
}
