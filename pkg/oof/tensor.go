package oof

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"tubulargeodesics/internal/models"
)

// Tensor is a symmetric 3x3 oriented flux matrix stored as its six unique
// components in the order xx, yy, zz, xy, xz, yz.
type Tensor [6]float64

// Directional returns the second-order response dᵀ T d along unit vector d.
func (t Tensor) Directional(d models.Vec3) float64 {
	return t[0]*d[0]*d[0] + t[1]*d[1]*d[1] + t[2]*d[2]*d[2] +
		2*(t[3]*d[0]*d[1]+t[4]*d[0]*d[2]+t[5]*d[1]*d[2])
}

// Response is the outcome of analysing one tensor.
type Response struct {
	// Score is the tubularity: the negated sum of the two eigenvalues of
	// largest inward flux. Bright tubes score high and positive.
	Score float64

	// Direction is the unit eigenvector of least flux magnitude (the tube
	// axis), or the zero vector when the tensor is isotropic.
	Direction models.Vec3

	// Eigenvalues are sorted so that λ1 <= λ2 <= λ3.
	Eigenvalues [3]float64
}

const (
	// minMagnitude is the eigenvalue magnitude below which a tensor carries no
	// structure at all.
	minMagnitude = 1e-9

	// isotropyTolerance is the relative eigenvalue spread below which the
	// tensor is treated as isotropic.
	isotropyTolerance = 1e-6
)

// sampleDirections is the fixed bank of directions along which flux responses
// are measured: the three axes, six face diagonals and four body diagonals.
var sampleDirections = func() []models.Vec3 {
	raw := []models.Vec3{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
		{1, 1, 0}, {1, -1, 0}, {1, 0, 1}, {1, 0, -1}, {0, 1, 1}, {0, 1, -1},
		{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {-1, 1, 1},
	}
	out := make([]models.Vec3, len(raw))
	for i, d := range raw {
		out[i] = d.Normalize()
	}
	return out
}()

// fitMatrix returns the 6xK least-squares operator that maps K directional
// responses to tensor components.
func fitMatrix(dirs []models.Vec3) *mat.Dense {
	k := len(dirs)
	a := mat.NewDense(k, 6, nil)
	for i, d := range dirs {
		a.SetRow(i, []float64{
			d[0] * d[0], d[1] * d[1], d[2] * d[2],
			2 * d[0] * d[1], 2 * d[0] * d[2], 2 * d[1] * d[2],
		})
	}

	ones := make([]float64, k)
	for i := range ones {
		ones[i] = 1
	}
	var qr mat.QR
	qr.Factorize(a)

	var p mat.Dense
	if err := qr.SolveTo(&p, false, mat.NewDiagDense(k, ones)); err != nil {
		// The direction bank is fixed and spans all six components.
		panic("oof: singular direction bank: " + err.Error())
	}
	return &p
}

// analyzer reuses gonum workspaces across voxels. It is not safe for
// concurrent use; each worker owns one.
type analyzer struct {
	sym  *mat.SymDense
	eig  mat.EigenSym
	vecs mat.Dense
	vals [3]float64
}

func newAnalyzer() *analyzer {
	return &analyzer{sym: mat.NewSymDense(3, nil)}
}

// Analyze eigen-decomposes a single tensor.
func Analyze(t Tensor) Response {
	return newAnalyzer().analyze(t)
}

func (a *analyzer) analyze(t Tensor) Response {
	a.sym.SetSym(0, 0, t[0])
	a.sym.SetSym(1, 1, t[1])
	a.sym.SetSym(2, 2, t[2])
	a.sym.SetSym(0, 1, t[3])
	a.sym.SetSym(0, 2, t[4])
	a.sym.SetSym(1, 2, t[5])

	if ok := a.eig.Factorize(a.sym, true); !ok {
		return Response{}
	}
	a.eig.Values(a.vals[:])
	a.eig.VectorsTo(&a.vecs)

	res := Response{Eigenvalues: a.vals}

	maxAbs := 0.0
	least := 0
	for i, v := range a.vals {
		maxAbs = math.Max(maxAbs, math.Abs(v))
		if math.Abs(v) < math.Abs(a.vals[least]) {
			least = i
		}
	}
	if maxAbs < minMagnitude || a.vals[2]-a.vals[0] <= isotropyTolerance*maxAbs {
		return res
	}

	dir := models.Vec3{a.vecs.At(0, least), a.vecs.At(1, least), a.vecs.At(2, least)}
	res.Direction = canonical(dir.Normalize())
	res.Score = -(a.vals[0] + a.vals[1])
	return res
}

// canonical flips an axis vector so its largest component is positive; tube
// axes have no intrinsic sign.
func canonical(v models.Vec3) models.Vec3 {
	big := 0
	for i := 1; i < 3; i++ {
		if math.Abs(v[i]) > math.Abs(v[big]) {
			big = i
		}
	}
	if v[big] < 0 {
		return v.Scale(-1)
	}
	return v
}
