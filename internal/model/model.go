// Package model declares the two regression variants as differentiable
// log densities over an unconstrained parameter vector.
//
// M0: y_i ~ N(slope*x_i + intercept, sigma_i)
// M1: y_i ~ N(slope*x_i + intercept + offset_{g(i)}, sigma_i)
//
// with offset_j ~ N(0, tau) and tau given a half-Normal (default) or
// half-Student-t prior. sigma_i is the known measurement scale and is never
// a free parameter. tau is sampled as log(tau) with the Jacobian folded into
// the density; the non-centered form samples unit-scale auxiliaries z_j with
// offset_j = tau*z_j.
package model

import (
	"fmt"
	"math"

	"hierfit/internal/dataset"
)

// Kind selects the model variant.
type Kind int

const (
	// M0 has no per-lab offsets.
	M0 Kind = iota
	// M1 adds one latent offset per lab with a shared scale hyperparameter.
	M1
)

func (k Kind) String() string {
	if k == M0 {
		return "M0"
	}
	return "M1"
}

// KindFromString parses "M0" or "M1".
func KindFromString(s string) (Kind, error) {
	switch s {
	case "M0", "m0":
		return M0, nil
	case "M1", "m1":
		return M1, nil
	}
	return M0, fmt.Errorf("unknown model kind %q", s)
}

// Parameterization selects how M1's offsets enter the sampling space.
// Both are the same posterior; the non-centered form usually mixes better
// when the data constrain tau weakly.
type Parameterization int

const (
	NonCentered Parameterization = iota
	Centered
)

// ParameterizationFromString parses "non-centered" or "centered".
func ParameterizationFromString(s string) (Parameterization, error) {
	switch s {
	case "non-centered":
		return NonCentered, nil
	case "centered":
		return Centered, nil
	}
	return NonCentered, fmt.Errorf("unknown parameterization %q", s)
}

// TauFamily selects the prior on the offset scale.
type TauFamily int

const (
	HalfNormal TauFamily = iota
	HalfStudentT
)

// TauFamilyFromString parses "half-normal" or "half-student-t".
func TauFamilyFromString(s string) (TauFamily, error) {
	switch s {
	case "half-normal":
		return HalfNormal, nil
	case "half-student-t":
		return HalfStudentT, nil
	}
	return HalfNormal, fmt.Errorf("unknown tau family %q", s)
}

// Priors holds the fixed prior hyperparameters.
type Priors struct {
	SlopeScale     float64
	InterceptScale float64
	TauScale       float64
	TauFamily      TauFamily
	// TauDF is the degrees of freedom for HalfStudentT.
	TauDF float64
}

// Model binds a variant to a prepared dataset. It implements infer.Target
// and is safe for concurrent evaluation: all fields are read-only after New.
type Model struct {
	kind   Kind
	param  Parameterization
	priors Priors
	tbl    *dataset.Table

	nGroups int
	x, y    []float64
	sigma   []float64
	w       []float64 // 1/sigma^2
	llConst []float64 // per-obs -log(sigma) - 0.5*log(2*pi)
	group   []int
}

const log2Pi = 1.8378770664093453

// New builds a model over tbl. For M1 the predictor must be centered first;
// without that the offset population mean is not identifiable against the
// global intercept, so this is rejected rather than warned about.
func New(kind Kind, param Parameterization, pr Priors, tbl *dataset.Table) (*Model, error) {
	if pr.SlopeScale <= 0 || pr.InterceptScale <= 0 {
		return nil, fmt.Errorf("prior scales must be positive")
	}
	if kind == M1 {
		if !tbl.Centered {
			return nil, fmt.Errorf("M1 requires a centered predictor (call Standardize first)")
		}
		if pr.TauScale <= 0 {
			return nil, fmt.Errorf("tau prior scale must be positive")
		}
		if pr.TauFamily == HalfStudentT && pr.TauDF <= 0 {
			return nil, fmt.Errorf("half-student-t prior needs positive degrees of freedom")
		}
	}
	m := &Model{
		kind:    kind,
		param:   param,
		priors:  pr,
		tbl:     tbl,
		nGroups: tbl.NumGroups(),
		group:   tbl.Group,
	}
	for _, o := range tbl.Obs {
		m.x = append(m.x, o.X)
		m.y = append(m.y, o.Y)
		m.sigma = append(m.sigma, o.Sigma)
		m.w = append(m.w, 1/(o.Sigma*o.Sigma))
		m.llConst = append(m.llConst, -math.Log(o.Sigma)-0.5*log2Pi)
	}
	return m, nil
}

// Kind returns the variant.
func (m *Model) Kind() Kind { return m.kind }

// Table returns the dataset the model was built over.
func (m *Model) Table() *dataset.Table { return m.tbl }

// NumObs returns the observation count.
func (m *Model) NumObs() int { return len(m.y) }

// Dim is the unconstrained parameter count.
func (m *Model) Dim() int {
	if m.kind == M0 {
		return 2
	}
	return 3 + m.nGroups
}

// ConstrainedDim is the reported parameter count.
func (m *Model) ConstrainedDim() int { return m.Dim() }

// ParamNames names the constrained parameters: slope, intercept, then for
// M1 tau and one offset per lab.
func (m *Model) ParamNames() []string {
	names := []string{"slope", "intercept"}
	if m.kind == M1 {
		names = append(names, "tau")
		for _, lab := range m.tbl.Labs {
			names = append(names, "offset["+lab+"]")
		}
	}
	return names
}

// Constrain maps an unconstrained draw to reported parameters: log tau back
// to tau, and (in the non-centered form) auxiliaries to actual offsets.
func (m *Model) Constrain(x []float64, out []float64) {
	out[0] = x[0]
	out[1] = x[1]
	if m.kind == M0 {
		return
	}
	tau := math.Exp(x[2])
	out[2] = tau
	for j := 0; j < m.nGroups; j++ {
		if m.param == NonCentered {
			out[3+j] = tau * x[3+j]
		} else {
			out[3+j] = x[3+j]
		}
	}
}

// tauLogPrior returns the log prior density of tau (up to half-distribution
// normalization) and its derivative with respect to tau.
func (m *Model) tauLogPrior(tau float64) (lp, dtau float64) {
	s := m.priors.TauScale
	if m.priors.TauFamily == HalfNormal {
		return -0.5 * (tau / s) * (tau / s), -tau / (s * s)
	}
	nu := m.priors.TauDF
	q := nu*s*s + tau*tau
	return -0.5 * (nu + 1) * math.Log(1+tau*tau/(nu*s*s)), -(nu + 1) * tau / q
}

// LogDensity evaluates the joint log posterior density (likelihood + priors
// + change-of-variable Jacobian for log tau) at the unconstrained point x.
// When grad is non-nil the full gradient is written into it.
func (m *Model) LogDensity(x []float64, grad []float64) float64 {
	if grad != nil {
		for i := range grad {
			grad[i] = 0
		}
	}
	slope, intercept := x[0], x[1]

	var tau float64
	offsets := make([]float64, 0, m.nGroups)
	if m.kind == M1 {
		tau = math.Exp(x[2])
		for j := 0; j < m.nGroups; j++ {
			if m.param == NonCentered {
				offsets = append(offsets, tau*x[3+j])
			} else {
				offsets = append(offsets, x[3+j])
			}
		}
	}

	lp := 0.0
	for i := range m.y {
		mu := slope*m.x[i] + intercept
		if m.kind == M1 {
			mu += offsets[m.group[i]]
		}
		r := m.y[i] - mu
		rw := r * m.w[i]
		lp += -0.5*r*rw + m.llConst[i]
		if grad != nil {
			grad[0] += rw * m.x[i]
			grad[1] += rw
			if m.kind == M1 {
				if m.param == NonCentered {
					// d mu / d z_j = tau; d mu / d log tau = offset_j
					grad[3+m.group[i]] += rw * tau
					grad[2] += rw * offsets[m.group[i]]
				} else {
					grad[3+m.group[i]] += rw
				}
			}
		}
	}

	// Gaussian priors on slope and intercept.
	sa, sb := m.priors.SlopeScale, m.priors.InterceptScale
	lp += -0.5*(slope/sa)*(slope/sa) - math.Log(sa) - 0.5*log2Pi
	lp += -0.5*(intercept/sb)*(intercept/sb) - math.Log(sb) - 0.5*log2Pi
	if grad != nil {
		grad[0] -= slope / (sa * sa)
		grad[1] -= intercept / (sb * sb)
	}
	if m.kind == M0 {
		return lp
	}

	// Offset population, tau prior, and the log tau Jacobian.
	if m.param == NonCentered {
		for j := 0; j < m.nGroups; j++ {
			z := x[3+j]
			lp += -0.5*z*z - 0.5*log2Pi
			if grad != nil {
				grad[3+j] -= z
			}
		}
	} else {
		for j := 0; j < m.nGroups; j++ {
			b := x[3+j]
			lp += -0.5*(b/tau)*(b/tau) - math.Log(tau) - 0.5*log2Pi
			if grad != nil {
				grad[3+j] -= b / (tau * tau)
				// chain rule through tau = exp(log tau)
				grad[2] += b*b/(tau*tau) - 1
			}
		}
	}
	tlp, tgrad := m.tauLogPrior(tau)
	lp += tlp + x[2] // + log tau Jacobian
	if grad != nil {
		grad[2] += tgrad*tau + 1
	}
	return lp
}

// MeanAt is the linear predictor for observation i given constrained
// parameters theta.
func (m *Model) MeanAt(theta []float64, i int) float64 {
	mu := theta[0]*m.x[i] + theta[1]
	if m.kind == M1 {
		mu += theta[3+m.group[i]]
	}
	return mu
}

// PointwiseLogLik writes the per-observation log likelihood at constrained
// parameters theta into out (length NumObs). This is the input to the
// cross-validated predictive comparison.
func (m *Model) PointwiseLogLik(theta []float64, out []float64) {
	for i := range m.y {
		r := m.y[i] - m.MeanAt(theta, i)
		out[i] = m.llConst[i] - 0.5*r*r*m.w[i]
	}
}
