package params

import (
	"testing"

	"github.com/nvandessel/abm/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, "unnamed", p.Name)
	assert.Equal(t, 0, p.BeginIteration)
	assert.Equal(t, 365, p.EndIteration)
	assert.Equal(t, 100, p.Agents)
	assert.Equal(t, 10, p.Replicates)
	assert.Equal(t, Homogeneous, p.Exposure)
	assert.Equal(t, 0.004, p.Beta)
	assert.Nil(t, p.Seed)
	require.NoError(t, p.Validate())
}

func TestSetParameter(t *testing.T) {
	p := Default()

	require.NoError(t, p.SetParameter("beta:0.5"))
	assert.Equal(t, 0.5, p.Beta)
	assert.Equal(t, Homogeneous, p.Exposure)

	require.NoError(t, p.SetParameter("contacts:20"))
	assert.Equal(t, 20, p.ContactsPerIteration)
	assert.Equal(t, RandomContacts, p.Exposure)

	require.NoError(t, p.SetParameter("isolation:0.1"))
	assert.Equal(t, 0.1, p.IsolationProb)
}

func TestSetParameter_ZeroContactsKeepsStrategy(t *testing.T) {
	p := Default()
	require.NoError(t, p.SetParameter("contacts:0"))
	assert.Equal(t, Homogeneous, p.Exposure)
}

func TestSetParameter_Errors(t *testing.T) {
	tests := []struct {
		arg  string
		want error
	}{
		{arg: "beta", want: ErrMalformedParameter},
		{arg: ":0.5", want: ErrMalformedParameter},
		{arg: "beta:abc", want: ErrMalformedParameter},
		{arg: "gamma:0.1", want: ErrUnknownParameter},
		{arg: "contacts:1e20", want: ErrMalformedParameter},
		{arg: "contacts:2.5", want: ErrMalformedParameter},
		{arg: "contacts:-3", want: ErrMalformedParameter},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			p := Default()
			assert.ErrorIs(t, p.SetParameter(tt.arg), tt.want)
		})
	}
}

func TestSetTransition(t *testing.T) {
	p := Default()

	require.NoError(t, p.SetTransition("SD:0.5"))
	assert.Equal(t, 0.5, p.Risks.At(models.Susceptible, models.Dead))

	require.NoError(t, p.SetTransition("YV:0.2"))
	assert.Equal(t, 0.2, p.Risks.At(models.InfectiousSymptomatic, models.Vaccinated))
}

func TestSetTransition_Errors(t *testing.T) {
	tests := []struct {
		arg  string
		want error
	}{
		{arg: "SDX:0.5", want: ErrMalformedTransition},
		{arg: "S:0.5", want: ErrMalformedTransition},
		{arg: "SD", want: ErrMalformedTransition},
		{arg: "SD:x", want: ErrMalformedTransition},
		{arg: "SQ:0.5", want: models.ErrUnknownState},
		{arg: "QS:0.5", want: models.ErrUnknownState},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			p := Default()
			assert.ErrorIs(t, p.SetTransition(tt.arg), tt.want)
		})
	}
}

func TestSetTransition_CorruptMatrix(t *testing.T) {
	p := Default()
	p.Risks = append(p.Risks, 0)
	assert.ErrorIs(t, p.SetTransition("SD:0.5"), models.ErrMatrixSize)
}

func TestSetModel(t *testing.T) {
	p := Default()
	p.Risks.Set(models.Susceptible, models.Dead, 1)

	require.NoError(t, p.SetModel("covid"))
	assert.Len(t, p.Risks, models.RiskMatrixSize)
	assert.Equal(t, 0.0000273973, p.Risks.At(models.Susceptible, models.Dead))

	assert.ErrorIs(t, p.SetModel("flu"), ErrUnknownModel)
}

func TestClone_Independent(t *testing.T) {
	seed := uint64(9)
	p := Default()
	p.Seed = &seed

	c := p.Clone()
	c.Risks.Set(models.Exposed, models.Dead, 1)
	c.Proportions[0].Fraction = 0.5
	*c.Seed = 10

	assert.NotEqual(t, 1.0, p.Risks.At(models.Exposed, models.Dead))
	assert.Equal(t, 0.99, p.Proportions[0].Fraction)
	assert.Equal(t, uint64(9), *p.Seed)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Parameters)
	}{
		{"zero agents", func(p *Parameters) { p.Agents = 0 }},
		{"negative agents", func(p *Parameters) { p.Agents = -5 }},
		{"zero replicates", func(p *Parameters) { p.Replicates = 0 }},
		{"end before begin", func(p *Parameters) { p.BeginIteration = 10; p.EndIteration = 5 }},
		{"negative beta", func(p *Parameters) { p.Beta = -0.1 }},
		{"isolation above one", func(p *Parameters) { p.IsolationProb = 1.5 }},
		{"random contacts without contacts", func(p *Parameters) { p.Exposure = RandomContacts }},
		{"unknown exposure", func(p *Parameters) { p.Exposure = "network" }},
		{"negative fraction", func(p *Parameters) { p.Proportions[0].Fraction = -0.1 }},
		{"proportions above one", func(p *Parameters) { p.Proportions[1].Fraction = 0.5 }},
		{"bad risk", func(p *Parameters) { p.Risks.Set(models.Exposed, models.Dead, 2) }},
		{"name with comma", func(p *Parameters) { p.Name = "a,b" }},
		{"name with newline", func(p *Parameters) { p.Name = "a,b\nA,x" }},
		{"name with carriage return", func(p *Parameters) { p.Name = "a\rb" }},
		{"homogeneous with contacts", func(p *Parameters) { p.ContactsPerIteration = 8 }},
		{"negative contacts", func(p *Parameters) { p.ContactsPerIteration = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParameters)
		})
	}
}

func TestValidate_MatrixSize(t *testing.T) {
	p := Default()
	p.Risks = p.Risks[:10]
	err := p.Validate()
	assert.ErrorIs(t, err, ErrInvalidParameters)
	assert.ErrorIs(t, err, models.ErrMatrixSize)
}

func TestInitialCounts(t *testing.T) {
	tests := []struct {
		name   string
		agents int
		props  []Proportion
		want   []int
	}{
		{
			name:   "default split",
			agents: 100,
			props:  []Proportion{{models.Susceptible, 0.99}, {models.Exposed, 0.01}},
			want:   []int{99, 1},
		},
		{
			name:   "remainder goes to last entry",
			agents: 10,
			props:  []Proportion{{models.Susceptible, 1.0 / 3}, {models.Exposed, 1.0 / 3}, {models.Recovered, 1.0 / 3}},
			want:   []int{3, 3, 4},
		},
		{
			name:   "partial sum leaves remainder unassigned",
			agents: 10,
			props:  []Proportion{{models.Exposed, 0.25}},
			want:   []int{2},
		},
		{
			name:   "product just below an integer",
			agents: 100,
			props:  []Proportion{{models.Exposed, 0.29}},
			want:   []int{29},
		},
		{
			name:   "ninety-ten",
			agents: 100,
			props:  []Proportion{{models.Susceptible, 0.9}, {models.InfectiousAsymptomatic, 0.1}},
			want:   []int{90, 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			p.Agents = tt.agents
			p.Proportions = tt.props
			assert.Equal(t, tt.want, p.InitialCounts())
		})
	}
}
