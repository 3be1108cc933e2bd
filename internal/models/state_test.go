package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStateAbbreviations(t *testing.T) {
	want := "SEAYHIVRD"
	require.Len(t, AllStates(), NumStates)
	for i, s := range AllStates() {
		assert.Equal(t, want[i], s.Abbr(), "abbr for %s", s)

		got, err := StateFromAbbr(want[i])
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestStateFromAbbr_Unknown(t *testing.T) {
	for _, c := range []byte{'X', 's', '0', ' '} {
		_, err := StateFromAbbr(c)
		assert.ErrorIs(t, err, ErrUnknownState, "char %q", c)
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    State
		wantErr bool
	}{
		{in: "Y", want: InfectiousSymptomatic},
		{in: "INFECTIOUS_ICU", want: InfectiousICU},
		{in: "recovered", want: Recovered},
		{in: " D ", want: Dead},
		{in: "zombie", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseState(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownState)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsInfectious(t *testing.T) {
	infectious := map[State]bool{
		InfectiousAsymptomatic: true,
		InfectiousSymptomatic:  true,
		InfectiousHospitalized: true,
		InfectiousICU:          true,
	}
	for _, s := range AllStates() {
		assert.Equal(t, infectious[s], s.IsInfectious(), s.String())
	}
}

func TestStateYAML(t *testing.T) {
	var doc struct {
		States []State `yaml:"states"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("states: [S, exposed, I]\n"), &doc))
	assert.Equal(t, []State{Susceptible, Exposed, InfectiousICU}, doc.States)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "SUSCEPTIBLE")
	assert.Contains(t, string(out), "INFECTIOUS_ICU")

	err = yaml.Unmarshal([]byte("states: [Q]\n"), &doc)
	assert.ErrorIs(t, err, ErrUnknownState)
}
