package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSVFromReader(t *testing.T) {
	input := `region,observed,background,bg_error,signal
# comment rows are skipped
SR1,12,10.5,2.0,3.2
SR2,3,4.1,1.1,0.8
,0,0.5,0.3,
`
	regions, err := LoadCSVFromReader(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, regions, 3)

	assert.Equal(t, "SR1", regions[0].Name)
	assert.Equal(t, []float64{12}, regions[0].Observed)
	assert.Equal(t, []float64{10.5}, regions[0].Background)
	assert.InDelta(t, 4.0, regions[0].Covariance[0][0], 1e-12)
	assert.Equal(t, []float64{3.2}, regions[0].Signal)

	assert.Equal(t, "SR3", regions[2].Name)
	assert.Equal(t, []float64{0}, regions[2].Signal)

	for _, r := range regions {
		_, err := New(r)
		assert.NoError(t, err, "region %s", r.Name)
	}
}

func TestLoadCSVFromReaderCustomColumns(t *testing.T) {
	input := "n;b;db;s\n7;6;1;2\n"
	opts := &CSVOptions{
		ObservedColumn:   "n",
		BackgroundColumn: "b",
		ErrorColumn:      "db",
		SignalColumn:     "s",
		Delimiter:        ';',
	}
	regions, err := LoadCSVFromReader(strings.NewReader(input), opts)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, []float64{7}, regions[0].Observed)
	assert.Equal(t, "SR1", regions[0].Name)
}

func TestLoadCSVFromReaderErrors(t *testing.T) {
	_, err := LoadCSVFromReader(strings.NewReader("observed,background\n1,2\n"), nil)
	assert.Error(t, err)

	_, err = LoadCSVFromReader(strings.NewReader("observed,background,bg_error\n"), nil)
	assert.Error(t, err)

	_, err = LoadCSVFromReader(strings.NewReader("observed,background,bg_error\nx,1,1\n"), nil)
	assert.Error(t, err)
}

func TestCombine(t *testing.T) {
	regions := []Data{
		{Name: "a", Observed: []float64{1}, Background: []float64{2}, Covariance: [][]float64{{0.25}}, Signal: []float64{1}},
		{Name: "b", Observed: []float64{3}, Background: []float64{4}, Covariance: [][]float64{{1}}},
	}
	joint, err := Combine("joint", regions)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 3}, joint.Observed)
	assert.Equal(t, []float64{2, 4}, joint.Background)
	assert.Equal(t, []float64{1, 0}, joint.Signal)
	assert.Equal(t, [][]float64{{0.25, 0}, {0, 1}}, joint.Covariance)

	m, err := New(joint)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
}

func TestCombineThirdMoments(t *testing.T) {
	regions := []Data{
		{Name: "a", Observed: []float64{1}, Background: []float64{2}, Covariance: [][]float64{{1}}},
		{Name: "b", Observed: []float64{3}, Background: []float64{4}, Covariance: [][]float64{{4}}, ThirdMoment: []float64{0.5}, DeltasRel: 0.1, Lumi: 139},
		{Name: "c", Observed: []float64{5}, Background: []float64{6}, Covariance: [][]float64{{9}}},
	}
	joint, err := Combine("joint", regions)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 0}, joint.ThirdMoment)
	assert.Equal(t, 0.1, joint.DeltasRel)
	assert.Equal(t, 139.0, joint.Lumi)

	regions[1].ThirdMoment = []float64{1, 2}
	_, err = Combine("bad", regions)
	assert.ErrorIs(t, err, ErrInvalidModel)
}
