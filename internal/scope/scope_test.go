package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/issueindex/internal/entity"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
)

func projects() []*entity.Project {
	return []*entity.Project{
		{ID: 1, Key: "ALPHA", Name: "Alpha"},
		{ID: 2, Key: "BETA", Name: "Beta"},
		{ID: 3, Key: "GAMMA", Name: "Gamma", Lead: "alice"},
	}
}

func keys(ps []*entity.Project) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Key)
	}
	return out
}

func TestCompile_EmptyMatchesAll(t *testing.T) {
	f, err := Compile("   ")
	require.NoError(t, err)
	assert.True(t, f.MatchesAll())

	got, err := f.Apply(projects())
	require.NoError(t, err)
	assert.Len(t, got, 3)

	var nilFilter *Filter
	assert.True(t, nilFilter.MatchesAll())
	assert.Equal(t, "", nilFilter.String())
}

func TestFilter_Apply(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{`project.key in ["ALPHA", "GAMMA"]`, []string{"ALPHA", "GAMMA"}},
		{`project.id > 1`, []string{"BETA", "GAMMA"}},
		{`project.lead == "alice"`, []string{"GAMMA"}},
		{`project.name.startsWith("B")`, []string{"BETA"}},
		{`false`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := Compile(tt.expr)
			require.NoError(t, err)

			got, err := f.Apply(projects())
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys(got))
		})
	}
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile(`project.key ==`)
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeInvalidScope, ierrors.GetCode(err))
}

func TestFilter_NonBooleanResult(t *testing.T) {
	f, err := Compile(`project.key`)
	require.NoError(t, err)

	_, err = f.Match(projects()[0])
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeInvalidScope, ierrors.GetCode(err))
}
