package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthicalDomainCatalog(t *testing.T) {
	domains := EthicalDomains()
	require.Len(t, domains, 12)
	circles := map[Circle]int{}
	for _, d := range domains {
		info, ok := d.Info()
		require.True(t, ok, d)
		assert.NotEmpty(t, info.Label)
		circles[info.Circle]++
	}
	assert.Len(t, circles, 3)
	assert.False(t, EthicalDomain("privacy").Valid())
}

func TestRanksRejectUnknownValues(t *testing.T) {
	assert.True(t, DecisionAuto.AtLeast(DecisionAssisted))
	assert.False(t, DecisionRecommendation.AtLeast(DecisionAssisted))
	assert.False(t, DecisionType("SOMETIMES").AtLeast(DecisionInformative))
	assert.True(t, ScaleVeryLarge.AtLeast(ScaleLarge))
	assert.False(t, UserScale("").AtLeast(ScaleTiny))
	assert.False(t, Sensitivity("").AtLeast(SensitivityStandard))
	assert.True(t, SensitivityHighlySensitive.AtLeast(SensitivitySensitive))
}

func TestEdgeDimensions(t *testing.T) {
	high, low := 9, -1
	e := Edge{Opacity: &high, Agentivity: &low}

	v, ok := e.Dimension(DimOpacity)
	require.True(t, ok)
	assert.Equal(t, MaxDimension, v)

	v, ok = e.Dimension(DimAgentivity)
	require.True(t, ok)
	assert.Equal(t, MinDimension, v)

	_, ok = e.Dimension(DimScalability)
	assert.False(t, ok)
	assert.False(t, e.DimensionAtLeast(DimScalability, 1))
	assert.True(t, e.DimensionAtLeast(DimOpacity, 4))
}

func TestTensionTransitions(t *testing.T) {
	tests := []struct {
		from, to TensionStatus
		want     bool
	}{
		{TensionDetected, TensionQualified, true},
		{TensionQualified, TensionArbitrated, true},
		{TensionInProgress, TensionResolved, true},
		{TensionArbitrated, TensionInProgress, true},
		{TensionDismissed, TensionDetected, true},
		{TensionResolved, TensionDetected, false},
		{TensionDetected, TensionResolved, false},
		{TensionQualified, TensionDetected, false},
		{"UNKNOWN", TensionDetected, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.False(t, TensionDismissed.Active())
	assert.True(t, TensionResolved.Active())
	assert.True(t, TensionArbitrated.Settled())
	assert.False(t, TensionQualified.Settled())
}

func TestActionStatusNormalize(t *testing.T) {
	cases := map[ActionStatus]ActionStatus{
		"done":        ActionDone,
		" Completed ": ActionDone,
		"in progress": ActionInProgress,
		"in-progress": ActionInProgress,
		"ongoing":     ActionInProgress,
		"planned":     ActionTodo,
		"TODO":        ActionTodo,
		"WAITING":     "WAITING",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, in.Normalize(), "normalize %q", in)
	}
}
