package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Total(t *testing.T) {
	ops := Operations()
	require.Len(t, ops, int(numOperations))

	for _, op := range ops {
		c := Classify(op)
		assert.NotEqual(t, Unclassified, c, "operation %s", op)
	}
}

func TestClassify_UnknownOperation(t *testing.T) {
	assert.Equal(t, Unclassified, Classify(Operation(-1)))
	assert.Equal(t, Unclassified, Classify(numOperations))
	assert.Equal(t, "unknown-operation", numOperations.String())
}

func TestClassify_ObservedSurface(t *testing.T) {
	tests := []struct {
		op   Operation
		want Classification
	}{
		{OpPrepareCall, RejectStandard},
		{OpPrepareCallWithResultSet, RejectStandard},
		{OpPrepareCallWithHoldability, RejectStandard},
		{OpNativeSQL, RejectStandard},
		{OpGetTypeMap, RejectStandard},
		{OpSetTypeMap, RejectStandard},
		{OpCreateArrayOf, RejectStandard},
		{OpCreateBlob, RejectStandard},
		{OpCreateClob, RejectStandard},
		{OpCreateNClob, RejectStandard},
		{OpCreateSQLXML, RejectStandard},
		{OpCreateStruct, RejectStandard},
		{OpGetClientInfo, RejectStandard},
		{OpGetClientInfoByName, RejectStandard},
		{OpSetClientInfo, RejectPolicy},
		{OpSetClientInfoProperties, RejectPolicy},
		{OpGetNetworkTimeout, NoopAccept},
		{OpSetNetworkTimeout, NoopAccept},
		{OpAbort, Aggregate},
		{OpGetCatalog, Delegate},
		{OpGetSchema, Delegate},
		{OpVerifyHomogeneous, Aggregate},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.op))
		})
	}
}

func TestOperationNames_UniqueAndParseable(t *testing.T) {
	seen := make(map[string]Operation)
	for _, op := range Operations() {
		name := op.String()
		require.NotEmpty(t, name)
		if prev, dup := seen[name]; dup {
			t.Fatalf("name %q used by %d and %d", name, prev, op)
		}
		seen[name] = op

		parsed, ok := ParseOperation(name)
		require.True(t, ok)
		assert.Equal(t, op, parsed)
	}

	_, ok := ParseOperation("no-such-operation")
	assert.False(t, ok)
}

func TestMatrix(t *testing.T) {
	matrix := Matrix()
	require.Len(t, matrix, int(numOperations))
	assert.Equal(t, OpPrepareCall, matrix[0].Operation)
	assert.Equal(t, RejectStandard, matrix[0].Classification)

	total := 0
	for _, c := range []Classification{Delegate, Aggregate, RejectStandard, RejectPolicy, NoopAccept} {
		total += len(ByClassification(c))
	}
	assert.Equal(t, int(numOperations), total)
	assert.Equal(t, []Operation{OpSetClientInfo, OpSetClientInfoProperties}, ByClassification(RejectPolicy))
}

func TestClassification_Predicates(t *testing.T) {
	assert.True(t, Delegate.TouchesBackend())
	assert.True(t, Aggregate.TouchesBackend())
	assert.False(t, NoopAccept.TouchesBackend())
	assert.False(t, RejectStandard.TouchesBackend())

	assert.True(t, RejectStandard.IsRejection())
	assert.True(t, RejectPolicy.IsRejection())
	assert.False(t, NoopAccept.IsRejection())

	assert.Equal(t, "REJECT_POLICY", RejectPolicy.String())
	assert.Equal(t, "UNCLASSIFIED", Unclassified.String())
}
