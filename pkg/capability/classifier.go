package capability

import "fmt"

// support is the support matrix of the facade. Every operation appears
// exactly once; see init for the totality check.
var support = [...]Classification{
	// Meaningful for one physical connection only. Generic callers treat the
	// rejection as an absent optional feature.
	OpPrepareCall:                RejectStandard,
	OpPrepareCallWithResultSet:   RejectStandard,
	OpPrepareCallWithHoldability: RejectStandard,
	OpNativeSQL:                  RejectStandard,
	OpGetTypeMap:                 RejectStandard,
	OpSetTypeMap:                 RejectStandard,
	OpCreateArrayOf:              RejectStandard,
	OpCreateBlob:                 RejectStandard,
	OpCreateClob:                 RejectStandard,
	OpCreateNClob:                RejectStandard,
	OpCreateSQLXML:               RejectStandard,
	OpCreateStruct:               RejectStandard,
	OpGetClientInfo:              RejectStandard,
	OpGetClientInfoByName:        RejectStandard,

	// Client info would reach a single shard while callers assume it applies
	// to the whole logical connection.
	OpSetClientInfo:           RejectPolicy,
	OpSetClientInfoProperties: RejectPolicy,

	OpGetNetworkTimeout: NoopAccept,
	OpSetNetworkTimeout: NoopAccept,
	OpGetHoldability:    NoopAccept,
	OpSetHoldability:    NoopAccept,
	OpGetAutoCommit:     NoopAccept,
	OpIsReadOnly:        NoopAccept,
	OpSetCatalog:        NoopAccept,
	OpSetSchema:         NoopAccept,
	OpIsClosed:          NoopAccept,
	OpClose:             NoopAccept,

	// Shards are assumed homogeneous, so any single answer stands in for all.
	OpGetCatalog:              Delegate,
	OpGetSchema:               Delegate,
	OpGetMetaData:             Delegate,
	OpGetTransactionIsolation: Delegate,
	OpGetWarnings:             Delegate,
	OpExec:                    Delegate,
	OpQuery:                   Delegate,

	OpAbort:                   Aggregate,
	OpSetAutoCommit:           Aggregate,
	OpSetReadOnly:             Aggregate,
	OpSetTransactionIsolation: Aggregate,
	OpBegin:                   Aggregate,
	OpCommit:                  Aggregate,
	OpRollback:                Aggregate,
	OpSetSavepoint:            Aggregate,
	OpRollbackToSavepoint:     Aggregate,
	OpReleaseSavepoint:        Aggregate,
	OpPing:                    Aggregate,
	OpClearWarnings:           Aggregate,

	// Diagnostic read that must see every shard.
	OpVerifyHomogeneous: Aggregate,
}

var (
	_ [len(support) - int(numOperations)]struct{}
	_ [int(numOperations) - len(support)]struct{}
)

func init() {
	for op, c := range support {
		if c == Unclassified {
			panic(fmt.Sprintf("capability: operation %s has no classification", Operation(op)))
		}
	}
}

// Classify returns the classification of op. Operations outside the fixed
// surface are Unclassified.
func Classify(op Operation) Classification {
	if !op.Valid() {
		return Unclassified
	}
	return support[op]
}

// Entry is one row of the support matrix.
type Entry struct {
	Operation      Operation
	Classification Classification
}

// Matrix returns the full support matrix in operation order.
func Matrix() []Entry {
	entries := make([]Entry, 0, numOperations)
	for _, op := range Operations() {
		entries = append(entries, Entry{Operation: op, Classification: support[op]})
	}
	return entries
}

// ByClassification returns the operations carrying classification c.
func ByClassification(c Classification) []Operation {
	var ops []Operation
	for _, op := range Operations() {
		if support[op] == c {
			ops = append(ops, op)
		}
	}
	return ops
}
