// Package capability holds the fixed operation surface of the sharded
// connection facade and the table that classifies every operation.
package capability

// Operation identifies one facade method-and-overload.
type Operation int

const (
	OpPrepareCall Operation = iota
	OpPrepareCallWithResultSet
	OpPrepareCallWithHoldability
	OpNativeSQL
	OpGetTypeMap
	OpSetTypeMap
	OpCreateArrayOf
	OpCreateBlob
	OpCreateClob
	OpCreateNClob
	OpCreateSQLXML
	OpCreateStruct
	OpGetClientInfo
	OpGetClientInfoByName
	OpSetClientInfo
	OpSetClientInfoProperties
	OpGetNetworkTimeout
	OpSetNetworkTimeout
	OpGetHoldability
	OpSetHoldability
	OpGetAutoCommit
	OpIsReadOnly
	OpSetCatalog
	OpSetSchema
	OpIsClosed
	OpClose
	OpGetCatalog
	OpGetSchema
	OpGetMetaData
	OpGetTransactionIsolation
	OpGetWarnings
	OpExec
	OpQuery
	OpAbort
	OpSetAutoCommit
	OpSetReadOnly
	OpSetTransactionIsolation
	OpBegin
	OpCommit
	OpRollback
	OpSetSavepoint
	OpRollbackToSavepoint
	OpReleaseSavepoint
	OpPing
	OpClearWarnings
	OpVerifyHomogeneous

	numOperations
)

var operationNames = [...]string{
	OpPrepareCall:                "prepare-call/1-arg",
	OpPrepareCallWithResultSet:   "prepare-call/3-arg",
	OpPrepareCallWithHoldability: "prepare-call/4-arg",
	OpNativeSQL:                  "native-sql",
	OpGetTypeMap:                 "get-type-map",
	OpSetTypeMap:                 "set-type-map",
	OpCreateArrayOf:              "create-array-of",
	OpCreateBlob:                 "create-blob",
	OpCreateClob:                 "create-clob",
	OpCreateNClob:                "create-nclob",
	OpCreateSQLXML:               "create-sqlxml",
	OpCreateStruct:               "create-struct",
	OpGetClientInfo:              "get-client-info/all",
	OpGetClientInfoByName:        "get-client-info/by-name",
	OpSetClientInfo:              "set-client-info/key-value",
	OpSetClientInfoProperties:    "set-client-info/map-form",
	OpGetNetworkTimeout:          "get-network-timeout",
	OpSetNetworkTimeout:          "set-network-timeout",
	OpGetHoldability:             "get-holdability",
	OpSetHoldability:             "set-holdability",
	OpGetAutoCommit:              "get-auto-commit",
	OpIsReadOnly:                 "is-read-only",
	OpSetCatalog:                 "set-catalog",
	OpSetSchema:                  "set-schema",
	OpIsClosed:                   "is-closed",
	OpClose:                      "close",
	OpGetCatalog:                 "get-catalog",
	OpGetSchema:                  "get-schema",
	OpGetMetaData:                "get-meta-data",
	OpGetTransactionIsolation:    "get-transaction-isolation",
	OpGetWarnings:                "get-warnings",
	OpExec:                       "exec",
	OpQuery:                      "query",
	OpAbort:                      "abort",
	OpSetAutoCommit:              "set-auto-commit",
	OpSetReadOnly:                "set-read-only",
	OpSetTransactionIsolation:    "set-transaction-isolation",
	OpBegin:                      "begin",
	OpCommit:                     "commit",
	OpRollback:                   "rollback",
	OpSetSavepoint:               "set-savepoint",
	OpRollbackToSavepoint:        "rollback-to-savepoint",
	OpReleaseSavepoint:           "release-savepoint",
	OpPing:                       "ping",
	OpClearWarnings:              "clear-warnings",
	OpVerifyHomogeneous:          "verify-homogeneous",
}

// Both tables must cover every operation; a mismatch does not compile.
var (
	_ [len(operationNames) - int(numOperations)]struct{}
	_ [int(numOperations) - len(operationNames)]struct{}
)

// String returns the stable operation name.
func (op Operation) String() string {
	if !op.Valid() {
		return "unknown-operation"
	}
	return operationNames[op]
}

// Valid reports whether op belongs to the fixed surface.
func (op Operation) Valid() bool {
	return op >= 0 && op < numOperations
}

// Operations returns every operation in declaration order.
func Operations() []Operation {
	ops := make([]Operation, 0, numOperations)
	for op := Operation(0); op < numOperations; op++ {
		ops = append(ops, op)
	}
	return ops
}

// ParseOperation looks an operation up by its stable name.
func ParseOperation(name string) (Operation, bool) {
	for op, n := range operationNames {
		if n == name {
			return Operation(op), true
		}
	}
	return 0, false
}
