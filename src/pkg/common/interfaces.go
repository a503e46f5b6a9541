package common

// ITxnRollbacker undoes every effect of a transaction and releases its
// locks. The lock manager aborts deadlock and timeout victims through it.
type ITxnRollbacker interface {
	RollbackTransaction(txnID TxnID) error
}

// ILockReleaser drops every lock (granted or waiting) a transaction owns.
type ILockReleaser interface {
	ReleaseAllLocks(txnID TxnID)
}
