package wallet

const (
	operationPlay         = "play"
	operationRollback     = "rollback"
	operationTransactions = "transactions"
	operationUserInfo     = "user_info"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusReplayed = "replayed"
)
