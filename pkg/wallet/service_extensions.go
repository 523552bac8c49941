package wallet

import "context"

// Transactions returns the user's full transaction history, newest first.
func (service *Service) Transactions(ctx context.Context, userID UserID) ([]Transaction, error) {
	if _, err := service.directory.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	transactions, err := service.store.ListTransactions(ctx, userID)
	service.logOperation(ctx, OperationLog{
		Operation: operationTransactions,
		UserID:    userID,
		Actions:   len(transactions),
		Error:     err,
	})
	return transactions, err
}

// UserInfo returns the user profile with the current balance.
func (service *Service) UserInfo(ctx context.Context, userID UserID) (User, error) {
	user, err := service.directory.GetUserByID(ctx, userID)
	service.logOperation(ctx, OperationLog{
		Operation: operationUserInfo,
		UserID:    userID,
		Balance:   user.BalanceUnits,
		Error:     err,
	})
	return user, err
}
