package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestForUserReturnsSameMutexPerUser(test *testing.T) {
	test.Parallel()
	locks := newUserLocks()
	first := locks.forUser(mustUserID(test, "user-1"))
	second := locks.forUser(mustUserID(test, "user-1"))
	other := locks.forUser(mustUserID(test, "user-2"))
	if first != second {
		test.Fatalf("expected the same mutex for one user")
	}
	if first == other {
		test.Fatalf("expected distinct mutexes for distinct users")
	}
}

func TestConcurrentBetsNeverOverdraft(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test, "user-1")
	service := mustNewService(test, store, directory)
	userID := mustUserID(test, "user-1")
	if err := store.SetInitialBalance(context.Background(), userID, mustAmount(test, 100)); err != nil {
		test.Fatalf("seed balance: %v", err)
	}

	const attempts = 20
	var waitGroup sync.WaitGroup
	results := make([]error, attempts)
	for index := 0; index < attempts; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			_, err := service.ProcessPlay(context.Background(), playRequest(test, "user-1",
				betAction(test, fmt.Sprintf("bet-%d", slot), 10),
			))
			results[slot] = err
		}(index)
	}
	waitGroup.Wait()

	applied := 0
	for _, err := range results {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ErrInsufficientFunds):
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if applied != 10 {
		test.Fatalf("expected exactly 10 bets to fit a balance of 100, got %d", applied)
	}
	if store.balances["user-1"] != 0 {
		test.Fatalf("expected balance drained to 0, got %d", store.balances["user-1"])
	}
}
