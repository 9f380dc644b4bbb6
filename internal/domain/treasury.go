package domain

import "context"

// NativeToken selects the dispatcher's native balance in Treasury calls.
const NativeToken = ""

// Treasury holds the balances in custody of the dispatcher.
type Treasury interface {
	Balance(ctx context.Context, token string) (uint64, error)
	// Transfer moves amount of token to the given account. It either moves
	// the whole amount or fails without changing any balance.
	Transfer(ctx context.Context, token, to string, amount uint64) error
}
