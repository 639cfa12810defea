package ledger

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/parimutuel/internal/models"
)

func TestLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, "alice", 100))

	tests := []struct {
		name      string
		amount    int64
		expectErr error
		alice     int64
		bob       int64
	}{
		{name: "Success", amount: 40, alice: 60, bob: 40},
		{name: "ZeroIsNoop", amount: 0, alice: 60, bob: 40},
		{name: "InsufficientBalance", amount: 61, expectErr: models.ErrInsufficientBalance, alice: 60, bob: 40},
		{name: "Negative", amount: -1, expectErr: models.ErrInvalidAmount, alice: 60, bob: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Transfer(ctx, "alice", "bob", tt.amount)
			if tt.expectErr != nil {
				assert.True(t, errors.Is(err, tt.expectErr), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.alice, l.BalanceOf("alice"))
			assert.Equal(t, tt.bob, l.BalanceOf("bob"))
		})
	}
	assert.Equal(t, int64(100), l.TotalSupply())
}

func TestLedger_TransferFrom(t *testing.T) {
	ctx := context.Background()
	l := New()
	require.NoError(t, l.Mint(ctx, "alice", 100))

	err := l.TransferFrom(ctx, "vault", "alice", "vault", 10)
	assert.True(t, errors.Is(err, models.ErrInsufficientAllow))
	assert.True(t, errors.Is(err, models.ErrTransferFailed))

	require.NoError(t, l.Approve(ctx, "alice", "vault", 150))
	err = l.TransferFrom(ctx, "vault", "alice", "vault", 120)
	assert.True(t, errors.Is(err, models.ErrInsufficientBalance))
	assert.Equal(t, int64(150), l.Allowance("alice", "vault"), "failed transfer must not consume allowance")

	require.NoError(t, l.TransferFrom(ctx, "vault", "alice", "vault", 70))
	assert.Equal(t, int64(80), l.Allowance("alice", "vault"))
	assert.Equal(t, int64(30), l.BalanceOf("alice"))
	assert.Equal(t, int64(70), l.BalanceOf("vault"))
}

func TestLedger_Mint(t *testing.T) {
	ctx := context.Background()
	l := New()
	assert.True(t, errors.Is(l.Mint(ctx, "alice", 0), models.ErrValidation))
	require.NoError(t, l.Mint(ctx, "alice", maxSupply))
	assert.True(t, errors.Is(l.Mint(ctx, "bob", 1), models.ErrOverflow))
}
