package stoken

import (
	"math/big"
	"testing"

	"covernet/crypto"
)

func testAddr(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestMintBurnTransfer(t *testing.T) {
	ledger := NewLedger()
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	if err := ledger.Mint(alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.Burn(bob, big.NewInt(100)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if got := ledger.BalanceOf(alice); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance %s, want 600", got)
	}
	if got := ledger.BalanceOf(bob); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("bob balance %s, want 300", got)
	}
	if got := ledger.TotalSupply(); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("total supply %s, want 900", got)
	}

	if err := ledger.Transfer(bob, alice, big.NewInt(10_000)); err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if err := ledger.Burn(alice, big.NewInt(0)); err == nil {
		t.Fatal("expected invalid amount error")
	}
}

func TestSnapshotIsolatesLaterChanges(t *testing.T) {
	ledger := NewLedger()
	alice := testAddr(0x01)
	bob := testAddr(0x02)

	if err := ledger.Mint(alice, big.NewInt(700)); err != nil {
		t.Fatalf("mint alice: %v", err)
	}
	if err := ledger.Mint(bob, big.NewInt(300)); err != nil {
		t.Fatalf("mint bob: %v", err)
	}

	snapshot := ledger.Snapshot()

	// Post-snapshot churn must not leak into historical lookups.
	if err := ledger.Transfer(alice, bob, big.NewInt(700)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.Mint(bob, big.NewInt(5000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	aliceAt, err := ledger.BalanceOfAt(alice, snapshot)
	if err != nil {
		t.Fatalf("alice at snapshot: %v", err)
	}
	if aliceAt.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("alice snapshot balance %s, want 700", aliceAt)
	}
	supplyAt, err := ledger.TotalSupplyAt(snapshot)
	if err != nil {
		t.Fatalf("supply at snapshot: %v", err)
	}
	if supplyAt.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("snapshot supply %s, want 1000", supplyAt)
	}
	if got := ledger.BalanceOf(bob); got.Cmp(big.NewInt(6000)) != 0 {
		t.Fatalf("bob live balance %s, want 6000", got)
	}
}

func TestSnapshotWithoutSubsequentChangeReadsLiveValue(t *testing.T) {
	ledger := NewLedger()
	alice := testAddr(0x01)

	if err := ledger.Mint(alice, big.NewInt(42)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	snapshot := ledger.Snapshot()

	balance, err := ledger.BalanceOfAt(alice, snapshot)
	if err != nil {
		t.Fatalf("balance at snapshot: %v", err)
	}
	if balance.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("snapshot balance %s, want 42", balance)
	}
}

func TestMultipleSnapshots(t *testing.T) {
	ledger := NewLedger()
	alice := testAddr(0x01)

	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	first := ledger.Snapshot()
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	second := ledger.Snapshot()
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	atFirst, err := ledger.BalanceOfAt(alice, first)
	if err != nil {
		t.Fatalf("balance at first: %v", err)
	}
	if atFirst.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("first snapshot balance %s, want 100", atFirst)
	}
	atSecond, err := ledger.BalanceOfAt(alice, second)
	if err != nil {
		t.Fatalf("balance at second: %v", err)
	}
	if atSecond.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("second snapshot balance %s, want 200", atSecond)
	}

	if _, err := ledger.BalanceOfAt(alice, 99); err == nil {
		t.Fatal("expected unknown snapshot error")
	}
	if _, err := ledger.TotalSupplyAt(0); err == nil {
		t.Fatal("expected unknown snapshot error for id 0")
	}
}
