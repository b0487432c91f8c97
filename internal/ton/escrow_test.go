package ton

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func testParams(t *testing.T, dealID uuid.UUID) EscrowParams {
	t.Helper()
	adv, err := address.ParseAddr("EQAWzEKcdnykvXfUNouqdS62tvrp32bCxuKS6eQrS6ISgcLo")
	if err != nil {
		t.Fatal(err)
	}
	own, err := address.ParseAddr("EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N")
	if err != nil {
		t.Fatal(err)
	}
	return EscrowParams{
		DealID:     dealID,
		Advertiser: adv,
		Owner:      own,
		Platform:   adv,
		AmountNano: big.NewInt(5_000_000_000),
		FeePercent: 5,
	}
}

func testCode() *cell.Cell {
	return cell.BeginCell().MustStoreUInt(0xC0DE, 32).EndCell()
}

func TestContractAddressDeterministic(t *testing.T) {
	dealID := uuid.New()
	p := testParams(t, dealID)
	code := testCode()

	a1, _, err := ContractAddress(code, p)
	if err != nil {
		t.Fatal(err)
	}
	a2, _, err := ContractAddress(code, p)
	if err != nil {
		t.Fatal(err)
	}
	if a1.String() != a2.String() {
		t.Errorf("same params produced different addresses: %s vs %s", a1, a2)
	}

	p2 := testParams(t, uuid.New())
	a3, _, err := ContractAddress(code, p2)
	if err != nil {
		t.Fatal(err)
	}
	if a3.String() == a1.String() {
		t.Error("different deals produced the same contract address")
	}
}

func TestStateInitBOC(t *testing.T) {
	p := testParams(t, uuid.New())
	_, state, err := ContractAddress(testCode(), p)
	if err != nil {
		t.Fatal(err)
	}
	boc, err := StateInitBOC(state)
	if err != nil {
		t.Fatal(err)
	}
	if boc == "" {
		t.Error("empty state init boc")
	}
}

func TestTONToNano(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1", 1_000_000_000, false},
		{"5.5", 5_500_000_000, false},
		{"0.000000001", 1, false},
		{" 2.25 ", 2_250_000_000, false},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := TONToNano(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("TONToNano(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("TONToNano(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got.Int64() != tt.want {
			t.Errorf("TONToNano(%q) = %d, want %d", tt.in, got.Int64(), tt.want)
		}
	}
}

func TestNanoToTON(t *testing.T) {
	if s := NanoToTON(big.NewInt(5_500_000_000)); s != "5.5" {
		t.Errorf("NanoToTON(5.5 TON) = %q", s)
	}
	if s := NanoToTON(big.NewInt(1)); s != "0.000000001" {
		t.Errorf("NanoToTON(1 nano) = %q", s)
	}
}

func TestDepositCovers(t *testing.T) {
	expected := big.NewInt(10_000_000_000) // 10 TON
	if !DepositCovers(big.NewInt(10_000_000_000), expected, 10) {
		t.Error("exact amount should cover")
	}
	if !DepositCovers(big.NewInt(9_000_000_000), expected, 10) {
		t.Error("10 percent gas tolerance should cover 9 TON")
	}
	if DepositCovers(big.NewInt(8_900_000_000), expected, 10) {
		t.Error("8.9 TON must not cover 10 TON at 10 percent tolerance")
	}
}

func TestTriggerBody(t *testing.T) {
	body := TriggerBody(ReleaseOpcode, 42)
	s := body.BeginParse()
	op, err := s.LoadUInt(32)
	if err != nil {
		t.Fatal(err)
	}
	if op != ReleaseOpcode {
		t.Errorf("opcode = %#x, want %#x", op, ReleaseOpcode)
	}
	q, err := s.LoadUInt(64)
	if err != nil {
		t.Fatal(err)
	}
	if q != 42 {
		t.Errorf("query id = %d, want 42", q)
	}
}
