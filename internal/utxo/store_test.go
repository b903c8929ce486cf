package utxo

import (
	"testing"

	"github.com/zion-chain/zion-node/internal/storage"
	"github.com/zion-chain/zion-node/pkg/crypto"
	"github.com/zion-chain/zion-node/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemory())
}

func makeOutpoint(data string, index uint32) types.Outpoint {
	return types.Outpoint{
		TxID:  crypto.Hash([]byte(data)),
		Index: index,
	}
}

var testAddr = types.Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	0x11, 0x12, 0x13, 0x14}

func makeUTXO(data string, index uint32, value uint64) *UTXO {
	return &UTXO{
		Outpoint: makeOutpoint(data, index),
		Value:    value,
		Address:  testAddr,
		Height:   1,
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 5000)

	err := s.Put(u)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := s.Get(u.Outpoint)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if got.Value != u.Value {
		t.Errorf("Value = %d, want %d", got.Value, u.Value)
	}
	if got.Outpoint != u.Outpoint {
		t.Error("Outpoint mismatch")
	}
	if got.Height != u.Height {
		t.Errorf("Height = %d, want %d", got.Height, u.Height)
	}
	if got.Address != u.Address {
		t.Error("Address mismatch")
	}
}

func TestStore_GetNonexistent(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(makeOutpoint("missing", 0))
	if err == nil {
		t.Error("Get() for nonexistent UTXO should return error")
	}
}

func TestStore_Has(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("Has() should be false before Put()")
	}

	s.Put(u)

	ok, err := s.Has(u.Outpoint)
	if err != nil {
		t.Fatalf("Has() error: %v", err)
	}
	if !ok {
		t.Error("Has() should be true after Put()")
	}
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("tx1", 0, 1000)

	s.Put(u)

	err := s.Delete(u.Outpoint)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("UTXO should be gone after Delete()")
	}
}

func TestStore_MultipleOutputs(t *testing.T) {
	s := testStore(t)

	// Same tx, different output indices.
	u0 := makeUTXO("tx1", 0, 1000)
	u1 := makeUTXO("tx1", 1, 2000)
	u2 := makeUTXO("tx1", 2, 3000)

	s.Put(u0)
	s.Put(u1)
	s.Put(u2)

	got0, _ := s.Get(u0.Outpoint)
	got1, _ := s.Get(u1.Outpoint)
	got2, _ := s.Get(u2.Outpoint)

	if got0.Value != 1000 || got1.Value != 2000 || got2.Value != 3000 {
		t.Error("values mismatch for multi-output tx")
	}

	// Delete middle one.
	s.Delete(u1.Outpoint)

	ok, _ := s.Has(u1.Outpoint)
	if ok {
		t.Error("deleted output should be gone")
	}

	// Others should remain.
	ok0, _ := s.Has(u0.Outpoint)
	ok2, _ := s.Has(u2.Outpoint)
	if !ok0 || !ok2 {
		t.Error("non-deleted outputs should remain")
	}
}

func TestStore_ImplementsSet(t *testing.T) {
	// Compile-time check that Store satisfies Set.
	var _ Set = (*Store)(nil)
}

func TestStore_GetByAddress(t *testing.T) {
	s := testStore(t)

	addr1 := types.Address{0xaa}
	addr2 := types.Address{0xbb}

	u1 := &UTXO{Outpoint: makeOutpoint("a1", 0), Value: 1000, Address: addr1}
	u2 := &UTXO{Outpoint: makeOutpoint("a2", 0), Value: 2000, Address: addr1}
	u3 := &UTXO{Outpoint: makeOutpoint("b1", 0), Value: 3000, Address: addr2}

	s.Put(u1)
	s.Put(u2)
	s.Put(u3)

	got1, err := s.GetByAddress(addr1)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got1) != 2 {
		t.Fatalf("addr1: got %d utxos, want 2", len(got1))
	}

	got2, err := s.GetByAddress(addr2)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got2) != 1 {
		t.Fatalf("addr2: got %d utxos, want 1", len(got2))
	}
}

func TestStore_GetByAddress_DeleteRemovesIndex(t *testing.T) {
	s := testStore(t)
	addr := types.Address{0xcc}

	u := &UTXO{Outpoint: makeOutpoint("c1", 0), Value: 1000, Address: addr}
	s.Put(u)

	got, _ := s.GetByAddress(addr)
	if len(got) != 1 {
		t.Fatalf("expected 1 utxo before delete, got %d", len(got))
	}

	if err := s.Delete(u.Outpoint); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	got, err := s.GetByAddress(addr)
	if err != nil {
		t.Fatalf("GetByAddress() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("GetByAddress() returned %d after delete, want 0", len(got))
	}
}

func TestStore_GetByAddressPaginated(t *testing.T) {
	s := testStore(t)
	addr := types.Address{0xdd}

	for i := 0; i < 5; i++ {
		u := &UTXO{
			Outpoint: makeOutpoint("page", uint32(i)),
			Value:    uint64(1000 * (i + 1)),
			Address:  addr,
		}
		s.Put(u)
	}

	page1, err := s.GetByAddressPaginated(addr, 2, 0)
	if err != nil {
		t.Fatalf("GetByAddressPaginated() error: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page1: got %d, want 2", len(page1))
	}

	page2, err := s.GetByAddressPaginated(addr, 2, 2)
	if err != nil {
		t.Fatalf("GetByAddressPaginated() error: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page2: got %d, want 2", len(page2))
	}

	page3, err := s.GetByAddressPaginated(addr, 2, 4)
	if err != nil {
		t.Fatalf("GetByAddressPaginated() error: %v", err)
	}
	if len(page3) != 1 {
		t.Fatalf("page3: got %d, want 1", len(page3))
	}
}

func TestStore_ForEach(t *testing.T) {
	s := testStore(t)
	s.Put(makeUTXO("f1", 0, 1000))
	s.Put(makeUTXO("f2", 0, 2000))

	var total uint64
	count := 0
	err := s.ForEach(func(u *UTXO) error {
		total += u.Value
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach() error: %v", err)
	}
	if count != 2 {
		t.Errorf("ForEach visited %d, want 2", count)
	}
	if total != 3000 {
		t.Errorf("total = %d, want 3000", total)
	}
}

func TestStore_ClearAll(t *testing.T) {
	s := testStore(t)
	u := makeUTXO("clear", 0, 1000)
	s.Put(u)

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll() error: %v", err)
	}

	ok, _ := s.Has(u.Outpoint)
	if ok {
		t.Error("UTXO should be gone after ClearAll()")
	}
}
