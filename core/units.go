package core

import "fmt"

// MoveUnits transfers amount units of classID between two principals on the
// unit ledger. It is the single primitive both the ledger module and market
// settlement use, so unit conservation holds everywhere by construction.
func MoveUnits(st State, classID uint64, from, to string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("unit transfer amount must be > 0")
	}
	fromBal, err := st.GetHolding(classID, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("insufficient units of class %d: have %d need %d", classID, fromBal, amount)
	}
	toBal, err := st.GetHolding(classID, to)
	if err != nil {
		return err
	}
	if err := st.SetHolding(classID, from, fromBal-amount); err != nil {
		return err
	}
	return st.SetHolding(classID, to, toBal+amount)
}
