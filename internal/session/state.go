package session

import (
	"github.com/danmuck/bankwire/internal/ledger"
	"github.com/danmuck/bankwire/internal/protocol/schema"
)

// State is either unauthenticated or authenticated with a bound account
// snapshot. The zero value is unauthenticated.
type State struct {
	phase   schema.Phase
	account ledger.Account
}

func Unauthenticated() State {
	return State{phase: schema.PhaseUnauthenticated}
}

func Authenticated(acct ledger.Account) State {
	return State{phase: schema.PhaseAuthenticated, account: acct}
}

func (s State) Phase() schema.Phase { return s.phase }

// Account returns the bound snapshot when authenticated.
func (s State) Account() (ledger.Account, bool) {
	if s.phase != schema.PhaseAuthenticated {
		return ledger.Account{}, false
	}
	return s.account, true
}

// Refresh replaces the bound snapshot, keeping the phase.
func (s State) Refresh(acct ledger.Account) State {
	if s.phase != schema.PhaseAuthenticated {
		return s
	}
	s.account = acct
	return s
}
