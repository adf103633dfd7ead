package verification

import "github.com/mixelka/mailchat/pkg/models"

// State position of an account in the verification lifecycle
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateCredentialsSet
	StateCodePending
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateCredentialsSet:
		return "credentials_set"
	case StateCodePending:
		return "code_pending"
	case StateVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// StateOf derives the lifecycle state of an account, nil means no row exists.
// A verified account re-requesting a code reports CodePending until it resolves.
func StateOf(account *models.Account) State {
	switch {
	case account == nil:
		return StateUnregistered
	case !account.HasCredentials():
		return StateRegistered
	case account.HasPendingCode():
		return StateCodePending
	case account.IsVerified:
		return StateVerified
	default:
		return StateCredentialsSet
	}
}

// CanBegin reports whether a verification code may be issued from state s
func CanBegin(s State) bool {
	return s == StateCredentialsSet || s == StateVerified || s == StateCodePending
}
