package protocol

import "draconia.gg/internal/sim/simerr"

// Reason codes prefix fatal and integrityError reasons ("E_PROTOCOL: ...").
const (
	ErrProtocol    = "E_PROTOCOL"
	ErrConfig      = "E_CONFIG"
	ErrIntegrity   = "E_INTEGRITY"
	ErrDeterminism = "E_DETERMINISM"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtocol:    {},
	ErrConfig:      {},
	ErrIntegrity:   {},
	ErrDeterminism: {},
	ErrInternal:    {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeOf maps an error to its reason code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return simerr.KindOf(err).Code()
}

// ReasonCode extracts the code prefix of a fatal or integrityError reason.
func ReasonCode(reason string) string {
	for i := 0; i+1 < len(reason); i++ {
		if reason[i] == ':' && reason[i+1] == ' ' {
			return reason[:i]
		}
	}
	return ""
}
