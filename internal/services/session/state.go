package session

import (
	"fmt"

	"chainmail/internal/domain"
)

// Transition returns the state a conversation moves to when a message of
// type t is applied in state from.
//
//	NEW         + HELLO  -> ESTABLISHED
//	ESTABLISHED + NORMAL -> ESTABLISHED
//	ESTABLISHED + CLOSE  -> CLOSED
//
// Anything else is domain.ErrInvalidTransition.
func Transition(from domain.SessionState, t domain.MessageType) (domain.SessionState, error) {
	switch {
	case from == domain.SessionNew && t == domain.MessageHello:
		return domain.SessionEstablished, nil
	case from == domain.SessionEstablished && t == domain.MessageNormal:
		return domain.SessionEstablished, nil
	case from == domain.SessionEstablished && t == domain.MessageClose:
		return domain.SessionClosed, nil
	}
	return from, fmt.Errorf("%w: %s on %s session", domain.ErrInvalidTransition, t, from)
}
