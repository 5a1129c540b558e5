package sipua

import (
	"strconv"

	"github.com/sebas/softline/internal/callevents"
)

// Registration progress messages reported with RegistrationChanged.
const (
	msgRegistrationInProgress   = "Registration in progress"
	msgRegistrationSuccessful   = "Registration successful"
	msgUnregistrationInProgress = "Unregistration in progress"
	msgUnregistrationDone       = "Unregistration done"
	msgCallTerminated           = "Call terminated"
	msgCallReleased             = "Call released"
	msgRequestTimeout           = "Request timeout"
)

// failureMessage maps a final SIP failure status to the message reported
// with the Error call state. Messages the session layer interprets as end
// reasons come from callevents.
func failureMessage(code int, reason string) string {
	switch code {
	case 486, 600:
		return callevents.MessageBusyHere
	case 603:
		return callevents.MessageCallDeclined
	case 404, 410, 480:
		return callevents.MessageUserNotAvailable
	case 415, 488, 606:
		return callevents.MessageIncompatibleMedia
	case 408:
		return msgRequestTimeout
	}
	if reason != "" {
		return reason
	}
	return "SIP " + strconv.Itoa(code)
}
