package policy

// Reason is the internal diagnostic code for a rejected request.
// Reasons are logged and counted but never written to the caller.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMissingCredentials Reason = "MissingCredentials"
	ReasonInvalidSignature   Reason = "InvalidSignature"
	ReasonStaleTimestamp     Reason = "StaleTimestamp"
	ReasonReplayDetected     Reason = "ReplayDetected"
	ReasonCredentialNotFound Reason = "CredentialNotFound"
	ReasonApplicationOffline Reason = "ApplicationOffline"
	ReasonServiceNotGranted  Reason = "ServiceNotGranted"
	ReasonServiceOffline     Reason = "ServiceOffline"
	ReasonIPNotAllowed       Reason = "IpNotAllowed"
	ReasonBackendUnavailable Reason = "BackendUnavailable"
	ReasonRequestCancelled   Reason = "RequestCancelled"
	ReasonInvalidAPIKey      Reason = "InvalidApiKey"
)

func (r Reason) String() string {
	return string(r)
}
