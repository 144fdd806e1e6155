package authz

import "errors"

var (
	ErrNotFound     = errors.New("authz: not found")
	ErrConflict     = errors.New("authz: resource conflict")
	ErrInvalidInput = errors.New("authz: invalid input")
	ErrInvalidState = errors.New("authz: invalid state transition")
)

// Reason explains why a decision came out the way it did. Every deny
// carries one of the taxonomy values; allows carry ReasonGranted and
// identify the granting mechanism through MatchedRule.
type Reason string

const (
	ReasonGranted            Reason = "Granted"
	ReasonNotEntitled        Reason = "NotEntitled"
	ReasonExplicitDeny       Reason = "ExplicitDeny"
	ReasonNoRole             Reason = "NoRole"
	ReasonOutOfScope         Reason = "OutOfScope"
	ReasonNoGrant            Reason = "NoGrant"
	ReasonEvaluationTimeout  Reason = "EvaluationTimeout"
	ReasonConfigurationError Reason = "ConfigurationError"
	ReasonStoreUnavailable   Reason = "StoreUnavailable"
	ReasonKillSwitch         Reason = "KillSwitch"
)
