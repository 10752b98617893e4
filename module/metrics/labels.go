package metrics

const (
	namespaceKeySync = "keysync"

	subsystemScheduler = "scheduler"
	subsystemWitness   = "witness"
	subsystemKeyState  = "key_state"
	subsystemGroup     = "group"
	subsystemDeck      = "deck"
)

const (
	LabelTask    = "task"
	LabelOutcome = "outcome"
	LabelDrift   = "drift"
	LabelState   = "state"
	LabelDeck    = "deck"
)

// witness query outcomes
const (
	OutcomeResponded = "responded"
	OutcomeTimeout   = "timeout"
)
