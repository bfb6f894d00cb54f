package types

// MsgKind tags the payload variant carried by a Message envelope.
type MsgKind int

const (
	// MsgWork dispatches a work item from manager to worker.
	MsgWork MsgKind = iota + 1

	// MsgResult returns one-shot routine output from worker to manager.
	MsgResult

	// MsgFailure reports a routine or runtime failure, with the held rows.
	MsgFailure

	// MsgPersisUpdate contributes a batch of proposed rows from a persistent
	// session to the manager.
	MsgPersisUpdate

	// MsgPersisSend streams completed rows from the manager back into a
	// persistent session.
	MsgPersisSend

	// MsgPersisDone ends a persistent session, returning the final persis
	// state to the manager.
	MsgPersisDone

	// MsgCancel withdraws specific in-flight rows. Cooperative: the worker
	// runtime honors it at the next safe point.
	MsgCancel

	// MsgStop asks a worker to shut down.
	MsgStop

	// MsgStopAck acknowledges MsgStop.
	MsgStopAck
)

// String returns the string representation of the message kind.
func (k MsgKind) String() string {
	switch k {
	case MsgWork:
		return "work"
	case MsgResult:
		return "result"
	case MsgFailure:
		return "failure"
	case MsgPersisUpdate:
		return "persis-update"
	case MsgPersisSend:
		return "persis-send"
	case MsgPersisDone:
		return "persis-done"
	case MsgCancel:
		return "cancel"
	case MsgStop:
		return "stop"
	case MsgStopAck:
		return "stop-ack"
	default:
		return "unknown"
	}
}

// WorkItem is one allocation decision: which worker runs which routine kind
// against which ledger rows.
type WorkItem struct {
	// Worker is the destination worker id.
	Worker int `json:"worker"`

	// Kind selects the worker's bound gen or sim routine.
	Kind RoutineKind `json:"kind"`

	// RowIDs are the ledger rows shipped with the item. Empty for a
	// new-row request (generation work).
	RowIDs []int64 `json:"row_ids,omitempty"`

	// Rows carries the input rows, restricted to the routine's declared
	// input fields.
	Rows []Row `json:"rows,omitempty"`

	// Persistent starts a long-lived session instead of a one-shot call.
	Persistent bool `json:"persistent,omitempty"`

	// Persis is the worker's state blob, handed over for the call.
	Persis PersisInfo `json:"persis"`
}

// Message is the opaque typed envelope exchanged over a transport.
//
// Exactly the fields relevant to Kind are populated; the rest stay zero.
// Delivery is reliable and ordered per sender-receiver pair on every
// backend.
type Message struct {
	// Kind selects the payload variant.
	Kind MsgKind `json:"kind"`

	// From and To are endpoint ids (manager 0, workers 1..N).
	From int `json:"from"`
	To   int `json:"to"`

	// Work is set for MsgWork.
	Work *WorkItem `json:"work,omitempty"`

	// RowIDs identify the rows a result, failure, cancel, or persis-send
	// refers to.
	RowIDs []int64 `json:"row_ids,omitempty"`

	// Payloads carries produced fields (results, persis updates).
	Payloads []Payload `json:"payloads,omitempty"`

	// Rows carries full rows for MsgPersisSend.
	Rows []Row `json:"rows,omitempty"`

	// Persis returns the worker's updated state blob with results and
	// session teardown.
	Persis PersisInfo `json:"persis,omitzero"`

	// Error holds the failure description for MsgFailure.
	Error string `json:"error,omitempty"`
}
