package domain

// Commitment controls how long a broadcast waits.
type Commitment string

const (
	// CommitmentSync returns once the node accepted the tx into its pending pool.
	CommitmentSync Commitment = "sync"
	// CommitmentBlock returns once the tx is included in a committed block.
	CommitmentBlock Commitment = "block"
)

// Valid reports whether c is a known commitment level.
func (c Commitment) Valid() bool {
	return c == CommitmentSync || c == CommitmentBlock
}

// Msg is a ledger message in its amino JSON envelope.
type Msg struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Coin is an amount of a single denomination. Amounts travel as strings.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Fee is attached to every transaction.
type Fee struct {
	Amount []Coin `json:"amount"`
	Gas    string `json:"gas"`
}

// PubKey is the amino JSON form of a secp256k1 public key.
type PubKey struct {
	Type  string `json:"type"`
	Value []byte `json:"value"`
}

// StdSignature is a signature plus the key that produced it.
type StdSignature struct {
	PubKey    PubKey `json:"pub_key"`
	Signature []byte `json:"signature"`
}

// StdTx is the transaction body sent to the ledger.
type StdTx struct {
	Msgs       []Msg          `json:"msg"`
	Fee        Fee            `json:"fee"`
	Signatures []StdSignature `json:"signatures"`
	Memo       string         `json:"memo"`
}

// AccountInfo is the ledger view of an account.
type AccountInfo struct {
	Address       string `json:"address"`
	AccountNumber uint64 `json:"account_number,string"`
	Sequence      uint64 `json:"sequence,string"`
}

// Attribute is a single key/value pair on a ledger event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is emitted by the ledger while executing a transaction.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the first value recorded for key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Module is the module tag of the event.
func (e Event) Module() string {
	v, _ := e.Attr("module")
	return v
}

// Action is the action tag of the event.
func (e Event) Action() string {
	v, _ := e.Attr("action")
	return v
}

// TxResult is what the ledger reports after a broadcast.
type TxResult struct {
	Height string  `json:"height"`
	TxHash string  `json:"txhash"`
	Code   uint32  `json:"code,omitempty"`
	RawLog string  `json:"raw_log,omitempty"`
	Events []Event `json:"events"`
}

// Service is the ledger record of a created service.
type Service struct {
	Hash  string `json:"hash"`
	Owner string `json:"owner,omitempty"`
	ServiceDefinition
}

// Process is the ledger record of a created process.
type Process struct {
	Hash  string        `json:"hash"`
	Owner string        `json:"owner,omitempty"`
	Name  string        `json:"name"`
	Nodes []ProcessStep `json:"nodes"`
	Edges []Edge        `json:"edges"`
}

// Runner is the ledger record of a registered runner.
type Runner struct {
	Hash         string `json:"hash"`
	Owner        string `json:"owner"`
	InstanceHash string `json:"instanceHash"`
}

// Message types understood by the ledger.
const (
	MsgTypeCreateService = "service/CreateService"
	MsgTypeDeleteService = "service/DeleteService"
	MsgTypeDeleteRunner  = "runner/DeleteRunner"
	MsgTypeCreateProcess = "process/CreateProcess"
	MsgTypeDeleteProcess = "process/DeleteProcess"
)

// Event attribute values identifying what a message did.
const (
	ModuleService = "service"
	ModuleRunner  = "runner"
	ModuleProcess = "process"

	ActionCreateService = "CreateService"
	ActionDeleteService = "DeleteService"
	ActionDeleteRunner  = "DeleteRunner"
	ActionCreateProcess = "CreateProcess"
	ActionDeleteProcess = "DeleteProcess"
)

// CreateServiceMsg registers a service definition.
type CreateServiceMsg struct {
	Owner   string            `json:"owner"`
	Request ServiceDefinition `json:"request"`
}

// DeleteMsg retires the record identified by Hash. It is the value of the
// service, runner and process delete messages.
type DeleteMsg struct {
	Owner string `json:"owner"`
	Hash  string `json:"hash"`
}

// ProcessRequest is the body of a process creation.
type ProcessRequest struct {
	Name  string        `json:"name"`
	Nodes []ProcessStep `json:"nodes"`
	Edges []Edge        `json:"edges"`
}

// CreateProcessMsg registers a process.
type CreateProcessMsg struct {
	Owner   string         `json:"owner"`
	Request ProcessRequest `json:"request"`
}
