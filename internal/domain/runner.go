package domain

// Account is a signing identity derived from a mnemonic.
type Account struct {
	Address    string `json:"address"`
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"-"`
}

// RunnerIdentity is the deterministic identity of a runner.
type RunnerIdentity struct {
	RunnerHash   string `json:"runnerHash"`
	InstanceHash string `json:"instanceHash"`
	EnvHash      string `json:"envHash"`
}

// RunnerInfo is returned once a runner has been started.
type RunnerInfo struct {
	Hash         string `json:"hash"`
	InstanceHash string `json:"instanceHash"`
}

// TokenValue is the signed part of an AuthToken. Field order is part of
// the digest.
type TokenValue struct {
	ServiceHash string `json:"serviceHash"`
	EnvHash     string `json:"envHash"`
}

// AuthToken lets an execution backend trust a runner's identity.
type AuthToken struct {
	Signature string     `json:"signature"`
	Value     TokenValue `json:"value"`
}
